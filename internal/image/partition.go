package image

import (
	"encoding/binary"

	"github.com/tinkerator/blflash/internal/protocol"
	"zappem.net/pub/debug/xcrc32"
)

var partitionMagic = [6]byte{'B', 'F', 'P', 'T', 0x00, 0x00}

const entryLen = 36

// Entry describes one partition table slot: a type tag, an up-to-8-byte
// name, primary/backup absolute flash addresses, primary/backup sizes and
// a length.
type Entry struct {
	Type     uint32 // only the low 24 bits are written to the wire
	Name     string
	Address0 uint32
	Address1 uint32
	Size0    uint32
	Size1    uint32
	Len      uint32
}

func (e Entry) marshal(buf []byte) error {
	if len(e.Name) > 8 {
		return protocol.Err(protocol.KindParseError, "partition entry name %q longer than 8 bytes", e.Name)
	}
	buf[0] = byte(e.Type)
	buf[1] = byte(e.Type >> 8)
	buf[2] = byte(e.Type >> 16)
	copy(buf[3:12], e.Name)
	binary.LittleEndian.PutUint32(buf[12:16], e.Address0)
	binary.LittleEndian.PutUint32(buf[16:20], e.Address1)
	binary.LittleEndian.PutUint32(buf[20:24], e.Size0)
	binary.LittleEndian.PutUint32(buf[24:28], e.Size1)
	binary.LittleEndian.PutUint32(buf[28:32], e.Len)
	// buf[32:36] is the trailing reserved word.
	return nil
}

// Table carries the flash addresses of the two partition table copies, as
// read from the config file's [pt_table] section. The addresses place the
// table itself; they are not part of the serialized table bytes.
type Table struct {
	Address0 uint32 `toml:"address0"`
	Address1 uint32 `toml:"address1"`
}

// PartitionCfg is the BL602 partition table: a "BFPT" header plus a list
// of partition entries, of which flash contains two copies (primary at
// 0x0e000, backup at 0x0f000) for redundancy.
type PartitionCfg struct {
	Table   Table
	Entries []Entry
}

// Marshal serializes the partition table, computing both the header CRC32
// (over the magic/entry-count prefix) and the file CRC32 (over the entry
// table).
func (p PartitionCfg) Marshal() ([]byte, error) {
	n := len(p.Entries)
	out := make([]byte, 16+entryLen*n+4)
	copy(out[0:6], partitionMagic[:])
	binary.LittleEndian.PutUint32(out[6:10], uint32(n))
	binary.LittleEndian.PutUint16(out[10:12], 0)

	_, headerCRC := xcrc32.NewCRC32(out[0:12])
	binary.LittleEndian.PutUint32(out[12:16], headerCRC)

	for i, e := range p.Entries {
		if err := e.marshal(out[16+entryLen*i : 16+entryLen*(i+1)]); err != nil {
			return nil, err
		}
	}

	_, fileCRC := xcrc32.NewCRC32(out[16 : 16+entryLen*n])
	binary.LittleEndian.PutUint32(out[16+entryLen*n:], fileCRC)
	return out, nil
}

// Segment is a chunk of data destined for an absolute flash offset.
type Segment struct {
	Offset uint32
	Data   []byte
}
