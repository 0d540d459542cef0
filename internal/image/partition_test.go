package image

import (
	"encoding/binary"
	"testing"

	"zappem.net/pub/debug/xcrc32"
)

func TestPartitionCfgMarshalLayout(t *testing.T) {
	cfg := PartitionCfg{Entries: []Entry{
		{Type: 0, Name: "FW", Address0: 0x10000, Address1: 0x110000, Size0: 0xe0000, Size1: 0xe0000, Len: 0xe0000},
		{Type: 1, Name: "factory", Address0: 0x1f8000, Address1: 0x1f8000, Size0: 0x4000, Size1: 0x4000, Len: 0x4000},
	}}
	out, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	n := len(cfg.Entries)
	wantLen := 16 + entryLen*n + 4
	if len(out) != wantLen {
		t.Fatalf("len(out) = %d, want %d", len(out), wantLen)
	}

	if string(out[0:4]) != "BFPT" {
		t.Fatalf("magic = %q, want BFPT", out[0:4])
	}
	if got := binary.LittleEndian.Uint32(out[6:10]); got != uint32(n) {
		t.Fatalf("entry count = %d, want %d", got, n)
	}

	_, wantHeaderCRC := xcrc32.NewCRC32(out[0:12])
	if got := binary.LittleEndian.Uint32(out[12:16]); got != wantHeaderCRC {
		t.Fatalf("header CRC = %#x, want %#x", got, wantHeaderCRC)
	}

	_, wantFileCRC := xcrc32.NewCRC32(out[16 : 16+entryLen*n])
	if got := binary.LittleEndian.Uint32(out[16+entryLen*n:]); got != wantFileCRC {
		t.Fatalf("file CRC = %#x, want %#x", got, wantFileCRC)
	}

	firstEntry := out[16 : 16+entryLen]
	if string(firstEntry[3:5]) != "FW" {
		t.Fatalf("first entry name = %q, want FW", firstEntry[3:5])
	}
	if got := binary.LittleEndian.Uint32(firstEntry[12:16]); got != 0x10000 {
		t.Fatalf("first entry Address0 = %#x, want 0x10000", got)
	}
}

func TestEntryNameTooLong(t *testing.T) {
	e := Entry{Name: "waytoolongname"}
	buf := make([]byte, entryLen)
	if err := e.marshal(buf); err == nil {
		t.Fatal("marshal: want error for name > 8 bytes, got nil")
	}
}

func TestPartitionCfgMarshalRejectsLongName(t *testing.T) {
	cfg := PartitionCfg{Entries: []Entry{{Name: "waytoolongname"}}}
	if _, err := cfg.Marshal(); err == nil {
		t.Fatal("Marshal: want error for name > 8 bytes, got nil")
	}
}
