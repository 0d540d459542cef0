package image

import (
	"github.com/BurntSushi/toml"
	"github.com/tinkerator/blflash/internal/protocol"
)

// bootHeaderFile is the shape of efuse_bootheader_cfg.conf: the boot
// header fields all live under one [BOOTHEADER_CFG] table, including the
// top-level magic_code/revision pair that precedes the three sub-records
// on the wire.
type bootHeaderFile struct {
	BootHeaderCfg struct {
		MagicCode uint32 `toml:"magic_code"`
		Revision  uint32 `toml:"revision"`
		FlashCfg
		ClkCfg
		BootCfg
	} `toml:"BOOTHEADER_CFG"`
}

// LoadBootHeaderCfg parses a boot header configuration file. Field names
// in the file are the vendor's snake_case ones, mapped by the toml tags on
// FlashCfg/ClkCfg/BootCfg, so a stock efuse_bootheader_cfg.conf works
// unmodified.
func LoadBootHeaderCfg(data []byte) (BootHeaderCfg, error) {
	var f bootHeaderFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return BootHeaderCfg{}, protocol.Err(protocol.KindParseError, "boot header config: %v", err)
	}
	return BootHeaderCfg{
		MagicCode: f.BootHeaderCfg.MagicCode,
		Revision:  f.BootHeaderCfg.Revision,
		FlashCfg:  f.BootHeaderCfg.FlashCfg,
		ClkCfg:    f.BootHeaderCfg.ClkCfg,
		BootCfg:   f.BootHeaderCfg.BootCfg,
	}, nil
}

// partitionEntryFile is one [[pt_entry]] table in a partition config TOML
// document.
type partitionEntryFile struct {
	Type     uint32 `toml:"type"`
	Name     string `toml:"name"`
	Address0 uint32 `toml:"address0"`
	Address1 uint32 `toml:"address1"`
	Size0    uint32 `toml:"size0"`
	Size1    uint32 `toml:"size1"`
	Len      uint32 `toml:"len"`
}

type partitionFile struct {
	PtTable Table                `toml:"pt_table"`
	PtEntry []partitionEntryFile `toml:"pt_entry"`
}

// LoadPartitionCfg parses a partition table configuration file into a
// PartitionCfg ready for Marshal. The file shape is the vendor's own
// partition_cfg TOML: a [pt_table] with the two table addresses and one
// [[pt_entry]] per partition.
func LoadPartitionCfg(data []byte) (PartitionCfg, error) {
	var f partitionFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return PartitionCfg{}, protocol.Err(protocol.KindParseError, "partition config: %v", err)
	}
	cfg := PartitionCfg{Table: f.PtTable, Entries: make([]Entry, len(f.PtEntry))}
	for i, e := range f.PtEntry {
		cfg.Entries[i] = Entry{
			Type:     e.Type,
			Name:     e.Name,
			Address0: e.Address0,
			Address1: e.Address1,
			Size0:    e.Size0,
			Size1:    e.Size1,
			Len:      e.Len,
		}
	}
	return cfg, nil
}
