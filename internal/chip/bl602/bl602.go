// Package bl602 implements chip.Chip for the BL602 RISC-V microcontroller
// family.
package bl602

import (
	_ "embed"

	"github.com/tinkerator/blflash/internal/firmware"
	"github.com/tinkerator/blflash/internal/image"
)

// The embedded ro_params.dtb, blsp_boot2.bin and eflash_loader_40m.bin
// are deterministic placeholder bytes, not vendor builds; the two TOML
// files are ordinary config text.
//
//go:embed assets/partition_cfg_2M.toml
var defaultPartitionCfg []byte

//go:embed assets/efuse_bootheader_cfg.conf
var defaultBootHeaderCfg []byte

//go:embed assets/ro_params.dtb
var defaultROParams []byte

//go:embed assets/blsp_boot2.bin
var blsp2Boot2 []byte

//go:embed assets/eflash_loader_40m.bin
var eflashLoader []byte

// romStart and romEnd bound the address window BL602 maps its external
// flash into; only code segments whose ELF virtual address falls in this
// window are destined for flash rather than RAM.
const (
	romStart = 0x23000000
	romEnd   = romStart + 0x1000000 // 16MiB
)

// Bl602 implements chip.Chip for the BL602.
type Bl602 struct{}

func (Bl602) Target() string { return "riscv32imac-unknown-none-elf" }

func (Bl602) EflashLoader() []byte { return eflashLoader }

func (Bl602) DefaultPartitionCfg() []byte  { return defaultPartitionCfg }
func (Bl602) DefaultBootHeaderCfg() []byte { return defaultBootHeaderCfg }
func (Bl602) DefaultROParams() []byte      { return defaultROParams }

func addrIsFlash(addr uint32) bool {
	return addr >= romStart && addr < romEnd
}

// FlashSegment maps an ELF code segment's address into the chip's
// 0-based flash offset space, or reports ok=false if the segment lives
// outside the ROM window and must be run from RAM instead.
func (Bl602) FlashSegment(seg firmware.CodeSegment) (offset uint32, data []byte, ok bool) {
	if !addrIsFlash(seg.Addr) {
		return 0, nil, false
	}
	return seg.Addr - romStart, seg.Data, true
}

// Fixed BL602 2MiB flash layout: boot2 at 0x0, partition table
// primary/backup at 0x0e000/0x0f000, firmware at 0x10000, device tree at
// 0x1f8000.
const (
	boot2Offset    = 0x0
	partitionAddr0 = 0x0e000
	partitionAddr1 = 0x0f000
	firmwareOffset = 0x10000
	roParamsOffset = 0x1f8000
)

// WithBoot2 assembles the full set of flash segments that make up a
// flashable image: the boot2 stub prefixed with its own boot header, two
// copies of the partition table, the firmware image prefixed with its own
// boot header, and the device tree blob.
func (Bl602) WithBoot2(partitionCfg image.PartitionCfg, bootHeaderCfg image.BootHeaderCfg, roParams, firmwareBin []byte) ([]image.Segment, error) {
	partitionBytes, err := partitionCfg.Marshal()
	if err != nil {
		return nil, err
	}

	boot2Header := bootHeaderCfg
	boot2Image, err := boot2Header.MakeImage(0x2000, blsp2Boot2)
	if err != nil {
		return nil, err
	}

	fwHeader := bootHeaderCfg
	fwImage, err := fwHeader.MakeImage(0x1000, firmwareBin)
	if err != nil {
		return nil, err
	}

	return []image.Segment{
		{Offset: boot2Offset, Data: boot2Image},
		{Offset: partitionAddr0, Data: partitionBytes},
		{Offset: partitionAddr1, Data: partitionBytes},
		{Offset: firmwareOffset, Data: fwImage},
		{Offset: roParamsOffset, Data: roParams},
	}, nil
}
