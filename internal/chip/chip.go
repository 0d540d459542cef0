// Package chip abstracts over the target microcontroller family,
// separating the chip-specific flash layout from the generic
// upload/erase/program flow. Only BL602 (package bl602) is implemented;
// the interface exists so a second chip family would not require changes
// to internal/flasher.
package chip

import (
	"github.com/tinkerator/blflash/internal/firmware"
	"github.com/tinkerator/blflash/internal/image"
)

// Chip describes everything about a microcontroller family the flasher
// needs to know beyond the wire protocol itself.
type Chip interface {
	// Target identifies the chip's instruction set, for diagnostics.
	Target() string

	// EflashLoader is the chip-specific stub binary uploaded via the
	// BootROM before flashing begins.
	EflashLoader() []byte

	// FlashSegment maps an ELF code segment's virtual address into an
	// absolute flash offset, or reports ok=false if the segment does not
	// live in the chip's ROM-addressable window and should be skipped.
	FlashSegment(seg firmware.CodeSegment) (offset uint32, data []byte, ok bool)

	// WithBoot2 assembles the full set of flash segments -- boot2 stub,
	// partition table (primary and backup copies), firmware image and
	// device tree blob -- that make up a complete flashable image.
	WithBoot2(partition image.PartitionCfg, bootHeader image.BootHeaderCfg, roParams, firmwareBin []byte) ([]image.Segment, error)

	// DefaultPartitionCfg and DefaultBootHeaderCfg are the chip's
	// built-in partition table and boot header TOML text, used when the
	// caller does not supply its own.
	DefaultPartitionCfg() []byte
	DefaultBootHeaderCfg() []byte
	DefaultROParams() []byte
}
