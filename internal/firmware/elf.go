// Package firmware extracts loadable code segments from an ELF firmware
// image, built on debug/elf.
package firmware

import (
	"bytes"
	"debug/elf"

	"github.com/tinkerator/blflash/internal/protocol"
)

// CodeSegment is one PT_LOAD program header's bytes, still addressed in
// the ELF's own virtual address space.
type CodeSegment struct {
	Addr uint32
	Data []byte
}

// Image wraps a parsed ELF firmware binary.
type Image struct {
	Entry uint32
	elf   *elf.File
}

// Parse reads an ELF firmware image from data.
func Parse(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, protocol.Err(protocol.KindInvalidElf, "%v", err)
	}
	if f.Machine != elf.EM_RISCV {
		return nil, protocol.Err(protocol.KindInvalidElf, "unexpected machine %v, want EM_RISCV", f.Machine)
	}
	return &Image{Entry: uint32(f.Entry), elf: f}, nil
}

// Segments returns the code segments a loader should upload: PT_LOAD
// program headers with a non-empty file image and a non-zero file offset,
// skipping the zero-offset headers that describe the ELF header itself
// rather than runnable code.
func (img *Image) Segments() ([]CodeSegment, error) {
	var out []CodeSegment
	for _, prog := range img.elf.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Filesz == 0 || prog.Off == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, protocol.Err(protocol.KindInvalidElf, "read segment at %#x: %v", prog.Vaddr, err)
		}
		out = append(out, CodeSegment{Addr: uint32(prog.Vaddr), Data: data})
	}
	if len(out) == 0 {
		return nil, protocol.Err(protocol.KindInvalidElf, "no loadable PT_LOAD segments found")
	}
	return out, nil
}

// SegmentMapper maps an ELF code segment into a flash offset, reporting
// ok=false for segments that do not live in the chip's flash-addressable
// window. chip.Chip satisfies this structurally without Image needing to
// import package chip.
type SegmentMapper interface {
	FlashSegment(seg CodeSegment) (offset uint32, data []byte, ok bool)
}

// ToFlashBin renders img as a single flat binary suitable for wrapping in
// a boot header: every retained segment is copied to its mapped flash
// offset in a 0xFF-filled buffer sized to the highest offset+len among
// them. Lets a caller feed an ELF through the boot-header wrapping path,
// which wants one flat binary.
func (img *Image) ToFlashBin(mapper SegmentMapper) ([]byte, error) {
	segs, err := img.Segments()
	if err != nil {
		return nil, err
	}
	type placed struct {
		offset uint32
		data   []byte
	}
	var out []placed
	size := 0
	for _, cs := range segs {
		offset, data, ok := mapper.FlashSegment(cs)
		if !ok {
			continue
		}
		out = append(out, placed{offset, data})
		if end := int(offset) + len(data); end > size {
			size = end
		}
	}
	if len(out) == 0 {
		return nil, protocol.Err(protocol.KindElfNotRamLoadable, "no segments map into the flash window")
	}
	buf := bytes.Repeat([]byte{0xFF}, size)
	for _, p := range out {
		copy(buf[p.offset:], p.data)
	}
	return buf, nil
}

// IsELF reports whether data begins with the ELF magic number, used to
// decide between parsing an ELF and passing a raw binary through
// unchanged.
func IsELF(data []byte) bool {
	return len(data) >= 4 && data[0] == 0x7F && data[1] == 'E' && data[2] == 'L' && data[3] == 'F'
}
