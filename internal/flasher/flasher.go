// Package flasher is the orchestrator: handshake, boot-info query, stub
// upload, baud switch, segment programming, verification, dump and reset.
package flasher

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/tinkerator/blflash/internal/chip"
	"github.com/tinkerator/blflash/internal/connection"
	"github.com/tinkerator/blflash/internal/firmware"
	"github.com/tinkerator/blflash/internal/image"
	"github.com/tinkerator/blflash/internal/protocol"
)

// Baud rates for the two session stages: InitialBaud for the BootROM
// handshake, DefaultFlashSpeed once the eflash_loader stub is running.
const (
	InitialBaud       = connection.DefaultBaud
	DefaultFlashSpeed = 1000000
)

const flashChunk = 4000

// Flasher drives a Connection through the BootROM and EflashLoader
// command vocabularies on behalf of one chip.Chip.
type Flasher struct {
	conn       *connection.Connection
	chip       chip.Chip
	bootInfo   protocol.BootInfo
	flashSpeed int

	// Strict, when true, turns a post-program SHA-256 mismatch into an
	// error instead of a logged warning.
	Strict bool

	// Progress, when non-nil, is called after each chunk of a segment
	// program operation so a CLI can render a dot-ticker.
	Progress func(sent, total int)
}

// Connect powers up the connection: sets the initial baud, resets the
// chip into ROM download mode, retries the handshake up to 10 times, then
// caches the device's BootInfo.
func Connect(conn *connection.Connection, c chip.Chip, flashSpeed int) (*Flasher, error) {
	f := &Flasher{conn: conn, chip: c}
	if flashSpeed == 0 {
		flashSpeed = DefaultFlashSpeed
	}
	if err := conn.SetBaud(InitialBaud); err != nil {
		return nil, err
	}
	if err := f.startConnection(); err != nil {
		return nil, err
	}
	if err := conn.SetTimeout(10 * time.Second); err != nil {
		return nil, err
	}
	info, err := f.getBootInfo()
	if err != nil {
		return nil, err
	}
	f.bootInfo = info
	f.flashSpeed = flashSpeed
	return f, nil
}

func (f *Flasher) BootInfo() protocol.BootInfo { return f.bootInfo }

func (f *Flasher) startConnection() error {
	log.Printf("start connection")
	if err := f.conn.ResetToFlash(); err != nil {
		return err
	}
	for i := 1; i <= 10; i++ {
		if err := f.handshake(); err == nil {
			log.Printf("connection succeeded")
			return nil
		}
		log.Printf("handshake retry %d", i)
	}
	return protocol.Err(protocol.KindConnectionFailed, "no response after 10 handshake attempts")
}

// handshake sends a burst of 0x55 autobaud preamble bytes sized for 5ms
// of wire time, then tries up to 5 times to read a bare OK response.
func (f *Flasher) handshake() error {
	return f.conn.WithTimeout(200*time.Millisecond, func() error {
		n := f.conn.BytesForDuration(5 * time.Millisecond)
		preamble := make([]byte, n)
		for i := range preamble {
			preamble[i] = 0x55
		}
		if err := f.conn.WriteAll(preamble); err != nil {
			return err
		}
		for i := 0; i < 5; i++ {
			if _, err := f.conn.ReadResponse(); err == nil {
				return nil
			}
		}
		return protocol.Err(protocol.KindTimeout, "handshake: no response")
	})
}

func (f *Flasher) getBootInfo() (protocol.BootInfo, error) {
	payload, err := f.conn.SendCommand(protocol.BootInfoReq())
	if err != nil {
		return protocol.BootInfo{}, err
	}
	return protocol.DecodeBootInfo(payload)
}

// loadEflashLoader uploads the chip's eflash_loader stub: the stub binary
// begins with its own 176-byte boot header and 16-byte segment header,
// which are streamed verbatim, followed by the remaining code in
// <=4000-byte chunks.
func (f *Flasher) loadEflashLoader() error {
	stub := f.chip.EflashLoader()
	if len(stub) < protocol.LoadBootHeaderLen+protocol.LoadSegmentHeaderLen {
		return protocol.Err(protocol.KindParseError, "eflash_loader stub too small: %d bytes", len(stub))
	}
	bootHeader := stub[:protocol.LoadBootHeaderLen]
	rest := stub[protocol.LoadBootHeaderLen:]
	segHeader := rest[:protocol.LoadSegmentHeaderLen]
	code := rest[protocol.LoadSegmentHeaderLen:]

	if _, err := f.conn.SendCommand(protocol.LoadBootHeader(bootHeader)); err != nil {
		return err
	}
	resp, err := f.conn.SendCommand(protocol.LoadSegmentHeader(segHeader))
	if err != nil {
		return err
	}
	if !bytesEqual(resp, segHeader) {
		log.Printf("segment header echo mismatch: sent %x got %x", segHeader, resp)
	}

	log.Printf("sending eflash_loader (%d bytes)", len(stub))
	for sent := 0; sent < len(code); {
		end := sent + flashChunk
		if end > len(code) {
			end = len(code)
		}
		if _, err := f.conn.SendCommand(protocol.LoadSegmentData(code[sent:end])); err != nil {
			return err
		}
		sent = end
	}

	if _, err := f.conn.SendCommand(protocol.CheckImage()); err != nil {
		return err
	}
	if _, err := f.conn.SendCommand(protocol.RunImage()); err != nil {
		return err
	}
	f.conn.Sleep(500 * time.Millisecond)
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// startStub uploads the eflash_loader, switches to flashSpeed, and
// re-handshakes against the now-running stub.
func (f *Flasher) startStub() error {
	if err := f.loadEflashLoader(); err != nil {
		return err
	}
	if err := f.conn.SetBaud(f.flashSpeed); err != nil {
		return err
	}
	return f.handshake()
}

// LoadSegments uploads the stub, then erases and programs each segment
// unless force is false and the device's existing content already
// matches by SHA-256.
func (f *Flasher) LoadSegments(force bool, segments []image.Segment) error {
	if err := f.startStub(); err != nil {
		return err
	}
	for _, seg := range segments {
		if err := f.programSegment(force, seg); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flasher) programSegment(force bool, seg image.Segment) error {
	size := uint32(len(seg.Data))
	localHash := sha256.Sum256(seg.Data)

	if !force {
		remote, err := f.sha256Read(seg.Offset, size)
		if err == nil && remote == localHash {
			log.Printf("%#x: up to date, skipping", seg.Offset)
			return nil
		}
	}

	log.Printf("erase %#x size %d", seg.Offset, size)
	if _, err := f.conn.SendCommand(protocol.FlashErase(seg.Offset, seg.Offset+size)); err != nil {
		return err
	}

	start := time.Now()
	cur := seg.Offset
	for sent := 0; sent < len(seg.Data); {
		// The 4-byte flash address shares the body with the data.
		end := sent + protocol.MaxBodyLen - 4
		if end > len(seg.Data) {
			end = len(seg.Data)
		}
		chunk := seg.Data[sent:end]
		if _, err := f.conn.SendCommand(protocol.FlashProgram(cur, chunk)); err != nil {
			return err
		}
		cur += uint32(len(chunk))
		sent = end
		if f.Progress != nil {
			f.Progress(sent, len(seg.Data))
		}
	}
	log.Printf("program done in %s", time.Since(start))

	remote, err := f.sha256Read(seg.Offset, size)
	if err != nil {
		return err
	}
	if remote != localHash {
		msg := fmt.Sprintf("%#x: sha256 mismatch after program: got %x want %x", seg.Offset, remote, localHash)
		if f.Strict {
			return protocol.Err(protocol.KindParseError, "%s", msg)
		}
		log.Printf("warning: %s", msg)
	}
	return nil
}

// CheckSegments re-handshakes with the stub and verifies each segment's
// SHA-256 without writing anything; mismatches are logged, never raised.
func (f *Flasher) CheckSegments(segments []image.Segment) error {
	if err := f.startStub(); err != nil {
		return err
	}
	for _, seg := range segments {
		localHash := sha256.Sum256(seg.Data)
		remote, err := f.sha256Read(seg.Offset, uint32(len(seg.Data)))
		if err != nil {
			return err
		}
		if remote != localHash {
			log.Printf("%#x: sha256 mismatch: got %x want %x", seg.Offset, remote, localHash)
		} else {
			log.Printf("%#x: sha256 match", seg.Offset)
		}
	}
	return nil
}

func (f *Flasher) sha256Read(offset, length uint32) ([32]byte, error) {
	payload, err := f.conn.SendCommand(protocol.Sha256Read(offset, length))
	if err != nil {
		return [32]byte{}, err
	}
	return protocol.DecodeSha256(payload)
}

// DumpFlash reads [start, end) from flash and streams it to w, 4096 bytes
// at a time.
func (f *Flasher) DumpFlash(start, end uint32, w io.Writer) error {
	if err := f.startStub(); err != nil {
		return err
	}
	const chunk = 4096
	for cur := start; cur < end; {
		n := uint32(chunk)
		if remaining := end - cur; remaining < n {
			n = remaining
		}
		payload, err := f.conn.SendCommand(protocol.FlashRead(cur, n))
		if err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
		cur += n
	}
	return nil
}

// Reset delegates to Connection's normal reboot sequence.
func (f *Flasher) Reset() error {
	return f.conn.Reset()
}

// SegmentsFromFirmware filters an ELF's code segments down to the ones
// the chip can place in flash, converting load addresses into flash
// offsets.
func SegmentsFromFirmware(img *firmware.Image, c chip.Chip) ([]image.Segment, error) {
	codeSegs, err := img.Segments()
	if err != nil {
		return nil, err
	}
	var out []image.Segment
	for _, cs := range codeSegs {
		offset, data, ok := c.FlashSegment(cs)
		if !ok {
			continue
		}
		out = append(out, image.Segment{Offset: offset, Data: data})
	}
	if len(out) == 0 {
		return nil, protocol.Err(protocol.KindElfNotRamLoadable, "no segments map into the flash window")
	}
	return out, nil
}

// BootAssets carries the raw config-file bytes a boot2 build needs --
// either read from a path the caller supplied or taken from the chip's
// embedded defaults.
type BootAssets struct {
	PartitionCfg  []byte
	BootHeaderCfg []byte
	ROParams      []byte

	// WithoutBoot2, when true, skips the partition table/boot2 stub/RO
	// params entirely and wraps the firmware in a single boot-header
	// segment at flash offset 0 instead.
	WithoutBoot2 bool
}

// BuildSegments assembles the flash segments for a raw (non-ELF)
// firmware image: either the full boot2/partition/firmware/RO-params
// layout from Chip.WithBoot2, or, with WithoutBoot2 set, a single segment
// at offset 0 wrapping firmwareBin in its own boot header at payload
// offset 0x2000.
func BuildSegments(c chip.Chip, assets BootAssets, firmwareBin []byte) ([]image.Segment, error) {
	bootHeaderCfg, err := image.LoadBootHeaderCfg(assets.BootHeaderCfg)
	if err != nil {
		return nil, err
	}
	if assets.WithoutBoot2 {
		img, err := bootHeaderCfg.MakeImage(0x2000, firmwareBin)
		if err != nil {
			return nil, err
		}
		return []image.Segment{{Offset: 0x0, Data: img}}, nil
	}
	partitionCfg, err := image.LoadPartitionCfg(assets.PartitionCfg)
	if err != nil {
		return nil, err
	}
	return c.WithBoot2(partitionCfg, bootHeaderCfg, assets.ROParams, firmwareBin)
}

// ResolveSegments dispatches on the image's leading bytes: an ELF is
// flashed directly, segment by segment, at each PT_LOAD's mapped flash
// offset; any other input is treated as a flat firmware binary and
// wrapped via BuildSegments, honoring -without-boot2 and the
// partition/boot-header/dtb overrides.
func ResolveSegments(c chip.Chip, data []byte, assets BootAssets) ([]image.Segment, error) {
	if firmware.IsELF(data) {
		img, err := firmware.Parse(data)
		if err != nil {
			return nil, err
		}
		return SegmentsFromFirmware(img, c)
	}
	return BuildSegments(c, assets, data)
}
