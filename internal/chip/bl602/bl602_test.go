package bl602

import (
	"encoding/binary"
	"testing"

	"github.com/tinkerator/blflash/internal/firmware"
	"github.com/tinkerator/blflash/internal/image"
)

func TestFlashSegmentMapping(t *testing.T) {
	c := Bl602{}
	offset, _, ok := c.FlashSegment(firmware.CodeSegment{Addr: 0x23000000, Data: []byte{1, 2, 3}})
	if !ok {
		t.Fatal("FlashSegment: want ok=true for an in-window address")
	}
	if offset != 0 {
		t.Fatalf("offset = %#x, want 0", offset)
	}

	if _, _, ok := c.FlashSegment(firmware.CodeSegment{Addr: 0x80000000, Data: []byte{1}}); ok {
		t.Fatal("FlashSegment: want ok=false for an out-of-window RAM address")
	}
}

func TestWithBoot2Layout(t *testing.T) {
	c := Bl602{}
	partitionCfg, err := image.LoadPartitionCfg(c.DefaultPartitionCfg())
	if err != nil {
		t.Fatalf("LoadPartitionCfg: %v", err)
	}
	bootHeaderCfg, err := image.LoadBootHeaderCfg(c.DefaultBootHeaderCfg())
	if err != nil {
		t.Fatalf("LoadBootHeaderCfg: %v", err)
	}
	firmwareBin := make([]byte, 12345)
	for i := range firmwareBin {
		firmwareBin[i] = byte(i)
	}

	segs, err := c.WithBoot2(partitionCfg, bootHeaderCfg, c.DefaultROParams(), firmwareBin)
	if err != nil {
		t.Fatalf("WithBoot2: %v", err)
	}

	wantOffsets := []uint32{0x0, 0x0e000, 0x0f000, 0x10000, 0x1f8000}
	if len(segs) != len(wantOffsets) {
		t.Fatalf("len(segs) = %d, want %d", len(segs), len(wantOffsets))
	}
	for i, want := range wantOffsets {
		if segs[i].Offset != want {
			t.Fatalf("segs[%d].Offset = %#x, want %#x", i, segs[i].Offset, want)
		}
	}

	fwHeader := segs[3].Data[:176]
	bootCfgBuf := fwHeader[116:172]
	wantImgLen := uint32(((12345 + 15) / 16) * 16)
	if got := binary.LittleEndian.Uint32(bootCfgBuf[4:8]); got != wantImgLen {
		t.Fatalf("firmware img_len = %d, want %d", got, wantImgLen)
	}
}
