package connection

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/tinkerator/blflash/internal/protocol"
	"github.com/tinkerator/blflash/internal/transport"
)

func TestResetToFlashSequence(t *testing.T) {
	ft := transport.NewFake()
	c := New(ft)
	if err := c.ResetToFlash(); err != nil {
		t.Fatalf("ResetToFlash: %v", err)
	}
	wantRTS := []bool{true, false}
	if len(ft.RTSHistory) != len(wantRTS) {
		t.Fatalf("RTSHistory = %v, want %v", ft.RTSHistory, wantRTS)
	}
	for i, v := range wantRTS {
		if ft.RTSHistory[i] != v {
			t.Fatalf("RTSHistory[%d] = %v, want %v", i, ft.RTSHistory[i], v)
		}
	}
	wantDTR := []bool{true, false}
	if len(ft.DTRHistory) != len(wantDTR) {
		t.Fatalf("DTRHistory = %v, want %v", ft.DTRHistory, wantDTR)
	}
	if ft.SleepTotal != 4*50*time.Millisecond {
		t.Fatalf("SleepTotal = %v, want %v", ft.SleepTotal, 4*50*time.Millisecond)
	}
}

func TestResetSequence(t *testing.T) {
	ft := transport.NewFake()
	c := New(ft)
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(ft.RTSHistory) != 1 || ft.RTSHistory[0] != false {
		t.Fatalf("RTSHistory = %v, want [false]", ft.RTSHistory)
	}
	wantDTR := []bool{true, false}
	if len(ft.DTRHistory) != len(wantDTR) {
		t.Fatalf("DTRHistory = %v, want %v", ft.DTRHistory, wantDTR)
	}
	for i, v := range wantDTR {
		if ft.DTRHistory[i] != v {
			t.Fatalf("DTRHistory[%d] = %v, want %v", i, ft.DTRHistory[i], v)
		}
	}
	if ft.SleepTotal != 3*50*time.Millisecond {
		t.Fatalf("SleepTotal = %v, want %v", ft.SleepTotal, 3*50*time.Millisecond)
	}
}

func TestWithTimeoutRestoresPrevious(t *testing.T) {
	ft := transport.NewFake()
	c := New(ft)
	if err := c.SetTimeout(7 * time.Second); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}
	err := c.WithTimeout(200*time.Millisecond, func() error {
		if ft.Timeout() != 200*time.Millisecond {
			t.Fatalf("inner timeout = %v, want 200ms", ft.Timeout())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTimeout: %v", err)
	}
	if ft.Timeout() != 7*time.Second {
		t.Fatalf("restored timeout = %v, want 7s", ft.Timeout())
	}
}

func TestBytesForDuration(t *testing.T) {
	ft := transport.NewFake()
	c := New(ft)
	if err := c.SetBaud(115200); err != nil {
		t.Fatalf("SetBaud: %v", err)
	}
	if got := c.BytesForDuration(5 * time.Millisecond); got != 55 {
		t.Fatalf("BytesForDuration(5ms) = %d, want 55", got)
	}
}

// writeOKResponse writes an "OK" status followed by a length-prefixed
// payload, for commands whose response carries one.
func writeOKResponse(ft *transport.Fake, payload []byte) {
	ft.In.WriteString("OK")
	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, uint16(len(payload)))
	ft.In.Write(lenBytes)
	ft.In.Write(payload)
}

// writeOKNoPayload writes a bare "OK" status, for commands whose response
// carries no payload at all.
func writeOKNoPayload(ft *transport.Fake) {
	ft.In.WriteString("OK")
}

func writeFLResponse(ft *transport.Fake, code uint16) {
	ft.In.WriteString("FL")
	codeBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(codeBytes, code)
	ft.In.Write(codeBytes)
}

func TestSendCommandOKWithPayload(t *testing.T) {
	ft := transport.NewFake()
	c := New(ft)
	writeOKResponse(ft, []byte{0xaa, 0xbb, 0xcc})

	payload, err := c.SendCommand(protocol.BootInfoReq())
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if string(payload) != "\xaa\xbb\xcc" {
		t.Fatalf("payload = %x, want aabbcc", payload)
	}

	out := ft.Out.Bytes()
	if len(out) != 4 {
		t.Fatalf("written header length = %d, want 4", len(out))
	}
	if out[0] != protocol.CmdBootInfoReq {
		t.Fatalf("written command id = %#x, want %#x", out[0], protocol.CmdBootInfoReq)
	}
	if out[1] != 0x00 {
		t.Fatalf("written checksum byte = %#x, want 0", out[1])
	}
	if n := binary.LittleEndian.Uint16(out[2:4]); n != 0 {
		t.Fatalf("written body length = %d, want 0", n)
	}
}

func TestSendCommandOKWithNoPayload(t *testing.T) {
	ft := transport.NewFake()
	c := New(ft)
	writeOKNoPayload(ft)

	payload, err := c.SendCommand(protocol.CheckImage())
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if payload != nil {
		t.Fatalf("payload = %v, want nil", payload)
	}
}

func TestSendCommandFLResponse(t *testing.T) {
	ft := transport.NewFake()
	c := New(ft)
	writeFLResponse(ft, 0x1234)

	_, err := c.SendCommand(protocol.RunImage())
	if err == nil {
		t.Fatal("SendCommand: want error for FL response, got nil")
	}
	var romErr protocol.RomError
	if !errors.As(err, &romErr) {
		t.Fatalf("error %v is not a protocol.RomError", err)
	}
	if romErr != 0x1234 {
		t.Fatalf("RomError = %#x, want 0x1234", uint16(romErr))
	}
}

func TestReadFailureIsSerialError(t *testing.T) {
	ft := transport.NewFake() // empty In: the status read fails immediately
	c := New(ft)
	_, err := c.SendCommand(protocol.CheckImage())
	if !errors.Is(err, protocol.KindSerialError) {
		t.Fatalf("error = %v, want KindSerialError", err)
	}
	if errors.Is(err, protocol.KindConnectionFailed) || errors.Is(err, protocol.KindTimeout) {
		t.Fatalf("error = %v, must not match the connection-failed or timeout kinds", err)
	}
}

func TestSendCommandUnexpectedStatus(t *testing.T) {
	ft := transport.NewFake()
	c := New(ft)
	ft.In.WriteString("XX")

	if _, err := c.SendCommand(protocol.CheckImage()); !errors.Is(err, protocol.KindRespError) {
		t.Fatalf("error = %v, want KindRespError", err)
	}
}

func TestReadResponseWithoutWritingCommand(t *testing.T) {
	ft := transport.NewFake()
	c := New(ft)
	writeOKNoPayload(ft)

	if _, err := c.ReadResponse(); err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if len(ft.Out.Bytes()) != 0 {
		t.Fatalf("ReadResponse must not write anything, got %x", ft.Out.Bytes())
	}
}

func TestOverSizedPacketRejected(t *testing.T) {
	ft := transport.NewFake()
	c := New(ft)
	big := make([]byte, protocol.MaxBodyLen+1)
	cmd := protocol.LoadSegmentData(big)
	if _, err := c.SendCommand(cmd); !errors.Is(err, protocol.KindOverSizedPacket) {
		t.Fatalf("error = %v, want KindOverSizedPacket", err)
	}
}
