// Package connection implements the framed command/response exchange over
// a transport.Transport, shared by both the BootROM and EflashLoader
// command vocabularies in package protocol. It also owns the DTR/RTS
// reset sequences and the baud-to-byte-count arithmetic the autobaud
// handshake depends on.
package connection

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/tinkerator/blflash/internal/protocol"
	"github.com/tinkerator/blflash/internal/transport"
	"zappem.net/pub/debug/xxd"
)

// DefaultBaud is the rate the BootROM expects before any handshake.
const DefaultBaud = 115200

// Connection wraps a transport.Transport with the command framing and the
// reset/handshake timing the BL602 BootROM expects.
type Connection struct {
	t    transport.Transport
	baud int

	// Debug, when non-nil, receives every frame written and read, for
	// hex-dump tracing under the CLI's -debug flag.
	Debug func(label string, data []byte)
}

// New wraps t, assuming it is already configured at DefaultBaud.
func New(t transport.Transport) *Connection {
	return &Connection{t: t, baud: DefaultBaud}
}

func (c *Connection) trace(label string, data []byte) {
	if c.Debug != nil {
		c.Debug(label, data)
	}
}

// TraceHexDump is a ready-made Debug hook that renders frames with
// zappem.net/pub/debug/xxd. xxd.Print writes straight to stdout, so the
// io.Writer argument is unused; it is kept so call sites read naturally.
func TraceHexDump(io.Writer) func(string, []byte) {
	return func(label string, data []byte) {
		fmt.Println(label + ":")
		xxd.Print(0, data)
	}
}

// ResetToFlash drives the DTR/RTS sequence that puts the BL602 into ROM
// download mode: RTS asserted, then DTR asserted, then DTR released, then
// RTS released, with >=50ms between each edge.
func (c *Connection) ResetToFlash() error {
	if err := c.t.SetRTS(true); err != nil {
		return err
	}
	c.t.Sleep(50 * time.Millisecond)
	if err := c.t.SetDTR(true); err != nil {
		return err
	}
	c.t.Sleep(50 * time.Millisecond)
	if err := c.t.SetDTR(false); err != nil {
		return err
	}
	c.t.Sleep(50 * time.Millisecond)
	if err := c.t.SetRTS(false); err != nil {
		return err
	}
	c.t.Sleep(50 * time.Millisecond)
	return nil
}

// Reset drives the plain reboot sequence, restarting the chip into its
// normal boot flow once flashing is done: RTS released, then DTR pulsed,
// with >=50ms between each edge.
func (c *Connection) Reset() error {
	if err := c.t.SetRTS(false); err != nil {
		return err
	}
	c.t.Sleep(50 * time.Millisecond)
	if err := c.t.SetDTR(true); err != nil {
		return err
	}
	c.t.Sleep(50 * time.Millisecond)
	if err := c.t.SetDTR(false); err != nil {
		return err
	}
	c.t.Sleep(50 * time.Millisecond)
	return nil
}

// SetTimeout sets the read timeout used by subsequent commands.
func (c *Connection) SetTimeout(d time.Duration) error {
	return c.t.SetTimeout(d)
}

// WithTimeout runs f with the read timeout temporarily set to d, restoring
// the previous timeout afterwards regardless of f's outcome.
func (c *Connection) WithTimeout(d time.Duration, f func() error) error {
	old := c.t.Timeout()
	if err := c.t.SetTimeout(d); err != nil {
		return err
	}
	err := f()
	if rerr := c.t.SetTimeout(old); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Sleep blocks for d, the way ResetToFlash and the post-RunImage settle
// delay need between edges -- delegated straight to the transport so
// tests using transport.Fake never actually block.
func (c *Connection) Sleep(d time.Duration) {
	c.t.Sleep(d)
}

// SetBaud reconfigures the transport's baud rate and records it for
// BytesForDuration.
func (c *Connection) SetBaud(bps int) error {
	if err := c.t.SetBaud(bps); err != nil {
		return err
	}
	c.baud = bps
	return nil
}

// BytesForDuration returns how many bytes, at the connection's current
// baud rate, it takes to occupy d of wire time -- used to size the 0x55
// autobaud preamble sent during handshake.
func (c *Connection) BytesForDuration(d time.Duration) int {
	return c.baud / 10 / 1000 * int(d.Milliseconds())
}

// WriteAll writes p and flushes it.
func (c *Connection) WriteAll(p []byte) error {
	c.trace("write", p)
	if err := c.t.WriteAll(p); err != nil {
		return protocol.Err(protocol.KindSerialError, "write: %v", err)
	}
	return c.t.Flush()
}

// SendCommand writes cmd's header and body, then reads back its response.
// A successful ("OK") response yields the payload bytes (nil if the
// command carries none); a failure ("FL") response yields the device's
// RomError; any other two-byte status is a RespError.
func (c *Connection) SendCommand(cmd protocol.Command) ([]byte, error) {
	body := cmd.Body()
	if len(body) > protocol.MaxBodyLen {
		return nil, protocol.Err(protocol.KindOverSizedPacket, "body length %d exceeds %d", len(body), protocol.MaxBodyLen)
	}
	header := make([]byte, 4+len(body))
	header[0] = cmd.ID()
	header[1] = 0x00
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(body)))
	copy(header[4:], body)
	if err := c.WriteAll(header); err != nil {
		return nil, err
	}
	return c.readResponse(cmd.ExpectsPayload())
}

// ReadResponse reads one OK/FL framed response without writing a command
// first -- used by the handshake, which synchronizes the ROM's autobaud
// detector with a raw 0x55 burst rather than a real command. The
// handshake only ever needs to know OK vs FL, so it carries no payload.
func (c *Connection) ReadResponse() ([]byte, error) {
	return c.readResponse(false)
}

// readResponse implements the OK/FL status framing: a 2-byte status; for
// "OK" on a command that carries a response payload, a 2-byte
// little-endian payload length followed by that many bytes; for "FL", a
// 2-byte little-endian RomError code. A command with no response payload
// reads nothing past the status bytes.
func (c *Connection) readResponse(expectsPayload bool) ([]byte, error) {
	status, err := c.t.ReadExact(2)
	if err != nil {
		return nil, protocol.Err(protocol.KindSerialError, "read status: %v", err)
	}
	c.trace("status", status)
	switch {
	case status[0] == 'O' && status[1] == 'K':
		if !expectsPayload {
			return nil, nil
		}
		lenBytes, err := c.t.ReadExact(2)
		if err != nil {
			return nil, protocol.Err(protocol.KindSerialError, "read payload length: %v", err)
		}
		n := binary.LittleEndian.Uint16(lenBytes)
		if n == 0 {
			return nil, nil
		}
		payload, err := c.t.ReadExact(int(n))
		if err != nil {
			return nil, protocol.Err(protocol.KindSerialError, "read payload: %v", err)
		}
		c.trace("payload", payload)
		return payload, nil
	case status[0] == 'F' && status[1] == 'L':
		codeBytes, err := c.t.ReadExact(2)
		if err != nil {
			return nil, protocol.Err(protocol.KindSerialError, "read error code: %v", err)
		}
		return nil, protocol.RomError(binary.LittleEndian.Uint16(codeBytes))
	default:
		return nil, protocol.Err(protocol.KindRespError, "unexpected status bytes %q", status)
	}
}
