// Package transport defines the byte-stream abstraction the rest of this
// tool drives a BL602 over: a bidirectional stream plus the handful of
// serial-specific knobs (baud, RTS, DTR, read timeout) the BootROM
// handshake and baud-switch protocol need.
package transport

import (
	"errors"
	"time"
)

// ErrClosed is returned by operations on a Transport that has already been
// closed.
var ErrClosed = errors.New("transport: closed")

// Settings describes the line configuration applied by Reconfigure. Every
// concrete Transport is expected to support 8 data bits, 1 stop bit, no
// parity, no flow control -- the only combination the BL602 BootROM and
// eflash_loader ever use. Serial accepts only the baud rates listed in its
// standardBauds table and returns an error for any other rate.
type Settings struct {
	BaudRate int
	DataBits int
	StopBits int
	Parity   Parity
	Flow     FlowControl
}

// Parity enumerates the line parity modes a Transport may be asked for.
type Parity int

// FlowControl enumerates the flow-control modes a Transport may be asked
// for.
type FlowControl int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

const (
	FlowNone FlowControl = iota
	FlowHardware
	FlowSoftware
)

// DefaultSettings is the 8N1/no-flow line configuration every Connection
// expects; only BaudRate varies across calls to Reconfigure.
func DefaultSettings(baud int) Settings {
	return Settings{BaudRate: baud, DataBits: 8, StopBits: 1, Parity: ParityNone, Flow: FlowNone}
}

// Transport is a bidirectional byte stream with the metadata operations the
// Framed Connection (internal/connection) needs to drive the BootROM
// download-mode handshake: baud changes, RTS/DTR edges, and a read
// deadline that can be tightened for the handshake burst and relaxed again
// afterwards.
//
// Implementations are not expected to be safe for concurrent use: a
// Transport is owned by exactly one Connection for its lifetime and
// commands are never in flight concurrently.
type Transport interface {
	// ReadExact blocks until exactly n bytes have been read, the configured
	// timeout elapses, or an I/O error occurs.
	ReadExact(n int) ([]byte, error)
	// WriteAll writes every byte in p, blocking as needed.
	WriteAll(p []byte) error
	// Flush pushes any buffered output to the wire.
	Flush() error

	// SetRTS and SetDTR drive the modem control lines used to reset the
	// target into ROM download mode.
	SetRTS(asserted bool) error
	SetDTR(asserted bool) error

	// SetBaud changes the line speed. Implementations apply it immediately;
	// callers are responsible for any handshake needed afterwards.
	SetBaud(bps int) error

	// SetTimeout sets the deadline used by subsequent ReadExact calls.
	// Timeout reports the currently configured value.
	SetTimeout(d time.Duration) error
	Timeout() time.Duration

	// Sleep blocks the calling goroutine for d -- an advisory wall-clock
	// delay used between DTR/RTS edges and after RunImage.
	Sleep(d time.Duration)

	// Reconfigure applies a full line configuration (data bits, stop bits,
	// parity, flow control, baud rate) in one step.
	Reconfigure(s Settings) error

	// Close releases the underlying device.
	Close() error
}
