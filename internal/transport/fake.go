package transport

import (
	"bytes"
	"io"
	"time"
)

// Fake is an in-memory Transport for tests: writes go to Out, reads are
// served from In. RTS/DTR edges and baud/timeout changes are recorded
// rather than applied to real hardware, so tests can assert on sequencing
// (e.g. the download-mode reset's four edges separated by >=50ms of
// Sleep).
type Fake struct {
	In  *bytes.Buffer
	Out *bytes.Buffer

	RTSHistory  []bool
	DTRHistory  []bool
	BaudHistory []int
	SleepTotal  time.Duration

	baud    int
	timeout time.Duration
	closed  bool

	// Responder, when set, is invoked after every WriteAll to let a test
	// script a canned device response into In before the caller's next
	// ReadExact.
	Responder func(written []byte, f *Fake)
}

// NewFake returns a Fake transport with empty In/Out buffers.
func NewFake() *Fake {
	return &Fake{In: &bytes.Buffer{}, Out: &bytes.Buffer{}, baud: 115200}
}

func (f *Fake) ReadExact(n int) ([]byte, error) {
	if f.closed {
		return nil, ErrClosed
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.In, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *Fake) WriteAll(p []byte) error {
	if f.closed {
		return ErrClosed
	}
	if _, err := f.Out.Write(p); err != nil {
		return err
	}
	if f.Responder != nil {
		f.Responder(p, f)
	}
	return nil
}

func (f *Fake) Flush() error { return nil }

func (f *Fake) SetRTS(asserted bool) error {
	f.RTSHistory = append(f.RTSHistory, asserted)
	return nil
}

func (f *Fake) SetDTR(asserted bool) error {
	f.DTRHistory = append(f.DTRHistory, asserted)
	return nil
}

func (f *Fake) SetBaud(bps int) error {
	f.baud = bps
	f.BaudHistory = append(f.BaudHistory, bps)
	return nil
}

func (f *Fake) SetTimeout(d time.Duration) error {
	f.timeout = d
	return nil
}

func (f *Fake) Timeout() time.Duration { return f.timeout }

func (f *Fake) Sleep(d time.Duration) { f.SleepTotal += d }

func (f *Fake) Reconfigure(s Settings) error {
	f.baud = s.BaudRate
	f.BaudHistory = append(f.BaudHistory, s.BaudRate)
	return nil
}

func (f *Fake) Close() error {
	f.closed = true
	return nil
}

// Baud reports the last baud rate applied via SetBaud/Reconfigure.
func (f *Fake) Baud() int { return f.baud }
