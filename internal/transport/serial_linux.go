//go:build linux

package transport

import (
	"fmt"
	"reflect"
	"time"

	"github.com/pkg/term"
	"golang.org/x/sys/unix"
)

// termFd extracts the file descriptor github.com/pkg/term's Term opened
// internally. The package does not export an accessor for it, so this
// reads the unexported field by name.
func termFd(t *term.Term) int {
	return int(reflect.ValueOf(t).Elem().FieldByName("fd").Int())
}

// standardBauds maps the speeds this tool actually uses (the initial
// handshake rate and the usual flash programming speeds) to the termios
// CBAUD constants the kernel understands. github.com/pkg/term fixes the
// baud rate at Open time and offers no way to change it afterwards or to
// touch the modem control lines, so both are done here with direct ioctls
// on the underlying fd.
var standardBauds = map[int]uint32{
	115200:   unix.B115200,
	230400:   unix.B230400,
	460800:   unix.B460800,
	500000:   unix.B500000,
	576000:   unix.B576000,
	921600:   unix.B921600,
	1000000:  unix.B1000000,
	1152000:  unix.B1152000,
	1500000:  unix.B1500000,
	2000000:  unix.B2000000,
}

// Serial is the Linux Transport implementation: a tty opened in raw mode
// via github.com/pkg/term, with RTS/DTR and baud changes applied through
// golang.org/x/sys/unix ioctls on its file descriptor.
type Serial struct {
	t       *term.Term
	fd      int
	timeout time.Duration
}

// OpenSerial opens path (e.g. "/dev/ttyUSB0") in raw mode at the given
// initial baud rate, 8N1, no flow control -- the only configuration the
// BL602 BootROM ever expects.
func OpenSerial(path string, initialBaud int) (*Serial, error) {
	t, err := term.Open(path, term.Speed(initialBaud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Serial{t: t, fd: termFd(t)}
	if err := s.Reconfigure(DefaultSettings(initialBaud)); err != nil {
		t.Close()
		return nil, err
	}
	return s, nil
}

// ReadExact blocks until n bytes have arrived or s.timeout elapses since
// the call started. github.com/pkg/term's Term does not expose a read
// deadline, so the overall deadline is enforced with the classic
// VTIME/VMIN termios knobs: VMIN=0 makes each underlying read return as
// soon as at least one byte is available or VTIME (in deciseconds)
// elapses, and this loop re-arms that per-call wait against the remaining
// budget until n bytes are collected or time runs out.
func (s *Serial) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	deadline := time.Now().Add(s.timeout)
	read := 0
	for read < n {
		remaining := time.Until(deadline)
		if s.timeout > 0 && remaining <= 0 {
			return buf[:read], fmt.Errorf("transport: read timed out after %d/%d bytes", read, n)
		}
		if err := s.armReadTimeout(remaining); err != nil {
			return buf[:read], err
		}
		m, err := s.t.Read(buf[read:])
		read += m
		if err != nil {
			return buf[:read], err
		}
		if m == 0 && s.timeout > 0 && time.Until(deadline) <= 0 {
			return buf[:read], fmt.Errorf("transport: read timed out after %d/%d bytes", read, n)
		}
	}
	return buf, nil
}

// armReadTimeout sets VTIME to the given remaining budget (clamped to the
// termios field's 1-255 decisecond range) ahead of a single Read call.
func (s *Serial) armReadTimeout(remaining time.Duration) error {
	tio, err := unix.IoctlGetTermios(s.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}
	if s.timeout <= 0 {
		tio.Cc[unix.VMIN] = 1
		tio.Cc[unix.VTIME] = 0
	} else {
		deciseconds := remaining.Milliseconds() / 100
		if deciseconds < 1 {
			deciseconds = 1
		}
		if deciseconds > 255 {
			deciseconds = 255
		}
		tio.Cc[unix.VMIN] = 0
		tio.Cc[unix.VTIME] = uint8(deciseconds)
	}
	return unix.IoctlSetTermios(s.fd, unix.TCSETS, tio)
}

func (s *Serial) WriteAll(p []byte) error {
	_, err := s.t.Write(p)
	return err
}

func (s *Serial) Flush() error {
	return s.t.Flush()
}

func (s *Serial) setModemBits(set bool, bits int) error {
	req := uint(unix.TIOCMBIC)
	if set {
		req = unix.TIOCMBIS
	}
	return unix.IoctlSetPointerInt(s.fd, req, bits)
}

func (s *Serial) SetRTS(asserted bool) error {
	return s.setModemBits(asserted, unix.TIOCM_RTS)
}

func (s *Serial) SetDTR(asserted bool) error {
	return s.setModemBits(asserted, unix.TIOCM_DTR)
}

func (s *Serial) SetBaud(bps int) error {
	code, ok := standardBauds[bps]
	if !ok {
		return fmt.Errorf("transport: unsupported baud rate %d", bps)
	}
	tio, err := unix.IoctlGetTermios(s.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}
	tio.Cflag &^= unix.CBAUD
	tio.Cflag |= code
	tio.Ispeed = code
	tio.Ospeed = code
	if err := unix.IoctlSetTermios(s.fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

func (s *Serial) SetTimeout(d time.Duration) error {
	s.timeout = d
	return nil
}

func (s *Serial) Timeout() time.Duration { return s.timeout }

func (s *Serial) Sleep(d time.Duration) { time.Sleep(d) }

func (s *Serial) Reconfigure(set Settings) error {
	tio, err := unix.IoctlGetTermios(s.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS
	tio.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD
	switch set.Parity {
	case ParityEven:
		tio.Cflag |= unix.PARENB
	case ParityOdd:
		tio.Cflag |= unix.PARENB | unix.PARODD
	}
	if set.StopBits == 2 {
		tio.Cflag |= unix.CSTOPB
	}
	if set.Flow == FlowHardware {
		tio.Cflag |= unix.CRTSCTS
	}
	tio.Iflag = 0
	tio.Oflag = 0
	tio.Lflag = 0
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(s.fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return s.SetBaud(set.BaudRate)
}

func (s *Serial) Close() error {
	return s.t.Close()
}
