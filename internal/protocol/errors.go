// Package protocol defines the two wire vocabularies spoken over a Framed
// Connection: the BootROM command set (active until the eflash_loader stub
// takes over) and the EflashLoader command set (active afterwards),
// together with the shared command/response framing and error types.
package protocol

import "fmt"

// RomError is the device-reported failure code carried by an "FL"
// response. Code 0x0000 is RomErrorSuccess and should never actually
// appear paired with "FL" -- the BootROM's exact non-zero codes are not
// enumerated anywhere in the available documentation, so every other value
// is surfaced opaquely as RomError(code).
type RomError uint16

const RomErrorSuccess RomError = 0

func (e RomError) Error() string {
	if e == RomErrorSuccess {
		return "rom error: success (unexpected in a failure response)"
	}
	return fmt.Sprintf("rom error: code 0x%04x", uint16(e))
}

// Kind classifies the failure modes this tool can hit. Errors of
// these kinds wrap a Kind so callers can match with errors.Is against the
// Kind sentinels below while also carrying a message.
type Kind int

const (
	KindSerialError Kind = iota
	KindRespError
	KindConnectionFailed
	KindTimeout
	KindOverSizedPacket
	KindInvalidElf
	KindElfNotRamLoadable
	KindUnrecognizedChip
	KindUnsupportedFlash
	KindParseError
)

func (k Kind) String() string {
	switch k {
	case KindSerialError:
		return "serial i/o error"
	case KindRespError:
		return "response status was neither OK nor FL"
	case KindConnectionFailed:
		return "failed to connect to the device"
	case KindTimeout:
		return "timeout while running command"
	case KindOverSizedPacket:
		return "packet too large for buffer"
	case KindInvalidElf:
		return "elf image is not valid"
	case KindElfNotRamLoadable:
		return "elf image cannot be run from ram"
	case KindUnrecognizedChip:
		return "chip not recognized"
	case KindUnsupportedFlash:
		return "flash chip not supported"
	case KindParseError:
		return "parse error"
	default:
		return "unknown error"
	}
}

// Error lets a bare Kind value (e.g. protocol.KindTimeout) itself be used
// as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Error pairs a Kind with a human-readable detail message, with errors.Is
// matching against the Kind itself so callers never compare strings.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is reports whether target is the same Kind, so callers can write
// errors.Is(err, protocol.KindTimeout) style checks against a Kind value
// wrapped via protocol.Err.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Err constructs an *Error of the given kind with a formatted message.
func Err(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
