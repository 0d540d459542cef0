package protocol

import "encoding/binary"

// BootROM command IDs, active after reset into ROM download mode and the
// autobaud handshake, until RunImage hands control to the uploaded stub.
const (
	CmdBootInfoReq          byte = 0x10
	CmdLoadBootHeader       byte = 0x11
	CmdLoadSegmentHeaderReq byte = 0x17
	CmdLoadSegmentData      byte = 0x18
	CmdCheckImage           byte = 0x19
	CmdRunImage             byte = 0x1a
)

// LoadBootHeaderLen and LoadSegmentHeaderLen are the fixed body sizes the
// BootROM requires for the two header-loading commands.
const (
	LoadBootHeaderLen    = 176
	LoadSegmentHeaderLen = 16
)

// BootInfoReq requests the BootROM version and OTP info.
func BootInfoReq() Command {
	return newCommand(CmdBootInfoReq, nil, true)
}

// BootInfo is the decoded response payload to BootInfoReq.
type BootInfo struct {
	BootROMVersion uint32
	OTPInfo        [16]byte
}

// DecodeBootInfo parses the payload returned for a BootInfoReq command.
func DecodeBootInfo(payload []byte) (BootInfo, error) {
	if len(payload) != 20 {
		return BootInfo{}, Err(KindParseError, "boot info payload length %d, want 20", len(payload))
	}
	var info BootInfo
	info.BootROMVersion = binary.LittleEndian.Uint32(payload[0:4])
	copy(info.OTPInfo[:], payload[4:20])
	return info, nil
}

// LoadBootHeader uploads the 176-byte boot header (flash cfg + clk cfg +
// boot cfg) that precedes the eflash_loader stub payload. The body is the
// header verbatim -- the outer command header already carries the body
// length, so no redundant length field is repeated inside it.
func LoadBootHeader(header []byte) Command {
	body := make([]byte, len(header))
	copy(body, header)
	return newCommand(CmdLoadBootHeader, body, false)
}

// LoadSegmentHeader uploads the 16-byte segment header that precedes the
// stub's code bytes. The BootROM echoes the header back; callers compare
// it against what they sent and log (not fail) a mismatch.
func LoadSegmentHeader(header []byte) Command {
	body := make([]byte, len(header))
	copy(body, header)
	return newCommand(CmdLoadSegmentHeaderReq, body, true)
}

// LoadSegmentData uploads up to MaxBodyLen bytes of the stub's code.
func LoadSegmentData(chunk []byte) Command {
	body := make([]byte, len(chunk))
	copy(body, chunk)
	return newCommand(CmdLoadSegmentData, body, false)
}

// CheckImage asks the BootROM to validate the uploaded stub image's CRCs
// and hash before RunImage hands it control.
func CheckImage() Command {
	return newCommand(CmdCheckImage, nil, false)
}

// RunImage hands control to the uploaded stub.
func RunImage() Command {
	return newCommand(CmdRunImage, nil, false)
}
