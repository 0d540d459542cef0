package protocol

import "encoding/binary"

// EflashLoader command IDs, active once RunImage has handed
// control to the uploaded stub and the connection has re-handshaken at the
// stub's own baud rate.
const (
	CmdFlashErase   byte = 0x30
	CmdFlashProgram byte = 0x31
	CmdFlashRead    byte = 0x32
	CmdSha256Read   byte = 0x3d
)

// FlashErase erases [start, end), both absolute flash offsets. The
// eflash_loader rounds this up to whole sectors internally.
func FlashErase(start, end uint32) Command {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:4], start)
	binary.LittleEndian.PutUint32(body[4:8], end)
	return newCommand(CmdFlashErase, body, false)
}

// FlashProgram writes data (at most MaxBodyLen-4 bytes) to flash starting at
// offset. Larger payloads are split by the caller into successive commands.
func FlashProgram(offset uint32, data []byte) Command {
	body := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(body[0:4], offset)
	copy(body[4:], data)
	return newCommand(CmdFlashProgram, body, false)
}

// FlashRead reads length bytes from flash starting at offset. The response
// carries a length-prefixed payload of up to length bytes.
func FlashRead(offset, length uint32) Command {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:4], offset)
	binary.LittleEndian.PutUint32(body[4:8], length)
	return newCommand(CmdFlashRead, body, true)
}

// Sha256Read asks the stub to hash length bytes of flash starting at
// offset and return the 32-byte digest, used for the skip-by-hash check
// before erasing and reprogramming a segment.
func Sha256Read(offset, length uint32) Command {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:4], offset)
	binary.LittleEndian.PutUint32(body[4:8], length)
	return newCommand(CmdSha256Read, body, true)
}

// DecodeSha256 parses the payload returned for a Sha256Read command. The
// response's own 2-byte length field (\x20\x00, i.e. 32, the digest
// length) is already consumed by the generic OK/length/payload framing in
// package connection, so the payload handed here is the bare 32-byte
// digest.
func DecodeSha256(payload []byte) ([32]byte, error) {
	var digest [32]byte
	if len(payload) != 32 {
		return digest, Err(KindParseError, "sha256 payload length %d, want 32", len(payload))
	}
	copy(digest[:], payload)
	return digest, nil
}
