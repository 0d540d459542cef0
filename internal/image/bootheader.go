// Package image builds the boot header and partition table blobs the
// BL602 BootROM and boot2 stage expect to find at fixed flash offsets.
//
// The bit-packed BootCfg flag bytes are marshaled by hand, packing each
// byte MSB-first in declaration order.
package image

import (
	"crypto/sha256"
	"encoding/binary"

	"zappem.net/pub/debug/xcrc32"
)

const bootHeaderLen = 176

// FlashCfg describes the SPI flash chip's command set and timing, loaded
// verbatim from a boot header config file.
type FlashCfg struct {
	MagicCode            uint32 `toml:"flashcfg_magic_code"`
	IOMode               uint8  `toml:"io_mode"`
	ContReadSupport      uint8  `toml:"cont_read_support"`
	SFCtrlClkDelay       uint8  `toml:"sfctrl_clk_delay"`
	SFCtrlClkInvert      uint8  `toml:"sfctrl_clk_invert"`
	ResetEnCmd           uint8  `toml:"reset_en_cmd"`
	ResetCmd             uint8  `toml:"reset_cmd"`
	ExitContreadCmd      uint8  `toml:"exit_contread_cmd"`
	ExitContreadCmdSize  uint8  `toml:"exit_contread_cmd_size"`
	JedecIDCmd           uint8  `toml:"jedecid_cmd"`
	JedecIDCmdDmyClk     uint8  `toml:"jedecid_cmd_dmy_clk"`
	QpiJedecIDCmd        uint8  `toml:"qpi_jedecid_cmd"`
	QpiJedecIDDmyClk     uint8  `toml:"qpi_jedecid_dmy_clk"`
	SectorSize           uint8  `toml:"sector_size"`
	MfgID                uint8  `toml:"mfg_id"`
	PageSize             uint16 `toml:"page_size"`
	ChipEraseCmd         uint8  `toml:"chip_erase_cmd"`
	SectorEraseCmd       uint8  `toml:"sector_erase_cmd"`
	Blk32kEraseCmd       uint8  `toml:"blk32k_erase_cmd"`
	Blk64kEraseCmd       uint8  `toml:"blk64k_erase_cmd"`
	WriteEnableCmd       uint8  `toml:"write_enable_cmd"`
	PageProgCmd          uint8  `toml:"page_prog_cmd"`
	QPageProgCmd         uint8  `toml:"qpage_prog_cmd"`
	QualPageProgAddrMode uint8  `toml:"qual_page_prog_addr_mode"`
	FastReadCmd          uint8  `toml:"fast_read_cmd"`
	FastReadDmyClk       uint8  `toml:"fast_read_dmy_clk"`
	QpiFastReadCmd       uint8  `toml:"qpi_fast_read_cmd"`
	QpiFastReadDmyClk    uint8  `toml:"qpi_fast_read_dmy_clk"`
	FastReadDoCmd        uint8  `toml:"fast_read_do_cmd"`
	FastReadDoDmyClk     uint8  `toml:"fast_read_do_dmy_clk"`
	FastReadDioCmd       uint8  `toml:"fast_read_dio_cmd"`
	FastReadDioDmyClk    uint8  `toml:"fast_read_dio_dmy_clk"`
	FastReadQoCmd        uint8  `toml:"fast_read_qo_cmd"`
	FastReadQoDmyClk     uint8  `toml:"fast_read_qo_dmy_clk"`
	FastReadQioCmd       uint8  `toml:"fast_read_qio_cmd"`
	FastReadQioDmyClk    uint8  `toml:"fast_read_qio_dmy_clk"`
	QpiFastReadQioCmd    uint8  `toml:"qpi_fast_read_qio_cmd"`
	QpiFastReadQioDmyClk uint8  `toml:"qpi_fast_read_qio_dmy_clk"`
	QpiPageProgCmd       uint8  `toml:"qpi_page_prog_cmd"`
	WriteVregEnableCmd   uint8  `toml:"write_vreg_enable_cmd"`
	WelRegIndex          uint8  `toml:"wel_reg_index"`
	QeRegIndex           uint8  `toml:"qe_reg_index"`
	BusyRegIndex         uint8  `toml:"busy_reg_index"`
	WelBitPos            uint8  `toml:"wel_bit_pos"`
	QeBitPos             uint8  `toml:"qe_bit_pos"`
	BusyBitPos           uint8  `toml:"busy_bit_pos"`
	WelRegWriteLen       uint8  `toml:"wel_reg_write_len"`
	WelRegReadLen        uint8  `toml:"wel_reg_read_len"`
	QeRegWriteLen        uint8  `toml:"qe_reg_write_len"`
	QeRegReadLen         uint8  `toml:"qe_reg_read_len"`
	ReleasePowerDown     uint8  `toml:"release_power_down"`
	BusyRegReadLen       uint8  `toml:"busy_reg_read_len"`
	RegReadCmd0          uint8  `toml:"reg_read_cmd0"`
	RegReadCmd1          uint8  `toml:"reg_read_cmd1"`
	RegWriteCmd0         uint8  `toml:"reg_write_cmd0"`
	RegWriteCmd1         uint8  `toml:"reg_write_cmd1"`
	EnterQpiCmd          uint8  `toml:"enter_qpi_cmd"`
	ExitQpiCmd           uint8  `toml:"exit_qpi_cmd"`
	ContReadCode         uint8  `toml:"cont_read_code"`
	ContReadExitCode     uint8  `toml:"cont_read_exit_code"`
	BurstWrapCmd         uint8  `toml:"burst_wrap_cmd"`
	BurstWrapDmyClk      uint8  `toml:"burst_wrap_dmy_clk"`
	BurstWrapDataMode    uint8  `toml:"burst_wrap_data_mode"`
	BurstWrapCode        uint8  `toml:"burst_wrap_code"`
	DeBurstWrapCmd       uint8  `toml:"de_burst_wrap_cmd"`
	DeBurstWrapCmdDmyClk uint8  `toml:"de_burst_wrap_cmd_dmy_clk"`
	DeBurstWrapCodeMode  uint8  `toml:"de_burst_wrap_code_mode"`
	DeBurstWrapCode      uint8  `toml:"de_burst_wrap_code"`
	SectorEraseTime      uint16 `toml:"sector_erase_time"`
	Blk32kEraseTime      uint16 `toml:"blk32k_erase_time"`
	Blk64kEraseTime      uint16 `toml:"blk64k_erase_time"`
	PageProgTime         uint16 `toml:"page_prog_time"`
	ChipEraseTime        uint16 `toml:"chip_erase_time"`
	PowerDownDelay       uint8  `toml:"power_down_delay"`
	QeData               uint8  `toml:"qe_data"`
}

// marshal writes the 88-byte FlashCfg body (magic through qe_data,
// without its own trailing CRC32) into buf, which must be 88 bytes.
func (c FlashCfg) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], c.MagicCode)
	buf[4] = c.IOMode
	buf[5] = c.ContReadSupport
	buf[6] = c.SFCtrlClkDelay
	buf[7] = c.SFCtrlClkInvert
	buf[8] = c.ResetEnCmd
	buf[9] = c.ResetCmd
	buf[10] = c.ExitContreadCmd
	buf[11] = c.ExitContreadCmdSize
	buf[12] = c.JedecIDCmd
	buf[13] = c.JedecIDCmdDmyClk
	buf[14] = c.QpiJedecIDCmd
	buf[15] = c.QpiJedecIDDmyClk
	buf[16] = c.SectorSize
	buf[17] = c.MfgID
	binary.LittleEndian.PutUint16(buf[18:20], c.PageSize)
	buf[20] = c.ChipEraseCmd
	buf[21] = c.SectorEraseCmd
	buf[22] = c.Blk32kEraseCmd
	buf[23] = c.Blk64kEraseCmd
	buf[24] = c.WriteEnableCmd
	buf[25] = c.PageProgCmd
	buf[26] = c.QPageProgCmd
	buf[27] = c.QualPageProgAddrMode
	buf[28] = c.FastReadCmd
	buf[29] = c.FastReadDmyClk
	buf[30] = c.QpiFastReadCmd
	buf[31] = c.QpiFastReadDmyClk
	buf[32] = c.FastReadDoCmd
	buf[33] = c.FastReadDoDmyClk
	buf[34] = c.FastReadDioCmd
	buf[35] = c.FastReadDioDmyClk
	buf[36] = c.FastReadQoCmd
	buf[37] = c.FastReadQoDmyClk
	buf[38] = c.FastReadQioCmd
	buf[39] = c.FastReadQioDmyClk
	buf[40] = c.QpiFastReadQioCmd
	buf[41] = c.QpiFastReadQioDmyClk
	buf[42] = c.QpiPageProgCmd
	buf[43] = c.WriteVregEnableCmd
	buf[44] = c.WelRegIndex
	buf[45] = c.QeRegIndex
	buf[46] = c.BusyRegIndex
	buf[47] = c.WelBitPos
	buf[48] = c.QeBitPos
	buf[49] = c.BusyBitPos
	buf[50] = c.WelRegWriteLen
	buf[51] = c.WelRegReadLen
	buf[52] = c.QeRegWriteLen
	buf[53] = c.QeRegReadLen
	buf[54] = c.ReleasePowerDown
	buf[55] = c.BusyRegReadLen
	buf[56] = c.RegReadCmd0
	buf[57] = c.RegReadCmd1
	binary.LittleEndian.PutUint16(buf[58:60], 0) // unused1
	buf[60] = c.RegWriteCmd0
	buf[61] = c.RegWriteCmd1
	binary.LittleEndian.PutUint16(buf[62:64], 0) // unused2
	buf[64] = c.EnterQpiCmd
	buf[65] = c.ExitQpiCmd
	buf[66] = c.ContReadCode
	buf[67] = c.ContReadExitCode
	buf[68] = c.BurstWrapCmd
	buf[69] = c.BurstWrapDmyClk
	buf[70] = c.BurstWrapDataMode
	buf[71] = c.BurstWrapCode
	buf[72] = c.DeBurstWrapCmd
	buf[73] = c.DeBurstWrapCmdDmyClk
	buf[74] = c.DeBurstWrapCodeMode
	buf[75] = c.DeBurstWrapCode
	binary.LittleEndian.PutUint16(buf[76:78], c.SectorEraseTime)
	binary.LittleEndian.PutUint16(buf[78:80], c.Blk32kEraseTime)
	binary.LittleEndian.PutUint16(buf[80:82], c.Blk64kEraseTime)
	binary.LittleEndian.PutUint16(buf[82:84], c.PageProgTime)
	binary.LittleEndian.PutUint16(buf[84:86], c.ChipEraseTime)
	buf[86] = c.PowerDownDelay
	buf[87] = c.QeData
	// The struct's wire length is these 88 bytes of content followed by
	// its own 4-byte CRC32, appended by the caller.
}

const flashCfgBodyLen = 88

// ClkCfg describes the system clock tree setup applied before flash
// access begins.
type ClkCfg struct {
	MagicCode    uint32 `toml:"clkcfg_magic_code"`
	XtalType     uint8  `toml:"xtal_type"`
	PllClk       uint8  `toml:"pll_clk"`
	HclkDiv      uint8  `toml:"hclk_div"`
	BclkDiv      uint8  `toml:"bclk_div"`
	FlashClkType uint8  `toml:"flash_clk_type"`
	FlashClkDiv  uint8  `toml:"flash_clk_div"`
}

const clkCfgBodyLen = 12

func (c ClkCfg) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], c.MagicCode)
	buf[4] = c.XtalType
	buf[5] = c.PllClk
	buf[6] = c.HclkDiv
	buf[7] = c.BclkDiv
	buf[8] = c.FlashClkType
	buf[9] = c.FlashClkDiv
	binary.LittleEndian.PutUint16(buf[10:12], 0) // unused1
}

// BootCfg holds the boot-time flags, image length/entry/hash fields the
// BootROM validates before handing off to boot2 or the firmware image.
type BootCfg struct {
	KeySel           uint8     `toml:"key_sel"`
	EncryptType      uint8     `toml:"encrypt_type"`
	Sign             uint8     `toml:"sign"`
	CacheWayDisable  uint8     `toml:"cache_way_disable"`
	AesRegionLock    uint8     `toml:"aes_region_lock"`
	NotloadInBootrom uint8     `toml:"notload_in_bootrom"`
	CacheEnable      uint8     `toml:"cache_enable"`
	NoSegment        uint8     `toml:"no_segment"`
	HashIgnore       uint8     `toml:"hash_ignore"`
	CrcIgnore        uint8     `toml:"crc_ignore"`
	ImgLen           uint32    `toml:"img_len"`
	BootEntry        uint32    `toml:"bootentry"`
	ImgStart         uint32    `toml:"img_start"`
	Hash             [8]uint32 `toml:"-"`
}

const bootCfgLen = 56

func (c BootCfg) marshal(buf []byte) {
	buf[0] = (c.KeySel&0x3)<<4 | (c.EncryptType&0x3)<<2 | (c.Sign & 0x3)
	buf[1] = (c.CacheWayDisable&0xf)<<4 | (c.AesRegionLock&0x1)<<3 | (c.NotloadInBootrom&0x1)<<2 | (c.CacheEnable&0x1)<<1 | (c.NoSegment & 0x1)
	// The flag word packs MSB-first: 14 reserved bits, then hash_ignore,
	// then crc_ignore in the low bits of the second byte.
	buf[2] = 0
	buf[3] = (c.HashIgnore&0x1)<<1 | (c.CrcIgnore & 0x1)
	binary.LittleEndian.PutUint32(buf[4:8], c.ImgLen)
	binary.LittleEndian.PutUint32(buf[8:12], c.BootEntry)
	binary.LittleEndian.PutUint32(buf[12:16], c.ImgStart)
	for i, h := range c.Hash {
		binary.LittleEndian.PutUint32(buf[16+4*i:20+4*i], h)
	}
	// buf[48:56] is the struct's trailing reserved padding.
}

// setHash stores a 32-byte SHA-256 digest into the eight hash words.
// The device reads the words little-endian, so the decode is explicitly
// little-endian rather than host-native.
func (c *BootCfg) setHash(digest [32]byte) {
	for i := 0; i < 8; i++ {
		c.Hash[i] = binary.LittleEndian.Uint32(digest[4*i : 4*i+4])
	}
}

// BootHeaderCfg is the full 176-byte boot header: an 8-byte magic/revision
// prefix, the FlashCfg, ClkCfg and BootCfg sub-structures (each carrying
// its own CRC32), and a final CRC32 over everything preceding it.
type BootHeaderCfg struct {
	MagicCode uint32
	Revision  uint32
	FlashCfg  FlashCfg
	ClkCfg    ClkCfg
	BootCfg   BootCfg
}

// MakeImage pads payload to a multiple of 16 bytes with 0xFF, hashes it,
// stamps the hash and length into BootCfg, computes all three CRC32s, and
// returns the 176-byte header padded with 0xFF out to offset bytes,
// followed by the padded payload.
func (h *BootHeaderCfg) MakeImage(offset int, payload []byte) ([]byte, error) {
	binlen := ((len(payload) + 15) / 16) * 16
	padded := make([]byte, binlen)
	copy(padded, payload)
	for i := len(payload); i < binlen; i++ {
		padded[i] = 0xff
	}
	digest := sha256.Sum256(padded)
	h.BootCfg.setHash(digest)
	h.BootCfg.ImgLen = uint32(len(padded))

	header := make([]byte, bootHeaderLen)
	binary.LittleEndian.PutUint32(header[0:4], h.MagicCode)
	binary.LittleEndian.PutUint32(header[4:8], h.Revision)

	// Each sub-structure's own CRC32 covers its content minus its leading
	// magic word and the trailing CRC field itself: crc over [4:len-4].
	flashCfgBuf := make([]byte, 92)
	h.FlashCfg.marshal(flashCfgBuf[:flashCfgBodyLen])
	_, crc := xcrc32.NewCRC32(flashCfgBuf[4:88])
	binary.LittleEndian.PutUint32(flashCfgBuf[88:92], crc)
	copy(header[8:100], flashCfgBuf)

	clkCfgBuf := make([]byte, 16)
	h.ClkCfg.marshal(clkCfgBuf[:clkCfgBodyLen])
	_, crc = xcrc32.NewCRC32(clkCfgBuf[4:12])
	binary.LittleEndian.PutUint32(clkCfgBuf[12:16], crc)
	copy(header[100:116], clkCfgBuf)

	bootCfgBuf := make([]byte, bootCfgLen)
	h.BootCfg.marshal(bootCfgBuf)
	copy(header[116:172], bootCfgBuf)

	_, crc = xcrc32.NewCRC32(header[0:172])
	binary.LittleEndian.PutUint32(header[172:176], crc)

	out := make([]byte, offset, offset+len(padded))
	for i := range out {
		out[i] = 0xff
	}
	copy(out, header)
	out = append(out, padded...)
	return out, nil
}
