package frame

import "github.com/sigurn/crc16"

// The TC frame error control field is CRC-16/CCITT with a 0xFFFF preset and
// no final xor, so running it over a frame including its FECF yields zero.
var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Checksum computes the FECF over data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// VerifyCRC reports whether a delimited frame carries a valid FECF.
func VerifyCRC(raw []byte) bool {
	if len(raw) < CRCLen {
		return false
	}
	return Checksum(raw) == 0
}
