package shared

import "github.com/sigurn/crc8"

// CRC-8, poly 0x31, MSB first, no final xor.
var CRC8_ACOUSTIC = crc8.Params{
	Poly:   0x31,
	Init:   0x00,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xA2,
	Name:   "CRC-8/ACOUSTIC",
}

// Built once at package init, read-only afterwards.
var crcTable = crc8.MakeTable(CRC8_ACOUSTIC)

func Checksum(data []byte) byte {
	return crc8.Checksum(data, crcTable)
}
