package dsmr

import "github.com/sigurn/crc16"

// Telegram checksums use CRC-16/CMS: polynomial 0x8005 fed MSB-first with
// all-ones init and no output reflection or xor.
var crcTable = crc16.MakeTable(crc16.Params{
	Poly:   0x8005,
	Init:   0xFFFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x0000,
	Check:  0xAEE7,
	Name:   "CRC-16/CMS",
})

// Checksum computes the telegram integrity checksum over data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
