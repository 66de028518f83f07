package dnp3

import "encoding/binary"

// crcTable is the reflected table for CRC-16/DNP (polynomial 0x3D65).
var crcTable = func() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA6BC
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// CRC computes the DNP3 CRC of data.
func CRC(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc >> 8) ^ crcTable[(crc^uint16(b))&0xFF]
	}
	return ^crc
}

// checkCRC reports whether block is followed by its little-endian CRC in sum.
func checkCRC(block, sum []byte) bool {
	return len(sum) == crcSize && binary.LittleEndian.Uint16(sum) == CRC(block)
}

// AppendCRC appends the CRC of block to dst in wire order.
func AppendCRC(dst, block []byte) []byte {
	return binary.LittleEndian.AppendUint16(dst, CRC(block))
}
