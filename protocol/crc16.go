package protocol

// CRC16 calculates the CRC-16/MCRF4XX checksum (reflected CCITT polynomial,
// initial value 0xFFFF) used for stored records.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b = b ^ uint8(crc&0xFF)
		b = b ^ (b << 4)
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}

// AppendCRC appends the CRC16 of data, low byte first.
func AppendCRC(data []byte) []byte {
	crc := CRC16(data)
	return append(data, byte(crc), byte(crc>>8))
}

// CheckCRC reports whether the last two bytes of rec hold the CRC16 of the
// bytes before them.
func CheckCRC(rec []byte) bool {
	if len(rec) < 2 {
		return false
	}
	n := len(rec) - 2
	crc := CRC16(rec[:n])
	return rec[n] == byte(crc) && rec[n+1] == byte(crc>>8)
}
