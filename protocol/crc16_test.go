package protocol

import "testing"

func TestCRC16(t *testing.T) {
	testCases := []struct {
		data     []byte
		expected uint16
	}{
		{data: []byte{}, expected: 0xFFFF},
		{data: []byte("123456789"), expected: 0x6F91},
		{data: []byte("CAL1"), expected: 0xA33D},
	}

	for i, tc := range testCases {
		result := CRC16(tc.data)
		if result != tc.expected {
			t.Errorf("Test case %d: CRC16(%q) = 0x%04X, expected 0x%04X", i, tc.data, result, tc.expected)
		}
	}
}

func TestCRC16Different(t *testing.T) {
	// Test that different inputs produce different outputs
	data1 := []byte{0x01, 0x02, 0x03}
	data2 := []byte{0x01, 0x02, 0x04}

	crc1 := CRC16(data1)
	crc2 := CRC16(data2)

	if crc1 == crc2 {
		t.Errorf("CRC16 collision: both inputs produced %04X", crc1)
	}
}

func TestAppendCheckCRC(t *testing.T) {
	rec := AppendCRC([]byte("123456789"))
	if len(rec) != 11 {
		t.Fatalf("Expected 11 bytes, got %d", len(rec))
	}
	if rec[9] != 0x91 || rec[10] != 0x6F {
		t.Errorf("CRC bytes should be low first, got %02X %02X", rec[9], rec[10])
	}
	if !CheckCRC(rec) {
		t.Error("CheckCRC rejected a valid record")
	}

	rec[3] ^= 0x01
	if CheckCRC(rec) {
		t.Error("CheckCRC accepted a corrupted record")
	}

	if CheckCRC([]byte{0x01}) {
		t.Error("CheckCRC accepted a record shorter than the CRC")
	}
}
