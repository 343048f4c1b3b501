package storage

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"antboard/core"
	"antboard/protocol"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/at24cx"
)

// Record layout inside one slot:
//
//	0  magic "CAL1"
//	4  sequence number, little endian
//	8  channel present mask
//	9  per channel: slope, intercept, volts at wiper 0, volts at wiper 255
//	   (float64 little endian)
//	73 CRC16 of bytes 0..72
const (
	SlotSize  = 128
	slotCount = 2
	recordLen = 9 + core.ChannelCount*4*8 + 2
)

var recordMagic = [4]byte{'C', 'A', 'L', '1'}

// ErrCorrupt is returned when a record read back does not match what was
// written.
var ErrCorrupt = errors.New("calibration record corrupt")

// EEPROMStore keeps calibration in two alternating slots of an AT24Cxx
// EEPROM. Save always writes the slot not holding the newest record, so a
// failed write leaves the previous record intact.
type EEPROMStore struct {
	mu   sync.Mutex
	dev  at24cx.Device
	base int64
}

// EEPROMConfig places the store on the chip.
type EEPROMConfig struct {
	Address  uint16
	PageSize uint16
	Size     uint16 // chip size in bytes
	Base     int64  // offset of the first slot
}

// NewEEPROMStore configures the EEPROM driver on bus.
func NewEEPROMStore(bus drivers.I2C, cfg EEPROMConfig) *EEPROMStore {
	dev := at24cx.New(bus)
	dev.Address = cfg.Address
	dev.Configure(at24cx.Config{
		PageSize:        cfg.PageSize,
		StartRAMAddress: 0,
		EndRAMAddress:   cfg.Size - 1,
	})
	return &EEPROMStore{dev: dev, base: cfg.Base}
}

type slotRecord struct {
	valid bool
	seq   uint32
	table core.CalibrationTable
}

func (s *EEPROMStore) slotOffset(i int) int64 {
	return s.base + int64(i)*SlotSize
}

func (s *EEPROMStore) readSlot(i int) (slotRecord, error) {
	buf := make([]byte, recordLen)
	if _, err := s.dev.ReadAt(buf, s.slotOffset(i)); err != nil {
		return slotRecord{}, err
	}
	return decodeRecord(buf), nil
}

// newest returns the index and record of the newest valid slot, or -1.
func (s *EEPROMStore) newest() (int, slotRecord, error) {
	best := -1
	var rec slotRecord
	for i := 0; i < slotCount; i++ {
		r, err := s.readSlot(i)
		if err != nil {
			return -1, slotRecord{}, err
		}
		if !r.valid {
			continue
		}
		if best < 0 || seqAfter(r.seq, rec.seq) {
			best, rec = i, r
		}
	}
	return best, rec, nil
}

// Load returns the newest valid record. An empty or erased chip yields an
// empty table.
func (s *EEPROMStore) Load() (core.CalibrationTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, rec, err := s.newest()
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return core.CalibrationTable{}, nil
	}
	return rec.table, nil
}

// Save writes t to the inactive slot and verifies it by reading it back.
func (s *EEPROMStore) Save(t core.CalibrationTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, rec, err := s.newest()
	if err != nil {
		return err
	}
	target, seq := 0, uint32(1)
	if idx >= 0 {
		target, seq = 1-idx, rec.seq+1
	}

	buf := encodeRecord(seq, t)
	if _, err := s.dev.WriteAt(buf, s.slotOffset(target)); err != nil {
		return err
	}
	check, err := s.readSlot(target)
	if err != nil {
		return err
	}
	if !check.valid || check.seq != seq {
		return ErrCorrupt
	}
	return nil
}

// Reset invalidates both slots.
func (s *EEPROMStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blank := make([]byte, len(recordMagic))
	for i := 0; i < slotCount; i++ {
		if _, err := s.dev.WriteAt(blank, s.slotOffset(i)); err != nil {
			return err
		}
	}
	return nil
}

func encodeRecord(seq uint32, t core.CalibrationTable) []byte {
	buf := make([]byte, 0, recordLen)
	buf = append(buf, recordMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, seq)

	var mask byte
	for ch := range t {
		if int(ch) < core.ChannelCount {
			mask |= 1 << ch
		}
	}
	buf = append(buf, mask)
	for i := 0; i < core.ChannelCount; i++ {
		cal := t[core.Channel(i)]
		for _, v := range []float64{cal.Slope, cal.Intercept, cal.VoltsAtWiperMin, cal.VoltsAtWiperMax} {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return protocol.AppendCRC(buf)
}

func decodeRecord(buf []byte) slotRecord {
	if len(buf) < recordLen || [4]byte(buf[:4]) != recordMagic || !protocol.CheckCRC(buf[:recordLen]) {
		return slotRecord{}
	}
	rec := slotRecord{
		valid: true,
		seq:   binary.LittleEndian.Uint32(buf[4:8]),
		table: core.CalibrationTable{},
	}
	mask := buf[8]
	off := 9
	for i := 0; i < core.ChannelCount; i++ {
		var v [4]float64
		for j := range v {
			v[j] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
			off += 8
		}
		if mask&(1<<i) == 0 {
			continue
		}
		rec.table[core.Channel(i)] = core.Calibration{
			Slope:           v[0],
			Intercept:       v[1],
			VoltsAtWiperMin: v[2],
			VoltsAtWiperMax: v[3],
		}
	}
	return rec
}

// seqAfter reports whether a is newer than b, allowing for wraparound.
func seqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}
