package core

import (
	"errors"
	"sync"
	"time"
)

// BitOrder fixes how stages map onto the clocked bit sequence. It is chosen
// once in config and used by both Write and Read.
type BitOrder uint8

const (
	// StageAscending clocks stage 0 first; on read the first sampled bit
	// is stage 0.
	StageAscending BitOrder = iota
	// StageDescending clocks stage 47 first.
	StageDescending
)

func (o BitOrder) String() string {
	if o == StageDescending {
		return "descending"
	}
	return "ascending"
}

// ParseBitOrder accepts "ascending" or "descending".
func ParseBitOrder(s string) (BitOrder, error) {
	switch toLower(s) {
	case "", "ascending", "lsb", "lsb-first":
		return StageAscending, nil
	case "descending", "msb", "msb-first":
		return StageDescending, nil
	}
	return 0, newError(ErrInvalidValue, "bit order", "%q", s)
}

// Serialize returns the 48 bits of w in clock order.
func Serialize(w CommandWord, order BitOrder) []bool {
	bits := make([]bool, StageCount)
	for i := range bits {
		bits[i] = w.Bit(order.stageAt(i))
	}
	return bits
}

// Deserialize rebuilds a word from bits sampled in clock order.
func Deserialize(bits []bool, order BitOrder) CommandWord {
	var w CommandWord
	for i := 0; i < len(bits) && i < StageCount; i++ {
		if bits[i] {
			w |= stageBit(order.stageAt(i))
		}
	}
	return w
}

func (o BitOrder) stageAt(i int) Stage {
	if o == StageDescending {
		return Stage(StageCount - 1 - i)
	}
	return Stage(i)
}

// Shifter moves raw bit sequences through a shift-register chain.
type Shifter interface {
	// ShiftOut clocks bits in order, then pulses the latch.
	ShiftOut(bits []bool) error
	// ShiftIn pulses the latch to capture the chain, then samples n bits
	// from the readback line, clocking after each sample.
	ShiftIn(n int) ([]bool, error)
}

// NoPin marks an unused optional line.
const NoPin GPIOPin = 0xFFFFFFFF

// GPIOShifter bit-bangs a 74HC595-style chain on plain GPIO lines.
type GPIOShifter struct {
	GPIO         GPIODriver
	Data         GPIOPin
	Clock        GPIOPin
	Latch        GPIOPin
	OutputEnable GPIOPin // active low, NoPin if tied
	Clear        GPIOPin // active low, NoPin if tied
	Readback     GPIOPin // NoPin for write-only chains
	Delay        time.Duration
}

// Configure sets the pin directions and enables the outputs.
func (s *GPIOShifter) Configure() error {
	for _, p := range []GPIOPin{s.Data, s.Clock, s.Latch, s.OutputEnable, s.Clear} {
		if p == NoPin {
			continue
		}
		if err := s.GPIO.ConfigureOutput(p); err != nil {
			return err
		}
	}
	if s.Readback != NoPin {
		if err := s.GPIO.ConfigureInputPullDown(s.Readback); err != nil {
			return err
		}
	}
	if s.Clear != NoPin {
		if err := s.GPIO.SetPin(s.Clear, true); err != nil {
			return err
		}
	}
	if s.OutputEnable != NoPin {
		if err := s.GPIO.SetPin(s.OutputEnable, false); err != nil {
			return err
		}
	}
	if err := s.GPIO.SetPin(s.Clock, false); err != nil {
		return err
	}
	return s.GPIO.SetPin(s.Latch, false)
}

func (s *GPIOShifter) ShiftOut(bits []bool) error {
	for _, b := range bits {
		if err := s.GPIO.SetPin(s.Data, b); err != nil {
			return err
		}
		if err := s.clock(); err != nil {
			return err
		}
	}
	return s.latch()
}

func (s *GPIOShifter) ShiftIn(n int) ([]bool, error) {
	if s.Readback == NoPin {
		return nil, errors.New("chain has no readback line")
	}
	if err := s.latch(); err != nil {
		return nil, err
	}
	bits := make([]bool, n)
	for i := range bits {
		v, err := s.GPIO.GetPin(s.Readback)
		if err != nil {
			return nil, err
		}
		bits[i] = v
		if err := s.clock(); err != nil {
			return nil, err
		}
	}
	return bits, nil
}

func (s *GPIOShifter) clock() error {
	if err := s.GPIO.SetPin(s.Clock, true); err != nil {
		return err
	}
	s.wait()
	if err := s.GPIO.SetPin(s.Clock, false); err != nil {
		return err
	}
	s.wait()
	return nil
}

func (s *GPIOShifter) latch() error {
	if err := s.GPIO.SetPin(s.Latch, true); err != nil {
		return err
	}
	s.wait()
	return s.GPIO.SetPin(s.Latch, false)
}

func (s *GPIOShifter) wait() {
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
}

// CPLDTransport writes and reads whole command words. Transfers are
// serialized by an internal mutex so no caller sees a partly clocked chain.
type CPLDTransport struct {
	mu      sync.Mutex
	shifter Shifter
	order   BitOrder
}

func NewCPLDTransport(shifter Shifter, order BitOrder) *CPLDTransport {
	return &CPLDTransport{shifter: shifter, order: order}
}

// Order returns the configured bit order.
func (t *CPLDTransport) Order() BitOrder { return t.order }

// Write clocks w into the chain and latches it.
func (t *CPLDTransport) Write(w CommandWord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return wrapError(ErrTransport, "cpld write", t.shifter.ShiftOut(Serialize(w, t.order)))
}

// Read captures the latched chain, including the live feedback bit, and
// clocks the sampled pattern back in so the outputs are left as they were.
func (t *CPLDTransport) Read() (CommandWord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bits, err := t.shifter.ShiftIn(StageCount)
	if err != nil {
		return 0, wrapError(ErrTransport, "cpld read", err)
	}
	if len(bits) != StageCount {
		return 0, newError(ErrTransport, "cpld read", "short read: %d bits", len(bits))
	}
	w := Deserialize(bits, t.order)
	if err := t.shifter.ShiftOut(bits); err != nil {
		return w, wrapError(ErrTransport, "cpld restore", err)
	}
	return w, nil
}
