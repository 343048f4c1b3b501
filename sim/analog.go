package sim

import (
	"errors"
	"math"
	"sync"

	"antboard/core"
)

var (
	errBusFault  = errors.New("simulated bus fault")
	errNoCS      = errors.New("chip select not asserted")
	errADCFault  = errors.New("simulated adc fault")
	errBadPotCmd = errors.New("unknown pot command")
)

// Pot is an MCP42010 on a simulated SPI bus. It implements drivers.SPI.
type Pot struct {
	mu      sync.Mutex
	gpio    *GPIO
	cs      core.GPIOPin
	values  [2]uint8
	writes  int
	pending []byte
	fail    int
}

// NewPot returns a pot. When gpio is non-nil every transfer requires cs low.
func NewPot(gpio *GPIO, cs core.GPIOPin) *Pot {
	return &Pot{gpio: gpio, cs: cs}
}

func (p *Pot) selected() bool {
	return p.gpio == nil || !p.gpio.Level(p.cs)
}

// Tx takes one two-byte command frame.
func (p *Pot) Tx(w, r []byte) error {
	if !p.selected() {
		return errNoCS
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return errBusFault
	}
	for i := range r {
		r[i] = 0
	}
	if len(w) != 2 {
		return errBadPotCmd
	}
	return p.apply(w[0], w[1])
}

// Transfer collects bytes until a full frame has arrived.
func (p *Pot) Transfer(b byte) (byte, error) {
	if !p.selected() {
		return 0, errNoCS
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b)
	if len(p.pending) == 2 {
		cmd, v := p.pending[0], p.pending[1]
		p.pending = p.pending[:0]
		return 0, p.apply(cmd, v)
	}
	return 0, nil
}

func (p *Pot) apply(cmd, v byte) error {
	switch cmd {
	case 0x11:
		p.values[0] = v
	case 0x12:
		p.values[1] = v
	case 0x13:
		p.values[0], p.values[1] = v, v
	default:
		return errBadPotCmd
	}
	p.writes++
	return nil
}

// Value returns the register of pot i.
func (p *Pot) Value(i int) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[i]
}

// Writes counts accepted frames.
func (p *Pot) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// FailNext makes the next n transfers fail.
func (p *Pot) FailNext(n int) {
	p.mu.Lock()
	p.fail = n
	p.mu.Unlock()
}

// Rail is a regulator whose output follows a pot wiper linearly and whose
// output is read through a divider by the ADC.
type Rail struct {
	mu sync.Mutex

	Pot    *Pot
	Index  int
	Invert bool

	// Output at logical wiper 0 and 255.
	VoltsAtWiperMin float64
	VoltsAtWiperMax float64

	// True ADC transfer, volts = Slope*raw + Intercept.
	Slope     float64
	Intercept float64

	// Response is the fraction of the remaining error closed per sample.
	// Zero or one means the rail settles instantly.
	Response float64

	volts   float64
	started bool
}

// Wiper returns the logical wiper position.
func (r *Rail) Wiper() uint8 {
	v := r.Pot.Value(r.Index)
	if r.Invert {
		return core.WiperMax - v
	}
	return v
}

// Setpoint is the voltage the rail settles to at the current wiper.
func (r *Rail) Setpoint() float64 {
	return r.VoltsAtWiperMin + float64(r.Wiper())*(r.VoltsAtWiperMax-r.VoltsAtWiperMin)/core.WiperMax
}

// Volts returns the present output.
func (r *Rail) Volts() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return r.Setpoint()
	}
	return r.volts
}

// sample advances the output one step and returns it as an ADC count.
func (r *Rail) sample() core.ADCValue {
	sp := r.Setpoint()
	r.mu.Lock()
	if !r.started || r.Response <= 0 || r.Response >= 1 {
		r.volts = sp
		r.started = true
	} else {
		r.volts += (sp - r.volts) * r.Response
	}
	v := r.volts
	r.mu.Unlock()

	raw := math.Round((v - r.Intercept) / r.Slope)
	return core.ADCValue(math.Max(0, math.Min(65535, raw)))
}

// ADC is a core.ADCDriver with one source per channel.
type ADC struct {
	mu         sync.Mutex
	sources    map[core.ADCChannelID]func() core.ADCValue
	configured map[core.ADCChannelID]bool
	fail       map[core.ADCChannelID]int
	broken     map[core.ADCChannelID]bool
	reads      int
}

func NewADC() *ADC {
	return &ADC{
		sources:    make(map[core.ADCChannelID]func() core.ADCValue),
		configured: make(map[core.ADCChannelID]bool),
		fail:       make(map[core.ADCChannelID]int),
		broken:     make(map[core.ADCChannelID]bool),
	}
}

// Attach connects a source to ch.
func (a *ADC) Attach(ch core.ADCChannelID, src func() core.ADCValue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[ch] = src
}

// AttachRail connects a regulator to ch.
func (a *ADC) AttachRail(ch core.ADCChannelID, r *Rail) {
	a.Attach(ch, r.sample)
}

// SetValue fixes the reading of ch.
func (a *ADC) SetValue(ch core.ADCChannelID, v core.ADCValue) {
	a.Attach(ch, func() core.ADCValue { return v })
}

func (a *ADC) ConfigureChannel(ch core.ADCChannelID) error {
	if ch > 3 {
		return errADCFault
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configured[ch] = true
	return nil
}

func (a *ADC) ReadRaw(ch core.ADCChannelID) (core.ADCValue, error) {
	a.mu.Lock()
	a.reads++
	if a.broken[ch] {
		a.mu.Unlock()
		return 0, errADCFault
	}
	if a.fail[ch] > 0 {
		a.fail[ch]--
		a.mu.Unlock()
		return 0, errADCFault
	}
	src := a.sources[ch]
	a.mu.Unlock()

	if src == nil {
		return 0, nil
	}
	return src(), nil
}

// FailNext makes the next n reads of ch fail.
func (a *ADC) FailNext(ch core.ADCChannelID, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail[ch] = n
}

// Break makes every read of ch fail until repaired.
func (a *ADC) Break(ch core.ADCChannelID, broken bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.broken[ch] = broken
}

// Configured reports whether ch was configured.
func (a *ADC) Configured(ch core.ADCChannelID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.configured[ch]
}

// PWM records duty cycles. It implements core.PWMDriver with 16-bit range.
type PWM struct {
	mu   sync.Mutex
	freq map[core.PWMPin]uint32
	duty map[core.PWMPin]core.PWMValue
	fail bool
}

func NewPWM() *PWM {
	return &PWM{freq: make(map[core.PWMPin]uint32), duty: make(map[core.PWMPin]core.PWMValue)}
}

func (p *PWM) ConfigureHardwarePWM(pin core.PWMPin, frequency uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freq[pin] = frequency
	return nil
}

func (p *PWM) SetDutyCycle(pin core.PWMPin, value core.PWMValue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errBusFault
	}
	if _, ok := p.freq[pin]; !ok {
		return errors.New("pwm pin not configured")
	}
	p.duty[pin] = value
	return nil
}

func (p *PWM) GetMaxValue() uint32 { return 65535 }

// Duty returns the last duty written to pin.
func (p *PWM) Duty(pin core.PWMPin) core.PWMValue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty[pin]
}

// Frequency returns the configured frequency of pin.
func (p *PWM) Frequency(pin core.PWMPin) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freq[pin]
}

// SetFail makes duty updates fail.
func (p *PWM) SetFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}
