package core

import (
	"math"
	"sync"
)

// Channel identifies a regulated rail. The number is also the pot index.
type Channel uint8

const (
	ChannelAdjustable Channel = 0
	ChannelFixed      Channel = 1
	ChannelCount              = 2
)

// Channels lists every channel in pot order.
var Channels = []Channel{ChannelAdjustable, ChannelFixed}

func (c Channel) String() string {
	switch c {
	case ChannelAdjustable:
		return "adjustable"
	case ChannelFixed:
		return "fixed"
	}
	return "channel" + itoa(int(c))
}

// ParseChannel accepts a channel name or its pot number.
func ParseChannel(s string) (Channel, error) {
	switch toLower(s) {
	case "adjustable", "adj", "0":
		return ChannelAdjustable, nil
	case "fixed", "1":
		return ChannelFixed, nil
	}
	return 0, newError(ErrUnknownChannel, "", "%q", s)
}

// Mode is the control mode of a channel.
type Mode uint8

const (
	ModeAuto Mode = iota
	ModeManual
	ModeCalibrating
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	case ModeCalibrating:
		return "calibrating"
	}
	return "unknown"
}

// WiperMax is the top of the 8-bit wiper range.
const WiperMax = 255

// Calibration is the linear ADC model of a channel plus the rail voltage
// measured at each end of the wiper travel.
type Calibration struct {
	Slope           float64 `json:"slope"`
	Intercept       float64 `json:"intercept"`
	VoltsAtWiperMin float64 `json:"volts_at_wiper_min"`
	VoltsAtWiperMax float64 `json:"volts_at_wiper_max"`
}

// Volts converts a raw ADC count.
func (c Calibration) Volts(raw uint16) float64 {
	return c.Slope*float64(raw) + c.Intercept
}

// VoltsPerStep is the predicted voltage change of one wiper step. It is
// negative when the rail falls as the wiper rises.
func (c Calibration) VoltsPerStep() float64 {
	return (c.VoltsAtWiperMax - c.VoltsAtWiperMin) / WiperMax
}

// PredictVolts returns the modelled rail voltage for a wiper position.
func (c Calibration) PredictVolts(wiper uint8) float64 {
	return c.VoltsAtWiperMin + float64(wiper)*c.VoltsPerStep()
}

// PredictWiper returns the wiper position the model expects to give volts,
// clamped to the wiper range.
func (c Calibration) PredictWiper(volts float64) int {
	w := int(math.Round((volts - c.VoltsAtWiperMin) / c.VoltsPerStep()))
	if w < 0 {
		return 0
	}
	if w > WiperMax {
		return WiperMax
	}
	return w
}

// Valid reports whether the model can drive a control loop.
func (c Calibration) Valid() bool {
	for _, v := range []float64{c.Slope, c.Intercept, c.VoltsAtWiperMin, c.VoltsAtWiperMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return c.Slope != 0 && c.VoltsAtWiperMin != c.VoltsAtWiperMax
}

// ChannelState is a snapshot of one channel.
type ChannelState struct {
	Target      float64
	Filtered    float64
	Raw         uint16
	Wiper       uint8
	Mode        Mode
	Calibration Calibration
	SensorOK    bool
}

// Color is a 3-bit RGB value: red 4, green 2, blue 1.
type Color uint8

const (
	ColorOff     Color = 0
	ColorBlue    Color = 1
	ColorGreen   Color = 2
	ColorCyan    Color = 3
	ColorRed     Color = 4
	ColorMagenta Color = 5
	ColorYellow  Color = 6
	ColorWhite   Color = 7
)

// RGB returns the three channel bits.
func (c Color) RGB() (r, g, b bool) {
	return c&4 != 0, c&2 != 0, c&1 != 0
}

// LEDCount is the number of status LEDs.
const LEDCount = 4

// LEDState is a snapshot of one status LED.
type LEDState struct {
	Auto   bool
	Manual Color
}

type channelSlot struct {
	mu    sync.Mutex // guards st
	st    ChannelState
	wiper sync.Mutex // serializes decide + write wiper
	cal   sync.Mutex // held while calibrating
}

type ledSlot struct {
	mu sync.Mutex
	st LEDState
}

// ControlState is the single owned record shared by the loops and the
// interpreter. Each channel, each LED and the command word have their own
// lock, held only for a field read-modify-write and never across hardware
// I/O.
type ControlState struct {
	channels [ChannelCount]channelSlot
	leds     [LEDCount]ledSlot

	wordMu sync.Mutex
	word   CommandWord

	debugMu sync.Mutex
	debug   bool
}

// NewControlState builds the startup state: every channel in Auto with the
// given targets, wipers and calibrations, every LED in Auto, word zero.
func NewControlState(targets [ChannelCount]float64, wipers [ChannelCount]uint8, cals [ChannelCount]Calibration) *ControlState {
	s := &ControlState{}
	for i := range s.channels {
		s.channels[i].st = ChannelState{
			Target:      targets[i],
			Wiper:       wipers[i],
			Mode:        ModeAuto,
			Calibration: cals[i],
		}
	}
	for i := range s.leds {
		s.leds[i].st = LEDState{Auto: true}
	}
	return s
}

func (s *ControlState) slot(ch Channel) (*channelSlot, error) {
	if int(ch) >= ChannelCount {
		return nil, newError(ErrUnknownChannel, "", "%d", ch)
	}
	return &s.channels[ch], nil
}

// Channel returns a snapshot of ch.
func (s *ControlState) Channel(ch Channel) (ChannelState, error) {
	sl, err := s.slot(ch)
	if err != nil {
		return ChannelState{}, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.st, nil
}

// UpdateChannel runs fn on ch's fields under the channel lock. fn must not
// block or touch hardware.
func (s *ControlState) UpdateChannel(ch Channel, fn func(*ChannelState)) error {
	sl, err := s.slot(ch)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	fn(&sl.st)
	sl.mu.Unlock()
	return nil
}

// Word returns the current command word.
func (s *ControlState) Word() CommandWord {
	s.wordMu.Lock()
	defer s.wordMu.Unlock()
	return s.word
}

// SetWord records the command word that is now on the hardware.
func (s *ControlState) SetWord(w CommandWord) {
	s.wordMu.Lock()
	s.word = w
	s.wordMu.Unlock()
}

// LED returns a snapshot of LED idx.
func (s *ControlState) LED(idx int) (LEDState, error) {
	if idx < 0 || idx >= LEDCount {
		return LEDState{}, newError(ErrInvalidValue, "", "led %d", idx)
	}
	sl := &s.leds[idx]
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.st, nil
}

// SetLED puts LED idx in Manual with color.
func (s *ControlState) SetLED(idx int, color Color) error {
	if idx < 0 || idx >= LEDCount {
		return newError(ErrInvalidValue, "setled", "led index %d outside 0..%d", idx, LEDCount-1)
	}
	if color > ColorWhite {
		return newError(ErrInvalidValue, "setled", "color %d outside 0..7", color)
	}
	sl := &s.leds[idx]
	sl.mu.Lock()
	sl.st = LEDState{Auto: false, Manual: color}
	sl.mu.Unlock()
	return nil
}

// SetLEDAuto returns LED idx to Auto, keeping its last manual color.
func (s *ControlState) SetLEDAuto(idx int) error {
	if idx < 0 || idx >= LEDCount {
		return newError(ErrInvalidValue, "setled", "led index %d outside 0..%d", idx, LEDCount-1)
	}
	sl := &s.leds[idx]
	sl.mu.Lock()
	sl.st.Auto = true
	sl.mu.Unlock()
	return nil
}

func (s *ControlState) Debug() bool {
	s.debugMu.Lock()
	defer s.debugMu.Unlock()
	return s.debug
}

func (s *ControlState) SetDebug(on bool) {
	s.debugMu.Lock()
	s.debug = on
	s.debugMu.Unlock()
}

// ToggleDebug flips the debug flag and returns the new value.
func (s *ControlState) ToggleDebug() bool {
	s.debugMu.Lock()
	defer s.debugMu.Unlock()
	s.debug = !s.debug
	return s.debug
}
