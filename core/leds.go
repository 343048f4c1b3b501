package core

import "sync"

// LEDThreshold maps voltages up to Max onto Color.
type LEDThreshold struct {
	Max   float64
	Color Color
}

// LEDIndex names the status LEDs.
const (
	LEDVoltage = 0 // adjustable rail voltage
	LEDMode    = 1 // FM block of the command word
)

// LEDLoop refreshes the four status LEDs from the shared state. The LED
// shift register has its own lock, separate from the CPLD transport.
type LEDLoop struct {
	state      *ControlState
	codec      *Codec
	thresholds []LEDThreshold
	fmColors   [16]Color
	log        Logger

	mu   sync.Mutex // guards reg and last
	reg  Shifter
	last [LEDCount]Color
}

func NewLEDLoop(state *ControlState, codec *Codec, reg Shifter, thresholds []LEDThreshold, fmColors [16]Color, log Logger) *LEDLoop {
	if log == nil {
		log = NopLogger
	}
	return &LEDLoop{
		state:      state,
		codec:      codec,
		reg:        reg,
		thresholds: thresholds,
		fmColors:   fmColors,
		log:        log,
	}
}

// VoltageColor is the threshold color for volts: the first entry whose
// threshold is at or above volts, else the last entry.
func (l *LEDLoop) VoltageColor(volts float64) Color {
	if len(l.thresholds) == 0 {
		return ColorOff
	}
	for _, t := range l.thresholds {
		if volts <= t.Max {
			return t.Color
		}
	}
	return l.thresholds[len(l.thresholds)-1].Color
}

// Colors computes what every LED should show now.
func (l *LEDLoop) Colors() [LEDCount]Color {
	var out [LEDCount]Color
	for i := 0; i < LEDCount; i++ {
		st, _ := l.state.LED(i)
		if !st.Auto {
			out[i] = st.Manual
			continue
		}
		switch i {
		case LEDVoltage:
			ch, _ := l.state.Channel(ChannelAdjustable)
			out[i] = l.VoltageColor(ch.Filtered)
		case LEDMode:
			fm, _ := l.codec.DecodeBlock(l.state.Word(), BlockFM)
			out[i] = l.fmColors[fm&0xF]
		default:
			out[i] = ColorOff
		}
	}
	return out
}

// Tick recomputes and writes the LEDs.
func (l *LEDLoop) Tick() {
	if err := l.Show(l.Colors()); err != nil {
		l.log.Errorf("leds: %v", err)
	}
}

// Show writes colors to the LED register: 12 bits, LED0 R,G,B first.
func (l *LEDLoop) Show(colors [LEDCount]Color) error {
	bits := make([]bool, 0, LEDCount*3)
	for _, c := range colors {
		r, g, b := c.RGB()
		bits = append(bits, r, g, b)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.reg.ShiftOut(bits); err != nil {
		return wrapError(ErrTransport, "led write", err)
	}
	l.last = colors
	return nil
}

// Last returns the colors most recently written.
func (l *LEDLoop) Last() [LEDCount]Color {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
