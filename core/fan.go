package core

import "sync"

// fanMinPercent is the lowest speed the fan can start at; anything below
// turns it off.
const fanMinPercent = 20

// Fan drives the cooling fan PWM.
type Fan struct {
	mu      sync.Mutex
	pwm     PWMDriver
	pin     PWMPin
	freq    uint32
	percent int
}

func NewFan(pwm PWMDriver, pin PWMPin, freq uint32) *Fan {
	return &Fan{pwm: pwm, pin: pin, freq: freq}
}

func (f *Fan) Configure() error {
	return f.pwm.ConfigureHardwarePWM(f.pin, f.freq)
}

// Set runs the fan at percent of full speed. Values below 20 turn it off.
func (f *Fan) Set(percent int) error {
	if percent < 0 || percent > 100 {
		return newError(ErrInvalidValue, "setfan", "%d outside 0..100", percent)
	}
	duty := uint32(0)
	if percent >= fanMinPercent {
		duty = uint32(uint64(percent) * uint64(f.pwm.GetMaxValue()) / 100)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pwm.SetDutyCycle(f.pin, PWMValue(duty)); err != nil {
		return wrapError(ErrTransport, "setfan", err)
	}
	f.percent = percent
	return nil
}

// Percent returns the last speed set.
func (f *Fan) Percent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.percent
}
