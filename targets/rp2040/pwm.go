//go:build rp2040

package main

import (
	"errors"
	"machine"

	"antboard/core"
)

// PWM_MAX is the duty range exposed to the core.
const PWM_MAX = 65535

// pwmPeripheral is an interface for PWM hardware peripherals
// This abstracts over TinyGo's unexported *pwmGroup type
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// RP2040PWMDriver implements the PWMDriver interface for RP2040
// Leverages RP2040's 8 hardware PWM slices with 2 channels each
type RP2040PWMDriver struct {
	// Track pin to channel mapping
	// Key: pin number, Value: PWM channel
	channels map[uint32]uint8

	// Track PWM peripherals for each slice
	// Key: slice number (0-7), Value: PWM peripheral
	peripherals map[uint8]pwmPeripheral
}

// NewRP2040PWMDriver creates a new RP2040 PWM driver
func NewRP2040PWMDriver() *RP2040PWMDriver {
	return &RP2040PWMDriver{
		channels:    make(map[uint32]uint8),
		peripherals: make(map[uint8]pwmPeripheral),
	}
}

func (d *RP2040PWMDriver) GetMaxValue() uint32 {
	return PWM_MAX
}

// ConfigureHardwarePWM configures a pin for hardware PWM output at frequency Hz.
func (d *RP2040PWMDriver) ConfigureHardwarePWM(pin core.PWMPin, frequency uint32) error {
	if frequency == 0 {
		return errors.New("pwm: zero frequency")
	}
	pinNum := uint32(pin)

	// RP2040: GPIO pin N maps to:
	//   Slice: (N >> 1) & 0x7  (divide by 2, mod 8)
	//   Channel: N & 1          (even=A, odd=B)
	sliceNum := uint8((pinNum >> 1) & 0x7)

	pwm, exists := d.peripherals[sliceNum]
	if !exists {
		pwm = d.getPWMPeripheral(sliceNum)
		d.peripherals[sliceNum] = pwm
	}

	err := pwm.Configure(machine.PWMConfig{
		Period: uint64(1e9) / uint64(frequency),
	})
	if err != nil {
		return err
	}

	channel, err := pwm.Channel(machine.Pin(pinNum))
	if err != nil {
		return err
	}
	d.channels[pinNum] = channel
	return nil
}

// SetDutyCycle sets the PWM duty cycle for a pin
// value: 0 (fully off) to PWM_MAX (fully on)
func (d *RP2040PWMDriver) SetDutyCycle(pin core.PWMPin, value core.PWMValue) error {
	pinNum := uint32(pin)

	channel, exists := d.channels[pinNum]
	if !exists {
		return errors.New("pwm: pin not configured")
	}
	pwm := d.peripherals[uint8((pinNum>>1)&0x7)]

	// Scale to the slice's counter top. 64-bit math avoids overflow.
	top := uint64(pwm.Top())
	pwm.Set(channel, uint32(uint64(value)*top/PWM_MAX))
	return nil
}

// getPWMPeripheral returns the PWM peripheral for a given slice number
// RP2040 has 8 PWM slices: PWM0-PWM7
func (d *RP2040PWMDriver) getPWMPeripheral(sliceNum uint8) pwmPeripheral {
	switch sliceNum {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}
