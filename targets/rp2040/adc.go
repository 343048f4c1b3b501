//go:build rp2040

package main

import (
	"errors"
	"machine"
	"sync"

	"antboard/core"
)

// RpAdcDriver implements core.ADCDriver using TinyGo's machine.ADC.
type RpAdcDriver struct {
	mu sync.Mutex

	// Per-channel TinyGo ADC handles for GP26-GP29.
	channels map[core.ADCChannelID]*machine.ADC
}

// NewRPAdcDriver constructs the driver and powers up the ADC block.
func NewRPAdcDriver() *RpAdcDriver {
	machine.InitADC()
	return &RpAdcDriver{
		channels: make(map[core.ADCChannelID]*machine.ADC),
	}
}

// ConfigureChannel sets up a specific ADC channel (pin mux, etc.).
func (d *RpAdcDriver) ConfigureChannel(ch core.ADCChannelID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.channels[ch]; ok {
		return nil
	}

	var adc machine.ADC
	switch ch {
	case 0:
		adc = machine.ADC{Pin: machine.ADC0}
	case 1:
		adc = machine.ADC{Pin: machine.ADC1}
	case 2:
		adc = machine.ADC{Pin: machine.ADC2}
	case 3:
		adc = machine.ADC{Pin: machine.ADC3}
	default:
		return errors.New("unsupported ADC channel")
	}

	if err := adc.Configure(machine.ADCConfig{}); err != nil {
		return err
	}
	d.channels[ch] = &adc
	return nil
}

// ReadRaw returns one sample. TinyGo scales the 12-bit conversion to the
// full 16-bit range, which is what the calibration slopes expect.
func (d *RpAdcDriver) ReadRaw(ch core.ADCChannelID) (core.ADCValue, error) {
	d.mu.Lock()
	adc, ok := d.channels[ch]
	d.mu.Unlock()
	if !ok {
		return 0, errors.New("adc channel not configured")
	}
	return core.ADCValue(adc.Get()), nil
}
