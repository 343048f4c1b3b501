//go:build rp2040

package main

import (
	"errors"
	"machine"
	"sync"

	"antboard/core"
)

// RPGPIODriver implements core.GPIODriver for the RP2040.
type RPGPIODriver struct {
	mu sync.Mutex
	// Track configured pins to prevent conflicts
	configuredPins map[core.GPIOPin]machine.Pin
}

// NewRPGPIODriver creates a new RP2040 GPIO driver
func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{
		configuredPins: make(map[core.GPIOPin]machine.Pin),
	}
}

func (d *RPGPIODriver) configure(pin core.GPIOPin, mode machine.PinMode) error {
	if pin > 29 {
		return errors.New("gpio: no such pin")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// RP2040 GPIO numbers map directly to machine.Pin
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: mode})
	d.configuredPins[pin] = p
	return nil
}

// ConfigureOutput configures a pin as a digital output
func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinOutput)
}

func (d *RPGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPullup)
}

func (d *RPGPIODriver) ConfigureInputPullDown(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPulldown)
}

func (d *RPGPIODriver) lookup(pin core.GPIOPin) (machine.Pin, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.configuredPins[pin]
	return p, ok
}

// SetPin sets the pin to high (true) or low (false)
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	p, ok := d.lookup(pin)
	if !ok {
		return errors.New("gpio: pin not configured")
	}
	p.Set(value)
	return nil
}

// GetPin reads the current pin state
func (d *RPGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	p, ok := d.lookup(pin)
	if !ok {
		return false, errors.New("gpio: pin not configured")
	}
	return p.Get(), nil
}
