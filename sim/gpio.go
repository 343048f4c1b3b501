// Package sim provides simulated board hardware: GPIO with attached shift
// registers, ADC rails driven by a simulated MCP42010, PWM and an I2C EEPROM.
// It backs the host-side simulator and the tests.
package sim

import (
	"errors"
	"sync"

	"antboard/core"
)

type pinMode uint8

const (
	modeUnset pinMode = iota
	modeOutput
	modeInputPullUp
	modeInputPullDown
)

// GPIO is an in-memory core.GPIODriver. Devices attach to pins with Watch
// (edge callbacks) and Drive (input sources).
type GPIO struct {
	mu       sync.Mutex
	levels   map[core.GPIOPin]bool
	modes    map[core.GPIOPin]pinMode
	watchers map[core.GPIOPin][]func(bool)
	drivers  map[core.GPIOPin]func() bool
	failing  map[core.GPIOPin]bool
}

func NewGPIO() *GPIO {
	return &GPIO{
		levels:   make(map[core.GPIOPin]bool),
		modes:    make(map[core.GPIOPin]pinMode),
		watchers: make(map[core.GPIOPin][]func(bool)),
		drivers:  make(map[core.GPIOPin]func() bool),
		failing:  make(map[core.GPIOPin]bool),
	}
}

var errPinFault = errors.New("simulated pin fault")

func (g *GPIO) ConfigureOutput(pin core.GPIOPin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modes[pin] = modeOutput
	return nil
}

func (g *GPIO) ConfigureInputPullUp(pin core.GPIOPin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modes[pin] = modeInputPullUp
	return nil
}

func (g *GPIO) ConfigureInputPullDown(pin core.GPIOPin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modes[pin] = modeInputPullDown
	return nil
}

// SetPin drives an output and notifies watchers when the level changes.
func (g *GPIO) SetPin(pin core.GPIOPin, value bool) error {
	g.mu.Lock()
	if g.failing[pin] {
		g.mu.Unlock()
		return errPinFault
	}
	old := g.levels[pin]
	g.levels[pin] = value
	watchers := g.watchers[pin]
	g.mu.Unlock()

	if old != value {
		for _, fn := range watchers {
			fn(value)
		}
	}
	return nil
}

// GetPin returns the driven input level, or the last output level.
func (g *GPIO) GetPin(pin core.GPIOPin) (bool, error) {
	g.mu.Lock()
	if g.failing[pin] {
		g.mu.Unlock()
		return false, errPinFault
	}
	src, ok := g.drivers[pin]
	level := g.levels[pin]
	mode := g.modes[pin]
	g.mu.Unlock()

	if ok {
		return src(), nil
	}
	if mode == modeInputPullUp && !level {
		return true, nil
	}
	return level, nil
}

// Watch calls fn with the new level on every change of pin.
func (g *GPIO) Watch(pin core.GPIOPin, fn func(level bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.watchers[pin] = append(g.watchers[pin], fn)
}

// Drive makes reads of pin return src().
func (g *GPIO) Drive(pin core.GPIOPin, src func() bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drivers[pin] = src
}

// SetInput fixes the level seen on an input pin.
func (g *GPIO) SetInput(pin core.GPIOPin, level bool) {
	g.Drive(pin, func() bool { return level })
}

// Level returns the last level written to pin.
func (g *GPIO) Level(pin core.GPIOPin) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levels[pin]
}

// IsOutput reports whether pin was configured as an output.
func (g *GPIO) IsOutput(pin core.GPIOPin) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.modes[pin] == modeOutput
}

// Fail makes every access to pin return an error until cleared.
func (g *GPIO) Fail(pin core.GPIOPin, fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing[pin] = fail
}
