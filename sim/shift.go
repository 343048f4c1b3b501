package sim

import (
	"sync"

	"antboard/core"
)

// Chain is a 74HC595-style shift register of n stages built on GPIO edges.
// On every rising clock edge the register moves one place and the data
// line enters position 0. A rising latch edge copies the register to the
// outputs. With a readback pin, the last position is visible on it.
type Chain struct {
	mu      sync.Mutex
	gpio    *GPIO
	data    core.GPIOPin
	sr      []bool
	out     []bool
	onLatch func(sr []bool)
	latches int
}

func NewChain(g *GPIO, n int, data, clock, latch core.GPIOPin) *Chain {
	c := &Chain{gpio: g, data: data, sr: make([]bool, n), out: make([]bool, n)}
	g.Watch(clock, func(level bool) {
		if level {
			c.shift()
		}
	})
	g.Watch(latch, func(level bool) {
		if level {
			c.latch()
		}
	})
	return c
}

// WithReadback drives pin from the last register position.
func (c *Chain) WithReadback(pin core.GPIOPin) *Chain {
	c.gpio.Drive(pin, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.sr[len(c.sr)-1]
	})
	return c
}

func (c *Chain) shift() {
	in := c.gpio.Level(c.data)
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.sr[1:], c.sr[:len(c.sr)-1])
	c.sr[0] = in
}

func (c *Chain) latch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onLatch != nil {
		c.onLatch(c.sr)
	}
	copy(c.out, c.sr)
	c.latches++
}

// Latched returns the outputs in clock order: element i is the bit that was
// clocked in i-th of the last len bits.
func (c *Chain) Latched() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.out)
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = c.out[n-1-i]
	}
	return bits
}

// Latches counts latch pulses.
func (c *Chain) Latches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latches
}

// CPLD is the 48-stage command chain. Ground stages read back as zero and
// the feedback stage is loaded with the sensor level on every latch.
type CPLD struct {
	chain *Chain
	order core.BitOrder
	pins  *core.PinMap

	mu     sync.Mutex
	sensor bool
}

// NewCPLD attaches a CPLD chain wired for order to the GPIO pins.
func NewCPLD(g *GPIO, data, clock, latch, readback core.GPIOPin, order core.BitOrder, pins *core.PinMap) *CPLD {
	c := &CPLD{order: order, pins: pins}
	c.chain = NewChain(g, core.StageCount, data, clock, latch).WithReadback(readback)
	c.chain.onLatch = c.forceFixed
	return c
}

// position returns the register index holding stage s once a full word has
// been clocked in.
func (c *CPLD) position(s core.Stage) int {
	i := int(s)
	if c.order == core.StageDescending {
		i = core.StageCount - 1 - int(s)
	}
	return core.StageCount - 1 - i
}

// forceFixed runs under the chain lock.
func (c *CPLD) forceFixed(sr []bool) {
	for s := core.Stage(0); s < core.StageCount; s++ {
		if c.pins.IsGround(s) {
			sr[c.position(s)] = false
		}
	}
	c.mu.Lock()
	sr[c.position(c.pins.FeedbackStage())] = c.sensor
	c.mu.Unlock()
}

// SetSensor sets the level the feedback stage captures on the next latch.
func (c *CPLD) SetSensor(level bool) {
	c.mu.Lock()
	c.sensor = level
	c.mu.Unlock()
}

// Word returns the latched outputs as a command word.
func (c *CPLD) Word() core.CommandWord {
	return core.Deserialize(c.chain.Latched(), c.order)
}

// Latches counts latch pulses.
func (c *CPLD) Latches() int { return c.chain.Latches() }

// LEDRegister is the 12-bit status LED register.
type LEDRegister struct {
	chain *Chain
}

func NewLEDRegister(g *GPIO, data, clock, latch core.GPIOPin) *LEDRegister {
	return &LEDRegister{chain: NewChain(g, core.LEDCount*3, data, clock, latch)}
}

// Colors decodes the latched outputs, LED0 first.
func (r *LEDRegister) Colors() [core.LEDCount]core.Color {
	bits := r.chain.Latched()
	var out [core.LEDCount]core.Color
	for i := range out {
		var c core.Color
		if bits[i*3] {
			c |= 4
		}
		if bits[i*3+1] {
			c |= 2
		}
		if bits[i*3+2] {
			c |= 1
		}
		out[i] = c
	}
	return out
}
