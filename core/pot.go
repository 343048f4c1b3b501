package core

import (
	"sync"

	"tinygo.org/x/drivers"
)

// MCP42010 command bytes: write data to pot 0 / pot 1.
const (
	potCmdWrite0 = 0x11
	potCmdWrite1 = 0x12
)

// DigitalPot drives an MCP42010 dual 8-bit potentiometer over SPI with a
// GPIO chip select.
type DigitalPot struct {
	mu  sync.Mutex
	bus drivers.SPI
	cs  OutputPin
	buf [2]byte
}

func NewDigitalPot(bus drivers.SPI, cs OutputPin) *DigitalPot {
	return &DigitalPot{bus: bus, cs: cs}
}

// Configure sets up the chip select, idle high.
func (p *DigitalPot) Configure() error {
	if err := p.cs.Configure(); err != nil {
		return err
	}
	return p.cs.Set(true)
}

// Write sets wiper pot (0 or 1) to value.
func (p *DigitalPot) Write(pot uint8, value uint8) error {
	var cmd byte
	switch pot {
	case 0:
		cmd = potCmdWrite0
	case 1:
		cmd = potCmdWrite1
	default:
		return newError(ErrUnknownChannel, "pot write", "pot %d", pot)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf[0], p.buf[1] = cmd, value
	if err := p.cs.Set(false); err != nil {
		return wrapError(ErrTransport, "pot write", err)
	}
	err := p.bus.Tx(p.buf[:], nil)
	if cerr := p.cs.Set(true); err == nil {
		err = cerr
	}
	return wrapError(ErrTransport, "pot write", err)
}
