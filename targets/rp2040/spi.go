//go:build rp2040

package main

import (
	"errors"
	"machine"

	"antboard/config"

	"tinygo.org/x/drivers"
)

// ConfigurePotBus brings up the hardware SPI controller the digital pot
// hangs off. The MCP42010 is write-only, so no SDI pin is claimed. Chip
// select stays a plain GPIO driven by the core.
func ConfigurePotBus(cfg config.PotConfig) (drivers.SPI, error) {
	var spi *machine.SPI
	switch cfg.Bus {
	case 0:
		spi = machine.SPI0
	case 1:
		spi = machine.SPI1
	default:
		return nil, errors.New("unsupported SPI bus")
	}

	err := spi.Configure(machine.SPIConfig{
		Frequency: cfg.Frequency,
		SCK:       machine.Pin(cfg.SCK),
		SDO:       machine.Pin(cfg.SDO),
		SDI:       machine.NoPin,
		Mode:      0,
		LSBFirst:  false,
	})
	if err != nil {
		return nil, err
	}
	return spi, nil
}
