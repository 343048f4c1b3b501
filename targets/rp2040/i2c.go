//go:build rp2040

package main

import (
	"errors"
	"machine"

	"antboard/config"

	"tinygo.org/x/drivers"
)

// ConfigureEEPROMBus brings up the I2C controller the calibration EEPROM is
// wired to.
func ConfigureEEPROMBus(cfg config.EEPROMConfig) (drivers.I2C, error) {
	var i2c *machine.I2C
	switch cfg.Bus {
	case 0:
		i2c = machine.I2C0
	case 1:
		i2c = machine.I2C1
	default:
		return nil, errors.New("unsupported I2C bus ID")
	}

	err := i2c.Configure(machine.I2CConfig{
		Frequency: cfg.Frequency,
		SDA:       machine.Pin(cfg.SDA),
		SCL:       machine.Pin(cfg.SCL),
	})
	if err != nil {
		return nil, err
	}
	return i2c, nil
}
