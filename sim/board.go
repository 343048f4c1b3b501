package sim

import (
	"antboard/config"
	"antboard/core"
)

// Board is a complete simulated board wired the way cfg describes.
type Board struct {
	Config *config.BoardConfig

	GPIO   *GPIO
	ADC    *ADC
	PWM    *PWM
	Pot    *Pot
	EEPROM *EEPROM
	CPLD   *CPLD
	LEDs   *LEDRegister
	Rails  [core.ChannelCount]*Rail
}

// New builds the simulated hardware for cfg. Each rail follows the wiper
// model and ADC transfer of its channel configuration exactly.
func New(cfg *config.BoardConfig) (*Board, error) {
	order, err := core.ParseBitOrder(cfg.CPLD.BitOrder)
	if err != nil {
		return nil, err
	}
	g := NewGPIO()
	b := &Board{
		Config: cfg,
		GPIO:   g,
		ADC:    NewADC(),
		PWM:    NewPWM(),
		Pot:    NewPot(g, core.GPIOPin(cfg.Pot.CS)),
		EEPROM: NewEEPROM(cfg.EEPROM.Address, int(cfg.EEPROM.Size)),
	}
	b.CPLD = NewCPLD(g,
		core.GPIOPin(cfg.CPLD.Data),
		core.GPIOPin(cfg.CPLD.Clock),
		core.GPIOPin(cfg.CPLD.Latch),
		core.GPIOPin(cfg.CPLD.Readback),
		order, core.DefaultPinMap())
	b.LEDs = NewLEDRegister(g,
		core.GPIOPin(cfg.LEDs.Data),
		core.GPIOPin(cfg.LEDs.Clock),
		core.GPIOPin(cfg.LEDs.Latch))

	for _, ch := range core.Channels {
		cc := cfg.Channels.Adjustable
		if ch == core.ChannelFixed {
			cc = cfg.Channels.Fixed
		}
		r := &Rail{
			Pot:             b.Pot,
			Index:           int(ch),
			Invert:          cc.Invert,
			VoltsAtWiperMin: cc.VoltsAtWiperMin,
			VoltsAtWiperMax: cc.VoltsAtWiperMax,
			Slope:           cc.Slope,
			Intercept:       cc.Intercept,
		}
		b.Rails[ch] = r
		b.ADC.AttachRail(core.ADCChannelID(cc.ADC), r)
	}
	b.ADC.SetValue(core.ADCChannelID(cfg.Sense.ADC), 0)
	for _, p := range cfg.Sense.ModePins {
		g.SetInput(core.GPIOPin(p), false)
	}
	return b, nil
}

// Hardware returns the core view of the simulated peripherals.
func (b *Board) Hardware(log core.Logger, store core.CalibrationStore) core.Hardware {
	return core.Hardware{
		GPIO:   b.GPIO,
		ADC:    b.ADC,
		PWM:    b.PWM,
		PotBus: b.Pot,
		Store:  store,
		Log:    log,
	}
}

// SetMode drives the mode selector pins with v, first pin most significant.
func (b *Board) SetMode(v uint8) {
	pins := b.Config.Sense.ModePins
	for i, p := range pins {
		bit := len(pins) - 1 - i
		b.GPIO.SetInput(core.GPIOPin(p), v&(1<<bit) != 0)
	}
}

// Killed reports whether the power latch was released.
func (b *Board) Killed() bool {
	return b.GPIO.Level(core.GPIOPin(b.Config.Power.KillPin))
}

// HeartbeatOn reports the heartbeat LED level.
func (b *Board) HeartbeatOn() bool {
	return b.GPIO.Level(core.GPIOPin(b.Config.Heartbeat.Pin))
}
