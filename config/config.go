package config

import (
	"encoding/json"
	"errors"
	"strconv"
)

// DefaultSlope is the uncalibrated ADC slope: 3.3 V reference through a
// 3.7:1 divider onto a 16-bit count.
const DefaultSlope = 3.3 * 3.7 / 65535

// BoardConfig describes one antenna-control board.
type BoardConfig struct {
	CPLD      CPLDConfig      `yaml:"cpld" json:"cpld"`
	LEDs      LEDConfig       `yaml:"leds" json:"leds"`
	Pot       PotConfig       `yaml:"pot" json:"pot"`
	EEPROM    EEPROMConfig    `yaml:"eeprom" json:"eeprom"`
	Channels  ChannelsConfig  `yaml:"channels" json:"channels"`
	Voltage   VoltageConfig   `yaml:"voltage" json:"voltage"`
	Fan       FanConfig       `yaml:"fan" json:"fan"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat" json:"heartbeat"`
	Power     PowerConfig     `yaml:"power" json:"power"`
	Sense     SenseConfig     `yaml:"sense" json:"sense"`
	IORetries int             `yaml:"io_retries" json:"io_retries"`
}

// CPLDConfig wires the 48-stage command chain.
type CPLDConfig struct {
	Data         uint32 `yaml:"data_pin" json:"data_pin"`
	OutputEnable uint32 `yaml:"oe_pin" json:"oe_pin"`
	Clock        uint32 `yaml:"clock_pin" json:"clock_pin"`
	Latch        uint32 `yaml:"latch_pin" json:"latch_pin"`
	Readback     uint32 `yaml:"readback_pin" json:"readback_pin"`
	BitOrder     string `yaml:"bit_order" json:"bit_order"` // ascending | descending
	ClockDelayUS int    `yaml:"clock_delay_us" json:"clock_delay_us"`
	UsePIO       bool   `yaml:"use_pio" json:"use_pio"`
}

// LEDConfig wires the status LED register and its color tables.
type LEDConfig struct {
	Data         uint32         `yaml:"data_pin" json:"data_pin"`
	Clock        uint32         `yaml:"clock_pin" json:"clock_pin"`
	Latch        uint32         `yaml:"latch_pin" json:"latch_pin"`
	Clear        uint32         `yaml:"clear_pin" json:"clear_pin"`
	OutputEnable uint32         `yaml:"oe_pin" json:"oe_pin"`
	RefreshHz    int            `yaml:"refresh_hz" json:"refresh_hz"`
	Thresholds   []LEDThreshold `yaml:"thresholds" json:"thresholds"`
	FMColors     []uint8        `yaml:"fm_colors" json:"fm_colors"`
	StartupMS    int            `yaml:"startup_ms" json:"startup_ms"`
}

// LEDThreshold maps voltages up to Max onto a 3-bit color.
type LEDThreshold struct {
	Max   float64 `yaml:"max" json:"max"`
	Color uint8   `yaml:"color" json:"color"`
}

// PotConfig wires the MCP42010 on an SPI bus.
type PotConfig struct {
	Bus       uint8  `yaml:"bus" json:"bus"`
	SCK       uint32 `yaml:"sck_pin" json:"sck_pin"`
	SDO       uint32 `yaml:"sdo_pin" json:"sdo_pin"`
	CS        uint32 `yaml:"cs_pin" json:"cs_pin"`
	Frequency uint32 `yaml:"frequency" json:"frequency"`
}

// EEPROMConfig wires the calibration EEPROM.
type EEPROMConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Bus       uint8  `yaml:"bus" json:"bus"`
	SDA       uint32 `yaml:"sda_pin" json:"sda_pin"`
	SCL       uint32 `yaml:"scl_pin" json:"scl_pin"`
	Address   uint16 `yaml:"address" json:"address"`
	Frequency uint32 `yaml:"frequency" json:"frequency"`
	PageSize  uint16 `yaml:"page_size" json:"page_size"`
	Size      uint16 `yaml:"size" json:"size"`
}

// ChannelsConfig holds the two regulated rails.
type ChannelsConfig struct {
	Adjustable ChannelConfig `yaml:"adjustable" json:"adjustable"`
	Fixed      ChannelConfig `yaml:"fixed" json:"fixed"`
}

// ChannelConfig describes one regulated rail.
type ChannelConfig struct {
	ADC           uint8   `yaml:"adc" json:"adc"`
	Invert        bool    `yaml:"invert" json:"invert"`
	DefaultTarget float64 `yaml:"default_target" json:"default_target"`
	DefaultWiper  *uint8  `yaml:"default_wiper" json:"default_wiper"`

	Slope           float64 `yaml:"slope" json:"slope"`
	Intercept       float64 `yaml:"intercept" json:"intercept"`
	VoltsAtWiperMin float64 `yaml:"volts_at_wiper_min" json:"volts_at_wiper_min"`
	VoltsAtWiperMax float64 `yaml:"volts_at_wiper_max" json:"volts_at_wiper_max"`

	// Known rail voltages at the ends of the wiper travel, used by calibrate.
	RefLow  float64 `yaml:"ref_low" json:"ref_low"`
	RefHigh float64 `yaml:"ref_high" json:"ref_high"`
}

// VoltageConfig tunes the control loop and calibration.
type VoltageConfig struct {
	RateHz          int     `yaml:"rate_hz" json:"rate_hz"`
	Alpha           float64 `yaml:"alpha" json:"alpha"`
	MaxStep         int     `yaml:"max_step" json:"max_step"`
	MinTarget       float64 `yaml:"min_target" json:"min_target"`
	MaxTarget       float64 `yaml:"max_target" json:"max_target"`
	SettleTolerance uint16  `yaml:"settle_tolerance" json:"settle_tolerance"`
	SettleSamples   int     `yaml:"settle_samples" json:"settle_samples"`
	SettleMS        int     `yaml:"settle_interval_ms" json:"settle_interval_ms"`
	SettleTimeoutMS int     `yaml:"settle_timeout_ms" json:"settle_timeout_ms"`
}

type FanConfig struct {
	Pin       uint32 `yaml:"pin" json:"pin"`
	Frequency uint32 `yaml:"frequency" json:"frequency"`
}

type HeartbeatConfig struct {
	Pin uint32 `yaml:"pin" json:"pin"`
	Hz  int    `yaml:"hz" json:"hz"`
}

// PowerConfig holds the power latch. Driving KillPin high releases power.
type PowerConfig struct {
	KillPin uint32 `yaml:"kill_pin" json:"kill_pin"`
}

// SenseConfig holds the auxiliary inputs.
type SenseConfig struct {
	ADC      uint8    `yaml:"adc" json:"adc"`
	ModePins []uint32 `yaml:"mode_pins" json:"mode_pins"`
}

// Parse decodes a JSON configuration and applies defaults.
func Parse(data []byte) (*BoardConfig, error) {
	var cfg BoardConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in missing configuration values from the production
// board.
func ApplyDefaults(cfg *BoardConfig) {
	def := DefaultBoardConfig()

	c := &cfg.CPLD
	if c.Data == 0 && c.Clock == 0 && c.Latch == 0 {
		c.Data, c.OutputEnable, c.Clock, c.Latch, c.Readback = def.CPLD.Data, def.CPLD.OutputEnable, def.CPLD.Clock, def.CPLD.Latch, def.CPLD.Readback
	}
	if c.BitOrder == "" {
		c.BitOrder = def.CPLD.BitOrder
	}
	if cfg.LEDs.Data == 0 && cfg.LEDs.Clock == 0 && cfg.LEDs.Latch == 0 {
		cfg.LEDs.Data, cfg.LEDs.Clock, cfg.LEDs.Latch = def.LEDs.Data, def.LEDs.Clock, def.LEDs.Latch
		cfg.LEDs.Clear, cfg.LEDs.OutputEnable = def.LEDs.Clear, def.LEDs.OutputEnable
	}
	if cfg.LEDs.RefreshHz == 0 {
		cfg.LEDs.RefreshHz = def.LEDs.RefreshHz
	}
	if len(cfg.LEDs.Thresholds) == 0 {
		cfg.LEDs.Thresholds = def.LEDs.Thresholds
	}
	if len(cfg.LEDs.FMColors) == 0 {
		cfg.LEDs.FMColors = def.LEDs.FMColors
	}
	if cfg.LEDs.StartupMS == 0 {
		cfg.LEDs.StartupMS = def.LEDs.StartupMS
	}
	if cfg.Pot == (PotConfig{}) {
		cfg.Pot = def.Pot
	}
	if cfg.Pot.Frequency == 0 {
		cfg.Pot.Frequency = def.Pot.Frequency
	}
	if cfg.EEPROM.Address == 0 {
		cfg.EEPROM.Address = def.EEPROM.Address
	}
	if cfg.EEPROM.SDA == 0 && cfg.EEPROM.SCL == 0 {
		cfg.EEPROM.SDA, cfg.EEPROM.SCL = def.EEPROM.SDA, def.EEPROM.SCL
	}
	if cfg.EEPROM.Frequency == 0 {
		cfg.EEPROM.Frequency = def.EEPROM.Frequency
	}
	if cfg.EEPROM.PageSize == 0 {
		cfg.EEPROM.PageSize = def.EEPROM.PageSize
	}
	if cfg.EEPROM.Size == 0 {
		cfg.EEPROM.Size = def.EEPROM.Size
	}

	applyChannelDefaults(&cfg.Channels.Adjustable, def.Channels.Adjustable)
	applyChannelDefaults(&cfg.Channels.Fixed, def.Channels.Fixed)

	v := &cfg.Voltage
	if v.RateHz == 0 {
		v.RateHz = def.Voltage.RateHz
	}
	if v.Alpha == 0 {
		v.Alpha = def.Voltage.Alpha
	}
	if v.MaxStep == 0 {
		v.MaxStep = def.Voltage.MaxStep
	}
	if v.MinTarget == 0 && v.MaxTarget == 0 {
		v.MinTarget, v.MaxTarget = def.Voltage.MinTarget, def.Voltage.MaxTarget
	}
	if v.SettleTolerance == 0 {
		v.SettleTolerance = def.Voltage.SettleTolerance
	}
	if v.SettleSamples == 0 {
		v.SettleSamples = def.Voltage.SettleSamples
	}
	if v.SettleMS == 0 {
		v.SettleMS = def.Voltage.SettleMS
	}
	if v.SettleTimeoutMS == 0 {
		v.SettleTimeoutMS = def.Voltage.SettleTimeoutMS
	}

	if cfg.Fan.Pin == 0 {
		cfg.Fan.Pin = def.Fan.Pin
	}
	if cfg.Fan.Frequency == 0 {
		cfg.Fan.Frequency = def.Fan.Frequency
	}
	if cfg.Heartbeat.Pin == 0 {
		cfg.Heartbeat.Pin = def.Heartbeat.Pin
	}
	if cfg.Heartbeat.Hz == 0 {
		cfg.Heartbeat.Hz = def.Heartbeat.Hz
	}
	if cfg.Power.KillPin == 0 {
		cfg.Power.KillPin = def.Power.KillPin
	}
	if cfg.Sense.ADC == 0 {
		cfg.Sense.ADC = def.Sense.ADC
	}
	if len(cfg.Sense.ModePins) == 0 {
		cfg.Sense.ModePins = def.Sense.ModePins
	}
	if cfg.IORetries == 0 {
		cfg.IORetries = def.IORetries
	}
}

func applyChannelDefaults(ch *ChannelConfig, def ChannelConfig) {
	if *ch == (ChannelConfig{}) {
		*ch = def
	}
	if ch.DefaultTarget == 0 {
		ch.DefaultTarget = def.DefaultTarget
	}
	if ch.DefaultWiper == nil {
		w := *def.DefaultWiper
		ch.DefaultWiper = &w
	}
	if ch.Slope == 0 {
		ch.Slope = def.Slope
	}
	if ch.VoltsAtWiperMin == 0 && ch.VoltsAtWiperMax == 0 {
		ch.VoltsAtWiperMin, ch.VoltsAtWiperMax = def.VoltsAtWiperMin, def.VoltsAtWiperMax
	}
	if ch.RefLow == 0 && ch.RefHigh == 0 {
		ch.RefLow, ch.RefHigh = def.RefLow, def.RefHigh
	}
}

// Validate rejects configurations the firmware cannot run.
func (c *BoardConfig) Validate() error {
	switch c.CPLD.BitOrder {
	case "", "ascending", "descending":
	default:
		return errors.New("cpld.bit_order must be ascending or descending, got " + strconv.Quote(c.CPLD.BitOrder))
	}
	if c.CPLD.ClockDelayUS < 0 {
		return errors.New("cpld.clock_delay_us must not be negative")
	}
	if c.Voltage.Alpha <= 0 || c.Voltage.Alpha > 1 {
		return errors.New("voltage.alpha must be in (0, 1]")
	}
	if c.Voltage.MaxStep < 1 || c.Voltage.MaxStep > 255 {
		return errors.New("voltage.max_step must be in 1..255")
	}
	if c.Voltage.MinTarget >= c.Voltage.MaxTarget {
		return errors.New("voltage.min_target must be below voltage.max_target")
	}
	if c.Voltage.RateHz < 1 || c.LEDs.RefreshHz < 1 || c.Heartbeat.Hz < 1 {
		return errors.New("loop rates must be at least 1 Hz")
	}
	if c.Voltage.SettleSamples < 1 {
		return errors.New("voltage.settle_samples must be at least 1")
	}
	if c.IORetries < 1 {
		return errors.New("io_retries must be at least 1")
	}
	for name, ch := range map[string]ChannelConfig{"adjustable": c.Channels.Adjustable, "fixed": c.Channels.Fixed} {
		if ch.Slope == 0 {
			return errors.New("channels." + name + ".slope must not be zero")
		}
		if ch.VoltsAtWiperMin == ch.VoltsAtWiperMax {
			return errors.New("channels." + name + ": volts_at_wiper_min and volts_at_wiper_max must differ")
		}
		if ch.RefLow >= ch.RefHigh {
			return errors.New("channels." + name + ".ref_low must be below ref_high")
		}
		if ch.ADC > 3 {
			return errors.New("channels." + name + ".adc must be 0..3")
		}
	}
	if c.Channels.Adjustable.ADC == c.Channels.Fixed.ADC {
		return errors.New("channels must use different ADC inputs")
	}
	if len(c.LEDs.FMColors) != 16 {
		return errors.New("leds.fm_colors needs 16 entries, got " + strconv.Itoa(len(c.LEDs.FMColors)))
	}
	for _, col := range c.LEDs.FMColors {
		if col > 7 {
			return errors.New("leds.fm_colors entries must be 0..7")
		}
	}
	for i, t := range c.LEDs.Thresholds {
		if t.Color > 7 {
			return errors.New("leds.thresholds color must be 0..7")
		}
		if i > 0 && t.Max <= c.LEDs.Thresholds[i-1].Max {
			return errors.New("leds.thresholds must be in increasing order")
		}
	}
	if len(c.Sense.ModePins) > 8 {
		return errors.New("sense.mode_pins supports at most 8 pins")
	}
	if c.Pot.Bus > 1 {
		return errors.New("pot.bus must be 0 or 1")
	}
	return nil
}

// DefaultBoardConfig returns the configuration of the production board.
func DefaultBoardConfig() *BoardConfig {
	wiper := uint8(255)
	fixedWiper := uint8(255)
	return &BoardConfig{
		CPLD: CPLDConfig{
			Data:         6,
			OutputEnable: 7,
			Clock:        8,
			Latch:        9,
			Readback:     10,
			BitOrder:     "ascending",
			ClockDelayUS: 1,
		},
		LEDs: LEDConfig{
			Data:         19,
			Clock:        18,
			Latch:        12,
			Clear:        13,
			OutputEnable: 11,
			RefreshHz:    4,
			Thresholds: []LEDThreshold{
				{Max: 3.0, Color: 4}, // red
				{Max: 4.0, Color: 6}, // yellow
				{Max: 5.0, Color: 2}, // green
				{Max: 6.0, Color: 3}, // cyan
				{Max: 7.0, Color: 1}, // blue
				{Max: 8.0, Color: 5}, // magenta
				{Max: 9.0, Color: 7}, // white
			},
			FMColors:  []uint8{0, 4, 6, 2, 3, 1, 5, 7, 4, 6, 2, 3, 1, 5, 7, 7},
			StartupMS: 500,
		},
		Pot: PotConfig{
			Bus:       1,
			SCK:       14,
			SDO:       15,
			CS:        16,
			Frequency: 1000000,
		},
		EEPROM: EEPROMConfig{
			Enabled:   true,
			Bus:       0,
			SDA:       0,
			SCL:       1,
			Address:   0x50,
			Frequency: 400000,
			PageSize:  32,
			Size:      4096,
		},
		Channels: ChannelsConfig{
			Adjustable: ChannelConfig{
				ADC:             2, // GP28
				Invert:          true,
				DefaultTarget:   5.0,
				DefaultWiper:    &wiper,
				Slope:           DefaultSlope,
				VoltsAtWiperMin: 1.25,
				VoltsAtWiperMax: 10.0,
				RefLow:          1.25,
				RefHigh:         10.0,
			},
			Fixed: ChannelConfig{
				ADC:             0, // GP26
				DefaultTarget:   3.3,
				DefaultWiper:    &fixedWiper,
				Slope:           DefaultSlope,
				VoltsAtWiperMin: 2.5,
				VoltsAtWiperMax: 3.6,
				RefLow:          2.5,
				RefHigh:         3.6,
			},
		},
		Voltage: VoltageConfig{
			RateHz:          100,
			Alpha:           0.2,
			MaxStep:         4,
			MinTarget:       0.0,
			MaxTarget:       12.0,
			SettleTolerance: 2,
			SettleSamples:   2,
			SettleMS:        1000,
			SettleTimeoutMS: 30000,
		},
		Fan:       FanConfig{Pin: 21, Frequency: 1000},
		Heartbeat: HeartbeatConfig{Pin: 25, Hz: 1},
		Power:     PowerConfig{KillPin: 22},
		Sense: SenseConfig{
			ADC:      1, // GP27
			ModePins: []uint32{2, 3, 4},
		},
		IORetries: 3,
	}
}
