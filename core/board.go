package core

import (
	"context"
	"sync"
	"time"

	"antboard/config"

	"tinygo.org/x/drivers"
)

// Hardware is what a target hands to the board.
type Hardware struct {
	GPIO   GPIODriver
	ADC    ADCDriver
	PWM    PWMDriver
	PotBus drivers.SPI

	// CPLD overrides the bit-banged chain built from the config pins, e.g.
	// with a PIO shifter. Optional.
	CPLD Shifter
	// Store persists calibration. Defaults to RAM only.
	Store CalibrationStore
	Log   Logger
}

// Board owns the shared state and every loop of one antenna-control board.
type Board struct {
	cfg *config.BoardConfig
	hw  Hardware
	log Logger

	pins   *PinMap
	codec  *Codec
	cpld   *CPLDTransport
	state  *ControlState
	events *EventRing

	pot       *DigitalPot
	voltage   *VoltageLoop
	leds      *LEDLoop
	ledReg    *GPIOShifter
	heartbeat *Heartbeat
	fan       *Fan
	kill      OutputPin
	sched     *Scheduler
	interp    *Interpreter

	defaults [ChannelCount]Calibration
	retries  int

	// seqMu serializes snapshot, encode, write and commit of the command
	// word so two updates never interleave.
	seqMu sync.Mutex

	downMu sync.Mutex
	down   bool
}

// NewBoard builds a board from cfg. Nothing touches hardware until Init.
func NewBoard(cfg *config.BoardConfig, hw Hardware) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError(ErrInvalidValue, "config", "%v", err)
	}
	order, err := ParseBitOrder(cfg.CPLD.BitOrder)
	if err != nil {
		return nil, err
	}
	log := hw.Log
	if log == nil {
		log = NopLogger
	}
	store := hw.Store
	if store == nil {
		store = NewMemoryStore()
	}

	b := &Board{
		cfg:     cfg,
		hw:      hw,
		log:     log,
		pins:    DefaultPinMap(),
		events:  &EventRing{},
		retries: cfg.IORetries,
	}
	b.codec = NewCodec(b.pins)

	shifter := hw.CPLD
	if shifter == nil {
		shifter = &GPIOShifter{
			GPIO:         hw.GPIO,
			Data:         GPIOPin(cfg.CPLD.Data),
			Clock:        GPIOPin(cfg.CPLD.Clock),
			Latch:        GPIOPin(cfg.CPLD.Latch),
			OutputEnable: GPIOPin(cfg.CPLD.OutputEnable),
			Clear:        NoPin,
			Readback:     GPIOPin(cfg.CPLD.Readback),
			Delay:        time.Duration(cfg.CPLD.ClockDelayUS) * time.Microsecond,
		}
	}
	b.cpld = NewCPLDTransport(shifter, order)

	var targets [ChannelCount]float64
	var wipers [ChannelCount]uint8
	var chans [ChannelCount]RegulatorChannel
	for _, ch := range Channels {
		cc := b.channelConfig(ch)
		targets[ch] = cc.DefaultTarget
		if cc.DefaultWiper != nil {
			wipers[ch] = *cc.DefaultWiper
		} else {
			wipers[ch] = WiperMax
		}
		b.defaults[ch] = Calibration{
			Slope:           cc.Slope,
			Intercept:       cc.Intercept,
			VoltsAtWiperMin: cc.VoltsAtWiperMin,
			VoltsAtWiperMax: cc.VoltsAtWiperMax,
		}
		chans[ch] = RegulatorChannel{
			ADC:     ADCChannelID(cc.ADC),
			Pot:     uint8(ch),
			Invert:  cc.Invert,
			RefLow:  cc.RefLow,
			RefHigh: cc.RefHigh,
		}
	}
	b.state = NewControlState(targets, wipers, b.defaults)

	b.pot = NewDigitalPot(hw.PotBus, OutputPin{GPIO: hw.GPIO, Pin: GPIOPin(cfg.Pot.CS)})
	b.voltage = NewVoltageLoop(b.state, hw.ADC, b.pot, chans, VoltageConfig{
		Alpha:           cfg.Voltage.Alpha,
		MaxStep:         cfg.Voltage.MaxStep,
		MinTarget:       cfg.Voltage.MinTarget,
		MaxTarget:       cfg.Voltage.MaxTarget,
		IORetries:       cfg.IORetries,
		SettleTolerance: cfg.Voltage.SettleTolerance,
		SettleSamples:   cfg.Voltage.SettleSamples,
		SettleInterval:  time.Duration(cfg.Voltage.SettleMS) * time.Millisecond,
		SettleTimeout:   time.Duration(cfg.Voltage.SettleTimeoutMS) * time.Millisecond,
	}, store, log, b.events)

	thresholds := make([]LEDThreshold, len(cfg.LEDs.Thresholds))
	for i, t := range cfg.LEDs.Thresholds {
		thresholds[i] = LEDThreshold{Max: t.Max, Color: Color(t.Color)}
	}
	var fmColors [16]Color
	for i := range fmColors {
		fmColors[i] = Color(cfg.LEDs.FMColors[i])
	}
	b.ledReg = &GPIOShifter{
		GPIO:         hw.GPIO,
		Data:         GPIOPin(cfg.LEDs.Data),
		Clock:        GPIOPin(cfg.LEDs.Clock),
		Latch:        GPIOPin(cfg.LEDs.Latch),
		OutputEnable: GPIOPin(cfg.LEDs.OutputEnable),
		Clear:        GPIOPin(cfg.LEDs.Clear),
		Readback:     NoPin,
	}
	b.leds = NewLEDLoop(b.state, b.codec, b.ledReg, thresholds, fmColors, log)

	b.heartbeat = NewHeartbeat(OutputPin{GPIO: hw.GPIO, Pin: GPIOPin(cfg.Heartbeat.Pin)}, log)
	b.fan = NewFan(hw.PWM, PWMPin(cfg.Fan.Pin), cfg.Fan.Frequency)
	b.kill = OutputPin{GPIO: hw.GPIO, Pin: GPIOPin(cfg.Power.KillPin)}

	b.sched = NewScheduler(log)
	b.sched.Add("voltage", hzPeriod(cfg.Voltage.RateHz), b.voltage.Tick)
	b.sched.Add("leds", hzPeriod(cfg.LEDs.RefreshHz), b.leds.Tick)
	b.sched.Add("heartbeat", hzPeriod(cfg.Heartbeat.Hz), b.heartbeat.Tick)

	b.interp = NewInterpreter(b)
	return b, nil
}

func hzPeriod(hz int) time.Duration {
	return time.Second / time.Duration(hz)
}

func (b *Board) channelConfig(ch Channel) config.ChannelConfig {
	if ch == ChannelFixed {
		return b.cfg.Channels.Fixed
	}
	return b.cfg.Channels.Adjustable
}

// Init configures the hardware and runs the startup sequence: hold the
// power latch, restore calibration, show white on every LED, write the
// default wipers and an all-zero command word, and seed the filtered
// voltages from one reading.
func (b *Board) Init() error {
	if err := b.kill.Configure(); err != nil {
		return wrapError(ErrTransport, "kill pin", err)
	}
	if err := b.kill.Set(false); err != nil {
		return wrapError(ErrTransport, "kill pin", err)
	}

	if gs, ok := b.cpld.shifter.(*GPIOShifter); ok {
		if err := gs.Configure(); err != nil {
			return wrapError(ErrTransport, "cpld configure", err)
		}
	}
	if err := b.ledReg.Configure(); err != nil {
		return wrapError(ErrTransport, "led configure", err)
	}
	if err := b.pot.Configure(); err != nil {
		return wrapError(ErrTransport, "pot configure", err)
	}
	if err := b.heartbeat.Configure(); err != nil {
		return wrapError(ErrTransport, "heartbeat configure", err)
	}
	if err := b.fan.Configure(); err != nil {
		return wrapError(ErrTransport, "fan configure", err)
	}
	if err := b.voltage.Configure(); err != nil {
		return err
	}
	if err := b.hw.ADC.ConfigureChannel(ADCChannelID(b.cfg.Sense.ADC)); err != nil {
		return wrapError(ErrSensor, "sense configure", err)
	}
	for _, p := range b.cfg.Sense.ModePins {
		if err := b.hw.GPIO.ConfigureInputPullDown(GPIOPin(p)); err != nil {
			return wrapError(ErrTransport, "mode pin", err)
		}
	}

	b.loadCalibration()

	if err := b.leds.Show([LEDCount]Color{ColorWhite, ColorWhite, ColorWhite, ColorWhite}); err != nil {
		b.log.Warnf("startup leds: %v", err)
	}
	if err := b.voltage.ApplyWipers(); err != nil {
		b.log.Errorf("startup wipers: %v", err)
	}
	if _, err := b.WriteRaw(0); err != nil {
		b.log.Errorf("startup cpld: %v", err)
	}
	b.voltage.Seed()
	if ms := b.cfg.LEDs.StartupMS; ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
	b.leds.Tick()
	b.log.Infof("board ready")
	return nil
}

// loadCalibration overlays persisted calibrations on the defaults. A store
// failure keeps the defaults.
func (b *Board) loadCalibration() {
	table, err := b.voltage.store.Load()
	if err != nil {
		b.log.Warnf("calibration load failed, using defaults: %v", err)
		return
	}
	for ch, cal := range table {
		if int(ch) >= ChannelCount {
			continue
		}
		// Records with only slope and intercept keep the default wiper model.
		if cal.VoltsAtWiperMin == cal.VoltsAtWiperMax {
			cal.VoltsAtWiperMin = b.defaults[ch].VoltsAtWiperMin
			cal.VoltsAtWiperMax = b.defaults[ch].VoltsAtWiperMax
		}
		if !cal.Valid() {
			b.log.Warnf("%s: ignoring invalid stored calibration", ch)
			continue
		}
		b.state.UpdateChannel(ch, func(s *ChannelState) { s.Calibration = cal })
		b.log.Infof("%s: calibration restored (slope=%g intercept=%g)", ch, cal.Slope, cal.Intercept)
	}
}

// Start launches the periodic loops.
func (b *Board) Start(ctx context.Context) {
	b.sched.Start(ctx)
}

// Stop halts the periodic loops and waits for them.
func (b *Board) Stop() {
	b.sched.Stop()
}

// Shutdown stops the loops and releases the power latch. Every other output
// keeps its last value.
func (b *Board) Shutdown() error {
	b.downMu.Lock()
	defer b.downMu.Unlock()
	if b.down {
		return nil
	}
	b.sched.Stop()
	b.down = true
	b.log.Infof("shutting down")
	return wrapError(ErrTransport, "shutdown", b.kill.Set(true))
}

// IsShutdown reports whether Shutdown ran.
func (b *Board) IsShutdown() bool {
	b.downMu.Lock()
	defer b.downMu.Unlock()
	return b.down
}

// SetBlocks applies overrides to the current word, writes it and records it.
// On error the recorded word is unchanged.
func (b *Board) SetBlocks(overrides map[Block]uint32) (CommandWord, error) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	w, err := b.codec.BuildWord(b.state.Word(), overrides)
	if err != nil {
		return b.state.Word(), err
	}
	return b.commitLocked(w)
}

// WriteRaw replaces the whole word. Grounds stay zero.
func (b *Board) WriteRaw(raw CommandWord) (CommandWord, error) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	return b.commitLocked(b.codec.ApplyRaw(b.state.Word(), raw))
}

func (b *Board) commitLocked(w CommandWord) (CommandWord, error) {
	if err := Retry(b.retries, func() error { return b.cpld.Write(w) }); err != nil {
		b.events.Record(EvtTransportFail, 0, int64(w), 0)
		return b.state.Word(), err
	}
	b.state.SetWord(w)
	b.events.Record(EvtCPLDWrite, 0, int64(w), 0)
	if b.state.Debug() {
		b.log.Debugf("cpld word %s", w.Hex())
	}
	return w, nil
}

// ReadCPLD reads the latched word back from hardware, including the live
// feedback bit.
func (b *Board) ReadCPLD() (CommandWord, error) {
	var w CommandWord
	err := Retry(b.retries, func() error {
		var rerr error
		w, rerr = b.cpld.Read()
		return rerr
	})
	return w, err
}

// ReadSense returns the raw antenna sense count.
func (b *Board) ReadSense() (uint16, error) {
	var raw ADCValue
	err := Retry(b.retries, func() error {
		var rerr error
		raw, rerr = b.hw.ADC.ReadRaw(ADCChannelID(b.cfg.Sense.ADC))
		return wrapError(ErrSensor, "sense read", rerr)
	})
	return uint16(raw), err
}

// ReadMode returns the mode selector, first pin most significant.
func (b *Board) ReadMode() (uint8, error) {
	var mode uint8
	for _, p := range b.cfg.Sense.ModePins {
		v, err := b.hw.GPIO.GetPin(GPIOPin(p))
		if err != nil {
			return 0, wrapError(ErrTransport, "mode read", err)
		}
		mode <<= 1
		if v {
			mode |= 1
		}
	}
	return mode, nil
}

// Execute runs one command line and returns its response line.
func (b *Board) Execute(line string) string {
	return b.interp.Execute(line)
}

func (b *Board) Config() *config.BoardConfig { return b.cfg }
func (b *Board) State() *ControlState { return b.state }
func (b *Board) Codec() *Codec { return b.codec }
func (b *Board) Voltage() *VoltageLoop { return b.voltage }
func (b *Board) LEDs() *LEDLoop { return b.leds }
func (b *Board) Fan() *Fan { return b.fan }
func (b *Board) Heartbeat() *Heartbeat { return b.heartbeat }
func (b *Board) Events() *EventRing { return b.events }
func (b *Board) Interpreter() *Interpreter { return b.interp }
func (b *Board) Running() bool { return b.sched.Running() }
func (b *Board) DefaultCalibrations() [ChannelCount]Calibration { return b.defaults }
