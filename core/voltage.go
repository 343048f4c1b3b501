package core

import (
	"math"
	"sync"
	"time"
)

// WiperWriter sets a potentiometer wiper. DigitalPot implements it.
type WiperWriter interface {
	Write(pot uint8, value uint8) error
}

// RegulatorChannel binds a channel to its hardware.
type RegulatorChannel struct {
	ADC    ADCChannelID
	Pot    uint8
	Invert bool // pot value is WiperMax - wiper

	// Rail voltages at wiper 0 and wiper 255 used by calibrate when the
	// command gives none.
	RefLow  float64
	RefHigh float64
}

// VoltageConfig tunes the control loop and the calibration procedure.
type VoltageConfig struct {
	Alpha     float64 // smoothing factor, 0 < Alpha <= 1
	MaxStep   int     // largest wiper move per tick
	MinTarget float64
	MaxTarget float64
	IORetries int

	SettleTolerance uint16        // max raw change counted as settled
	SettleSamples   int           // consecutive settled samples needed
	SettleInterval  time.Duration // spacing between settle samples
	SettleTimeout   time.Duration // give up after this long at one point
}

// VoltageLoop regulates both rails. Tick is called by the scheduler; the
// other methods are called by the interpreter.
type VoltageLoop struct {
	state  *ControlState
	adc    ADCDriver
	pots   WiperWriter
	chans  [ChannelCount]RegulatorChannel
	cfg    VoltageConfig
	store  CalibrationStore
	log    Logger
	events *EventRing
	now    func() time.Time

	runMu  [ChannelCount]sync.Mutex
	runs   [ChannelCount]*calibrationRun
	last   [ChannelCount]error // result of the last calibration
	saveMu sync.Mutex          // one calibration save at a time
}

func NewVoltageLoop(state *ControlState, adc ADCDriver, pots WiperWriter, chans [ChannelCount]RegulatorChannel,
	cfg VoltageConfig, store CalibrationStore, log Logger, events *EventRing) *VoltageLoop {
	if log == nil {
		log = NopLogger
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if events == nil {
		events = &EventRing{}
	}
	return &VoltageLoop{
		state:  state,
		adc:    adc,
		pots:   pots,
		chans:  chans,
		cfg:    cfg,
		store:  store,
		log:    log,
		events: events,
		now:    time.Now,
	}
}

// SetClock replaces the time source used by calibration.
func (v *VoltageLoop) SetClock(now func() time.Time) { v.now = now }

// Configure prepares the ADC channels.
func (v *VoltageLoop) Configure() error {
	for _, ch := range Channels {
		if err := v.adc.ConfigureChannel(v.chans[ch].ADC); err != nil {
			return wrapError(ErrSensor, "adc configure", err)
		}
	}
	return nil
}

// Seed takes one reading per channel and uses it as the filtered value.
func (v *VoltageLoop) Seed() {
	for _, ch := range Channels {
		raw, err := v.readADC(ch)
		if err != nil {
			v.log.Warnf("seed %s: %v", ch, err)
			continue
		}
		v.state.UpdateChannel(ch, func(s *ChannelState) {
			s.Raw = raw
			s.Filtered = s.Calibration.Volts(raw)
			s.SensorOK = true
		})
	}
}

// ApplyWipers writes the wiper positions held in the state to the pots.
func (v *VoltageLoop) ApplyWipers() error {
	var first error
	for _, ch := range Channels {
		sl := &v.state.channels[ch]
		sl.wiper.Lock()
		st, _ := v.state.Channel(ch)
		err := v.writeWiper(ch, st.Wiper)
		sl.wiper.Unlock()
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Tick samples both channels and runs one control or calibration step on
// each. A failure on one channel does not affect the other.
func (v *VoltageLoop) Tick() {
	for _, ch := range Channels {
		v.tickChannel(ch)
	}
}

func (v *VoltageLoop) tickChannel(ch Channel) {
	raw, err := v.readADC(ch)
	if err != nil {
		v.events.Record(EvtSensorFail, uint8(ch), 0, 0)
		v.log.Errorf("%s: %v", ch, err)
		v.state.UpdateChannel(ch, func(s *ChannelState) { s.SensorOK = false })
		return
	}

	var st ChannelState
	v.state.UpdateChannel(ch, func(s *ChannelState) {
		volts := s.Calibration.Volts(raw)
		s.Raw = raw
		s.Filtered += v.cfg.Alpha * (volts - s.Filtered)
		s.SensorOK = true
		st = *s
	})
	if v.state.Debug() {
		v.log.Debugf("%s raw=%d volts=%s filtered=%s wiper=%d mode=%s",
			ch, raw, formatVolts(st.Calibration.Volts(raw)), formatVolts(st.Filtered), st.Wiper, st.Mode)
	}

	switch st.Mode {
	case ModeAuto:
		v.controlStep(ch)
	case ModeCalibrating:
		v.calibrationStep(ch, raw)
	}
}

// controlStep moves the wiper at most MaxStep toward the position the
// calibration model predicts gives the target.
func (v *VoltageLoop) controlStep(ch Channel) {
	sl := &v.state.channels[ch]
	sl.wiper.Lock()
	defer sl.wiper.Unlock()

	st, _ := v.state.Channel(ch)
	if st.Mode != ModeAuto {
		return
	}
	delta := v.stepDelta(st)
	if delta == 0 {
		return
	}
	next := int(st.Wiper) + delta
	if next < 0 {
		next = 0
	} else if next > WiperMax {
		next = WiperMax
	}
	if next == int(st.Wiper) {
		return
	}
	if err := v.writeWiper(ch, uint8(next)); err != nil {
		v.log.Errorf("%s: %v", ch, err)
		return
	}
	v.events.Record(EvtWiperStep, uint8(ch), int64(st.Wiper), int64(next))
}

// stepDelta is round(error / voltsPerStep) clamped to MaxStep, or zero when
// the error is within half a wiper step.
//
// The filtered voltage trails the rail after every move, so a step is also
// bounded by the error in the latest reading and both must agree on the
// direction. Moving toward the wiper the model predicts for the target, the
// step stops there; at or past that position the wiper is trimmed one step
// at a time.
func (v *VoltageLoop) stepDelta(st ChannelState) int {
	if !st.Calibration.Valid() {
		return 0
	}
	vps := st.Calibration.VoltsPerStep()
	half := math.Abs(vps) / 2
	diff := st.Target - st.Filtered
	now := st.Target - st.Calibration.Volts(st.Raw)
	if math.Abs(diff) < half || math.Abs(now) < half || (diff > 0) != (now > 0) {
		return 0
	}

	delta := int(math.Round(diff / vps))
	max := v.cfg.MaxStep
	if max < 1 {
		max = 1
	}
	delta = clampInt(delta, -max, max)
	if latest := int(math.Round(now / vps)); abs(delta) > abs(latest) {
		delta = latest
	}

	room := st.Calibration.PredictWiper(st.Target) - int(st.Wiper)
	if room != 0 && (room > 0) == (delta > 0) {
		if abs(delta) > abs(room) {
			delta = room
		}
		return delta
	}
	if delta > 0 {
		return 1
	}
	return -1
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// SetWiperManual puts ch in Manual and writes value to its wiper. It is
// rejected while ch is calibrating.
func (v *VoltageLoop) SetWiperManual(ch Channel, value int) error {
	if value < 0 || value > WiperMax {
		return newError(ErrInvalidValue, "setres", "wiper %d outside 0..%d", value, WiperMax)
	}
	sl, err := v.state.slot(ch)
	if err != nil {
		return err
	}
	if !sl.cal.TryLock() {
		return newError(ErrCalibrating, "setres", "%s", ch)
	}
	defer sl.cal.Unlock()

	sl.wiper.Lock()
	defer sl.wiper.Unlock()
	if err := v.writeWiper(ch, uint8(value)); err != nil {
		return err
	}
	v.state.UpdateChannel(ch, func(s *ChannelState) { s.Mode = ModeManual })
	v.events.Record(EvtWiperSet, uint8(ch), int64(value), 0)
	return nil
}

// SetTarget puts ch in Auto regulating to volts. It is rejected while ch is
// calibrating.
func (v *VoltageLoop) SetTarget(ch Channel, volts float64) error {
	if math.IsNaN(volts) || math.IsInf(volts, 0) {
		return newError(ErrInvalidValue, "setvolt", "target is not finite")
	}
	if volts < v.cfg.MinTarget || volts > v.cfg.MaxTarget {
		return newError(ErrInvalidValue, "setvolt", "target %s outside %s..%s",
			formatVolts(volts), formatVolts(v.cfg.MinTarget), formatVolts(v.cfg.MaxTarget))
	}
	sl, err := v.state.slot(ch)
	if err != nil {
		return err
	}
	if !sl.cal.TryLock() {
		return newError(ErrCalibrating, "setvolt", "%s", ch)
	}
	defer sl.cal.Unlock()

	return v.state.UpdateChannel(ch, func(s *ChannelState) {
		s.Mode = ModeAuto
		s.Target = volts
	})
}

// Volts returns the filtered voltage of ch.
func (v *VoltageLoop) Volts(ch Channel) (float64, error) {
	st, err := v.state.Channel(ch)
	if err != nil {
		return 0, err
	}
	if !st.SensorOK {
		return st.Filtered, newError(ErrSensor, "readvolt", "%s has no valid reading", ch)
	}
	return st.Filtered, nil
}

func (v *VoltageLoop) readADC(ch Channel) (uint16, error) {
	var raw ADCValue
	err := Retry(v.cfg.IORetries, func() error {
		var rerr error
		raw, rerr = v.adc.ReadRaw(v.chans[ch].ADC)
		return wrapError(ErrSensor, "adc read "+ch.String(), rerr)
	})
	return uint16(raw), err
}

// writeWiper writes the pot and records the new position. Callers hold the
// channel's wiper lock.
func (v *VoltageLoop) writeWiper(ch Channel, wiper uint8) error {
	rc := v.chans[ch]
	val := wiper
	if rc.Invert {
		val = WiperMax - wiper
	}
	err := Retry(v.cfg.IORetries, func() error {
		return wrapError(ErrTransport, "wiper "+ch.String(), v.pots.Write(rc.Pot, val))
	})
	if err != nil {
		v.events.Record(EvtTransportFail, uint8(ch), int64(wiper), 0)
		return err
	}
	v.state.UpdateChannel(ch, func(s *ChannelState) { s.Wiper = wiper })
	return nil
}
