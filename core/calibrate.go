package core

import (
	"math"
	"time"
)

// Two-point calibration runs as a state machine advanced by the voltage loop
// tick, so the other channel keeps regulating while one is calibrating.

type calStage uint8

const (
	calDriveLow calStage = iota
	calSettleLow
	calDriveHigh
	calSettleHigh
	calSaving
)

func (s calStage) String() string {
	switch s {
	case calDriveLow, calSettleLow:
		return "wiper-min"
	case calDriveHigh, calSettleHigh:
		return "wiper-max"
	case calSaving:
		return "saving"
	}
	return "unknown"
}

type calibrationRun struct {
	stage   calStage
	refLow  float64
	refHigh float64

	priorMode   Mode
	priorTarget float64
	priorWiper  uint8

	started    time.Time
	lastSample time.Time
	lastRaw    uint16
	haveLast   bool
	stable     int

	rawMin uint16 // settled count at wiper 0
}

// Calibrate starts a two-point calibration of ch using the configured
// reference voltages.
func (v *VoltageLoop) Calibrate(ch Channel) error {
	if int(ch) >= ChannelCount {
		return newError(ErrUnknownChannel, "calibrate", "%d", ch)
	}
	rc := v.chans[ch]
	return v.CalibrateWith(ch, rc.RefLow, rc.RefHigh)
}

// CalibrateWith starts a two-point calibration of ch. refLow and refHigh are
// the known rail voltages at the two ends of the wiper travel; the lower
// one is paired with the lower raw count. The call returns at once;
// progress is made by Tick.
func (v *VoltageLoop) CalibrateWith(ch Channel, refLow, refHigh float64) error {
	for _, r := range []float64{refLow, refHigh} {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return newError(ErrInvalidValue, "calibrate", "reference voltage is not finite")
		}
	}
	if refLow >= refHigh {
		return newError(ErrInvalidValue, "calibrate", "reference %s must be below %s", formatVolts(refLow), formatVolts(refHigh))
	}
	sl, err := v.state.slot(ch)
	if err != nil {
		return err
	}
	if !sl.cal.TryLock() {
		return newError(ErrCalibrating, "calibrate", "%s", ch)
	}

	v.runMu[ch].Lock()
	defer v.runMu[ch].Unlock()

	run := &calibrationRun{stage: calDriveLow, refLow: refLow, refHigh: refHigh}
	v.state.UpdateChannel(ch, func(s *ChannelState) {
		run.priorMode = s.Mode
		run.priorTarget = s.Target
		run.priorWiper = s.Wiper
		s.Mode = ModeCalibrating
	})
	v.runs[ch] = run
	v.last[ch] = nil
	v.events.Record(EvtCalStage, uint8(ch), int64(calDriveLow), 0)
	v.log.Infof("%s: calibration started (%s V .. %s V)", ch, formatVolts(refLow), formatVolts(refHigh))
	return nil
}

// AbortCalibration stops a running calibration and restores the prior mode,
// target and wiper.
func (v *VoltageLoop) AbortCalibration(ch Channel) error {
	if int(ch) >= ChannelCount {
		return newError(ErrUnknownChannel, "calibrate", "%d", ch)
	}
	v.runMu[ch].Lock()
	defer v.runMu[ch].Unlock()

	run := v.runs[ch]
	if run == nil {
		return newError(ErrInvalidValue, "calibrate abort", "%s is not calibrating", ch)
	}
	if run.stage == calSaving {
		return newError(ErrCalibrating, "calibrate abort", "%s calibration is being saved", ch)
	}
	v.restore(ch, run)
	v.end(ch, nil)
	v.log.Infof("%s: calibration aborted", ch)
	return nil
}

// CalibrationStatus reports whether ch is calibrating, the point being
// measured, and the result of the last finished run.
func (v *VoltageLoop) CalibrationStatus(ch Channel) (active bool, point string, last error) {
	if int(ch) >= ChannelCount {
		return false, "", newError(ErrUnknownChannel, "", "%d", ch)
	}
	v.runMu[ch].Lock()
	defer v.runMu[ch].Unlock()
	if run := v.runs[ch]; run != nil {
		return true, run.stage.String(), nil
	}
	return false, "", v.last[ch]
}

// ResetCalibration clears the store and reverts every channel to defaults.
func (v *VoltageLoop) ResetCalibration(defaults [ChannelCount]Calibration) error {
	for i, ch := range Channels {
		if !v.state.channels[ch].cal.TryLock() {
			for _, held := range Channels[:i] {
				v.state.channels[held].cal.Unlock()
			}
			return newError(ErrCalibrating, "resetcal", "%s", ch)
		}
	}
	defer func() {
		for _, ch := range Channels {
			v.state.channels[ch].cal.Unlock()
		}
	}()

	if err := v.store.Reset(); err != nil {
		return wrapError(ErrPersistence, "resetcal", err)
	}
	for _, ch := range Channels {
		cal := defaults[ch]
		v.state.UpdateChannel(ch, func(s *ChannelState) { s.Calibration = cal })
	}
	return nil
}

// calibrationStep advances ch's run with the raw count sampled this tick.
func (v *VoltageLoop) calibrationStep(ch Channel, raw uint16) {
	v.runMu[ch].Lock()
	defer v.runMu[ch].Unlock()

	run := v.runs[ch]
	if run == nil {
		return
	}
	now := v.now()

	switch run.stage {
	case calDriveLow, calDriveHigh:
		wiper := uint8(0)
		if run.stage == calDriveHigh {
			wiper = WiperMax
		}
		sl := &v.state.channels[ch]
		sl.wiper.Lock()
		err := v.writeWiper(ch, wiper)
		sl.wiper.Unlock()
		if err != nil {
			v.fail(ch, run, err)
			return
		}
		run.stage++
		run.started = now
		run.haveLast = false
		run.stable = 0
		v.events.Record(EvtCalStage, uint8(ch), int64(run.stage), int64(wiper))

	case calSaving:
		return

	case calSettleLow, calSettleHigh:
		if run.haveLast && now.Sub(run.lastSample) < v.cfg.SettleInterval {
			return
		}
		if run.haveLast && absDiff(raw, run.lastRaw) <= v.cfg.SettleTolerance {
			run.stable++
		} else {
			run.stable = 0
		}
		run.lastRaw = raw
		run.lastSample = now
		run.haveLast = true

		if run.stable >= v.cfg.SettleSamples {
			if run.stage == calSettleLow {
				run.rawMin = raw
				run.stage = calDriveHigh
				v.log.Debugf("%s: wiper-min settled at raw %d", ch, raw)
				return
			}
			v.complete(ch, run, raw)
			return
		}
		if v.cfg.SettleTimeout > 0 && now.Sub(run.started) > v.cfg.SettleTimeout {
			v.fail(ch, run, newError(ErrSensor, "calibrate", "%s did not settle at %s", ch, run.stage))
		}
	}
}

// complete solves the fit and hands it to persist. runMu is held.
func (v *VoltageLoop) complete(ch Channel, run *calibrationRun, rawMax uint16) {
	cal, err := SolveCalibration(run.rawMin, rawMax, run.refLow, run.refHigh)
	if err != nil {
		v.fail(ch, run, err)
		return
	}
	run.stage = calSaving
	v.events.Record(EvtCalStage, uint8(ch), int64(calSaving), 0)
	go v.persist(ch, run, cal)
}

// persist saves cal next to the other channels' current calibrations and
// then finishes the run. It runs on its own goroutine; runMu is not held
// while the store is written.
func (v *VoltageLoop) persist(ch Channel, run *calibrationRun, cal Calibration) {
	v.saveMu.Lock()
	defer v.saveMu.Unlock()

	table := make(CalibrationTable, ChannelCount)
	for _, other := range Channels {
		st, _ := v.state.Channel(other)
		table[other] = st.Calibration
	}
	table[ch] = cal
	err := v.store.Save(table)

	v.runMu[ch].Lock()
	defer v.runMu[ch].Unlock()
	if v.runs[ch] != run {
		return
	}
	if err != nil {
		v.fail(ch, run, wrapError(ErrPersistence, "calibrate", err))
		return
	}
	v.state.UpdateChannel(ch, func(s *ChannelState) {
		s.Calibration = cal
		s.Filtered = cal.Volts(s.Raw)
		s.Target = run.priorTarget
		s.Mode = ModeAuto
	})
	v.log.Infof("%s: calibrated slope=%g intercept=%g", ch, cal.Slope, cal.Intercept)
	v.end(ch, nil)
}

// fail restores the channel and records err. runMu is held.
func (v *VoltageLoop) fail(ch Channel, run *calibrationRun, err error) {
	v.log.Errorf("%s: calibration failed: %v", ch, err)
	v.restore(ch, run)
	v.end(ch, err)
}

func (v *VoltageLoop) restore(ch Channel, run *calibrationRun) {
	sl := &v.state.channels[ch]
	sl.wiper.Lock()
	if err := v.writeWiper(ch, run.priorWiper); err != nil {
		v.log.Errorf("%s: restore wiper: %v", ch, err)
	}
	sl.wiper.Unlock()
	v.state.UpdateChannel(ch, func(s *ChannelState) {
		s.Mode = run.priorMode
		s.Target = run.priorTarget
	})
}

// end clears the run and releases the calibration lock. runMu is held.
func (v *VoltageLoop) end(ch Channel, err error) {
	v.runs[ch] = nil
	v.last[ch] = err
	v.state.channels[ch].cal.Unlock()
}

// SolveCalibration fits volts = slope*raw + intercept through the two
// settled points. The lower reference is paired with the lower count.
func SolveCalibration(rawMin, rawMax uint16, refLow, refHigh float64) (Calibration, error) {
	if rawMin == rawMax {
		return Calibration{}, newError(ErrSensor, "calibrate", "both points read raw %d", rawMin)
	}
	lo, hi := rawMin, rawMax
	if lo > hi {
		lo, hi = hi, lo
	}
	slope := (refHigh - refLow) / float64(hi-lo)
	intercept := refLow - slope*float64(lo)
	return Calibration{
		Slope:           slope,
		Intercept:       intercept,
		VoltsAtWiperMin: slope*float64(rawMin) + intercept,
		VoltsAtWiperMax: slope*float64(rawMax) + intercept,
	}, nil
}

func absDiff(a, b uint16) uint16 {
	if a > b {
		return a - b
	}
	return b - a
}
