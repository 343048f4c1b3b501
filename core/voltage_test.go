package core

import (
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"antboard/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeADC struct {
	mu     sync.Mutex
	src    map[ADCChannelID]func() uint16
	broken map[ADCChannelID]bool
}

func (a *fakeADC) ConfigureChannel(ch ADCChannelID) error { return nil }

func (a *fakeADC) ReadRaw(ch ADCChannelID) (ADCValue, error) {
	a.mu.Lock()
	broken, src := a.broken[ch], a.src[ch]
	a.mu.Unlock()
	if broken {
		return 0, errors.New("adc stuck")
	}
	if src == nil {
		return 0, nil
	}
	return ADCValue(src()), nil
}

func (a *fakeADC) setBroken(ch ADCChannelID, b bool) {
	a.mu.Lock()
	a.broken[ch] = b
	a.mu.Unlock()
}

type fakePots struct {
	mu     sync.Mutex
	vals   [2]uint8
	writes int
	fail   bool
}

func (p *fakePots) Write(pot uint8, value uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("spi nak")
	}
	p.vals[pot] = value
	p.writes++
	return nil
}

func (p *fakePots) value(pot int) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vals[pot]
}

func (p *fakePots) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func (p *fakePots) setFail(f bool) {
	p.mu.Lock()
	p.fail = f
	p.mu.Unlock()
}

type fakeStore struct {
	mu      sync.Mutex
	saved   CalibrationTable
	saves   int
	resets  int
	failErr error
	block   chan struct{} // Save waits for a receive when set
}

func (s *fakeStore) Load() (CalibrationTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, nil
}

func (s *fakeStore) Save(t CalibrationTable) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.saved = t
	s.saves++
	return nil
}

func (s *fakeStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = nil
	s.resets++
	return nil
}

// rig is a two-channel voltage loop on fakes. Each rail outputs
// volts = lo + wiper*(hi-lo)/255 and the ADC reads it through the rail's
// true slope and intercept.
type rig struct {
	adc   *fakeADC
	pots  *fakePots
	store *fakeStore
	state *ControlState
	loop  *VoltageLoop
	now   time.Time
}

type railModel struct {
	lo, hi           float64
	slope, intercept float64
	invert           bool
}

var testRails = [ChannelCount]railModel{
	{lo: 1.25, hi: 10, slope: 0.0002, intercept: 0.05},
	{lo: 2.5, hi: 3.6, slope: 0.0002, intercept: 0},
}

func (m railModel) raw(potValue uint8) uint16 {
	w := potValue
	if m.invert {
		w = WiperMax - potValue
	}
	v := m.lo + float64(w)*(m.hi-m.lo)/WiperMax
	return uint16(math.Round((v - m.intercept) / m.slope))
}

func (m railModel) calibration() Calibration {
	return Calibration{Slope: m.slope, Intercept: m.intercept, VoltsAtWiperMin: m.lo, VoltsAtWiperMax: m.hi}
}

func newRig(t *testing.T, rails [ChannelCount]railModel, wipers [ChannelCount]uint8, targets [ChannelCount]float64) *rig {
	t.Helper()
	r := &rig{
		adc:   &fakeADC{src: map[ADCChannelID]func() uint16{}, broken: map[ADCChannelID]bool{}},
		pots:  &fakePots{},
		store: &fakeStore{},
		now:   time.Unix(1000, 0),
	}
	var chans [ChannelCount]RegulatorChannel
	var cals [ChannelCount]Calibration
	for _, ch := range Channels {
		m := rails[ch]
		ch := ch
		chans[ch] = RegulatorChannel{ADC: ADCChannelID(ch), Pot: uint8(ch), Invert: m.invert, RefLow: m.lo, RefHigh: m.hi}
		cals[ch] = m.calibration()
		r.adc.src[ADCChannelID(ch)] = func() uint16 { return m.raw(r.pots.value(int(ch))) }
	}
	r.state = NewControlState(targets, wipers, cals)
	r.loop = NewVoltageLoop(r.state, r.adc, r.pots, chans, VoltageConfig{
		Alpha:           config.DefaultBoardConfig().Voltage.Alpha,
		MaxStep:         4,
		MinTarget:       0,
		MaxTarget:       12,
		IORetries:       2,
		SettleTolerance: 2,
		SettleSamples:   2,
		SettleInterval:  10 * time.Millisecond,
		SettleTimeout:   time.Second,
	}, r.store, nil, nil)
	r.loop.SetClock(func() time.Time { return r.now })
	require.NoError(t, r.loop.ApplyWipers())
	r.loop.Seed()
	return r
}

// tick advances the fake clock by d and runs one loop tick.
func (r *rig) tick(d time.Duration) {
	r.now = r.now.Add(d)
	r.loop.Tick()
}

// finishCalibration ticks until ch's run ends, including the save.
func (r *rig) finishCalibration(t *testing.T, ch Channel) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.tick(10 * time.Millisecond)
		active, _, _ := r.loop.CalibrationStatus(ch)
		return !active
	}, 2*time.Second, time.Millisecond)
}

func (r *rig) channel(t *testing.T, ch Channel) ChannelState {
	t.Helper()
	st, err := r.state.Channel(ch)
	require.NoError(t, err)
	return st
}

// smoothing factors the loop must handle: unfiltered, the production
// default and a slow filter.
var testAlphas = []float64{1, config.DefaultBoardConfig().Voltage.Alpha, 0.05}

func TestVoltageLoopConverges(t *testing.T) {
	for _, alpha := range testAlphas {
		t.Run(strconv.FormatFloat(alpha, 'g', -1, 64), func(t *testing.T) {
			r := newRig(t, testRails, [ChannelCount]uint8{0, 0}, [ChannelCount]float64{5.0, 3.0})
			r.loop.cfg.Alpha = alpha

			// 5.0 V is wiper (5.0-1.25)*255/8.75 = 109.3.
			const ideal = 109
			prev := r.channel(t, ChannelAdjustable).Wiper
			peak := prev
			for i := 0; i < 400; i++ {
				r.tick(10 * time.Millisecond)
				w := r.channel(t, ChannelAdjustable).Wiper
				require.GreaterOrEqual(t, w, prev, "monotonic at tick %d", i)
				require.LessOrEqual(t, int(w)-int(prev), 4, "bounded step")
				if w > peak {
					peak = w
				}
				prev = w
			}

			assert.LessOrEqual(t, int(peak), ideal+4, "overshoot beyond one bounded step")
			assert.Equal(t, uint8(ideal), peak)
			st := r.channel(t, ChannelAdjustable)
			assert.Equal(t, uint8(ideal), st.Wiper)
			assert.InDelta(t, 5.0, st.Filtered, st.Calibration.VoltsPerStep())

			fixed := r.channel(t, ChannelFixed)
			assert.Equal(t, uint8(116), fixed.Wiper)
			assert.InDelta(t, 3.0, fixed.Filtered, fixed.Calibration.VoltsPerStep())
		})
	}
}

func TestVoltageLoopConvergesDownward(t *testing.T) {
	rails := testRails
	rails[ChannelAdjustable].invert = true
	for _, alpha := range testAlphas {
		t.Run(strconv.FormatFloat(alpha, 'g', -1, 64), func(t *testing.T) {
			r := newRig(t, rails, [ChannelCount]uint8{255, 255}, [ChannelCount]float64{5.0, 3.3})
			r.loop.cfg.Alpha = alpha
			assert.Equal(t, uint8(0), r.pots.value(0), "inverted pot")

			prev := r.channel(t, ChannelAdjustable).Wiper
			for i := 0; i < 400; i++ {
				r.tick(10 * time.Millisecond)
				w := r.channel(t, ChannelAdjustable).Wiper
				require.LessOrEqual(t, w, prev, "monotonic at tick %d", i)
				prev = w
			}
			assert.Equal(t, uint8(109), prev)
			assert.Equal(t, uint8(255-109), r.pots.value(0))
		})
	}
}

// A rail off its model: the wiper stops where the rail reads the target, not
// where the model predicts, and never swings back.
func TestVoltageLoopTrimsModelError(t *testing.T) {
	for _, tc := range []struct {
		name  string
		rail  railModel
		final uint8
	}{
		{"rail high", railModel{lo: 1.5, hi: 10.3, slope: 0.0002, intercept: 0.05}, 101},
		{"rail low", railModel{lo: 1.0, hi: 9.5, slope: 0.0002, intercept: 0.05}, 120},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, testRails, [ChannelCount]uint8{0, 0}, [ChannelCount]float64{5.0, 3.0})
			// The model stays the nominal rail; only the hardware moves.
			r.adc.src[ADCChannelID(ChannelAdjustable)] = func() uint16 { return tc.rail.raw(r.pots.value(0)) }

			prev := r.channel(t, ChannelAdjustable).Wiper
			for i := 0; i < 400; i++ {
				r.tick(10 * time.Millisecond)
				w := r.channel(t, ChannelAdjustable).Wiper
				require.GreaterOrEqual(t, w, prev, "monotonic at tick %d", i)
				prev = w
			}
			assert.Equal(t, tc.final, prev)
			assert.InDelta(t, 5.0, r.channel(t, ChannelAdjustable).Filtered, 0.035)
		})
	}
}

func TestVoltageLoopDeadband(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{109, 127}, [ChannelCount]float64{5.0, 3.048})
	before := r.pots.count()
	for i := 0; i < 5; i++ {
		r.tick(10 * time.Millisecond)
	}
	assert.Equal(t, before, r.pots.count(), "no writes inside half a step")
}

func TestManualWiperHoldsAgainstTick(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{0, 0}, [ChannelCount]float64{5.0, 3.0})

	require.NoError(t, r.loop.SetWiperManual(ChannelAdjustable, 128))
	st := r.channel(t, ChannelAdjustable)
	assert.Equal(t, ModeManual, st.Mode)
	assert.Equal(t, uint8(128), st.Wiper)
	assert.Equal(t, uint8(128), r.pots.value(0))

	r.tick(10 * time.Millisecond)
	assert.Equal(t, uint8(128), r.channel(t, ChannelAdjustable).Wiper)
	assert.Equal(t, uint8(128), r.pots.value(0))
	assert.NotEqual(t, uint8(0), r.channel(t, ChannelFixed).Wiper, "other channel still regulates")

	require.NoError(t, r.loop.SetTarget(ChannelAdjustable, 6.0))
	assert.Equal(t, ModeAuto, r.channel(t, ChannelAdjustable).Mode)
}

func TestSetWiperManualValidation(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{0, 0}, [ChannelCount]float64{5.0, 3.0})
	assert.ErrorIs(t, r.loop.SetWiperManual(ChannelAdjustable, 256), ErrInvalidValue)
	assert.ErrorIs(t, r.loop.SetWiperManual(ChannelAdjustable, -1), ErrInvalidValue)
	assert.ErrorIs(t, r.loop.SetWiperManual(Channel(5), 1), ErrUnknownChannel)
	assert.Equal(t, ModeAuto, r.channel(t, ChannelAdjustable).Mode)
}

func TestSetWiperManualTransportFailure(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{10, 0}, [ChannelCount]float64{5.0, 3.0})
	r.pots.setFail(true)

	err := r.loop.SetWiperManual(ChannelAdjustable, 200)
	assert.ErrorIs(t, err, ErrTransport)
	st := r.channel(t, ChannelAdjustable)
	assert.Equal(t, ModeAuto, st.Mode, "mode unchanged on failed write")
	assert.Equal(t, uint8(10), st.Wiper)
}

func TestSetTargetValidation(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{0, 0}, [ChannelCount]float64{5.0, 3.0})
	assert.ErrorIs(t, r.loop.SetTarget(ChannelAdjustable, 12.5), ErrInvalidValue)
	assert.ErrorIs(t, r.loop.SetTarget(ChannelAdjustable, math.NaN()), ErrInvalidValue)
	assert.ErrorIs(t, r.loop.SetTarget(Channel(3), 1), ErrUnknownChannel)
	assert.Equal(t, 5.0, r.channel(t, ChannelAdjustable).Target)
}

func TestSensorFailureIsolated(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{0, 0}, [ChannelCount]float64{5.0, 3.0})
	r.adc.setBroken(ADCChannelID(ChannelAdjustable), true)

	for i := 0; i < 10; i++ {
		r.tick(10 * time.Millisecond)
	}
	st := r.channel(t, ChannelAdjustable)
	assert.False(t, st.SensorOK)
	assert.Equal(t, uint8(0), st.Wiper, "no control on a dead sensor")
	_, err := r.loop.Volts(ChannelAdjustable)
	assert.ErrorIs(t, err, ErrSensor)

	v, err := r.loop.Volts(ChannelFixed)
	require.NoError(t, err)
	assert.Greater(t, v, 2.5)

	r.adc.setBroken(ADCChannelID(ChannelAdjustable), false)
	r.tick(10 * time.Millisecond)
	assert.True(t, r.channel(t, ChannelAdjustable).SensorOK)
}

func TestCalibrateRejectsConflictingCommands(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{0, 0}, [ChannelCount]float64{5.0, 3.0})

	require.NoError(t, r.loop.Calibrate(ChannelAdjustable))
	assert.Equal(t, ModeCalibrating, r.channel(t, ChannelAdjustable).Mode)

	assert.ErrorIs(t, r.loop.SetTarget(ChannelAdjustable, 6.0), ErrCalibrating)
	assert.ErrorIs(t, r.loop.SetWiperManual(ChannelAdjustable, 5), ErrCalibrating)
	assert.ErrorIs(t, r.loop.Calibrate(ChannelAdjustable), ErrCalibrating)
	assert.ErrorIs(t, r.loop.ResetCalibration([ChannelCount]Calibration{}), ErrCalibrating)
	assert.Equal(t, 5.0, r.channel(t, ChannelAdjustable).Target, "target untouched")

	// The other channel is not affected.
	require.NoError(t, r.loop.SetTarget(ChannelFixed, 3.3))

	active, point, _ := r.loop.CalibrationStatus(ChannelAdjustable)
	assert.True(t, active)
	assert.Equal(t, "wiper-min", point)
}

func TestCalibrationSucceeds(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{50, 0}, [ChannelCount]float64{5.0, 3.0})
	// Start from a wrong model so the fit is observable.
	r.state.UpdateChannel(ChannelAdjustable, func(s *ChannelState) {
		s.Calibration = Calibration{Slope: 0.0003, VoltsAtWiperMin: 1, VoltsAtWiperMax: 9}
	})

	require.NoError(t, r.loop.CalibrateWith(ChannelAdjustable, 1.25, 10))
	r.finishCalibration(t, ChannelAdjustable)

	_, _, last := r.loop.CalibrationStatus(ChannelAdjustable)
	require.NoError(t, last)

	st := r.channel(t, ChannelAdjustable)
	assert.InDelta(t, 0.0002, st.Calibration.Slope, 1e-8)
	assert.InDelta(t, 0.05, st.Calibration.Intercept, 1e-3)
	assert.InDelta(t, 1.25, st.Calibration.VoltsAtWiperMin, 1e-9)
	assert.InDelta(t, 10, st.Calibration.VoltsAtWiperMax, 1e-9)
	assert.Equal(t, ModeAuto, st.Mode)
	assert.Equal(t, 5.0, st.Target)

	require.Equal(t, 1, r.store.saves)
	assert.Equal(t, st.Calibration, r.store.saved[ChannelAdjustable])
	assert.Equal(t, testRails[ChannelFixed].calibration(), r.store.saved[ChannelFixed])

	// Regulation resumes.
	require.NoError(t, r.loop.SetTarget(ChannelAdjustable, 5.0))
	for i := 0; i < 100; i++ {
		r.tick(10 * time.Millisecond)
	}
	assert.Equal(t, uint8(109), r.channel(t, ChannelAdjustable).Wiper)
}

func TestCalibrationTimeoutRestores(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{77, 0}, [ChannelCount]float64{5.0, 3.0})
	require.NoError(t, r.loop.SetWiperManual(ChannelAdjustable, 77))

	noisy := uint16(1000)
	r.adc.src[ADCChannelID(ChannelAdjustable)] = func() uint16 {
		noisy += 100
		return noisy
	}

	require.NoError(t, r.loop.Calibrate(ChannelAdjustable))
	for i := 0; i < 30; i++ {
		r.tick(100 * time.Millisecond)
	}

	active, _, last := r.loop.CalibrationStatus(ChannelAdjustable)
	assert.False(t, active)
	assert.ErrorIs(t, last, ErrSensor)

	st := r.channel(t, ChannelAdjustable)
	assert.Equal(t, ModeManual, st.Mode, "prior mode restored")
	assert.Equal(t, uint8(77), st.Wiper, "prior wiper restored")
	assert.Equal(t, uint8(77), r.pots.value(0))
	assert.Equal(t, testRails[ChannelAdjustable].calibration(), st.Calibration)
	assert.Zero(t, r.store.saves)

	// The channel accepts commands again.
	require.NoError(t, r.loop.SetTarget(ChannelAdjustable, 6.0))
}

func TestCalibrationPersistenceFailureRestores(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{60, 0}, [ChannelCount]float64{5.0, 3.0})
	r.store.failErr = errors.New("eeprom nak")
	before := r.channel(t, ChannelAdjustable)

	require.NoError(t, r.loop.Calibrate(ChannelAdjustable))
	r.finishCalibration(t, ChannelAdjustable)

	_, _, last := r.loop.CalibrationStatus(ChannelAdjustable)
	assert.ErrorIs(t, last, ErrPersistence)
	st := r.channel(t, ChannelAdjustable)
	assert.Equal(t, before.Calibration, st.Calibration)
	assert.Equal(t, ModeAuto, st.Mode)
}

func TestCalibrationSaveDoesNotStallLoop(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{50, 0}, [ChannelCount]float64{5.0, 3.0})
	r.store.block = make(chan struct{})

	require.NoError(t, r.loop.Calibrate(ChannelAdjustable))
	require.Eventually(t, func() bool {
		r.tick(10 * time.Millisecond)
		_, point, _ := r.loop.CalibrationStatus(ChannelAdjustable)
		return point == "saving"
	}, 2*time.Second, time.Millisecond)

	// The save is pending: ticks, status and abort all return.
	for i := 0; i < 100; i++ {
		r.tick(10 * time.Millisecond)
	}
	assert.Equal(t, uint8(116), r.channel(t, ChannelFixed).Wiper, "other channel keeps regulating")
	assert.Equal(t, ModeCalibrating, r.channel(t, ChannelAdjustable).Mode)
	assert.ErrorIs(t, r.loop.AbortCalibration(ChannelAdjustable), ErrCalibrating)
	assert.ErrorIs(t, r.loop.SetTarget(ChannelAdjustable, 6.0), ErrCalibrating)
	assert.Zero(t, r.store.saves)

	close(r.store.block)
	r.finishCalibration(t, ChannelAdjustable)
	_, _, last := r.loop.CalibrationStatus(ChannelAdjustable)
	require.NoError(t, last)
	assert.Equal(t, ModeAuto, r.channel(t, ChannelAdjustable).Mode)
	assert.Equal(t, 5.0, r.channel(t, ChannelAdjustable).Target)
	assert.Equal(t, 1, r.store.saves)
}

func TestCalibrationSavesKeepBothChannels(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{50, 0}, [ChannelCount]float64{5.0, 3.0})
	r.state.UpdateChannel(ChannelFixed, func(s *ChannelState) {
		s.Calibration = Calibration{Slope: 0.0003, VoltsAtWiperMin: 2, VoltsAtWiperMax: 4}
	})

	require.NoError(t, r.loop.Calibrate(ChannelAdjustable))
	require.NoError(t, r.loop.Calibrate(ChannelFixed))
	require.Eventually(t, func() bool {
		r.tick(10 * time.Millisecond)
		a, _, _ := r.loop.CalibrationStatus(ChannelAdjustable)
		f, _, _ := r.loop.CalibrationStatus(ChannelFixed)
		return !a && !f
	}, 2*time.Second, time.Millisecond)

	require.Equal(t, 2, r.store.saves)
	for _, ch := range Channels {
		_, _, last := r.loop.CalibrationStatus(ch)
		require.NoError(t, last)
		assert.Equal(t, r.channel(t, ch).Calibration, r.store.saved[ch], ch.String())
	}
}

func TestCalibrationAbort(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{33, 0}, [ChannelCount]float64{5.0, 3.0})
	require.NoError(t, r.loop.SetWiperManual(ChannelAdjustable, 33))

	require.NoError(t, r.loop.Calibrate(ChannelAdjustable))
	r.tick(10 * time.Millisecond)
	assert.Equal(t, uint8(0), r.channel(t, ChannelAdjustable).Wiper, "driven to wiper-min")

	require.NoError(t, r.loop.AbortCalibration(ChannelAdjustable))
	st := r.channel(t, ChannelAdjustable)
	assert.Equal(t, ModeManual, st.Mode)
	assert.Equal(t, uint8(33), st.Wiper)

	active, _, last := r.loop.CalibrationStatus(ChannelAdjustable)
	assert.False(t, active)
	assert.NoError(t, last)
	assert.ErrorIs(t, r.loop.AbortCalibration(ChannelAdjustable), ErrInvalidValue)
}

func TestCalibrateWithValidation(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{0, 0}, [ChannelCount]float64{5.0, 3.0})
	assert.ErrorIs(t, r.loop.CalibrateWith(ChannelAdjustable, 5, 5), ErrInvalidValue)
	assert.ErrorIs(t, r.loop.CalibrateWith(ChannelAdjustable, math.Inf(1), 5), ErrInvalidValue)
	assert.ErrorIs(t, r.loop.Calibrate(Channel(4)), ErrUnknownChannel)
	assert.Equal(t, ModeAuto, r.channel(t, ChannelAdjustable).Mode)
}

func TestResetCalibration(t *testing.T) {
	r := newRig(t, testRails, [ChannelCount]uint8{0, 0}, [ChannelCount]float64{5.0, 3.0})
	defaults := [ChannelCount]Calibration{
		{Slope: 1e-4, VoltsAtWiperMin: 0, VoltsAtWiperMax: 12},
		{Slope: 2e-4, VoltsAtWiperMin: 2, VoltsAtWiperMax: 4},
	}
	require.NoError(t, r.loop.ResetCalibration(defaults))
	assert.Equal(t, 1, r.store.resets)
	assert.Equal(t, defaults[0], r.channel(t, ChannelAdjustable).Calibration)
	assert.Equal(t, defaults[1], r.channel(t, ChannelFixed).Calibration)

	// Locks are released.
	require.NoError(t, r.loop.Calibrate(ChannelFixed))
}

func TestSolveCalibration(t *testing.T) {
	cal, err := SolveCalibration(6000, 49750, 1.25, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.0002, cal.Slope, 1e-12)
	assert.InDelta(t, 0.05, cal.Intercept, 1e-9)

	// Falling rail: wiper 0 gives the higher count.
	cal, err = SolveCalibration(49750, 6000, 1.25, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.0002, cal.Slope, 1e-12)
	assert.InDelta(t, 10, cal.VoltsAtWiperMin, 1e-9)
	assert.InDelta(t, 1.25, cal.VoltsAtWiperMax, 1e-9)
	assert.Less(t, cal.VoltsPerStep(), 0.0)

	_, err = SolveCalibration(100, 100, 1, 2)
	assert.ErrorIs(t, err, ErrSensor)
}
