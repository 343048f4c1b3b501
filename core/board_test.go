package core_test

import (
	"context"
	"io"
	"math/rand"
	"strings"
	"testing"
	"time"

	"antboard/config"
	"antboard/core"
	"antboard/sim"
	"antboard/storage"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(order string) *config.BoardConfig {
	cfg := config.DefaultBoardConfig()
	cfg.CPLD.BitOrder = order
	cfg.CPLD.ClockDelayUS = 0
	cfg.LEDs.StartupMS = 0
	return cfg
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newBoard(t *testing.T, cfg *config.BoardConfig, store core.CalibrationStore) (*core.Board, *sim.Board) {
	t.Helper()
	hw, err := sim.New(cfg)
	require.NoError(t, err)
	b, err := core.NewBoard(cfg, hw.Hardware(testLogger(), store))
	require.NoError(t, err)
	require.NoError(t, b.Init())
	return b, hw
}

// fakeClock returns a clock for the voltage loop and a function that moves
// it forward.
func fakeClock() (func() time.Time, func(time.Duration)) {
	now := time.Unix(5000, 0)
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestBoardInit(t *testing.T) {
	b, hw := newBoard(t, testConfig("ascending"), nil)

	assert.False(t, hw.Killed(), "power latch held")
	assert.Equal(t, core.CommandWord(0), hw.CPLD.Word())
	assert.Equal(t, core.CommandWord(0), b.State().Word())
	assert.Equal(t, uint8(0), hw.Pot.Value(0), "adjustable wiper 255 through inverted pot")
	assert.Equal(t, uint8(255), hw.Pot.Value(1))

	// Adjustable rail starts at 10 V: the last threshold color.
	assert.Equal(t, [core.LEDCount]core.Color{core.ColorWhite, core.ColorOff, core.ColorOff, core.ColorOff}, hw.LEDs.Colors())
	assert.Equal(t, hw.LEDs.Colors(), b.LEDs().Last())

	st, err := b.State().Channel(core.ChannelAdjustable)
	require.NoError(t, err)
	assert.True(t, st.SensorOK)
	assert.InDelta(t, 10.0, st.Filtered, 0.01)
	assert.Equal(t, core.ModeAuto, st.Mode)
	assert.Equal(t, 5.0, st.Target)
}

func TestBoardCPLDRoundTrip(t *testing.T) {
	for _, order := range []string{"ascending", "descending"} {
		t.Run(order, func(t *testing.T) {
			b, hw := newBoard(t, testConfig(order), nil)
			codec := b.Codec()
			r := rand.New(rand.NewSource(42))

			for i := 0; i < 30; i++ {
				raw := core.CommandWord(r.Uint64()) & core.WordMask
				want := codec.ApplyRaw(b.State().Word(), raw)

				got, err := b.WriteRaw(raw)
				require.NoError(t, err)
				assert.Equal(t, want, got)
				assert.Equal(t, want, hw.CPLD.Word(), "latched outputs")

				read, err := b.ReadCPLD()
				require.NoError(t, err)
				assert.Equal(t, want, read, "readback")
				assert.Equal(t, want, hw.CPLD.Word(), "read leaves outputs unchanged")
			}
		})
	}
}

func TestBoardReadCPLDFeedback(t *testing.T) {
	b, hw := newBoard(t, testConfig("ascending"), nil)
	fb := b.Codec().PinMap().FeedbackStage()

	hw.CPLD.SetSensor(true)
	w, err := b.ReadCPLD()
	require.NoError(t, err)
	assert.True(t, w.Bit(fb))
	assert.False(t, b.State().Word().Bit(fb), "feedback is never recorded as commanded")

	assert.Contains(t, b.Execute("readcpld"), "sens=1")
	assert.Contains(t, b.Execute("readcommand"), "sens=0")
}

func TestBoardCPLDWriteFailure(t *testing.T) {
	cfg := testConfig("ascending")
	b, hw := newBoard(t, cfg, nil)

	_, err := b.SetBlocks(map[core.Block]uint32{core.BlockFM: 3})
	require.NoError(t, err)
	before := b.State().Word()

	hw.GPIO.Fail(core.GPIOPin(cfg.CPLD.Clock), true)
	_, err = b.SetBlocks(map[core.Block]uint32{core.BlockFM: 5})
	assert.ErrorIs(t, err, core.ErrTransport)
	assert.Equal(t, before, b.State().Word(), "state keeps the last good word")
	assert.True(t, strings.HasPrefix(b.Execute("setfm 6"), "Error: "))

	hw.GPIO.Fail(core.GPIOPin(cfg.CPLD.Clock), false)
	assert.Equal(t, "fm=6 (0b0110)", b.Execute("setfm 6"))
}

func TestInterpreterBlocks(t *testing.T) {
	b, hw := newBoard(t, testConfig("ascending"), nil)

	assert.Equal(t, "az=65450 (0b000000001111111110101010)", b.Execute("setaz 0x00FFAA"))
	assert.Equal(t, "el=2 (0b10)", b.Execute("SETEL 2"))
	assert.Equal(t, "az=65450 (0b000000001111111110101010)", b.Execute("readaz"))
	assert.Equal(t, "el=2 (0b10)", b.Execute("readel"))
	assert.Equal(t, b.State().Word(), hw.CPLD.Word())

	assert.Equal(t, "ss=5 (0b00101)", b.Execute("setss 0b101"))
	assert.Equal(t, "pe=3 (0b11)", b.Execute("setpe 3"))
	assert.Equal(t, "at=0 (0b000)", b.Execute("readat"))

	resp := b.Execute("setaz 16777216")
	assert.True(t, strings.HasPrefix(resp, "Error: "), resp)
	assert.Contains(t, resp, "invalid value")
	assert.Equal(t, "az=65450 (0b000000001111111110101010)", b.Execute("readaz"), "rejected before any change")

	assert.Contains(t, b.Execute("setel"), "usage")
	assert.Contains(t, b.Execute("setel two"), "not a number")
	assert.Contains(t, b.Execute("setel -1"), "not a number")
}

func TestInterpreterCPLDWrite(t *testing.T) {
	b, hw := newBoard(t, testConfig("ascending"), nil)

	resp := b.Execute("cpld_write 0xFFFFFFFFFFFF")
	sanitized := b.Codec().ApplyRaw(0, core.WordMask)
	assert.Equal(t, "cpld word "+sanitized.Hex()+" written", resp)
	assert.Equal(t, sanitized, hw.CPLD.Word())
	assert.Zero(t, hw.CPLD.Word()&b.Codec().PinMap().GroundMask(), "grounds stay low")

	pattern := strings.Repeat("0", 46) + "10"
	assert.Equal(t, "cpld word 0x000000000002 written", b.Execute("cpld_write "+pattern))

	assert.Contains(t, b.Execute("cpld_write 0x1000000000000"), "Error: ")
	assert.Contains(t, b.Execute("cpld_write"), "usage")
}

func TestInterpreterUnknownAndEmpty(t *testing.T) {
	b, _ := newBoard(t, testConfig("ascending"), nil)

	assert.Equal(t, "Unknown command 'bogus'. Type 'help'.", b.Execute("bogus 1 2"))
	assert.Equal(t, "", b.Execute("   "))

	help := b.Execute("help")
	assert.True(t, strings.HasPrefix(help, "Commands: help; setres <pot> <0-255>"), help)
	assert.Contains(t, help, "setaz <0-16777215>")
	assert.NotContains(t, help, "\n")
}

func TestInterpreterSetResHoldsWiper(t *testing.T) {
	b, hw := newBoard(t, testConfig("ascending"), nil)

	assert.Equal(t, "pot 0 (adjustable) wiper set to 128, manual", b.Execute("setres adjustable 128"))
	assert.Equal(t, uint8(127), hw.Pot.Value(0), "inverted pot")

	b.Voltage().Tick()
	st, _ := b.State().Channel(core.ChannelAdjustable)
	assert.Equal(t, core.ModeManual, st.Mode)
	assert.Equal(t, uint8(128), st.Wiper)
	assert.Equal(t, uint8(127), hw.Pot.Value(0))

	assert.Equal(t, "pot 1 (fixed) wiper set to 16, manual", b.Execute("setres 1 0x10"))
	assert.Contains(t, b.Execute("setres 1 256"), "Error: ")
	assert.Contains(t, b.Execute("setres 2 5"), "unknown channel")
}

func TestInterpreterCalibrateBlocksSetVolt(t *testing.T) {
	b, _ := newBoard(t, testConfig("ascending"), nil)

	assert.Equal(t, "calibration started: adjustable", b.Execute("calibrate adjustable"))
	assert.Equal(t, "Error: setvolt: channel is calibrating: adjustable", b.Execute("setvolt adjustable 6.0"))
	assert.Contains(t, b.Execute("setres adjustable 5"), "calibrating")
	assert.Contains(t, b.Execute("resetcal"), "calibrating")
	assert.Contains(t, b.Execute("debugvolt adjustable"), "calibrating=wiper-min")

	assert.Equal(t, "fixed target set to 3.000 V", b.Execute("setvolt fixed 3"))

	assert.Equal(t, "calibration aborted: adjustable", b.Execute("calibrate adjustable abort"))
	assert.Equal(t, "adjustable target set to 6.000 V", b.Execute("setvolt adjustable 6.0"))
	assert.Contains(t, b.Execute("setvolt adjustable 13"), "invalid value")
}

func TestInterpreterCalibratePersists(t *testing.T) {
	cfg := testConfig("ascending")
	hw, err := sim.New(cfg)
	require.NoError(t, err)
	// The real fixed rail reads differently from the compiled-in slope.
	hw.Rails[core.ChannelFixed].Slope = 0.0002

	store := storage.NewEEPROMStore(hw.EEPROM, storage.EEPROMConfig{
		Address: cfg.EEPROM.Address, PageSize: cfg.EEPROM.PageSize, Size: cfg.EEPROM.Size,
	})
	b, err := core.NewBoard(cfg, hw.Hardware(testLogger(), store))
	require.NoError(t, err)
	require.NoError(t, b.Init())
	now, advance := fakeClock()
	b.Voltage().SetClock(now)

	assert.Equal(t, "calibration started: fixed", b.Execute("calibrate fixed"))
	require.Eventually(t, func() bool {
		advance(time.Second)
		b.Voltage().Tick()
		active, _, _ := b.Voltage().CalibrationStatus(core.ChannelFixed)
		return !active
	}, 5*time.Second, time.Millisecond)
	_, _, last := b.Voltage().CalibrationStatus(core.ChannelFixed)
	require.NoError(t, last)

	st, _ := b.State().Channel(core.ChannelFixed)
	assert.InDelta(t, 0.0002, st.Calibration.Slope, 1e-7)
	assert.InDelta(t, 0, st.Calibration.Intercept, 0.01)
	assert.Equal(t, core.ModeAuto, st.Mode)
	assert.Equal(t, 3.3, st.Target)
	assert.Contains(t, b.Execute("debugvolt fixed"), "slope=0.0002")

	// A fresh boot restores the fit from the EEPROM.
	b2, err := core.NewBoard(cfg, hw.Hardware(testLogger(), store))
	require.NoError(t, err)
	require.NoError(t, b2.Init())
	st2, _ := b2.State().Channel(core.ChannelFixed)
	assert.Equal(t, st.Calibration, st2.Calibration)

	assert.Equal(t, "calibration reset to defaults", b2.Execute("resetcal"))
	st2, _ = b2.State().Channel(core.ChannelFixed)
	assert.Equal(t, b2.DefaultCalibrations()[core.ChannelFixed], st2.Calibration)
	table, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestInterpreterCalibrateArguments(t *testing.T) {
	b, _ := newBoard(t, testConfig("ascending"), nil)

	assert.Equal(t, "calibration started: adjustable, fixed", b.Execute("calibrate all"))
	resp := b.Execute("calibrate_all")
	assert.True(t, strings.HasPrefix(resp, "Error: "), resp)
	assert.Equal(t, "calibration aborted: adjustable, fixed", b.Execute("calibrate all abort"))

	assert.Equal(t, "calibration started: fixed", b.Execute("calibrate fixed 2.4 3.7"))
	assert.Contains(t, b.Execute("calibrate adjustable 5 1"), "invalid value")
	assert.Contains(t, b.Execute("calibrate adjustable stop"), "usage")
	assert.Contains(t, b.Execute("calibrate adjustable abort"), "not calibrating")
}

func TestInterpreterLEDs(t *testing.T) {
	b, hw := newBoard(t, testConfig("ascending"), nil)

	assert.Equal(t, "led 2 set to 0b101", b.Execute("setled 2 5"))
	assert.Equal(t, "led 3 set to 0b011", b.Execute("setled 3 0b011"))
	assert.Equal(t, "fm=3 (0b0011)", b.Execute("setfm 3"))
	b.LEDs().Tick()
	colors := hw.LEDs.Colors()
	assert.Equal(t, core.ColorMagenta, colors[2])
	assert.Equal(t, core.ColorCyan, colors[3])
	assert.Equal(t, core.ColorGreen, colors[1], "fm 3 maps to green")

	assert.Equal(t, "led 2 auto", b.Execute("setled 2 AUTO"))
	b.LEDs().Tick()
	assert.Equal(t, core.ColorOff, hw.LEDs.Colors()[2])

	assert.Contains(t, b.Execute("setled 4 1"), "Error: ")
	assert.Contains(t, b.Execute("setled 0 8"), "Error: ")
	assert.Contains(t, b.Execute("setled 0"), "usage")

	leds := b.LEDs()
	assert.Equal(t, core.ColorRed, leds.VoltageColor(2.0))
	assert.Equal(t, core.ColorRed, leds.VoltageColor(3.0))
	assert.Equal(t, core.ColorGreen, leds.VoltageColor(4.5))
	assert.Equal(t, core.ColorWhite, leds.VoltageColor(11))
}

func TestInterpreterPeripherals(t *testing.T) {
	cfg := testConfig("ascending")
	b, hw := newBoard(t, cfg, nil)
	fan := core.PWMPin(cfg.Fan.Pin)

	assert.Equal(t, uint32(1000), hw.PWM.Frequency(fan))
	assert.Equal(t, "fan set to 50%", b.Execute("setfan 50"))
	assert.Equal(t, core.PWMValue(32767), hw.PWM.Duty(fan))
	assert.Equal(t, "fan off", b.Execute("setfan 10"))
	assert.Equal(t, core.PWMValue(0), hw.PWM.Duty(fan))
	assert.Equal(t, 10, b.Fan().Percent())
	assert.Contains(t, b.Execute("setfan 101"), "Error: ")

	hw.ADC.SetValue(core.ADCChannelID(cfg.Sense.ADC), 1234)
	assert.Equal(t, "sense raw=1234", b.Execute("readsense"))
	hw.ADC.Break(core.ADCChannelID(cfg.Sense.ADC), true)
	assert.Contains(t, b.Execute("readsense"), "sensor error")

	hw.SetMode(5)
	assert.Equal(t, "mode=5 (0b101)", b.Execute("readmode"))

	assert.Equal(t, "debug on", b.Execute("debug"))
	assert.Contains(t, b.Execute("status"), "; debug")
	assert.Equal(t, "debug off", b.Execute("debug"))
}

func TestInterpreterReadVolt(t *testing.T) {
	b, hw := newBoard(t, testConfig("ascending"), nil)

	resp := b.Execute("readvolt adjustable")
	assert.True(t, strings.HasPrefix(resp, "adjustable: 10.0"), resp)
	assert.Contains(t, resp, "(target 5.000 V, auto)")

	both := b.Execute("readvolt")
	assert.Contains(t, both, "; fixed: ")

	hw.ADC.Break(2, true)
	b.Voltage().Tick()
	assert.Contains(t, b.Execute("readvolt adjustable"), "sensor fault")
	assert.Contains(t, b.Execute("readvolt nope"), "unknown channel")
}

func TestInterpreterStatusAndEvents(t *testing.T) {
	b, _ := newBoard(t, testConfig("ascending"), nil)
	b.Execute("setfm 1")

	status := b.Execute("status")
	assert.Contains(t, status, "adjustable=")
	assert.Contains(t, status, "leds=7a,0a,0a,0a")
	assert.Contains(t, status, "word=0x")
	assert.Contains(t, status, "fan=0%")

	assert.Contains(t, b.Execute("events"), "CPLD_WRITE")
}

func TestInterpreterShutdown(t *testing.T) {
	b, hw := newBoard(t, testConfig("ascending"), nil)
	b.Execute("setaz 77")
	b.Execute("setres fixed 42")
	word, pots, leds := hw.CPLD.Word(), hw.Pot.Value(1), hw.LEDs.Colors()

	assert.Equal(t, "shutting down", b.Execute("shutdown"))
	assert.True(t, hw.Killed())
	assert.True(t, b.IsShutdown())
	assert.False(t, b.Running())
	assert.Equal(t, word, hw.CPLD.Word(), "outputs left as they were")
	assert.Equal(t, pots, hw.Pot.Value(1))
	assert.Equal(t, leds, hw.LEDs.Colors())

	assert.Equal(t, "shutting down", b.Execute("shutdown"), "idempotent")
}

func TestBoardRegulatesWhenRunning(t *testing.T) {
	b, hw := newBoard(t, testConfig("ascending"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()
	assert.True(t, b.Running())

	require.Eventually(t, func() bool {
		st, _ := b.State().Channel(core.ChannelAdjustable)
		return st.Filtered > 4.9 && st.Filtered < 5.1
	}, 10*time.Second, 10*time.Millisecond)

	require.Eventually(t, hw.HeartbeatOn, 5*time.Second, 10*time.Millisecond)
}

func TestHeartbeatToggles(t *testing.T) {
	b, hw := newBoard(t, testConfig("ascending"), nil)
	assert.False(t, hw.HeartbeatOn())
	b.Heartbeat().Tick()
	assert.True(t, hw.HeartbeatOn())
	assert.True(t, b.Heartbeat().On())
	b.Heartbeat().Tick()
	assert.False(t, hw.HeartbeatOn())
}

func TestHeartbeatLogsPinFault(t *testing.T) {
	cfg := testConfig("ascending")
	hw, err := sim.New(cfg)
	require.NoError(t, err)
	log, hook := logtest.NewNullLogger()
	b, err := core.NewBoard(cfg, hw.Hardware(log, nil))
	require.NoError(t, err)
	require.NoError(t, b.Init())
	hook.Reset()

	pin := core.GPIOPin(cfg.Heartbeat.Pin)
	hw.GPIO.Fail(pin, true)
	b.Heartbeat().Tick()
	b.Heartbeat().Tick()

	var faults []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && strings.HasPrefix(e.Message, "heartbeat:") {
			faults = append(faults, e.Message)
		}
	}
	require.Len(t, faults, 1, "one entry per run of failures")
	assert.Contains(t, faults[0], "simulated pin fault")

	hw.GPIO.Fail(pin, false)
	b.Heartbeat().Tick()
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "heartbeat: pin recovered", hook.LastEntry().Message)
	assert.Equal(t, b.Heartbeat().On(), hw.HeartbeatOn())
}

func TestNewBoardRejectsBadConfig(t *testing.T) {
	cfg := testConfig("sideways")
	hw, err := sim.New(config.DefaultBoardConfig())
	require.NoError(t, err)
	_, err = core.NewBoard(cfg, hw.Hardware(nil, nil))
	assert.ErrorIs(t, err, core.ErrInvalidValue)
}
