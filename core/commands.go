package core

import (
	"errors"
	"strconv"
	"strings"
)

// Interpreter turns command lines into board operations. It holds no state
// besides its registry.
type Interpreter struct {
	board    *Board
	registry *CommandRegistry
}

func NewInterpreter(b *Board) *Interpreter {
	in := &Interpreter{board: b, registry: NewCommandRegistry()}
	in.registerCommands()
	return in
}

// Registry exposes the command table.
func (in *Interpreter) Registry() *CommandRegistry { return in.registry }

// Execute runs one line and returns exactly one response line. Handler
// panics are reported as errors.
func (in *Interpreter) Execute(line string) (resp string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	name := strings.ToLower(fields[0])
	if _, ok := in.registry.Lookup(name); !ok {
		return "Unknown command '" + fields[0] + "'. Type 'help'."
	}

	defer func() {
		if r := recover(); r != nil {
			in.board.log.Errorf("command %s panicked: %v", name, r)
			resp = "Error: internal error"
		}
	}()
	out, err := in.registry.Dispatch(name, fields[1:])
	if err != nil {
		return "Error: " + err.Error()
	}
	return out
}

func (in *Interpreter) registerCommands() {
	r := in.registry
	r.Register("help", "help", in.cmdHelp)
	r.Register("setres", "setres <pot> <0-255>", in.cmdSetRes)
	r.Register("setvolt", "setvolt <channel> <volts>", in.cmdSetVolt)
	r.Register("readvolt", "readvolt [channel]", in.cmdReadVolt)
	r.Register("calibrate", "calibrate <channel|all> [abort | <v_low> <v_high>]", in.cmdCalibrate)
	r.Register("calibrate_all", "calibrate_all", in.cmdCalibrateAll)
	r.Register("resetcal", "resetcal", in.cmdResetCal)
	r.Register("debugvolt", "debugvolt [channel]", in.cmdDebugVolt)
	r.Register("debug", "debug", in.cmdDebug)
	r.Register("cpld_write", "cpld_write <48-bit pattern>", in.cmdCPLDWrite)
	for _, b := range AllBlocks {
		blk := b
		r.Register("set"+blk.Name(), "set"+blk.Name()+" <0-"+strconv.FormatUint(uint64(blk.Max()), 10)+">",
			func(args []string) (string, error) { return in.cmdSetBlock(blk, args) })
	}
	r.Register("readcpld", "readcpld", in.cmdReadCPLD)
	for _, b := range AllBlocks {
		blk := b
		r.Register("read"+blk.Name(), "read"+blk.Name(),
			func(args []string) (string, error) { return in.cmdReadBlock(blk, args) })
	}
	r.Register("readcommand", "readcommand", in.cmdReadCommand)
	r.Register("setled", "setled <0-3> <0-7|auto>", in.cmdSetLED)
	r.Register("setfan", "setfan <0-100>", in.cmdSetFan)
	r.Register("readsense", "readsense", in.cmdReadSense)
	r.Register("readmode", "readmode", in.cmdReadMode)
	r.Register("status", "status", in.cmdStatus)
	r.Register("events", "events", in.cmdEvents)
	r.Register("shutdown", "shutdown", in.cmdShutdown)
}

func usage(u string) error {
	return newError(ErrInvalidValue, "", "usage: %s", u)
}

// channelArgs resolves an optional channel argument to the list it names.
func channelArgs(args []string) ([]Channel, error) {
	if len(args) == 0 {
		return Channels, nil
	}
	ch, err := ParseChannel(args[0])
	if err != nil {
		return nil, err
	}
	return []Channel{ch}, nil
}

func (in *Interpreter) cmdHelp(args []string) (string, error) {
	return "Commands: " + in.registry.GetDictionary(), nil
}

func (in *Interpreter) cmdSetRes(args []string) (string, error) {
	if len(args) != 2 {
		return "", usage("setres <pot> <0-255>")
	}
	ch, err := ParseChannel(args[0])
	if err != nil {
		return "", err
	}
	v, err := ParseNumber(args[1])
	if err != nil {
		return "", err
	}
	if v > WiperMax {
		return "", newError(ErrInvalidValue, "setres", "wiper %d outside 0..%d", v, WiperMax)
	}
	if err := in.board.voltage.SetWiperManual(ch, int(v)); err != nil {
		return "", err
	}
	return "pot " + itoa(int(ch)) + " (" + ch.String() + ") wiper set to " + itoa(int(v)) + ", manual", nil
}

func (in *Interpreter) cmdSetVolt(args []string) (string, error) {
	if len(args) != 2 {
		return "", usage("setvolt <channel> <volts>")
	}
	ch, err := ParseChannel(args[0])
	if err != nil {
		return "", err
	}
	volts, err := ParseFloat(args[1])
	if err != nil {
		return "", err
	}
	if err := in.board.voltage.SetTarget(ch, volts); err != nil {
		return "", err
	}
	return ch.String() + " target set to " + formatVolts(volts) + " V", nil
}

func (in *Interpreter) cmdReadVolt(args []string) (string, error) {
	chans, err := channelArgs(args)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(chans))
	for _, ch := range chans {
		st, _ := in.board.state.Channel(ch)
		s := ch.String() + ": " + formatVolts(st.Filtered) + " V (target " + formatVolts(st.Target) + " V, " + st.Mode.String() + ")"
		if !st.SensorOK {
			s += " sensor fault"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; "), nil
}

func (in *Interpreter) cmdCalibrate(args []string) (string, error) {
	const u = "calibrate <channel|all> [abort | <v_low> <v_high>]"
	if len(args) != 1 && len(args) != 2 && len(args) != 3 {
		return "", usage(u)
	}
	var chans []Channel
	if toLower(args[0]) == "all" {
		chans = Channels
	} else {
		ch, err := ParseChannel(args[0])
		if err != nil {
			return "", err
		}
		chans = []Channel{ch}
	}

	v := in.board.voltage
	switch len(args) {
	case 2:
		if toLower(args[1]) != "abort" {
			return "", usage(u)
		}
		var errs []error
		var names []string
		for _, ch := range chans {
			if err := v.AbortCalibration(ch); err != nil {
				errs = append(errs, err)
				continue
			}
			names = append(names, ch.String())
		}
		if len(names) == 0 {
			return "", errors.Join(errs...)
		}
		return "calibration aborted: " + strings.Join(names, ", "), nil
	case 3:
		lo, err := ParseFloat(args[1])
		if err != nil {
			return "", err
		}
		hi, err := ParseFloat(args[2])
		if err != nil {
			return "", err
		}
		return in.startCalibration(chans, func(ch Channel) error { return v.CalibrateWith(ch, lo, hi) })
	}
	return in.startCalibration(chans, v.Calibrate)
}

func (in *Interpreter) cmdCalibrateAll(args []string) (string, error) {
	return in.startCalibration(Channels, in.board.voltage.Calibrate)
}

func (in *Interpreter) startCalibration(chans []Channel, start func(Channel) error) (string, error) {
	var started []string
	var errs []error
	for _, ch := range chans {
		if err := start(ch); err != nil {
			errs = append(errs, err)
			continue
		}
		started = append(started, ch.String())
	}
	if len(started) == 0 {
		return "", errors.Join(errs...)
	}
	msg := "calibration started: " + strings.Join(started, ", ")
	if len(errs) > 0 {
		msg += " (" + errors.Join(errs...).Error() + ")"
	}
	return msg, nil
}

func (in *Interpreter) cmdResetCal(args []string) (string, error) {
	if err := in.board.voltage.ResetCalibration(in.board.defaults); err != nil {
		return "", err
	}
	return "calibration reset to defaults", nil
}

func (in *Interpreter) cmdDebugVolt(args []string) (string, error) {
	chans, err := channelArgs(args)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(chans))
	for _, ch := range chans {
		st, _ := in.board.state.Channel(ch)
		cal := st.Calibration
		s := ch.String() + ": raw=" + itoa(int(st.Raw)) +
			" slope=" + strconv.FormatFloat(cal.Slope, 'g', 9, 64) +
			" intercept=" + strconv.FormatFloat(cal.Intercept, 'g', 6, 64) +
			" volts=" + formatVolts(cal.Volts(st.Raw)) +
			" filtered=" + formatVolts(st.Filtered) +
			" target=" + formatVolts(st.Target) +
			" wiper=" + itoa(int(st.Wiper)) +
			" mode=" + st.Mode.String()
		if active, point, _ := in.board.voltage.CalibrationStatus(ch); active {
			s += " calibrating=" + point
		} else if _, _, last := in.board.voltage.CalibrationStatus(ch); last != nil {
			s += " last_calibration=\"" + last.Error() + "\""
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; "), nil
}

func (in *Interpreter) cmdDebug(args []string) (string, error) {
	if in.board.state.ToggleDebug() {
		return "debug on", nil
	}
	return "debug off", nil
}

func (in *Interpreter) cmdCPLDWrite(args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("cpld_write <48-bit pattern>")
	}
	raw, err := parsePattern(args[0])
	if err != nil {
		return "", err
	}
	w, err := in.board.WriteRaw(CommandWord(raw))
	if err != nil {
		return "", err
	}
	return "cpld word " + w.Hex() + " written", nil
}

func (in *Interpreter) cmdSetBlock(b Block, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("set" + b.Name() + " <value>")
	}
	v, err := ParseNumber(args[0])
	if err != nil {
		return "", err
	}
	if v > uint64(b.Max()) {
		return "", newError(ErrInvalidValue, "set"+b.Name(), "%d exceeds %d bits", v, b.Width())
	}
	w, err := in.board.SetBlocks(map[Block]uint32{b: uint32(v)})
	if err != nil {
		return "", err
	}
	return in.formatBlock(w, b), nil
}

func (in *Interpreter) cmdReadBlock(b Block, args []string) (string, error) {
	return in.formatBlock(in.board.state.Word(), b), nil
}

func (in *Interpreter) formatBlock(w CommandWord, b Block) string {
	v, bin := in.board.codec.DecodeBlock(w, b)
	return b.Name() + "=" + itoa(int(v)) + " (0b" + bin + ")"
}

func (in *Interpreter) cmdReadCPLD(args []string) (string, error) {
	w, err := in.board.ReadCPLD()
	if err != nil {
		return "", err
	}
	return in.board.codec.FormatWord(w), nil
}

func (in *Interpreter) cmdReadCommand(args []string) (string, error) {
	return in.board.codec.FormatWord(in.board.state.Word()), nil
}

func (in *Interpreter) cmdSetLED(args []string) (string, error) {
	if len(args) != 2 {
		return "", usage("setled <0-3> <0-7|auto>")
	}
	idx, err := ParseNumber(args[0])
	if err != nil {
		return "", err
	}
	if idx >= LEDCount {
		return "", newError(ErrInvalidValue, "setled", "led index %d outside 0..%d", idx, LEDCount-1)
	}
	if toLower(args[1]) == "auto" {
		if err := in.board.state.SetLEDAuto(int(idx)); err != nil {
			return "", err
		}
		return "led " + itoa(int(idx)) + " auto", nil
	}
	color, err := ParseNumber(args[1])
	if err != nil {
		return "", err
	}
	if color > uint64(ColorWhite) {
		return "", newError(ErrInvalidValue, "setled", "color %d outside 0..7", color)
	}
	if err := in.board.state.SetLED(int(idx), Color(color)); err != nil {
		return "", err
	}
	return "led " + itoa(int(idx)) + " set to 0b" + binaryString(color, 3), nil
}

func (in *Interpreter) cmdSetFan(args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("setfan <0-100>")
	}
	p, err := ParseNumber(args[0])
	if err != nil {
		return "", err
	}
	if p > 100 {
		return "", newError(ErrInvalidValue, "setfan", "%d outside 0..100", p)
	}
	if err := in.board.fan.Set(int(p)); err != nil {
		return "", err
	}
	if p < fanMinPercent {
		return "fan off", nil
	}
	return "fan set to " + itoa(int(p)) + "%", nil
}

func (in *Interpreter) cmdReadSense(args []string) (string, error) {
	raw, err := in.board.ReadSense()
	if err != nil {
		return "", err
	}
	return "sense raw=" + itoa(int(raw)), nil
}

func (in *Interpreter) cmdReadMode(args []string) (string, error) {
	mode, err := in.board.ReadMode()
	if err != nil {
		return "", err
	}
	return "mode=" + itoa(int(mode)) + " (0b" + binaryString(uint64(mode), len(in.board.cfg.Sense.ModePins)) + ")", nil
}

func (in *Interpreter) cmdStatus(args []string) (string, error) {
	var sb strings.Builder
	for _, ch := range Channels {
		st, _ := in.board.state.Channel(ch)
		sb.WriteString(ch.String() + "=" + formatVolts(st.Filtered) + "V/" + formatVolts(st.Target) + "V " +
			st.Mode.String() + " wiper=" + itoa(int(st.Wiper)) + "; ")
	}
	leds := in.board.leds.Last()
	sb.WriteString("leds=")
	for i := 0; i < LEDCount; i++ {
		st, _ := in.board.state.LED(i)
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(itoa(int(leds[i])))
		if st.Auto {
			sb.WriteByte('a')
		}
	}
	sb.WriteString("; word=" + in.board.state.Word().Hex())
	sb.WriteString("; fan=" + itoa(in.board.fan.Percent()) + "%")
	if in.board.state.Debug() {
		sb.WriteString("; debug")
	}
	return sb.String(), nil
}

func (in *Interpreter) cmdEvents(args []string) (string, error) {
	events := in.board.events.Events()
	if len(events) == 0 {
		return "no events", nil
	}
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = e.Kind.String() + " ch=" + itoa(int(e.Channel)) +
			" v1=" + strconv.FormatInt(e.Value1, 10) + " v2=" + strconv.FormatInt(e.Value2, 10)
	}
	return strings.Join(parts, "; "), nil
}

func (in *Interpreter) cmdShutdown(args []string) (string, error) {
	if err := in.board.Shutdown(); err != nil {
		return "", err
	}
	return "shutting down", nil
}
