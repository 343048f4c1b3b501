package core

import (
	"fmt"
	"sync"
	"time"
)

// Logger is the logging surface core code uses. *logrus.Logger and
// *logrus.Entry satisfy it on the host; firmware uses WriterLogger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// WriterLogger formats "[LEVEL] msg" lines onto a DebugWriter. After
// StartAsync, lines are queued and written by a background goroutine so a
// slow USB host never stalls a control loop.
type WriterLogger struct {
	write DebugWriter
	ch    chan string
}

func NewWriterLogger(w DebugWriter) *WriterLogger {
	return &WriterLogger{write: w}
}

// StartAsync starts the output goroutine with a queue of n lines.
func (l *WriterLogger) StartAsync(n int) {
	l.ch = make(chan string, n)
	go func() {
		for msg := range l.ch {
			l.write(msg)
		}
	}()
}

func (l *WriterLogger) emit(level, format string, args []interface{}) {
	msg := "[" + level + "] " + fmt.Sprintf(format, args...)
	if l.ch == nil {
		l.write(msg)
		return
	}
	select {
	case l.ch <- msg:
	default:
		// Queue full, drop message (non-blocking)
	}
}

func (l *WriterLogger) Debugf(format string, args ...interface{}) { l.emit("DEBUG", format, args) }
func (l *WriterLogger) Infof(format string, args ...interface{})  { l.emit("INFO", format, args) }
func (l *WriterLogger) Warnf(format string, args ...interface{})  { l.emit("WARN", format, args) }
func (l *WriterLogger) Errorf(format string, args ...interface{}) { l.emit("ERROR", format, args) }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

// EventKind classifies an entry in the event ring.
type EventKind uint8

const (
	EvtWiperStep EventKind = iota + 1 // control loop moved a wiper
	EvtWiperSet                       // manual wiper write
	EvtCalStage                       // calibration advanced
	EvtSensorFail                     // ADC read failed after retries
	EvtCPLDWrite                      // command word written
	EvtTransportFail                  // CPLD or pot bus failure
)

func (k EventKind) String() string {
	switch k {
	case EvtWiperStep:
		return "WIPER_STEP"
	case EvtWiperSet:
		return "WIPER_SET"
	case EvtCalStage:
		return "CAL_STAGE"
	case EvtSensorFail:
		return "SENSOR_FAIL"
	case EvtCPLDWrite:
		return "CPLD_WRITE"
	case EvtTransportFail:
		return "TRANSPORT_FAIL"
	}
	return "UNKNOWN"
}

// Event captures a control event for post-mortem analysis.
type Event struct {
	Kind    EventKind
	Channel uint8
	At      time.Time
	Value1  int64
	Value2  int64
}

const EventRingSize = 32 // Keep last 32 events for post-mortem

// EventRing keeps the most recent events. Recording never blocks on I/O.
type EventRing struct {
	mu   sync.Mutex
	buf  [EventRingSize]Event
	head uint8
}

// Record stores an event, overwriting the oldest.
func (r *EventRing) Record(kind EventKind, ch uint8, v1, v2 int64) {
	r.mu.Lock()
	r.buf[r.head] = Event{Kind: kind, Channel: ch, At: time.Now(), Value1: v1, Value2: v2}
	r.head = (r.head + 1) % EventRingSize
	r.mu.Unlock()
}

// Events returns the recorded events oldest first.
func (r *EventRing) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, EventRingSize)
	for i := uint8(0); i < EventRingSize; i++ {
		e := r.buf[(r.head+i)%EventRingSize]
		if e.Kind == 0 {
			continue // Empty slot
		}
		out = append(out, e)
	}
	return out
}

// Clear empties the ring.
func (r *EventRing) Clear() {
	r.mu.Lock()
	r.buf = [EventRingSize]Event{}
	r.head = 0
	r.mu.Unlock()
}
