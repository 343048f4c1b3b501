package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the core matches exactly one of these
// with errors.Is.
var (
	ErrInvalidValue   = errors.New("invalid value")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrUnknownBlock   = errors.New("unknown block")
	ErrUnknownCommand = errors.New("unknown command")
	ErrTransport      = errors.New("transport error")
	ErrSensor         = errors.New("sensor error")
	ErrPersistence    = errors.New("persistence error")
	ErrCalibrating    = errors.New("channel is calibrating")
)

// Error carries the kind of failure, the operation that failed and an
// optional underlying cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Kind == kind {
		return ce
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Retry calls fn up to attempts times and returns the last error. Only
// transport and sensor failures are retried; anything else returns at once.
func Retry(attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransport) && !errors.Is(err, ErrSensor) {
			return err
		}
	}
	return err
}
