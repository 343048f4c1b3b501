package mcu

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"antboard/host/serial"
)

// ErrTimeout is returned when the board does not answer in time.
var ErrTimeout = errors.New("timed out waiting for response")

// ErrClosed is returned after the link went away.
var ErrClosed = errors.New("connection closed")

// logPrefixes mark board log lines, which are not command responses.
var logPrefixes = []string{"[DEBUG] ", "[INFO] ", "[WARN] ", "[ERROR] "}

// MCU represents a connection to an antenna-control board. The board
// answers every non-empty command line with exactly one line; unsolicited
// log lines are routed to the log handler.
type MCU struct {
	// Serial port
	port serial.Port

	// cmdMu allows one command in flight.
	cmdMu     sync.Mutex
	responses chan string
	done      chan struct{}

	mu         sync.Mutex
	logHandler func(string)
	readErr    error
	connected  bool
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{}
}

// Connect connects to a board via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	m.Attach(port)
	return nil
}

// Attach starts talking over an already open port. Input the board sent
// before the attach is discarded.
func (m *MCU) Attach(port serial.Port) {
	port.Flush()

	m.mu.Lock()
	m.port = port
	m.responses = make(chan string, 16)
	m.done = make(chan struct{})
	m.readErr = nil
	m.connected = true
	m.mu.Unlock()

	go m.readLoop(port, m.responses, m.done)
}

// SetLogHandler sets the function receiving board log lines.
func (m *MCU) SetLogHandler(fn func(line string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logHandler = fn
}

func (m *MCU) readLoop(port serial.Port, responses chan string, done chan<- struct{}) {
	defer close(done)

	var pending []byte
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexAny(pending, "\r\n")
			if i < 0 {
				break
			}
			line := strings.TrimSpace(string(pending[:i]))
			pending = pending[i+1:]
			if line != "" {
				m.route(line, responses)
			}
		}
		if err == nil {
			continue
		}
		// tarm reports a read timeout as EOF with no data.
		if _, native := port.(*serial.NativePort); native && errors.Is(err, io.EOF) && m.IsConnected() {
			continue
		}
		if errors.Is(err, io.EOF) {
			err = ErrClosed
		}
		m.mu.Lock()
		if m.connected {
			m.readErr = err
		}
		m.connected = false
		m.mu.Unlock()
		return
	}
}

func (m *MCU) route(line string, responses chan string) {
	for _, p := range logPrefixes {
		if strings.HasPrefix(line, p) {
			m.mu.Lock()
			fn := m.logHandler
			m.mu.Unlock()
			if fn != nil {
				fn(line)
			}
			return
		}
	}
	select {
	case responses <- line:
	default:
		// Nobody is waiting; drop the oldest unclaimed line.
		select {
		case <-responses:
		default:
		}
		responses <- line
	}
}

// Execute sends one command line and waits for its response line.
func (m *MCU) Execute(line string, timeout time.Duration) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}
	if strings.ContainsAny(line, "\r\n") {
		return "", fmt.Errorf("command contains a line break")
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	port, responses, done, connected, readErr := m.port, m.responses, m.done, m.connected, m.readErr
	m.mu.Unlock()
	if !connected {
		if readErr != nil {
			return "", fmt.Errorf("%w: %v", ErrClosed, readErr)
		}
		return "", ErrClosed
	}

	// Drop answers to commands that timed out earlier.
	for drained := false; !drained; {
		select {
		case <-responses:
		default:
			drained = true
		}
	}

	if _, err := port.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("failed to send %q: %w", line, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-responses:
		return resp, nil
	case <-done:
		return "", ErrClosed
	case <-timer.C:
		return "", fmt.Errorf("%s: %w", line, ErrTimeout)
	}
}

// Close closes the connection to the board
func (m *MCU) Close() error {
	m.mu.Lock()
	port, done := m.port, m.done
	m.connected = false
	m.mu.Unlock()
	if port == nil {
		return nil
	}
	err := port.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return err
}

// IsConnected returns whether the board is connected
func (m *MCU) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
