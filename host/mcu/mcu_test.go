package mcu

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"antboard/config"
	"antboard/core"
	"antboard/host/serial"
	"antboard/sim"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePort is one end of an in-memory link.
type pipePort struct {
	io.Reader
	io.Writer
	closeFn func() error
}

func (p *pipePort) Close() error { return p.closeFn() }
func (p *pipePort) Flush() error { return nil }

// newPipe returns a port for the client plus the board side of the link.
func newPipe() (*pipePort, io.Reader, io.WriteCloser) {
	toBoardR, toBoardW := io.Pipe()
	fromBoardR, fromBoardW := io.Pipe()
	port := &pipePort{
		Reader: fromBoardR,
		Writer: toBoardW,
		closeFn: func() error {
			toBoardW.Close()
			return fromBoardR.Close()
		},
	}
	return port, toBoardR, fromBoardW
}

func TestExecuteAgainstSimulatedBoard(t *testing.T) {
	cfg := config.DefaultBoardConfig()
	cfg.LEDs.StartupMS = 0
	cfg.CPLD.ClockDelayUS = 0
	hw, err := sim.New(cfg)
	require.NoError(t, err)
	board, err := core.NewBoard(cfg, hw.Hardware(nil, nil))
	require.NoError(t, err)
	require.NoError(t, board.Init())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	logger, _ := test.NewNullLogger()
	served := make(chan error, 1)
	go func() { served <- sim.Serve(ctx, ln, board.Execute, logger) }()

	port, err := serial.Dial(ln.Addr().String(), time.Second)
	require.NoError(t, err)
	m := NewMCU()
	m.Attach(port)
	assert.True(t, m.IsConnected())

	resp, err := m.Execute("setaz 0x00FFAA", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "az=65450 (0b000000001111111110101010)", resp)

	resp, err = m.Execute("bogus", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Unknown command 'bogus'. Type 'help'.", resp)

	resp, err = m.Execute("   ", time.Second)
	require.NoError(t, err)
	assert.Empty(t, resp, "blank lines are not sent")

	require.NoError(t, m.Close())
	assert.False(t, m.IsConnected())
	_, err = m.Execute("status", time.Second)
	assert.ErrorIs(t, err, ErrClosed)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestLogLinesAreRouted(t *testing.T) {
	port, fromHost, toHost := newPipe()
	m := NewMCU()
	var mu sync.Mutex
	var logs []string
	m.SetLogHandler(func(l string) {
		mu.Lock()
		logs = append(logs, l)
		mu.Unlock()
	})
	m.Attach(port)
	defer m.Close()

	go func() {
		buf := make([]byte, 64)
		n, _ := fromHost.Read(buf)
		if strings.TrimSpace(string(buf[:n])) == "readsense" {
			io.WriteString(toHost, "[INFO] adjustable: calibration started\r\nsense raw=12\r\n")
		}
	}()

	resp, err := m.Execute("readsense", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "sense raw=12", resp)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"[INFO] adjustable: calibration started"}, logs)
}

func TestExecuteTimesOut(t *testing.T) {
	port, fromHost, toHost := newPipe()
	m := NewMCU()
	m.Attach(port)
	defer m.Close()

	go io.Copy(io.Discard, fromHost)

	_, err := m.Execute("status", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	// A late answer is discarded before the next command.
	io.WriteString(toHost, "late\r\n")
	time.Sleep(10 * time.Millisecond)
	_, err = m.Execute("status", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecuteRejectsLineBreaks(t *testing.T) {
	port, fromHost, _ := newPipe()
	m := NewMCU()
	m.Attach(port)
	defer m.Close()
	go io.Copy(io.Discard, fromHost)

	_, err := m.Execute("setaz 1\nshutdown", time.Second)
	assert.Error(t, err)
}

func TestBoardHangupClosesLink(t *testing.T) {
	port, fromHost, toHost := newPipe()
	m := NewMCU()
	m.Attach(port)
	go io.Copy(io.Discard, fromHost)

	toHost.Close()
	require.Eventually(t, func() bool { return !m.IsConnected() }, time.Second, time.Millisecond)
	_, err := m.Execute("status", time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestServeLogsConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger, hook := test.NewNullLogger()
	go sim.Serve(ctx, ln, strings.ToUpper, logger)

	port, err := serial.Dial(ln.Addr().String(), time.Second)
	require.NoError(t, err)
	m := NewMCU()
	m.Attach(port)
	resp, err := m.Execute("ping", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "PING", resp)
	m.Close()

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "client disconnected" && e.Level == logrus.InfoLevel {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestUnclaimedResponsesDropOldest(t *testing.T) {
	m := NewMCU()
	responses := make(chan string, 2)

	m.route("az=1", responses)
	m.route("az=2", responses)
	m.route("az=3", responses)
	m.route("[WARN] fixed: adc read failed", responses)

	require.Len(t, responses, 2)
	assert.Equal(t, "az=2", <-responses)
	assert.Equal(t, "az=3", <-responses)
}
