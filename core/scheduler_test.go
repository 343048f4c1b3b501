package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordLogger) add(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *recordLogger) Debugf(f string, a ...interface{}) { l.add("DEBUG", f, a...) }
func (l *recordLogger) Infof(f string, a ...interface{})  { l.add("INFO", f, a...) }
func (l *recordLogger) Warnf(f string, a ...interface{})  { l.add("WARN", f, a...) }
func (l *recordLogger) Errorf(f string, a ...interface{}) { l.add("ERROR", f, a...) }

func (l *recordLogger) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func TestSchedulerRunsTasks(t *testing.T) {
	s := NewScheduler(nil)
	var fast, slow atomic.Int32
	s.Add("fast", time.Millisecond, func() { fast.Add(1) })
	s.Add("slow", 20*time.Millisecond, func() { slow.Add(1) })

	s.Start(context.Background())
	assert.True(t, s.Running())
	require.Eventually(t, func() bool { return fast.Load() >= 10 && slow.Load() >= 1 },
		2*time.Second, time.Millisecond)
	s.Stop()
	assert.False(t, s.Running())

	n := fast.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, fast.Load(), "no ticks after Stop")
}

func TestSchedulerRecoversPanics(t *testing.T) {
	log := &recordLogger{}
	s := NewScheduler(log)
	var ticks atomic.Int32
	s.Add("bad", time.Millisecond, func() {
		ticks.Add(1)
		panic("boom")
	})

	s.Start(context.Background())
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, time.Millisecond)
	s.Stop()
	assert.True(t, log.contains("task bad panicked: boom"))
}

func TestSchedulerStopsWithContext(t *testing.T) {
	s := NewScheduler(nil)
	var ticks atomic.Int32
	s.Add("t", time.Millisecond, func() { ticks.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	s.Start(ctx) // second start is a no-op
	require.Eventually(t, func() bool { return ticks.Load() > 0 }, time.Second, time.Millisecond)
	cancel()
	s.Stop()
	s.Stop()
}

func TestEventRing(t *testing.T) {
	var r EventRing
	assert.Empty(t, r.Events())

	for i := 0; i < EventRingSize+5; i++ {
		r.Record(EvtWiperStep, 1, int64(i), 0)
	}
	events := r.Events()
	require.Len(t, events, EventRingSize)
	assert.Equal(t, int64(5), events[0].Value1, "oldest kept first")
	assert.Equal(t, int64(EventRingSize+4), events[EventRingSize-1].Value1)
	assert.Equal(t, "WIPER_STEP", events[0].Kind.String())

	r.Clear()
	assert.Empty(t, r.Events())
}

func TestWriterLogger(t *testing.T) {
	var lines []string
	l := NewWriterLogger(func(s string) { lines = append(lines, s) })
	l.Infof("board %s", "ready")
	l.Errorf("code %d", 7)
	assert.Equal(t, []string{"[INFO] board ready", "[ERROR] code 7"}, lines)
}

func TestWriterLoggerAsyncDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []string
	l := NewWriterLogger(func(s string) {
		<-release
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	l.StartAsync(2)

	for i := 0; i < 10; i++ {
		l.Warnf("line %d", i)
	}
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, time.Second, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(got), 3, "queue of 2 plus one in flight")
	assert.Equal(t, "[WARN] line 0", got[0])
}
