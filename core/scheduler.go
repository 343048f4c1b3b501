package core

import (
	"context"
	"sync"
	"time"
)

// Task is a periodic job run by the Scheduler.
type Task struct {
	Name   string
	Period time.Duration
	Run    func()
}

// Scheduler runs each task on its own goroutine at its period. A tick always
// runs to completion; a tick that overruns delays the next one rather than
// queueing.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []Task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     Logger
	running bool
}

func NewScheduler(log Logger) *Scheduler {
	if log == nil {
		log = NopLogger
	}
	return &Scheduler{log: log}
}

// Add registers a task. Tasks added after Start run from the next Start.
func (s *Scheduler) Add(name string, period time.Duration, run func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, Task{Name: name, Period: period, Run: run})
}

// Start launches every task. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
}

// Stop cancels every task and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// Running reports whether tasks are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(t)
		}
	}
}

func (s *Scheduler) tick(t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("task %s panicked: %v", t.Name, r)
		}
	}()
	t.Run()
}
