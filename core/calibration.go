package core

import "sync"

// CalibrationTable holds persisted calibrations keyed by channel. A channel
// missing from the table uses its compiled-in default.
type CalibrationTable map[Channel]Calibration

// CalibrationStore persists calibrations. Save is all-or-nothing: a failed
// Save never damages what a previous Save wrote.
type CalibrationStore interface {
	Load() (CalibrationTable, error)
	Save(CalibrationTable) error
	Reset() error
}

// memoryStore keeps the table in RAM. It is used when no persistent store is
// configured.
type memoryStore struct {
	mu    sync.Mutex
	table CalibrationTable
}

// NewMemoryStore returns a store that forgets everything on restart.
func NewMemoryStore() CalibrationStore {
	return &memoryStore{}
}

func (m *memoryStore) Load() (CalibrationTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(CalibrationTable, len(m.table))
	for k, v := range m.table {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) Save(t CalibrationTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = make(CalibrationTable, len(t))
	for k, v := range t {
		m.table[k] = v
	}
	return nil
}

func (m *memoryStore) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = nil
	return nil
}
