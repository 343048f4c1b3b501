//go:build !tinygo

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"antboard/core"
)

// DefaultCalibrationFile is the file name used when none is configured.
const DefaultCalibrationFile = "voltage_calibration.json"

// FileStore keeps calibration in a JSON file keyed by channel name. Writes go
// to a temporary file that is renamed over the old one.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultCalibrationFile
	}
	return &FileStore{path: path}
}

// Path returns the file backing the store.
func (f *FileStore) Path() string { return f.path }

// Load reads the file. A missing file yields an empty table. Entries that
// carry only slope and intercept are returned with a zero wiper model.
func (f *FileStore) Load() (core.CalibrationTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return core.CalibrationTable{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var raw map[string]core.Calibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	table := core.CalibrationTable{}
	for name, cal := range raw {
		ch, err := core.ParseChannel(name)
		if err != nil {
			continue
		}
		table[ch] = cal
	}
	return table, nil
}

// Save replaces the file with t.
func (f *FileStore) Save(t core.CalibrationTable) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw := make(map[string]core.Calibration, len(t))
	for ch, cal := range t {
		raw[ch.String()] = cal
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".calibration-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

// Reset deletes the file.
func (f *FileStore) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.path, err)
	}
	return nil
}
