package userstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// MaxScheduleHour bounds the daily renewal hour: the upstream sites
// reset in the early local hours, so anything past 09:59 is rejected.
const MaxScheduleHour = 9

// ErrScheduleRange is returned when a requested daily schedule falls
// outside hour 0–9 / minute 0–59.
var ErrScheduleRange = errors.New("schedule must be between 0:00 and 9:59")

func ValidateSchedule(hour, minute int) error {
	if hour < 0 || hour > MaxScheduleHour || minute < 0 || minute > 59 {
		return ErrScheduleRange
	}
	return nil
}

// Store persists the full user/account record set as one JSON document.
// Every write goes through a temp-file-plus-rename so a crash mid-save
// can never leave a truncated file behind. A single mutex serializes
// load→mutate→save cycles, the design assumes one orchestrator process.
type Store struct {
	mu   sync.Mutex
	path string
}

func Open(path string) *Store {
	return &Store{path: path}
}

// Load returns a deep snapshot of the current record set. A missing file
// yields an empty set. A corrupt file is reported, reset to empty on
// disk, and also yields an empty set rather than an error.
func (s *Store) Load() (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Update runs fn over the freshly loaded record set under the store lock
// and atomically persists the mutated set if fn succeeds. Returning an
// error from fn aborts the write.
func (s *Store) Update(fn func(*Data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked()
	if err != nil {
		return err
	}
	err = fn(data)
	if err != nil {
		return err
	}
	return s.saveLocked(data)
}

func (s *Store) loadLocked() (*Data, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewData(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	data := NewData()
	err = json.Unmarshal(raw, data)
	if err != nil {
		slog.Error("data file is corrupt, resetting to empty", "path", s.path, "err", err)
		data = NewData()
		saveErr := s.saveLocked(data)
		if saveErr != nil {
			return nil, saveErr
		}
		return data, nil
	}

	// migration-on-read: older files can miss maps or carry out-of-range
	// schedules, fix them up and persist the corrected shape right away
	migrated := false
	for uid, u := range data.Users {
		if u == nil {
			u = &User{}
			data.Users[uid] = u
			migrated = true
		}
		if u.normalize() {
			migrated = true
		}
	}
	if migrated {
		slog.Info("migrated legacy user records", "path", s.path)
		err = s.saveLocked(data)
		if err != nil {
			return nil, err
		}
	}

	return data, nil
}

func (s *Store) saveLocked(data *Data) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".data-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	_, err = tmp.Write(raw)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	err = tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	err = os.Rename(tmp.Name(), s.path)
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
