// Package storage keeps the snapshot history shown by the HTTP API.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"peerkeeper/internal/models"
)

const DefaultLimit = 500

// HistoryStorage holds the most recent snapshots and optionally mirrors them
// to a JSON file. The history is for display only.
type HistoryStorage struct {
	mu      sync.RWMutex
	path    string
	limit   int
	history []models.HistoryEntry
}

// NewHistoryStorage creates a storage capped at limit entries. An empty path
// keeps history in memory; otherwise existing history is loaded from it.
func NewHistoryStorage(path string, limit int) (*HistoryStorage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &HistoryStorage{path: path, limit: limit}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append records entry, drops the oldest ones past the limit and persists.
func (s *HistoryStorage) Append(entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, entry)
	s.trimLocked()
	return s.persistLocked()
}

// Record appends snap stamped with at.
func (s *HistoryStorage) Record(at time.Time, snap models.Snapshot) error {
	return s.Append(models.HistoryEntry{Timestamp: at.UTC(), Snapshot: snap})
}

// Latest returns the newest entry if there is one.
func (s *HistoryStorage) Latest() (models.HistoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return models.HistoryEntry{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns a copy of all entries, oldest first.
func (s *HistoryStorage) History() []models.HistoryEntry {
	return s.HistoryN(0)
}

// HistoryN returns a copy of the newest n entries. n <= 0 returns everything.
func (s *HistoryStorage) HistoryN(n int) []models.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n > 0 && n < len(s.history) {
		start = len(s.history) - n
	}
	out := make([]models.HistoryEntry, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

func (s *HistoryStorage) trimLocked() {
	if over := len(s.history) - s.limit; over > 0 {
		s.history = append([]models.HistoryEntry(nil), s.history[over:]...)
	}
}

func (s *HistoryStorage) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read history: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []models.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse history: %w", err)
	}
	s.history = entries
	s.trimLocked()
	return nil
}

func (s *HistoryStorage) persistLocked() error {
	if s.path == "" {
		return nil
	}
	bytes, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp history: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace history file: %w", err)
	}
	return nil
}
