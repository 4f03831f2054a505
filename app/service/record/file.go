package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one JSON document per caller, user_history_<id>.json.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record dir: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(callerID string) string {
	return filepath.Join(s.dir, "user_history_"+callerID+".json")
}

func (s *FileStore) Load(_ context.Context, callerID string) (*Record, error) {
	if !ValidID(callerID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, callerID)
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.path(callerID))
	s.mu.RUnlock()

	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("New caller", "caller", callerID)
		return New(callerID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var rec Record
	if err = json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record of %s: %w", callerID, err)
	}

	if rec.PhoneNumber == "" {
		rec.PhoneNumber = callerID
	}

	return &rec, nil
}

func (s *FileStore) Save(_ context.Context, callerID string, rec *Record) error {
	if !ValidID(callerID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, callerID)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close record: %w", err)
	}

	if err = os.Rename(tmp.Name(), s.path(callerID)); err != nil {
		return fmt.Errorf("failed to replace record: %w", err)
	}

	rec.isNew = false

	return nil
}
