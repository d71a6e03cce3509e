// Package state persists sync-run state between process invocations.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joshsymonds/actual-sync/internal/service"
)

// cursorState is the on-disk shape of the state file.
type cursorState struct {
	LastCursor string `json:"last_cursor"`
}

// FileCursorStore keeps the last applied Plaid cursor in a small JSON
// file. Losing the file is safe: the next run performs a full-history
// resync, and the identity index prevents duplicate creations.
type FileCursorStore struct {
	logger *slog.Logger
	path   string
}

// NewFileCursorStore creates a cursor store backed by the given path.
func NewFileCursorStore(path string) *FileCursorStore {
	return &FileCursorStore{
		path:   path,
		logger: slog.Default().With("component", "state"),
	}
}

// Load reads the persisted cursor. A missing or corrupt state file is
// treated as "no cursor" so a damaged file degrades to a full resync
// instead of blocking sync entirely.
func (s *FileCursorStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		s.logger.Warn("Could not read cursor state file, starting from full history",
			"path", s.path, "error", err)
		return "", nil
	}

	var state cursorState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("Cursor state file is corrupt, starting from full history",
			"path", s.path, "error", err)
		return "", nil
	}

	return state.LastCursor, nil
}

// Save writes the cursor atomically (temp file + rename) so a crash
// mid-write cannot corrupt the previous state.
func (s *FileCursorStore) Save(cursor string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.Marshal(cursorState{LastCursor: cursor})
	if err != nil {
		return fmt.Errorf("failed to encode cursor state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write cursor state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace cursor state: %w", err)
	}

	return nil
}

// Reset deletes the persisted cursor, forcing a full resync on the next
// run.
func (s *FileCursorStore) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cursor state: %w", err)
	}
	return nil
}

// Ensure FileCursorStore implements the service contract.
var _ service.CursorStore = (*FileCursorStore)(nil)
