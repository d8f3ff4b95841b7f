package uploader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StateStore persists the set of completed parts for an upload, keyed by
// intent id. The persisted set is the source of truth on resume: in-memory
// state never survives a crash, this does.
type StateStore interface {
	Load(intentID string) (map[int32]string, error)
	Save(intentID string, parts map[int32]string) error
	Clear(intentID string) error
}

// FileStateStore keeps one JSON file per intent under a directory.
type FileStateStore struct {
	dir string
}

// NewFileStateStore creates the backing directory if needed.
func NewFileStateStore(dir string) (*FileStateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStateStore{dir: dir}, nil
}

func (s *FileStateStore) path(intentID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("upload-%s.json", intentID))
}

// Load returns the persisted part map, or an empty map when none exists.
func (s *FileStateStore) Load(intentID string) (map[int32]string, error) {
	data, err := os.ReadFile(s.path(intentID))
	if os.IsNotExist(err) {
		return map[int32]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read upload state: %w", err)
	}

	var parts map[int32]string
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("failed to parse upload state: %w", err)
	}
	return parts, nil
}

// Save writes the part map atomically via a rename.
func (s *FileStateStore) Save(intentID string, parts map[int32]string) error {
	data, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("failed to encode upload state: %w", err)
	}

	tmp := s.path(intentID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write upload state: %w", err)
	}
	if err := os.Rename(tmp, s.path(intentID)); err != nil {
		return fmt.Errorf("failed to persist upload state: %w", err)
	}
	return nil
}

// Clear removes the persisted state after a successful completion.
func (s *FileStateStore) Clear(intentID string) error {
	err := os.Remove(s.path(intentID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear upload state: %w", err)
	}
	return nil
}
