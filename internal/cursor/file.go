package cursor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"eventflow/internal/model"
)

// FileStore persists the cursor as a JSON file, written atomically via
// a temp file and rename.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (model.Cursor, bool, error) {
	stat, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Cursor{}, false, nil
		}
		return model.Cursor{}, false, fmt.Errorf("stat cursor: %w", err)
	}
	if stat.IsDir() {
		return model.Cursor{}, false, fmt.Errorf("cursor path is a directory")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return model.Cursor{}, false, fmt.Errorf("read cursor: %w", err)
	}

	var cur model.Cursor
	if err := json.Unmarshal(data, &cur); err != nil {
		return model.Cursor{}, false, fmt.Errorf("parse cursor: %w", err)
	}
	return cur, true, nil
}

func (s *FileStore) Save(_ context.Context, cur model.Cursor) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cursor dir: %w", err)
		}
	}

	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cursor tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename cursor: %w", err)
	}
	return nil
}
