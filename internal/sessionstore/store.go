// Package sessionstore persists the agent runtime session id between runs.
package sessionstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tempPattern = ".lilo-session-*"

// FileStore keeps a single session id in a file. The file content is the id
// exactly, with no trailing newline.
type FileStore struct {
	Path string
}

// New returns a store backed by path.
func New(path string) *FileStore {
	return &FileStore{Path: path}
}

// Save replaces the stored id. The write goes to a temp file in the same
// directory followed by a rename, so readers never see a partial id.
func (s *FileStore) Save(id string) error {
	if s == nil || strings.TrimSpace(s.Path) == "" {
		return errors.New("session file path is required")
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("session id is required")
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(id); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod session file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	success = true
	return nil
}

// Load returns the stored id, or "" when nothing has been stored yet.
func (s *FileStore) Load() (string, error) {
	if s == nil || strings.TrimSpace(s.Path) == "" {
		return "", errors.New("session file path is required")
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read session file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
