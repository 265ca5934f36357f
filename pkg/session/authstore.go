package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxSessionIDLength = 128

// ValidateID checks that id is usable as a registry key and a directory name.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return newError(CodeInvalidSessionID, "", "session id cannot be empty", nil)
	case len(id) > maxSessionIDLength:
		return newError(CodeInvalidSessionID, id, fmt.Sprintf("session id longer than %d bytes", maxSessionIDLength), nil)
	case strings.Contains(id, ".."):
		return newError(CodeInvalidSessionID, id, "session id cannot contain '..'", nil)
	case strings.ContainsAny(id, "/\\"):
		return newError(CodeInvalidSessionID, id, "session id cannot contain path separators", nil)
	case strings.Contains(id, "\x00"):
		return newError(CodeInvalidSessionID, "", "session id cannot contain null bytes", nil)
	}
	return nil
}

// DirAuthStore keeps each session's authentication material in its own
// directory under a base dir.
type DirAuthStore struct {
	baseDir string
}

// NewDirAuthStore creates a store rooted at baseDir.
func NewDirAuthStore(baseDir string) *DirAuthStore {
	return &DirAuthStore{baseDir: baseDir}
}

// Path returns, creating if needed, the auth directory for id.
func (s *DirAuthStore) Path(id string) (string, error) {
	dir, err := s.dir(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create auth directory: %w", err)
	}
	return dir, nil
}

// Remove deletes the auth directory for id. A missing directory is not an
// error.
func (s *DirAuthStore) Remove(id string) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove auth directory: %w", err)
	}
	return nil
}

// List returns the session ids that have auth material on disk.
func (s *DirAuthStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read auth directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), authDirPrefix) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(entry.Name(), authDirPrefix))
	}
	return ids, nil
}

const authDirPrefix = "session-"

func (s *DirAuthStore) dir(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	if s.baseDir == "" {
		return "", fmt.Errorf("auth base directory is not configured")
	}
	return filepath.Join(s.baseDir, authDirPrefix+id), nil
}
