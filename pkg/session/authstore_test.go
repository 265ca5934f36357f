package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		shouldErr bool
	}{
		{"valid id", "tenant-1", false},
		{"with colon", "shop:42", false},
		{"empty id", "", true},
		{"blank id", "   ", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"null byte", "a\x00b", true},
		{"too long", strings.Repeat("x", maxSessionIDLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if tt.shouldErr {
				assert.ErrorIs(t, err, ErrInvalidSessionID)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDirAuthStore_PathAndRemove(t *testing.T) {
	base := t.TempDir()
	store := NewDirAuthStore(base)

	dir, err := store.Path("tenant-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "session-tenant-1"), dir)
	assert.DirExists(t, dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Default"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Default", "Cookies"), []byte("c"), 0600))

	ids, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-1"}, ids)

	require.NoError(t, store.Remove("tenant-1"))
	assert.NoDirExists(t, dir)

	// Removing again tolerates absence.
	assert.NoError(t, store.Remove("tenant-1"))
}

func TestDirAuthStore_RejectsUnsafeIDs(t *testing.T) {
	store := NewDirAuthStore(t.TempDir())

	_, err := store.Path("../escape")
	assert.Error(t, err)
	assert.Error(t, store.Remove("../escape"))
}

func TestDirAuthStore_ListMissingBase(t *testing.T) {
	store := NewDirAuthStore(filepath.Join(t.TempDir(), "absent"))
	ids, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestError_IsMatchesCode(t *testing.T) {
	err := newError(CodeEngine, "a", "send failed", errors.New("boom"))

	assert.ErrorIs(t, err, ErrEngine)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, CodeEngine, CodeOf(err))
	assert.Contains(t, err.Error(), "session a")
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}
