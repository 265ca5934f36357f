package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/wagateway/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "sessions.db")
	s, err := Open(Config{Path: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestSaveAndList(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	created := time.UnixMilli(1700000000000)
	require.NoError(t, s.Save(ctx, session.Session{
		ID:           "b",
		State:        session.StateConnected,
		CreatedAt:    created.Add(time.Second),
		LastActivity: created.Add(time.Minute),
	}))
	require.NoError(t, s.Save(ctx, session.Session{
		ID:         "a",
		State:      session.StateReconnecting,
		RetryCount: 3,
		LastError:  "boom",
		CreatedAt:  created,
	}))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, session.StateReconnecting, list[0].State)
	assert.Equal(t, 3, list[0].RetryCount)
	assert.Equal(t, "boom", list[0].LastError)
	assert.True(t, list[0].CreatedAt.Equal(created))
	assert.True(t, list[0].LastActivity.IsZero())

	assert.Equal(t, "b", list[1].ID)
	assert.True(t, list[1].LastActivity.Equal(created.Add(time.Minute)))
}

func TestSave_UpdatesExisting(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	created := time.UnixMilli(1700000000000)

	require.NoError(t, s.Save(ctx, session.Session{ID: "a", State: session.StateConnecting, CreatedAt: created}))
	require.NoError(t, s.Save(ctx, session.Session{ID: "a", State: session.StateLoggedOut, CreatedAt: created.Add(time.Hour)}))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, session.StateLoggedOut, list[0].State)
	assert.True(t, list[0].CreatedAt.Equal(created), "creation time is preserved")
}

func TestDelete(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, session.Session{ID: "a", State: session.StateConnected}))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "missing"))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestList_SkipsUnknownStates(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(`INSERT INTO sessions (id, state, created_at, last_activity, updated_at) VALUES ('x', 'bogus', 1, 1, 1)`)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, session.Session{ID: "y", State: session.StateConnected, CreatedAt: time.UnixMilli(2)}))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "y", list[0].ID)
}

func TestReopenKeepsRecords(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, session.Session{ID: "a", State: session.StateConnected}))
	require.NoError(t, s.Close())

	reopened, err := Open(Config{Path: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Ping(ctx))
	list, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)
}

func TestTouch(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	created := time.UnixMilli(1700000000000)

	require.NoError(t, s.Save(ctx, session.Session{
		ID: "a", State: session.StateLoggedOut, CreatedAt: created, LastActivity: created,
	}))

	later := created.Add(time.Minute)
	require.NoError(t, s.Touch(ctx, "a", later))
	require.NoError(t, s.Touch(ctx, "a", created), "older activity is ignored")

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, session.StateLoggedOut, list[0].State, "touch never rewrites state")
	assert.True(t, list[0].LastActivity.Equal(later))
}

func TestTouch_DoesNotInsert(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, session.Session{ID: "a", State: session.StateConnected}))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Touch(ctx, "a", time.Now()))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
