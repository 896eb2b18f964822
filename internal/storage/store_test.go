package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
		return nil
	}

	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})

	return client
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) Store {
			client := setupTestRedis(t)
			return NewRedisStoreFromClient(client, "test:")
		},
		"postgres": func(t *testing.T) Store {
			dsn := os.Getenv("TEST_DATABASE_URL")
			if dsn == "" {
				t.Skip("TEST_DATABASE_URL not set, skipping test")
			}
			s, err := NewPostgresStore(context.Background(), dsn)
			require.NoError(t, err)
			t.Cleanup(func() {
				s.db.Exec(`DELETE FROM tester_sessions`)
				s.db.Exec(`DELETE FROM tester_state`)
				s.Close()
			})
			return s
		},
	}
}

func TestStoreBackends(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("round trip", func(t *testing.T) {
				testRoundTrip(t, open(t))
			})
			t.Run("current pointer", func(t *testing.T) {
				testCurrentPointer(t, open(t))
			})
			t.Run("not found", func(t *testing.T) {
				testNotFound(t, open(t))
			})
		})
	}
}

func testRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()

	values := map[string]string{
		"AppKey":             "2b7e151628aed2a6abf7158809cf4f3c",
		"JoinRequest_DevEUI": "",
	}
	require.NoError(t, s.SaveSession(ctx, "beta", values))
	require.NoError(t, s.SaveSession(ctx, "alpha", map[string]string{"AppKey": ""}))

	got, err := s.GetSession(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, values, got)

	// callers may mutate what they passed in
	values["AppKey"] = "changed"
	got, err = s.GetSession(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, "2b7e151628aed2a6abf7158809cf4f3c", got["AppKey"])

	names, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	require.NoError(t, s.DeleteSession(ctx, "alpha"))
	names, err = s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, names)
}

func testCurrentPointer(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.CurrentSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.SetCurrentSession(ctx, "missing"), ErrNotFound)

	require.NoError(t, s.SaveSession(ctx, "one", map[string]string{}))
	require.NoError(t, s.SetCurrentSession(ctx, "one"))

	cur, err := s.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", cur)

	require.NoError(t, s.DeleteSession(ctx, "one"))
	_, err = s.CurrentSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testNotFound(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteSession(ctx, "nope"), ErrNotFound)
	assert.ErrorIs(t, s.SaveSession(ctx, "../escape", nil), ErrInvalidData)
}

func TestFileStoreLayout(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.SaveSession(ctx, "lab", map[string]string{"AppKey": ""}))
	require.NoError(t, s.SetCurrentSession(ctx, "lab"))

	raw, err := os.ReadFile(filepath.Join(root, "data", "lab", "session.yml"))
	require.NoError(t, err)
	assert.Equal(t, "AppKey: \"\"\n", string(raw))

	raw, err = os.ReadFile(filepath.Join(root, "current_session"))
	require.NoError(t, err)
	assert.Equal(t, "lab\n", string(raw))
}

func TestFileStoreCorruptDocument(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	dir := filepath.Join(root, "data", "broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.yml"), []byte("- not\n- a map\n"), 0o600))

	_, err = s.GetSession(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"a", "lab-1", "dev_2024.03"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", ".", "..", "a/b", "a b", `a\b`} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalidData, bad)
	}
}
