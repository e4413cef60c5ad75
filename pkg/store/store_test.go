package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gematik/solid-session/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
)

func exerciseStore(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, store.KeyRefreshToken)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, store.KeyRefreshToken, "rt-1"))
	value, err := s.Get(ctx, store.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", value)

	require.NoError(t, s.Set(ctx, store.KeyRefreshToken, "rt-2"))
	value, err = s.Get(ctx, store.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rt-2", value)

	require.NoError(t, s.Set(ctx, store.KeyClientID, "client"))
	require.NoError(t, s.Delete(ctx, store.KeyRefreshToken, store.KeyClientID, store.KeyIdp))

	_, err = s.Get(ctx, store.KeyRefreshToken)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, store.KeyClientID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, store.KeyCSRFToken, "state"))
	taken, err := store.Take(ctx, s, store.KeyCSRFToken)
	require.NoError(t, err)
	assert.Equal(t, "state", taken)
	_, err = store.Take(ctx, s, store.KeyCSRFToken)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	s := store.NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, 0, s.Len())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.cbor")
	s, err := store.NewFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.cbor")

	s, err := store.NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, store.KeyIdp, "https://idp.example/"))
	require.NoError(t, s.Set(ctx, store.KeyClientSecret, "secret"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := store.NewFileStore(path)
	require.NoError(t, err)
	value, err := reopened.Get(ctx, store.KeyIdp)
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example/", value)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStoreKeepsEntriesWhenFlushFails(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested")
	s, err := store.NewFileStore(filepath.Join(dir, "session.cbor"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, store.KeyRefreshToken, "rt-1"))

	// a regular file where the directory was makes every flush fail
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, nil, 0600))

	assert.Error(t, s.Delete(ctx, store.KeyRefreshToken))
	value, err := s.Get(ctx, store.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", value)

	assert.Error(t, s.Set(ctx, store.KeyRefreshToken, "rt-2"))
	value, err = s.Get(ctx, store.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", value)
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0x00, 0x01}, 0600))

	_, err := store.NewFileStore(path)
	assert.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStoreInMemory(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestValkeyStore(t *testing.T) {
	addr := os.Getenv("VALKEY_ADDR")
	if addr == "" {
		t.Skip("VALKEY_ADDR not set")
	}

	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	require.NoError(t, err)
	defer client.Close()

	prefix := fmt.Sprintf("solid-session-test:%d:", time.Now().UnixNano())
	exerciseStore(t, store.NewValkeyStore(client, prefix, time.Minute))
}

func TestFirestoreStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	collection := fmt.Sprintf("session-%d", time.Now().UnixNano())
	s, err := store.NewFirestoreStore(ctx, "solid-session-test", "", collection)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestNewFirestoreStoreRequiresParameters(t *testing.T) {
	_, err := store.NewFirestoreStore(context.Background(), "", "", "sessions")
	assert.Error(t, err)
	_, err = store.NewFirestoreStore(context.Background(), "project", "", "")
	assert.Error(t, err)
}
