package secrets

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "secrets.json"))
	require.NoError(t, err)

	key, err := Key("postgresql-postgis", "password")
	require.NoError(t, err)

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, store.Set(ctx, key, "hunter2"))
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	// Overwrite.
	require.NoError(t, store.Set(ctx, key, "hunter3"))
	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hunter3", got)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.ErrorIs(t, store.Delete(ctx, key), ErrSecretNotFound)
}

func TestFileStorePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes not meaningful on windows")
	}

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	key, err := Key("s3-storage", "secret_access_key")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, key, "AKIA..."))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStorePersistsAcrossReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	key, err := Key("earth-engine", "service_account")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, key, "sa@project.iam"))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "sa@project.iam", got)
}

func TestKeyNamespacing(t *testing.T) {
	key, err := Key("postgresql-postgis", "password")
	require.NoError(t, err)
	assert.Equal(t, "arion/postgresql-postgis/password", key)

	_, err = Key("", "password")
	assert.Error(t, err)
	_, err = Key("postgresql-postgis", "")
	assert.Error(t, err)
	_, err = Key("a/b", "password")
	assert.Error(t, err)
}
