package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

func withHome(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
}

func TestAddIsIdempotent(t *testing.T) {
	withHome(t)
	ctx := context.Background()
	c, err := Open(ctx, "test")
	require.NoError(t, err)

	data := []byte("int main(){}")
	id := oid.Of(data)
	ch := oid.Of(data)

	require.NoError(t, c.Add(ctx, id, ch, data, "compiled ok"))
	require.NoError(t, c.Add(ctx, id, ch, data, "compiled ok (again)"))

	require.Equal(t, Ready, c.State(id))
	got, err := c.Read(id)
	require.NoError(t, err)
	require.Equal(t, data, got)

	log, err := c.ReadLog(id)
	require.NoError(t, err)
	require.Equal(t, "compiled ok", log, "second Add must be a no-op")
}

func TestAddFailedRecordsLogOnly(t *testing.T) {
	withHome(t)
	ctx := context.Background()
	c, err := Open(ctx, "test")
	require.NoError(t, err)

	id := oid.Of([]byte("broken"))
	require.NoError(t, c.AddFailed(ctx, id, "compile error: undefined reference"))

	require.Equal(t, Failed, c.State(id))
	require.True(t, c.IsFailed(id))
	require.False(t, c.IsCached(id))

	log, err := c.ReadLog(id)
	require.NoError(t, err)
	require.Contains(t, log, "undefined reference")
}

func TestValidateEvictsOnHashMismatch(t *testing.T) {
	withHome(t)
	ctx := context.Background()
	c, err := Open(ctx, "test")
	require.NoError(t, err)

	data := []byte("foo")
	id := oid.Of(data)
	require.NoError(t, c.Add(ctx, id, oid.Of(data), data, ""))

	// Corrupt the stored data out from under the cache, like scenario F.
	dir := c.storagePath(id.String())
	require.NoError(t, os.WriteFile(filepath.Join(dir, dataFile), []byte("bar"), 0o640))

	ok, err := c.Validate(id)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, Missing, c.State(id))
}

func TestOpenReloadsExistingEntries(t *testing.T) {
	withHome(t)
	ctx := context.Background()
	c1, err := Open(ctx, "test")
	require.NoError(t, err)

	data := []byte("persisted")
	id := oid.Of(data)
	require.NoError(t, c1.Add(ctx, id, oid.Of(data), data, "ok"))

	c2, err := Open(ctx, "test")
	require.NoError(t, err)
	require.True(t, c2.IsCached(id))
}
