package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "splash.db")
	d, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestUpsertToolchainThenList(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	require.NoError(t, d.UpsertToolchain(ctx, "sha256:abc", "GNU", "9.4.0", []string{"c", "c++"}, []string{"x86_64-linux-gnu"}))
	require.NoError(t, d.UpsertToolchain(ctx, "sha256:abc", "GNU", "9.4.0", []string{"c", "c++"}, []string{"x86_64-linux-gnu"}))

	list, err := d.ListToolchains(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "sha256:abc", list[0].Hash)
	require.ElementsMatch(t, []string{"c", "c++"}, list[0].Languages)
}

func TestRecordJobThenHistory(t *testing.T) {
	d := openTest(t)
	ctx := context.Background()

	start := time.Now().Add(-time.Minute)
	end := time.Now()
	require.NoError(t, d.RecordJob(ctx, "sha256:node", "build/hello", "worker-1", true, start, end))

	hist, err := d.JobHistory(ctx, "sha256:node", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.True(t, hist[0].OK)
	require.Equal(t, "worker-1", hist[0].Worker)
}
