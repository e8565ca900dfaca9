package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

func TestFrameRoundTrip(t *testing.T) {
	want := &BuildRequest{Target: "hello", Arch: "x86_64-linux-gnu", Config: "release", Rebuild: true}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, want))

	typ, body, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, TypeBuildRequest, typ)

	got := &BuildRequest{}
	require.NoError(t, got.Unmarshal(body))
	require.Equal(t, want, got)
}

func TestBuildResultsRoundTripWithOid(t *testing.T) {
	h := oid.Of([]byte("hello world"))
	want := &BuildResults{
		Status: true,
		Results: []ResultEntry{
			{FileName: "build/x86_64-linux-gnu/release/hello", Hash: h, Log: "ok", OK: true, Sync: true},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, want))
	typ, body, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, TypeBuildResults, typ)

	got, err := Decode(typ, body)
	require.NoError(t, err)
	br, ok := got.(*BuildResults)
	require.True(t, ok)
	require.Equal(t, want.Status, br.Status)
	require.Len(t, br.Results, 1)
	require.Equal(t, h, br.Results[0].Hash)
	require.True(t, br.Results[0].Sync)
}

func TestBulkFileChangedPreservesAbsentData(t *testing.T) {
	h := oid.Of([]byte("int main(){}"))
	want := &BulkFileChanged{Entries: []FileChangeEntry{{FileName: "src/main.c", Hash: h}}}

	body := want.Marshal()
	got := &BulkFileChanged{}
	require.NoError(t, got.Unmarshal(body))
	require.Len(t, got.Entries, 1)
	require.Equal(t, "src/main.c", got.Entries[0].FileName)
	require.Equal(t, h, got.Entries[0].Hash)
	require.Empty(t, got.Entries[0].Data)
}
