package toolchain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func desc(t Type, major, minor int) Descriptor {
	d := Descriptor{
		Type:      t,
		Version:   Version{Major: major, Minor: minor, String: ""},
		Languages: []Language{LangC},
		Triplets:  []string{"x86_64-linux-gnu"},
	}
	d.Hash = ComputeHash(d.Type, d.Version, d.Languages, d.Triplets)
	return d
}

func TestForNamePicksHighestVersion(t *testing.T) {
	r := NewRegistry()
	old := desc(GNU, 4, 8)
	newer := desc(GNU, 5, 4)
	r.AddToolchain("worker-a", old)
	r.AddToolchain("worker-b", newer)

	got, ok := r.ForName(LangC, "x86_64-linux-gnu")
	require.True(t, ok)
	require.Equal(t, newer.Hash, got.Hash)
}

func TestForNameTiebreaksByType(t *testing.T) {
	r := NewRegistry()
	gnu := desc(GNU, 5, 0)
	clang := desc(Clang, 5, 0)
	r.AddToolchain("worker-a", gnu)
	r.AddToolchain("worker-b", clang)

	got, ok := r.ForName(LangC, "x86_64-linux-gnu")
	require.True(t, ok)
	require.Equal(t, clang.Hash, got.Hash, "equal version triple must tiebreak on type order")
}

func TestRemoveClientDerivesByNameFromRemainder(t *testing.T) {
	r := NewRegistry()
	old := desc(GNU, 4, 8)
	newer := desc(GNU, 5, 4)
	r.AddToolchain("worker-a", old)
	r.AddToolchain("worker-b", newer)

	r.RemoveClient("worker-b")

	got, ok := r.ForName(LangC, "x86_64-linux-gnu")
	require.True(t, ok)
	require.Equal(t, old.Hash, got.Hash)
}

func TestSharedDescriptorSurvivesPartialRemoval(t *testing.T) {
	r := NewRegistry()
	shared := desc(GNU, 5, 4)
	r.AddToolchain("worker-a", shared)
	r.AddToolchain("worker-b", shared)

	r.RemoveClient("worker-a")

	got, ok := r.ByHash(shared.Hash)
	require.True(t, ok)
	require.Equal(t, shared.Version, got.Version)
	require.Equal(t, []string{"worker-b"}, r.NodesForHash(shared.Hash))
}

func TestGoldenNodeDeterministic(t *testing.T) {
	r := NewRegistry()
	d := desc(GNU, 5, 4)
	r.AddToolchain("worker-b", d)
	r.AddToolchain("worker-a", d)

	n1, err := r.GoldenNode(d.Hash)
	require.NoError(t, err)
	n2, err := r.GoldenNode(d.Hash)
	require.NoError(t, err)
	require.Equal(t, n1, n2)
}
