package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/azonenberg/splash-build-system-sub000/internal/cache"
	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
	"github.com/azonenberg/splash-build-system-sub000/internal/toolchain"
)

// noopScanner satisfies Scanner without ever being invoked: none of the
// tests in this file call Graph.Rebuild, so CompileNode.Finalize (the only
// caller of ScanDependencies) never runs.
type noopScanner struct{}

func (noopScanner) ScanDependencies(ctx context.Context, path, arch string, tc oid.ID, flags []string) (ScanResult, bool, error) {
	return ScanResult{OK: true}, true, nil
}

func newTestGraph(t *testing.T) (*Graph, *cache.Cache, *toolchain.Registry, *WorkingCopy) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	c, err := cache.Open(context.Background(), "graphtest")
	require.NoError(t, err)

	reg := toolchain.NewRegistry()
	wc := NewWorkingCopy()
	g := New(wc, reg, c, noopScanner{})
	wc.Bind(g)
	return g, c, reg, wc
}

// pushFile stores data in the cache under its own content hash and records
// it in the working copy, mirroring what a correctly-wired session does:
// the cache always holds the real bytes a path maps to.
func pushFile(t *testing.T, c *cache.Cache, wc *WorkingCopy, path string, data []byte, scanConfig bool) []string {
	t.Helper()
	ctx := context.Background()
	id := oid.Of(data)
	require.NoError(t, c.Add(ctx, id, id, data, ""))
	dirty, err := wc.Update(ctx, path, id, data, scanConfig)
	require.NoError(t, err)
	return dirty
}

func registerGCCToolchain(reg *toolchain.Registry, arch string) toolchain.Descriptor {
	d := toolchain.Descriptor{
		Type:      toolchain.GNU,
		Version:   toolchain.Version{Major: 9, Minor: 4, Patch: 0, String: "9.4.0"},
		Languages: []toolchain.Language{toolchain.LangCPP},
		Triplets:  []string{arch},
		Affixes:   map[string]toolchain.Affix{"exe": {}},
	}
	d.Hash = toolchain.ComputeHash(d.Type, d.Version, d.Languages, d.Triplets)
	reg.AddToolchain("worker-1", d)
	return d
}

const testBuildYML = "hello:\n  toolchain: c++/gcc\n  sources:\n    - main.cpp\n"

// TestUpdateScriptDoesNotWipeTargetsOnRepeatPushOfUnmodifiedBody guards the
// update_script half of spec.md §4.3 step 1: reparsing a script against its
// own still-cached, unchanged body must leave its declared targets intact,
// not just against whatever bytes a caller happens to pass in.
func TestUpdateScriptDoesNotWipeTargetsOnRepeatPushOfUnmodifiedBody(t *testing.T) {
	g, c, reg, wc := newTestGraph(t)
	registerGCCToolchain(reg, "global")

	pushFile(t, c, wc, "main.cpp", []byte("int main(){}"), true)
	pushFile(t, c, wc, "build.yml", []byte(testBuildYML), false)

	targets := g.GetTargets("", "", "")
	require.Len(t, targets, 1)
	require.Equal(t, "hello", targets[0].Name())

	id, ok := wc.GetHash("build.yml")
	require.True(t, ok)
	body, err := c.Read(id)
	require.NoError(t, err)
	_, err = g.UpdateScript(context.Background(), "build.yml", id, body)
	require.NoError(t, err)

	targets = g.GetTargets("", "", "")
	require.Len(t, targets, 1, "target must survive a reparse of its own unchanged body")
}

// TestSourceFileChangeReturnsDirtySiblingScript exercises the scan_config
// dirty-script path (spec.md §4.3 step 4 / spec.md:92): changing a plain
// source file must flag its sibling build.yml as needing a reparse.
func TestSourceFileChangeReturnsDirtySiblingScript(t *testing.T) {
	g, c, _, wc := newTestGraph(t)
	_ = g

	pushFile(t, c, wc, "main.cpp", []byte("int main(){}"), true)
	dirty := pushFile(t, c, wc, "build.yml", []byte(testBuildYML), false)
	require.Empty(t, dirty)

	dirty = pushFile(t, c, wc, "main.cpp", []byte("int main(){ return 1; }"), true)
	require.Equal(t, []string{"build.yml"}, dirty)
}

// TestRefreshToolchainsReconsidersPreviouslyUnresolvedTarget exercises
// spec.md §4.3/§4.3's "refresh_toolchains": a target that couldn't resolve
// a toolchain at parse time must resolve once a matching one is registered
// and every known script is replayed.
func TestRefreshToolchainsReconsidersPreviouslyUnresolvedTarget(t *testing.T) {
	g, c, reg, wc := newTestGraph(t)

	pushFile(t, c, wc, "main.cpp", []byte("int main(){}"), true)
	pushFile(t, c, wc, "build.yml", []byte(testBuildYML), false)

	require.Empty(t, g.GetTargets("", "", ""), "target should not resolve before a matching toolchain exists")

	registerGCCToolchain(reg, "global")

	loadBody := func(path string) ([]byte, error) {
		id, ok := wc.GetHash(path)
		require.True(t, ok)
		return c.Read(id)
	}
	require.NoError(t, wc.RefreshToolchains(context.Background(), loadBody))

	targets := g.GetTargets("", "", "")
	require.Len(t, targets, 1)
	require.Equal(t, "hello", targets[0].Name())
}
