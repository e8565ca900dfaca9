package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

// WorkingCopy tracks the path -> content-oid mapping for one client's
// synchronized file tree (spec.md §4.3 "Working Copy"). It does not own the
// graph directly; Update forwards build.yml changes to the bound Graph's
// script-processing entry points.
type WorkingCopy struct {
	mu sync.Mutex

	paths map[string]oid.ID
	g     *Graph // set via Bind once the graph exists, to break the construction cycle
}

// NewWorkingCopy returns an empty working copy. Call Bind before Update.
func NewWorkingCopy() *WorkingCopy {
	return &WorkingCopy{paths: map[string]oid.ID{}}
}

// Bind attaches the Graph that owns script reprocessing for this working
// copy. Graph.New takes a *WorkingCopy so construction order is
// WorkingCopy -> Graph -> WorkingCopy.Bind(graph).
func (wc *WorkingCopy) Bind(g *Graph) { wc.g = g }

// Has reports whether path is known to this working copy.
func (wc *WorkingCopy) Has(path string) bool {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	_, ok := wc.paths[path]
	return ok
}

// GetHash returns the content oid last recorded for path.
func (wc *WorkingCopy) GetHash(path string) (oid.ID, bool) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	h, ok := wc.paths[path]
	return h, ok
}

// Update records path -> id and, per spec.md §4.3, forwards to graph
// script-processing when the change is (or affects) a build.yml. dirty is
// the set of scripts this change forces us to reparse, accumulated from
// both the direct script update and the dependent-scripts hint index.
func (wc *WorkingCopy) Update(ctx context.Context, path string, id oid.ID, body []byte, scanConfig bool) (dirty []string, err error) {
	wc.mu.Lock()
	wc.paths[path] = id
	wc.mu.Unlock()

	if filepath.Base(path) == "build.yml" {
		return wc.g.UpdateScript(ctx, path, id, body)
	}

	if scanConfig {
		scriptPath := filepath.Join(filepath.Dir(path), "build.yml")
		if wc.Has(scriptPath) {
			scriptHash, _ := wc.GetHash(scriptPath)
			_ = scriptHash
			return []string{scriptPath}, nil
		}
	}
	return nil, nil
}

// Remove deletes path from the working copy. Graph node GC picks up the
// consequences on the next Rebuild via isStaleLocked.
func (wc *WorkingCopy) Remove(path string) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	delete(wc.paths, path)
}

// buildScriptPaths returns every known build.yml path, used by
// RefreshToolchains and by callers that need lexical replay order.
func (wc *WorkingCopy) buildScriptPaths() []string {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	var out []string
	for p := range wc.paths {
		if filepath.Base(p) == "build.yml" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// RefreshToolchains re-runs every build.yml in lexical path order, so
// parent-directory scopes are reprocessed before their descendants
// (spec.md §4.3 "refresh_toolchains").
func (wc *WorkingCopy) RefreshToolchains(ctx context.Context, loadBody func(path string) ([]byte, error)) error {
	for _, path := range wc.buildScriptPaths() {
		id, ok := wc.GetHash(path)
		if !ok {
			continue
		}
		body, err := loadBody(path)
		if err != nil {
			return fmt.Errorf("graph: refresh_toolchains load %s: %w", path, err)
		}
		if _, err := wc.g.UpdateScript(ctx, path, id, body); err != nil {
			return fmt.Errorf("graph: refresh_toolchains update %s: %w", path, err)
		}
	}
	return nil
}
