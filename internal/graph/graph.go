package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/azonenberg/splash-build-system-sub000/internal/cache"
	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
	"github.com/azonenberg/splash-build-system-sub000/internal/toolchain"
)

// targetKey identifies one instantiated target variant.
type targetKey struct {
	Name, Arch, Config string
}

// scriptState tracks what one build.yml last declared, so update_script can
// remove stale declarations before reparsing (spec.md §4.3 step 1).
type scriptState struct {
	path            string
	declaredTargets []string
	recursiveConfig map[string]ToolchainSettings // toolchain name -> settings
	fileConfig      map[string]ToolchainSettings
}

// Graph is the per-working-copy build DAG described in spec.md §4.3. A
// single mutex serializes all traversal and mutation; callers must not call
// a locking entry point from inside another one since sync.Mutex does not
// support reentrancy (spec.md §5 calls for a reentrant mutex here — this
// package gets the same effect by keeping all cross-calls inside the
// unexported, already-locked half of the API).
type Graph struct {
	mu sync.Mutex

	wc       *WorkingCopy
	registry *toolchain.Registry
	cache    *cache.Cache
	scanner  Scanner

	targets map[targetKey]Node
	byHash  map[oid.ID]Node

	claimedBy        map[string]string          // target name -> script path that declared it
	dependentScripts map[string]map[string]bool // target name -> scripts whose load_target referenced it

	scripts map[string]*scriptState
}

// New constructs an empty Graph bound to a working copy, registry, cache,
// and dependency scanner.
func New(wc *WorkingCopy, registry *toolchain.Registry, c *cache.Cache, scanner Scanner) *Graph {
	return &Graph{
		wc:               wc,
		registry:         registry,
		cache:            c,
		scanner:          scanner,
		targets:          map[targetKey]Node{},
		byHash:           map[oid.ID]Node{},
		claimedBy:        map[string]string{},
		dependentScripts: map[string]map[string]bool{},
		scripts:          map[string]*scriptState{},
	}
}

func (g *Graph) getOrCreateSystemLibrary(fname, arch string, tc oid.ID) *SystemLibrary {
	probe := NewSystemLibrary(fname, arch, tc)
	if existing, ok := g.byHash[probe.Hash()]; ok {
		if sl, ok := existing.(*SystemLibrary); ok {
			return sl
		}
	}
	g.byHash[probe.Hash()] = probe
	return probe
}

func (g *Graph) registerTarget(key targetKey, n Node) {
	g.targets[key] = n
	g.byHash[n.Hash()] = n
}

// Rebuild runs the three-phase finalization pass from spec.md §4.3:
// snapshot, non-blocking StartFinalization over every node, blocking
// Finalize over every node, then collect_garbage.
func (g *Graph) Rebuild(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rebuildLocked(ctx)
}

func (g *Graph) rebuildLocked(ctx context.Context) error {
	snapshot := make([]Node, 0, len(g.byHash))
	for _, n := range g.byHash {
		snapshot = append(snapshot, n)
	}

	for _, n := range snapshot {
		if err := n.StartFinalization(ctx, g); err != nil {
			slog.WarnContext(ctx, "graph: start_finalization failed", "node", n.Name(), "error", err)
		}
	}
	for _, n := range snapshot {
		oldHash := n.Hash()
		if g.isStaleLocked(n) {
			continue
		}
		if err := n.Finalize(ctx, g); err != nil {
			slog.WarnContext(ctx, "graph: finalize failed", "node", n.Name(), "error", err)
			continue
		}
		if n.Hash() != oldHash {
			delete(g.byHash, oldHash)
			g.byHash[n.Hash()] = n
		}
	}
	g.collectGarbageLocked()
	return nil
}

// isStaleLocked implements "if a node's current hash does not match the
// working copy's mapping of its path, it is stale and is skipped" for
// SourceFile-backed nodes (spec.md §4.3).
func (g *Graph) isStaleLocked(n Node) bool {
	sf, ok := n.(*SourceFile)
	if !ok {
		return false
	}
	wcHash, ok := g.wc.GetHash(sf.Path())
	if !ok {
		return true
	}
	return wcHash != sf.ContentHash
}

// collectGarbageLocked marks every node reachable from the target map and
// sweeps everything else out of byHash (spec.md §4.3 collect_garbage).
func (g *Graph) collectGarbageLocked() {
	reachable := map[oid.ID]bool{}
	var visit func(oid.ID)
	visit = func(h oid.ID) {
		if reachable[h] {
			return
		}
		reachable[h] = true
		n, ok := g.byHash[h]
		if !ok {
			return
		}
		for _, d := range n.Dependencies() {
			visit(d)
		}
	}
	for _, n := range g.targets {
		visit(n.Hash())
	}
	for h := range g.byHash {
		if !reachable[h] {
			delete(g.byHash, h)
		}
	}
}

// GetTargets returns every instantiated target matching name/arch/config,
// treating an empty string in any field as a wildcard (spec.md §4.6 step 2).
func (g *Graph) GetTargets(name, arch, config string) []Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Node
	for k, n := range g.targets {
		if name != "" && k.Name != name {
			continue
		}
		if arch != "" && k.Arch != arch {
			continue
		}
		if config != "" && k.Config != config {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// NodeByHash looks up any node (target or intermediate) by its current hash.
func (g *Graph) NodeByHash(h oid.ID) (Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.byHash[h]
	return n, ok
}

// Cache exposes the bound object cache, used by session/controller code that
// needs to translate a node's hash into READY/FAILED/MISSING state.
func (g *Graph) Cache() *cache.Cache { return g.cache }

// Registry exposes the bound toolchain registry.
func (g *Graph) Registry() *toolchain.Registry { return g.registry }

// WorkingCopy exposes the bound working copy.
func (g *Graph) WorkingCopy() *WorkingCopy { return g.wc }

// claim registers that script now owns target name, rejecting a collision
// with another script (spec.md §4.3 load_target: "Reject if the target name
// is already claimed by another script").
func (g *Graph) claim(name, script string) error {
	if owner, ok := g.claimedBy[name]; ok && owner != script {
		return fmt.Errorf("graph: target %q already declared in %s", name, owner)
	}
	g.claimedBy[name] = script
	return nil
}

func (g *Graph) unclaimAllFrom(script string) {
	for name, owner := range g.claimedBy {
		if owner == script {
			delete(g.claimedBy, name)
		}
	}
}

func (g *Graph) addDependentScript(targetName, script string) {
	if g.dependentScripts[targetName] == nil {
		g.dependentScripts[targetName] = map[string]bool{}
	}
	g.dependentScripts[targetName][script] = true
}

// dirtyScriptsFor returns every script hinted as dependent on targetName,
// used to populate dirty_scripts during update_script (spec.md §4.3 step 4).
func (g *Graph) dirtyScriptsFor(targetName string) []string {
	set := g.dependentScripts[targetName]
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
