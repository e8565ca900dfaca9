package toolchain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

// byNameKey is the (language, arch) pair the derived by-name index is keyed
// on, matching spec.md §4.2's "GetToolchainForName(lang, arch)".
type byNameKey struct {
	Lang Language
	Arch string
}

// Registry merges the toolchain descriptors reported by every connected
// worker into the by-node / by-language-arch / by-hash / by-name indexes
// described in spec.md §4.2. byNode is authoritative and byHash is updated
// alongside it; the two derived indexes (by-language-arch and by-name) are
// rebuilt from byHash on every mutation, the same way the original
// NodeManager recomputes its derived maps on add/remove rather than
// maintaining them incrementally.
type Registry struct {
	mu sync.RWMutex

	byNode map[string]map[oid.ID]Descriptor // clientID -> hash -> descriptor
	byHash map[oid.ID]Descriptor

	// derived, rebuilt by rebuildLocked()
	byLangArch map[byNameKey][]oid.ID // every descriptor hash serving (lang, arch)
	byName     map[byNameKey]oid.ID   // the single winning hash for (lang, arch)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byNode:     map[string]map[oid.ID]Descriptor{},
		byHash:     map[oid.ID]Descriptor{},
		byLangArch: map[byNameKey][]oid.ID{},
		byName:     map[byNameKey]oid.ID{},
	}
}

// AddToolchain registers a descriptor as available on the worker identified
// by clientID. Re-reporting an identical descriptor (same hash) from the
// same worker is a no-op; reporting it from a second worker simply adds
// that worker as another holder (spec.md §4.2: "two workers may report the
// identical descriptor hash; the registry treats them as interchangeable").
//
// It reports whether the by-name map (the winning descriptor per
// (language, arch)) actually changed as a result, so callers know whether
// spec.md §4.3's "if the by-name map changes, every working copy reparses
// every known build script" rule needs to fire.
func (r *Registry) AddToolchain(clientID string, d Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := make(map[byNameKey]oid.ID, len(r.byName))
	for k, v := range r.byName {
		before[k] = v
	}

	if r.byNode[clientID] == nil {
		r.byNode[clientID] = map[oid.ID]Descriptor{}
	}
	r.byNode[clientID][d.Hash] = d
	r.byHash[d.Hash] = d
	r.rebuildLocked()

	return !byNameEqual(before, r.byName)
}

func byNameEqual(a, b map[byNameKey]oid.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// RemoveClient drops every descriptor reported by clientID and recomputes
// the derived indexes, per spec.md §4.2 "remove_client ... re-derives
// by-name from whatever remains".
func (r *Registry) RemoveClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hashes := r.byNode[clientID]
	delete(r.byNode, clientID)

	for h := range hashes {
		if !r.stillHeldLocked(h) {
			delete(r.byHash, h)
		}
	}
	r.rebuildLocked()
}

func (r *Registry) stillHeldLocked(h oid.ID) bool {
	for _, descs := range r.byNode {
		if _, ok := descs[h]; ok {
			return true
		}
	}
	return false
}

// rebuildLocked recomputes byLangArch and byName from byHash. Caller must
// hold r.mu.
func (r *Registry) rebuildLocked() {
	r.byLangArch = map[byNameKey][]oid.ID{}
	r.byName = map[byNameKey]oid.ID{}

	// Stable iteration order so that equal-rank collisions resolve
	// deterministically regardless of map iteration order.
	hashes := make([]oid.ID, 0, len(r.byHash))
	for h := range r.byHash {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].String() < hashes[j].String() })

	for _, h := range hashes {
		d := r.byHash[h]
		for _, lang := range d.Languages {
			for _, arch := range d.Triplets {
				key := byNameKey{Lang: lang, Arch: arch}
				r.byLangArch[key] = append(r.byLangArch[key], h)

				cur, ok := r.byName[key]
				if !ok || betterThan(d, r.byHash[cur]) {
					r.byName[key] = h
				}
			}
		}
	}
}

// ByHash returns the descriptor for a known hash.
func (r *Registry) ByHash(h oid.ID) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byHash[h]
	return d, ok
}

// ForName returns the winning descriptor for (lang, arch): the
// highest-versioned, tiebroken-by-type descriptor among every worker that
// reports it, matching spec.md §4.2's GetToolchainForName.
func (r *Registry) ForName(lang Language, arch string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[byNameKey{Lang: lang, Arch: arch}]
	if !ok {
		return Descriptor{}, false
	}
	return r.byHash[h], true
}

// AnyForName returns every descriptor hash capable of serving (lang, arch),
// for diagnostic/ArchList-style reporting.
func (r *Registry) AnyForName(lang Language, arch string) []oid.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := r.byLangArch[byNameKey{Lang: lang, Arch: arch}]
	out := make([]oid.ID, len(hs))
	copy(out, hs)
	return out
}

// NodesForHash returns every worker clientID currently holding a descriptor
// with the given hash.
func (r *Registry) NodesForHash(h oid.ID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for clientID, descs := range r.byNode {
		if _, ok := descs[h]; ok {
			out = append(out, clientID)
		}
	}
	sort.Strings(out)
	return out
}

// GoldenNode deterministically picks one worker from a set of candidates
// that all report the same toolchain hash, so dependency scans run on a
// single canonical node rather than racing across every holder (spec.md
// §4.2 / §9 "golden node"; grounded on Scheduler::ScanDependencies's
// NodeManager-mediated lookup in the original).
func (r *Registry) GoldenNode(h oid.ID) (string, error) {
	nodes := r.NodesForHash(h)
	if len(nodes) == 0 {
		return "", fmt.Errorf("toolchain: no worker holds hash %s", h)
	}
	return nodes[0], nil
}
