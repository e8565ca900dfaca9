// Package oid defines the content-discriminating object identifier used by the
// cache, the build graph, and the wire protocol.
package oid

import (
	"crypto/sha256"
	"fmt"
	"sort"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// ID is a 256-bit content-discriminating hash. For a leaf file it equals the
// hash of the file's bytes; for a derived artifact it is computed from every
// input that could affect the output (see Combine). The underlying
// representation is go-containerregistry's image-digest Hash type, which
// already gives us a stable "sha256:<64 hex>" string form and comparison.
type ID struct {
	h v1.Hash
}

// Zero is the placeholder ID assigned to a build graph node before it has
// been finalized. It never collides with a real content hash because v1.Hash
// requires a non-empty hex digest and Zero's hex portion is all zeroes, which
// SHA-256 never produces for non-empty input.
var Zero = ID{h: v1.Hash{Algorithm: "sha256", Hex: "0000000000000000000000000000000000000000000000000000000000000000"}}

func init() {
	if len(Zero.h.Hex) != 64 {
		panic("oid: Zero hex literal must be exactly 64 characters")
	}
}

// Of hashes raw bytes and returns their object id.
func Of(data []byte) ID {
	sum := sha256.Sum256(data)
	return ID{h: v1.Hash{Algorithm: "sha256", Hex: fmt.Sprintf("%x", sum)}}
}

// Parse decodes the 64-hex-character form (optionally "sha256:" prefixed)
// produced by String.
func Parse(s string) (ID, error) {
	h, err := v1.NewHash(normalizeForParse(s))
	if err != nil {
		return ID{}, fmt.Errorf("oid: parse %q: %w", s, err)
	}
	return ID{h: h}, nil
}

func normalizeForParse(s string) string {
	if len(s) == 64 {
		return "sha256:" + s
	}
	return s
}

// String returns the bare 64 hex character form used in cache directory names.
func (id ID) String() string {
	return id.h.Hex
}

// Full returns the "sha256:<hex>" form.
func (id ID) Full() string {
	return id.h.String()
}

// IsZero reports whether id is the unfinalized-node placeholder.
func (id ID) IsZero() bool {
	return id == Zero
}

// Shard returns the first two hex characters used as the cache's shard
// directory name.
func (id ID) Shard() string {
	if len(id.h.Hex) < 2 {
		return "00"
	}
	return id.h.Hex[:2]
}

// combiner accumulates a deterministic hash over an unordered collection of
// sub-hashes (spec.md's "Σ H(x)" notation): the rule is order-independent
// because every contribution is hashed on its own, the digests are sorted,
// then concatenated and hashed once as a whole. This is what gives two nodes with "identical dependency-hash
// multiset, identical flag multiset ... regardless of insertion order" the
// same final oid (spec.md testable property #1).
type combiner struct {
	items [][]byte
}

// Combine starts a new deterministic, order-independent hash accumulation.
func Combine() *combiner {
	return &combiner{}
}

// Add folds another contribution (an oid, a flag's raw text, a toolchain
// hash, an arch string) into the combination.
func (c *combiner) Add(parts ...string) *combiner {
	for _, p := range parts {
		sum := sha256.Sum256([]byte(p))
		c.items = append(c.items, sum[:])
	}
	return c
}

// AddSet folds an unordered set of strings in, sorting first so the textual
// multiset itself is order-independent before each member is hashed.
func (c *combiner) AddSet(parts []string) *combiner {
	sorted := append([]string(nil), parts...)
	sort.Strings(sorted)
	return c.Add(sorted...)
}

// Finish computes the final ID: sort the per-item digests (so insertion order
// never matters), concatenate, and hash once more.
func (c *combiner) Finish() ID {
	sorted := append([][]byte(nil), c.items...)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i]) < string(sorted[j])
	})
	h := sha256.New()
	for _, it := range sorted {
		h.Write(it)
	}
	sum := h.Sum(nil)
	return ID{h: v1.Hash{Algorithm: "sha256", Hex: fmt.Sprintf("%x", sum)}}
}
