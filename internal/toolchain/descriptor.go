// Package toolchain implements toolchain descriptors, the registry that
// merges per-worker descriptor sets into a logical name-space (spec.md
// §4.2), and a reference GNU adapter satisfying the Buildable-adjacent
// executable interface sketched in spec.md §9.
package toolchain

import (
	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

// Type identifies the vendor/kind of a toolchain.
type Type int

const (
	GNU Type = iota
	Clang
	Yosys
	ISE
	Vivado
)

// typeOrder fixes the arbitrary-but-stable tiebreak order used when two
// descriptors have an equal version triple (spec.md §4.2 step 1), matching
// the original's declaration order GNU, Clang, ISE, Vivado with Yosys
// slotted in alongside the other HDL tool (see SPEC_FULL.md §4.9).
var typeOrder = map[Type]int{
	GNU:    0,
	Clang:  1,
	Yosys:  2,
	ISE:    3,
	Vivado: 4,
}

func (t Type) String() string {
	switch t {
	case GNU:
		return "GNU"
	case Clang:
		return "Clang"
	case Yosys:
		return "Yosys"
	case ISE:
		return "ISE"
	case Vivado:
		return "Vivado"
	default:
		return "invalid"
	}
}

// Language is a source language a toolchain may compile.
type Language string

const (
	LangObject  Language = "object"
	LangC       Language = "c"
	LangCPP     Language = "c++"
	LangAsm     Language = "asm"
	LangVerilog Language = "verilog"
)

// Version is a strictly-ordered (major, minor, patch) triple.
type Version struct {
	Major, Minor, Patch int
	String              string // human readable, e.g. "5.4.0"
}

// Compare returns -1, 0, or 1 the way strict triple comparison does. Equal
// triples return 0; the registry then falls back to type order as the final
// tiebreak.
func (v Version) Compare(o Version) int {
	if v.Major != o.Major {
		return cmp(v.Major, o.Major)
	}
	if v.Minor != o.Minor {
		return cmp(v.Minor, o.Minor)
	}
	return cmp(v.Patch, o.Patch)
}

func cmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Affix describes the filename prefix/suffix a toolchain uses for a given
// artifact kind, e.g. shared libraries get prefix "lib" suffix ".so".
type Affix struct {
	Prefix string
	Suffix string
}

// Descriptor is the pure, data-only description of a toolchain as seen by
// the controller (spec.md §9: "Controller-side we receive only the
// descriptor; it is pure data"). Two descriptors with equal Hash are
// interchangeable and the controller may serve a query from any worker
// holding that hash.
type Descriptor struct {
	Hash      oid.ID
	Type      Type
	Version   Version
	Languages []Language
	Triplets  []string
	Affixes   map[string]Affix // artifact kind -> affix, e.g. "exe", "shlib", "bitstream"

	// CompilerNames are the logical names this descriptor answers to, e.g.
	// a GCC descriptor answers to both "gcc-5" and "c" (via by-language
	// expansion, not stored here).
	CompilerNames []string
}

// SupportsLanguage reports whether the descriptor can compile lang.
func (d Descriptor) SupportsLanguage(lang Language) bool {
	for _, l := range d.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// SupportsArch reports whether the descriptor targets the given triplet.
func (d Descriptor) SupportsArch(arch string) bool {
	for _, t := range d.Triplets {
		if t == arch {
			return true
		}
	}
	return false
}

// Suffix returns the filename suffix this toolchain uses for an artifact
// kind, e.g. Suffix("exe") -> "" on Linux GNU toolchains, Suffix("shlib") ->
// ".so".
func (d Descriptor) Suffix(kind string) string {
	return d.Affixes[kind].Suffix
}

// Prefix returns the filename prefix this toolchain uses for an artifact
// kind, e.g. Prefix("shlib") -> "lib".
func (d Descriptor) Prefix(kind string) string {
	return d.Affixes[kind].Prefix
}

// betterThan implements the "higher-versioned descriptor on collision
// (strict version-triple compare; ties broken by toolchain type order)"
// rule from spec.md §4.2 step 1.
func betterThan(a, b Descriptor) bool {
	if c := a.Version.Compare(b.Version); c != 0 {
		return c > 0
	}
	return typeOrder[a.Type] > typeOrder[b.Type]
}

// ComputeHash derives a descriptor's identity hash from its observable
// shape: type, version, languages, and triplets. Two workers that report
// identical toolchains (e.g. both running the distro's gcc-5 package)
// collapse to one registry entry, matching spec.md §4.2 "merges duplicates
// by content hash".
func ComputeHash(t Type, v Version, langs []Language, triplets []string) oid.ID {
	c := oid.Combine().Add(t.String(), v.String)
	ls := make([]string, len(langs))
	for i, l := range langs {
		ls[i] = string(l)
	}
	c.AddSet(ls)
	c.AddSet(triplets)
	return c.Finish()
}

// ParseVersionHex decodes the original wire format's "machine-readable
// version number, left justified hex" (msgAddCompiler.versionNum in the
// original protocol, e.g. 0x04090200 for 4.9.2) into a Version, for
// compatibility with worker-reported values that still arrive that way.
func ParseVersionHex(hex uint32, str string) Version {
	return Version{
		Major:  int(hex >> 24 & 0xff),
		Minor:  int(hex >> 16 & 0xff),
		Patch:  int(hex >> 8 & 0xff),
		String: str,
	}
}
