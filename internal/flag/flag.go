// Package flag implements build flags: categorized "group/name[/arg]" tags
// that carry a bitmask of the build stages they apply to.
package flag

import (
	"fmt"
	"strings"
)

// Stage is a bitmask of build pipeline stages a Flag may apply to.
type Stage uint16

const (
	Compile Stage = 1 << iota
	Link
	Synthesize
	Map
	PlaceAndRoute
	Image
	Proof
	Analysis
	Scan

	None Stage = 0
	// FPGA groups every stage of an HDL-to-bitstream pipeline.
	FPGA = Synthesize | Map | PlaceAndRoute | Image | Analysis
	// CompileAndScan is used by flags that matter both to the compiler and to
	// the dependency scanner run against the same source.
	CompileAndScan = Compile | Scan
	All            = ^Stage(0)
)

// Group is the flag's major functional category.
type Group string

const (
	GroupWarning  Group = "warning"
	GroupError    Group = "error"
	GroupOptimize Group = "optimize"
	GroupDebug    Group = "debug"
	GroupAnalysis Group = "analysis"
	GroupDialect  Group = "dialect"
	GroupOutput   Group = "output"
	GroupLibrary  Group = "library"
	GroupDefine   Group = "define"
	GroupHardware Group = "hardware"
)

var stageByGroup = map[Group]Stage{
	GroupWarning:  CompileAndScan,
	GroupError:    CompileAndScan,
	GroupOptimize: Compile | Link | Synthesize,
	GroupDebug:    Compile | Link,
	GroupAnalysis: Analysis,
	GroupDialect:  CompileAndScan,
	GroupOutput:   Link | Image,
	GroupLibrary:  Link | Scan,
	GroupDefine:   CompileAndScan,
	GroupHardware: FPGA,
}

// Flag is a single compiler/linker/synthesis flag, e.g. "warning/max" or
// "library/name/pthread". Flags compare and hash by their raw text so they
// de-duplicate correctly inside a set.
type Flag struct {
	raw   string
	group Group
	name  string
	arg   string
	usage Stage
}

// Parse decodes "group/name[/arg]" into a Flag. An unknown group is a schema
// error (spec.md §7): the caller is expected to reject the whole target, not
// just this flag.
func Parse(raw string) (Flag, error) {
	parts := strings.SplitN(raw, "/", 3)
	if len(parts) < 2 {
		return Flag{}, fmt.Errorf("flag: malformed flag %q: need group/name[/arg]", raw)
	}
	group := Group(parts[0])
	usage, ok := stageByGroup[group]
	if !ok {
		return Flag{}, fmt.Errorf("flag: unknown flag group %q in %q", parts[0], raw)
	}
	f := Flag{raw: raw, group: group, name: parts[1], usage: usage}
	if len(parts) == 3 {
		f.arg = parts[2]
	}
	return f, nil
}

// MustParse is Parse but panics on error; used for flags synthesized
// internally (e.g. "define/HAVE_FOO") where the group is always valid.
func MustParse(raw string) Flag {
	f, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the original flag text, e.g. "warning/max".
func (f Flag) String() string { return f.raw }

// Group returns the flag's functional category.
func (f Flag) Group() Group { return f.group }

// Name returns the flag's name within its group.
func (f Flag) Name() string { return f.name }

// Arg returns the flag's argument, or "" if it carries none.
func (f Flag) Arg() string { return f.arg }

// UsedAt reports whether this flag applies to the given pipeline stage.
func (f Flag) UsedAt(stage Stage) bool {
	return f.usage&stage != 0
}

// Set is a de-duplicated, hash-stable collection of flags, keyed by raw text
// exactly as spec.md §3 requires ("Flags compare and hash by their raw text
// form so they de-duplicate in sets").
type Set map[string]Flag

// NewSet builds a Set from a slice of raw flag strings, skipping empties.
func NewSet(raws []string) (Set, error) {
	s := make(Set, len(raws))
	for _, r := range raws {
		if r == "" {
			continue
		}
		f, err := Parse(r)
		if err != nil {
			return nil, err
		}
		s[f.raw] = f
	}
	return s, nil
}

// Add inserts f into the set, de-duplicating by raw text.
func (s Set) Add(f Flag) {
	s[f.raw] = f
}

// ForStage returns the subset of flags usable at the given stage.
func (s Set) ForStage(stage Stage) []Flag {
	out := make([]Flag, 0, len(s))
	for _, f := range s {
		if f.UsedAt(stage) {
			out = append(out, f)
		}
	}
	return out
}

// RawTexts returns every flag's raw text, used as the hash input for
// finalize_default (spec.md §4.3): "Σ H(flagᵢ)".
func (s Set) RawTexts() []string {
	out := make([]string, 0, len(s))
	for raw := range s {
		out = append(out, raw)
	}
	return out
}

// Clone returns a shallow copy safe for independent mutation.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
