package graph

import (
	"context"

	"github.com/azonenberg/splash-build-system-sub000/internal/flag"
	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

// finalizeDefault implements spec.md §4.3's default hash rule:
//
//	oid = H( Σ wc.hash(dep) ‖ Σ H(flag) ‖ registry.hash(arch,name) ‖ H(arch) )
//
// Output path is deliberately excluded so identical builds coalesce in the
// cache regardless of where they're requested from.
func finalizeDefault(g *Graph, deps []oid.ID, flags flag.Set, toolchain oid.ID, arch string) oid.ID {
	depTexts := make([]string, len(deps))
	for i, d := range deps {
		depTexts[i] = d.String()
	}
	return oid.Combine().
		AddSet(depTexts).
		AddSet(flags.RawTexts()).
		Add(toolchain.String(), arch).
		Finish()
}

// LinkNode is the link-time node variant (Executable / SharedLibrary):
// sources include object and library nodes discovered at scan time, already
// resolved by the time the node reaches the graph (scan-time resolution for
// link inputs happens on the compile nodes that feed them).
type LinkNode struct {
	Base
	Sources []oid.ID
}

func NewLinkNode(kind Kind, name, path, arch, config string, toolchain oid.ID, sources []oid.ID, flags flag.Set) *LinkNode {
	n := &LinkNode{Base: newBase(kind, name, path, arch, config, toolchain), Sources: sources}
	n.flags = flags
	n.deps = append([]oid.ID(nil), sources...)
	return n
}

func (n *LinkNode) Finalize(ctx context.Context, g *Graph) error {
	n.hash = finalizeDefault(g, n.deps, n.flags, n.toolchain, n.arch)
	n.finalized = true
	return nil
}

// PhysicalNetlist depends on one netlist and one constraints file; it never
// scans (spec.md §4.3).
type PhysicalNetlist struct {
	Base
	Netlist     oid.ID
	Constraints oid.ID
}

func NewPhysicalNetlist(name, path, arch, config string, toolchain, netlist, constraints oid.ID, flags flag.Set) *PhysicalNetlist {
	n := &PhysicalNetlist{Base: newBase(KindPhysicalNetlist, name, path, arch, config, toolchain), Netlist: netlist, Constraints: constraints}
	n.flags = flags
	n.deps = []oid.ID{netlist, constraints}
	return n
}

func (n *PhysicalNetlist) Finalize(ctx context.Context, g *Graph) error {
	n.hash = finalizeDefault(g, n.deps, n.flags, n.toolchain, n.arch)
	n.finalized = true
	return nil
}

// FpgaBitstream depends on a netlist directly, or on a PhysicalNetlist when
// the toolchain separates place-and-route into its own artifact. Board
// speed/package flags are injected by the caller building this node (script.go).
type FpgaBitstream struct {
	Base
	Netlist         oid.ID
	Circuit         oid.ID // PhysicalNetlist hash, zero if toolchain has no separate circuit artifact
	HasCircuit      bool
	Board           string
}

func NewFpgaBitstream(name, path, arch, config string, toolchain oid.ID, netlist oid.ID, circuit oid.ID, hasCircuit bool, flags flag.Set) *FpgaBitstream {
	n := &FpgaBitstream{Base: newBase(KindFpgaBitstream, name, path, arch, config, toolchain), Netlist: netlist, Circuit: circuit, HasCircuit: hasCircuit}
	n.flags = flags
	if hasCircuit {
		n.deps = []oid.ID{netlist, circuit}
	} else {
		n.deps = []oid.ID{netlist}
	}
	return n
}

func (n *FpgaBitstream) Finalize(ctx context.Context, g *Graph) error {
	n.hash = finalizeDefault(g, n.deps, n.flags, n.toolchain, n.arch)
	n.finalized = true
	return nil
}

// FormalVerification (verilog/formal target type) depends on the netlist(s)
// under verification and a proof-stage flag set; no scan.
type FormalVerification struct {
	Base
}

func NewFormalVerification(name, path, arch, config string, toolchain oid.ID, sources []oid.ID, flags flag.Set) *FormalVerification {
	n := &FormalVerification{Base: newBase(KindFormalVerification, name, path, arch, config, toolchain)}
	n.flags = flags
	n.deps = sources
	return n
}

func (n *FormalVerification) Finalize(ctx context.Context, g *Graph) error {
	n.hash = finalizeDefault(g, n.deps, n.flags, n.toolchain, n.arch)
	n.finalized = true
	return nil
}

// HdlNetlist is a CompileNode specialization name kept distinct for clarity
// at call sites (spec.md lists HdlNetlist as its own kind, produced by the
// Verilog/VHDL frontend the same way CppObject is produced by the C/C++
// frontend — both share CompileNode's scan-then-hash behavior).
func NewHdlNetlist(name, path, arch, config string, toolchain oid.ID, source oid.ID, flags flag.Set) *CompileNode {
	return NewCompileNode(KindHdlNetlist, name, path, arch, config, toolchain, source, flags)
}

// NewObject is the C/C++ compile-time node constructor (CppObject in
// spec.md's naming, KindObject here).
func NewObject(name, path, arch, config string, toolchain oid.ID, source oid.ID, flags flag.Set) *CompileNode {
	return NewCompileNode(KindObject, name, path, arch, config, toolchain, source, flags)
}

// NewExecutable and NewSharedLibrary are the two LinkNode specializations
// named in spec.md ("c++, exe|∅ → CppExecutable", "c++, shlib → CppSharedLibrary").
func NewExecutable(name, path, arch, config string, toolchain oid.ID, sources []oid.ID, flags flag.Set) *LinkNode {
	return NewLinkNode(KindExecutable, name, path, arch, config, toolchain, sources, flags)
}

func NewSharedLibrary(name, path, arch, config string, toolchain oid.ID, sources []oid.ID, flags flag.Set) *LinkNode {
	return NewLinkNode(KindSharedLibrary, name, path, arch, config, toolchain, sources, flags)
}
