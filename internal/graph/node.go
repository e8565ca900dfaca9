// Package graph implements the per-working-copy build graph (spec.md §4.3):
// a DAG of polymorphic nodes reachable from a target map, finalized in two
// non-blocking/blocking phases and garbage collected by mark-and-sweep from
// the target map as roots.
package graph

import (
	"context"
	"sync"

	"github.com/azonenberg/splash-build-system-sub000/internal/flag"
	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

// Kind discriminates the concrete node variants spec.md §4.3 names.
type Kind int

const (
	KindSourceFile Kind = iota
	KindObject
	KindExecutable
	KindSharedLibrary
	KindConstantTable
	KindHdlNetlist
	KindPhysicalNetlist
	KindFpgaBitstream
	KindFormalVerification
	KindSystemLibrary
)

func (k Kind) String() string {
	switch k {
	case KindSourceFile:
		return "SourceFile"
	case KindObject:
		return "Object"
	case KindExecutable:
		return "Executable"
	case KindSharedLibrary:
		return "SharedLibrary"
	case KindConstantTable:
		return "ConstantTable"
	case KindHdlNetlist:
		return "HdlNetlist"
	case KindPhysicalNetlist:
		return "PhysicalNetlist"
	case KindFpgaBitstream:
		return "FpgaBitstream"
	case KindFormalVerification:
		return "FormalVerification"
	case KindSystemLibrary:
		return "SystemLibrary"
	default:
		return "invalid"
	}
}

// Node is satisfied by every node variant. Methods that mutate finalization
// state assume the owning Graph's mutex is already held by the caller,
// matching spec.md §5's one-reentrant-mutex-per-working-copy discipline
// (reimplemented here as "never call a locking entry point from inside
// another one", since sync.Mutex isn't reentrant).
type Node interface {
	Kind() Kind
	Name() string
	Path() string
	Hash() oid.ID
	Arch() string
	Config() string
	Toolchain() oid.ID
	Dependencies() []oid.ID
	IsFinalized() bool
	InvalidInput() bool

	// StartFinalization is non-blocking. CompileNode only marks its
	// dependency scan as pending here; the scan job is submitted and waited
	// for inside Finalize, so the scans of different nodes run one after
	// another rather than overlapping.
	StartFinalization(ctx context.Context, g *Graph) error
	// Finalize blocks on any scan started by StartFinalization and computes
	// the node's final hash. Calling Finalize before StartFinalization is a
	// caller bug.
	Finalize(ctx context.Context, g *Graph) error
}

// Base holds the fields and bookkeeping shared by every node kind. Concrete
// kinds embed Base and only implement the methods that differ (Finalize for
// derived nodes that scan dependencies; the rest inherit Base's defaults).
type Base struct {
	kind Kind
	name string
	path string // virtual output path, excluded from the hash per spec.md §4.3

	arch      string
	config    string
	toolchain oid.ID // toolchain descriptor hash this node was built with

	deps  []oid.ID // dependency node hashes, by current graph snapshot
	flags flag.Set

	hash         oid.ID
	finalizing   bool
	finalized    bool
	invalidInput bool
	invalidLog   string

	ref int // reference count from target map / dependent nodes

	mu sync.Mutex // guards ref only; hash/finalized are graph-mutex-protected
}

func newBase(kind Kind, name, path, arch, config string, toolchain oid.ID) Base {
	return Base{kind: kind, name: name, path: path, arch: arch, config: config, toolchain: toolchain}
}

func (b *Base) Kind() Kind            { return b.kind }
func (b *Base) Name() string          { return b.name }
func (b *Base) Path() string          { return b.path }
func (b *Base) Hash() oid.ID          { return b.hash }
func (b *Base) Arch() string          { return b.arch }
func (b *Base) Config() string        { return b.config }
func (b *Base) Toolchain() oid.ID     { return b.toolchain }
func (b *Base) Dependencies() []oid.ID { return b.deps }
func (b *Base) IsFinalized() bool     { return b.finalized }
func (b *Base) InvalidInput() bool    { return b.invalidInput }

// SetRef / Unref / IsReferenced implement the target-map rooted
// mark-and-sweep GC's reference bookkeeping (spec.md §4.3 collect_garbage).
func (b *Base) SetRef() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ref++
}

func (b *Base) Unref() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ref > 0 {
		b.ref--
	}
}

func (b *Base) IsReferenced() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ref > 0
}

func (b *Base) markInvalid(log string) {
	b.invalidInput = true
	b.invalidLog = log
}

// StartFinalization's default implementation is a no-op: leaf and
// non-scanning derived nodes have nothing to kick off asynchronously.
func (b *Base) StartFinalization(ctx context.Context, g *Graph) error {
	b.finalizing = true
	return nil
}

// SourceFile is a leaf node: its hash is simply the content hash recorded by
// the working copy, and it has no dependencies.
type SourceFile struct {
	Base
	ContentHash oid.ID
}

func NewSourceFile(path string, contentHash oid.ID) *SourceFile {
	n := &SourceFile{Base: newBase(KindSourceFile, path, path, "", "", oid.Zero), ContentHash: contentHash}
	n.hash = contentHash
	n.finalized = true
	return n
}

func (n *SourceFile) Finalize(ctx context.Context, g *Graph) error {
	n.hash = n.ContentHash
	n.finalized = true
	return nil
}

// ConstantTable is a generated-header source, materialized by a generator
// script rather than authored directly (spec.md §4.3 "load_target ...
// constants block").
type ConstantTable struct {
	Base
	TableSource oid.ID // hash of the table-path input file
	Generator   string
}

func NewConstantTable(name, path, generator string, tableSource oid.ID) *ConstantTable {
	return &ConstantTable{Base: newBase(KindConstantTable, name, path, "", "", oid.Zero), TableSource: tableSource, Generator: generator}
}

func (n *ConstantTable) Finalize(ctx context.Context, g *Graph) error {
	n.hash = oid.Combine().Add(n.Generator).Add(n.TableSource.String()).Finish()
	n.finalized = true
	return nil
}

// SystemLibrary is a dependency-scan-discovered library that lives outside
// the working copy (e.g. "libpthread.so" found on a worker's system path).
// It carries no content; its hash is derived from its name and the
// toolchain/arch that resolved it, since the actual bytes live on the
// worker, not the cache.
type SystemLibrary struct {
	Base
}

func NewSystemLibrary(name, arch string, toolchain oid.ID) *SystemLibrary {
	n := &SystemLibrary{Base: newBase(KindSystemLibrary, name, "", arch, "", toolchain)}
	n.hash = oid.Combine().Add("syslib", name, arch, toolchain.String()).Finish()
	n.finalized = true
	return n
}

func (n *SystemLibrary) Finalize(ctx context.Context, g *Graph) error { return nil }
