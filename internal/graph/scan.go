package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/azonenberg/splash-build-system-sub000/internal/flag"
	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

// ScanResult is what a dependency scan returns for one compile-time node:
// the discovered include/module dependencies plus any extra flags the scan
// itself surfaced (e.g. "-D" defines implied by a pkg-config lookup).
type ScanResult struct {
	OK       bool
	Stdout   string
	Deps     []ScanDep
	LibFlags []string
}

// ScanDep is one dependency line reported by a worker's scan
// (spec.md §4.5 DependencyResults.deps[] = {fname, hash}).
type ScanDep struct {
	FileName string
	Hash     oid.ID
}

// Scanner launches a blocking dependency scan on the golden node for a
// toolchain hash, matching Scheduler.ScanDependencies (spec.md §4.4). The
// graph package depends only on this narrow interface so it never imports
// the scheduler package directly.
type Scanner interface {
	ScanDependencies(ctx context.Context, path, arch string, toolchain oid.ID, flags []string) (ScanResult, bool, error)
}

// CompileNode is the compile-time node variant (CppObject or HdlNetlist in
// spec.md's naming): it owns a dependency scan, and on Finalize reclassifies
// discovered dependencies into library/object/SystemLibrary nodes before
// applying the default hash rule (spec.md §4.3 "Build Graph — derived
// variants").
type CompileNode struct {
	Base
	Source oid.ID // the source file node's hash this node compiles

	scanPending bool
	scanResult  ScanResult
	scanOK      bool
	scanErr     error
}

func NewCompileNode(kind Kind, name, path, arch, config string, toolchain oid.ID, source oid.ID, flags flag.Set) *CompileNode {
	n := &CompileNode{Base: newBase(kind, name, path, arch, config, toolchain), Source: source}
	n.flags = flags
	return n
}

func (n *CompileNode) StartFinalization(ctx context.Context, g *Graph) error {
	n.finalizing = true
	n.scanPending = true
	return nil
}

// isLibraryLike reports whether a scan-reported filename looks like a
// linkable artifact rather than a header/source, per spec.md's "basename
// looks like a shared or static library or object file" rule.
func isLibraryLike(fname string) bool {
	base := filepath.Base(fname)
	switch {
	case strings.HasPrefix(base, "lib") && (strings.HasSuffix(base, ".so") || strings.HasSuffix(base, ".a") || strings.Contains(base, ".so.")):
		return true
	case strings.HasSuffix(base, ".o"):
		return true
	default:
		return false
	}
}

func libDefineFlag(fname string) flag.Flag {
	base := filepath.Base(fname)
	base = strings.TrimPrefix(base, "lib")
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	return flag.MustParse(fmt.Sprintf("define/HAVE_%s", strings.ToUpper(base)))
}

func (n *CompileNode) Finalize(ctx context.Context, g *Graph) error {
	if n.scanPending {
		scanFlags := n.flags.ForStage(flag.Scan)
		texts := make([]string, len(scanFlags))
		for i, f := range scanFlags {
			texts[i] = f.String()
		}
		res, ok, err := g.scanner.ScanDependencies(ctx, n.Path(), n.arch, n.toolchain, texts)
		n.scanPending = false
		if err != nil {
			return fmt.Errorf("graph: scan %s: %w", n.name, err)
		}
		if !ok {
			n.markInvalid("dependency scan was canceled")
			n.finalized = true
			return nil
		}
		n.scanResult = res
		n.scanOK = res.OK
	}
	if !n.scanOK {
		n.markInvalid("dependency scan reported failure:\n" + n.scanResult.Stdout)
		n.finalized = true
		return nil
	}

	deps := make([]oid.ID, 0, len(n.scanResult.Deps)+1)
	deps = append(deps, n.Source)
	for _, d := range n.scanResult.Deps {
		if isLibraryLike(d.FileName) {
			sys := g.getOrCreateSystemLibrary(d.FileName, n.arch, n.toolchain)
			deps = append(deps, sys.Hash())
			n.flags.Add(libDefineFlag(d.FileName))
			continue
		}
		deps = append(deps, d.Hash)
	}
	for _, raw := range n.scanResult.LibFlags {
		if f, err := flag.Parse(raw); err == nil {
			n.flags.Add(f)
		}
	}
	n.deps = deps
	n.hash = finalizeDefault(g, deps, n.flags, n.toolchain, n.arch)
	n.finalized = true
	return nil
}
