package graph

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/azonenberg/splash-build-system-sub000/internal/flag"
	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
	"github.com/azonenberg/splash-build-system-sub000/internal/splasherr"
	"github.com/azonenberg/splash-build-system-sub000/internal/toolchain"
)

// ToolchainSettings is the per-scope configuration block a build.yml's
// recursive_config/file_config sections contribute for one toolchain name
// (spec.md §4.3 "route to the named toolchain's ToolchainSettings under
// this script's key").
type ToolchainSettings struct {
	Flags   []string `yaml:"flags"`
	Configs []string `yaml:"configs"`
}

// targetSpec is the YAML shape of one non-special top-level key in a
// build.yml document (spec.md §4.3 "Build Graph — target loading").
type targetSpec struct {
	Toolchain string              `yaml:"toolchain"`
	Type      string              `yaml:"type"`
	Boards    []string            `yaml:"boards"`
	Arches    []string            `yaml:"arches"`
	Configs   []string            `yaml:"configs"`
	Flags     []string            `yaml:"flags"`
	Sources   []string            `yaml:"sources"`
	Pins      map[string]int      `yaml:"pins"`
	Constants map[string][]string `yaml:"constants"`
}

type scriptDoc struct {
	RecursiveConfig map[string]ToolchainSettings `yaml:"recursive_config"`
	FileConfig      map[string]ToolchainSettings `yaml:"file_config"`
}

// UpdateScript reparses one build.yml, replacing whatever it previously
// declared (spec.md §4.3 "Build Graph — script processing").
func (g *Graph) UpdateScript(ctx context.Context, path string, id oid.ID, body []byte) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.updateScriptLocked(ctx, path, body)
}

func (g *Graph) updateScriptLocked(ctx context.Context, path string, body []byte) ([]string, error) {
	// Step 1: remove previously declared targets and per-file config.
	if prev, ok := g.scripts[path]; ok {
		for _, name := range prev.declaredTargets {
			g.removeTargetInstances(name)
		}
		g.unclaimAllFrom(path)
	}

	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", splasherr.ErrSchema, path, err)
	}

	st := &scriptState{path: path, recursiveConfig: map[string]ToolchainSettings{}, fileConfig: map[string]ToolchainSettings{}}
	configChanged := false
	var dirty []string

	for key, node := range raw {
		switch key {
		case "recursive_config", "file_config":
			settings := map[string]ToolchainSettings{}
			if err := node.Decode(&settings); err != nil {
				return nil, fmt.Errorf("%w: %s: bad %s block: %v", splasherr.ErrSchema, path, key, err)
			}
			if key == "recursive_config" {
				st.recursiveConfig = settings
			} else {
				st.fileConfig = settings
			}
			configChanged = true
		default:
			var spec targetSpec
			if err := node.Decode(&spec); err != nil {
				err = fmt.Errorf("%w: %s: bad target %q: %v", splasherr.ErrSchema, path, key, err)
				slog.ErrorContext(ctx, "graph: target rejected", "script", path, "target", key, "error", err)
				continue
			}
			if err := g.loadTargetLocked(ctx, key, spec, path); err != nil {
				slog.ErrorContext(ctx, "graph: target rejected", "script", path, "target", key, "error", err)
				continue
			}
			st.declaredTargets = append(st.declaredTargets, key)
			dirty = append(dirty, g.dirtyScriptsFor(key)...)
		}
	}
	g.scripts[path] = st

	// Step 3: propagate recursive_config/file_config changes to descendant
	// scripts so inheritance stays consistent.
	if configChanged {
		dir := filepath.Dir(path)
		for other, otherSt := range g.scripts {
			if other == path {
				continue
			}
			if dir == "." || strings.HasPrefix(filepath.Dir(other), dir+string(filepath.Separator)) {
				_ = otherSt
				dirty = append(dirty, other)
			}
		}
	}
	return dedupe(dirty), nil
}

// removeTargetInstances deletes every (name, *, *) target instance
// regardless of arch/config, part of step 1 of update_script.
func (g *Graph) removeTargetInstances(name string) {
	for k := range g.targets {
		if k.Name == name {
			delete(g.targets, k)
		}
	}
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// resolvedConfigs returns the configuration names in effect for a scope
// (spec.md §4.3 "Configuration names come from the toolchain settings for
// this scope"). Only this script's own settings are consulted: its
// file_config entry wins over its recursive_config entry, and "default" is
// used when neither names any configs. recursive_config blocks of scripts
// in ancestor directories are not inherited.
func (g *Graph) resolvedConfigs(script, chainType string) []string {
	st := g.scripts[script]
	if st == nil {
		return []string{"default"}
	}
	if fc, ok := st.fileConfig[chainType]; ok && len(fc.Configs) > 0 {
		return fc.Configs
	}
	if rc, ok := st.recursiveConfig[chainType]; ok && len(rc.Configs) > 0 {
		return rc.Configs
	}
	return []string{"default"}
}

// loadTargetLocked implements spec.md §4.3 "Build Graph — target loading".
func (g *Graph) loadTargetLocked(ctx context.Context, name string, spec targetSpec, script string) error {
	if err := g.claim(name, script); err != nil {
		return fmt.Errorf("%w: %v", splasherr.ErrSchema, err)
	}
	if spec.Toolchain == "" {
		return fmt.Errorf("%w: %s: target %q missing required toolchain field", splasherr.ErrSchema, script, name)
	}
	chainType := strings.SplitN(spec.Toolchain, "/", 2)[0]

	flags, err := flag.NewSet(spec.Flags)
	if err != nil {
		return fmt.Errorf("%w: %s: target %q: %v", splasherr.ErrSchema, script, name, err)
	}

	configs := spec.Configs
	if len(configs) == 0 {
		configs = g.resolvedConfigs(script, chainType)
	}

	if len(spec.Boards) > 0 && len(spec.Arches) > 0 {
		return fmt.Errorf("%w: %s: target %q specifies both boards and arches", splasherr.ErrSchema, script, name)
	}

	switch {
	case len(spec.Boards) > 0:
		return g.loadBoardTargetLocked(ctx, name, spec, script, chainType, configs, flags)
	default:
		arches := spec.Arches
		if len(arches) == 0 {
			arches = []string{"global"}
		}
		return g.loadPlainTargetLocked(ctx, name, spec, script, chainType, arches, configs, flags)
	}
}

func (g *Graph) loadPlainTargetLocked(ctx context.Context, name string, spec targetSpec, script, chainType string, arches, configs []string, flags flag.Set) error {
	for _, arch := range arches {
		tc, ok := g.registry.ForName(toolchainLang(chainType), arch)
		if !ok {
			slog.ErrorContext(ctx, "graph: no toolchain for target", "script", script, "target", name, "toolchain", spec.Toolchain, "arch", arch)
			continue // spec.md: "log error and skip"
		}
		for _, config := range configs {
			sources := g.resolveSources(spec.Sources, script, arch, config, tc.Hash, flags)
			kind, outKind := classifyTarget(chainType, spec.Type)
			suffix := tc.Suffix(outKind)
			prefix := tc.Prefix(outKind)
			outPath := filepath.Join(filepath.Dir(script), "build", arch, config, prefix+name+suffix)

			var n Node
			switch kind {
			case KindExecutable:
				n = NewExecutable(name, outPath, arch, config, tc.Hash, sources, flags)
			case KindSharedLibrary:
				n = NewSharedLibrary(name, outPath, arch, config, tc.Hash, sources, flags)
			case KindFormalVerification:
				n = NewFormalVerification(name, outPath, arch, config, tc.Hash, sources, flags)
			default:
				n = NewExecutable(name, outPath, arch, config, tc.Hash, sources, flags)
			}
			g.registerTarget(targetKey{Name: name, Arch: arch, Config: config}, n)
		}
	}
	return nil
}

func (g *Graph) loadBoardTargetLocked(ctx context.Context, name string, spec targetSpec, script, chainType string, configs []string, flags flag.Set) error {
	for _, boardName := range spec.Boards {
		board, err := g.loadBoard(boardName)
		if err != nil {
			return fmt.Errorf("%w: %s: target %q: %v", splasherr.ErrResolution, script, name, err)
		}
		arch := board.Triplet
		tc, ok := g.registry.ForName(toolchainLang(chainType), arch)
		if !ok {
			continue
		}
		for _, config := range configs {
			sources := g.resolveSources(spec.Sources, script, arch, config, tc.Hash, flags)
			hwFlags := flags.Clone()
			hwFlags.Add(flag.MustParse(fmt.Sprintf("hardware/speed/%d", board.Speed)))
			hwFlags.Add(flag.MustParse(fmt.Sprintf("hardware/package/%s", board.Package)))

			var netlist oid.ID
			if len(sources) > 0 {
				netlist = sources[0]
			}
			n := NewFpgaBitstream(name, filepath.Join(filepath.Dir(script), "build", boardName, config, name+".bit"),
				arch, config, tc.Hash, netlist, oid.Zero, false, hwFlags)
			g.registerTarget(targetKey{Name: name, Arch: boardName, Config: config}, n)

			if len(spec.Pins) > 0 {
				if err := g.emitBoardConstraints(script, boardName, config, name, board, spec.Pins); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// resolveSources turns a spec's raw source path list into CompileNode
// dependency hashes, synthesizing an Object/HdlNetlist node per source.
func (g *Graph) resolveSources(paths []string, script, arch, config string, tc oid.ID, flags flag.Set) []oid.ID {
	out := make([]oid.ID, 0, len(paths))
	for _, p := range paths {
		full := filepath.Join(filepath.Dir(script), p)
		contentHash, ok := g.wc.GetHash(full)
		if !ok {
			continue
		}
		src := NewSourceFile(full, contentHash)
		g.byHash[src.Hash()] = src

		kind := KindObject
		if strings.HasSuffix(p, ".v") || strings.HasSuffix(p, ".vhd") {
			kind = KindHdlNetlist
		}
		cn := NewCompileNode(kind, full, full, arch, config, tc, src.Hash(), flags.Clone())
		g.byHash[cn.Hash()] = cn
		out = append(out, cn.Hash())
	}
	return out
}

func (g *Graph) loadBoard(name string) (*BoardInfo, error) {
	path := name + ".yml"
	data, err := g.cache.Read(mustSourceHash(g.wc, path))
	if err != nil {
		return nil, fmt.Errorf("board %q not found in working copy: %w", name, err)
	}
	return ParseBoardInfo(data)
}

func mustSourceHash(wc *WorkingCopy, path string) oid.ID {
	h, _ := wc.GetHash(path)
	return h
}

func (g *Graph) emitBoardConstraints(script, boardName, config, targetName string, board *BoardInfo, pins map[string]int) error {
	ext := ".ucf"
	outPath := filepath.Join(filepath.Dir(script), targetName+ext)
	text, err := GenerateConstraints(outPath, board, pins)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", splasherr.ErrSchema, script, err)
	}
	id := oid.Of([]byte(text))
	_ = g.cache.Add(context.Background(), id, id, []byte(text), "")
	src := NewSourceFile(outPath, id)
	g.byHash[src.Hash()] = src
	return nil
}

// toolchainLang maps a build.yml "toolchain" field's chain-type prefix to
// the registry's Language key.
func toolchainLang(chainType string) toolchain.Language {
	switch chainType {
	case "c":
		return toolchain.LangC
	case "c++":
		return toolchain.LangCPP
	case "asm":
		return toolchain.LangAsm
	case "verilog", "vhdl":
		return toolchain.LangVerilog
	default:
		return toolchain.Language(chainType)
	}
}

// classifyTarget maps spec.md's "(chain-type, type) -> variant" table to a
// Kind plus the affix lookup key used for the output filename.
func classifyTarget(chainType, typ string) (Kind, string) {
	switch {
	case chainType == "c++" && (typ == "" || typ == "exe"):
		return KindExecutable, "exe"
	case chainType == "c++" && typ == "shlib":
		return KindSharedLibrary, "shlib"
	case chainType == "verilog" && typ == "formal":
		return KindFormalVerification, "exe"
	default:
		return KindExecutable, "exe"
	}
}
