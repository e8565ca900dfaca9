package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/creack/pty"
)

// GNUAdapter is the worker-side reference adapter for GCC-family toolchains.
// It shells out to the real compiler under a pty so that GCC's coloring and
// progress heuristics behave the same as an interactive invocation, the way
// the original adapters invoke vendor tools (spec.md §4.8 notes creack/pty
// as the process-execution dependency for every worker-side adapter).
type GNUAdapter struct {
	// BinPath is the path to the gcc/g++ binary this adapter wraps, e.g.
	// "/usr/bin/gcc-5".
	BinPath string
}

var gccVersionRe = regexp.MustCompile(`(?m)^gcc version (\d+)\.(\d+)\.(\d+)`)

// Probe runs "<bin> -v" and parses its stderr banner into a Descriptor,
// mirroring the original GNUToolchain constructor's version detection.
func (a GNUAdapter) Probe(ctx context.Context) (Descriptor, error) {
	cmd := exec.CommandContext(ctx, a.BinPath, "-v")
	var out bytes.Buffer
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return Descriptor{}, fmt.Errorf("toolchain: probe %s: %w", a.BinPath, err)
	}

	m := gccVersionRe.FindStringSubmatch(out.String())
	if m == nil {
		return Descriptor{}, fmt.Errorf("toolchain: could not parse gcc version banner from %s", a.BinPath)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	v := Version{Major: major, Minor: minor, Patch: patch, String: fmt.Sprintf("%d.%d.%d", major, minor, patch)}

	triplet, err := a.probeTriplet(ctx)
	if err != nil {
		return Descriptor{}, err
	}

	langs := []Language{LangObject, LangC, LangCPP, LangAsm}
	d := Descriptor{
		Type:      GNU,
		Version:   v,
		Languages: langs,
		Triplets:  []string{triplet},
		Affixes: map[string]Affix{
			"exe":   {Prefix: "", Suffix: ""},
			"shlib": {Prefix: "lib", Suffix: ".so"},
			"obj":   {Prefix: "", Suffix: ".o"},
		},
		CompilerNames: []string{"gcc", "g++"},
	}
	d.Hash = ComputeHash(d.Type, d.Version, d.Languages, d.Triplets)
	return d, nil
}

func (a GNUAdapter) probeTriplet(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, a.BinPath, "-dumpmachine")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("toolchain: dumpmachine %s: %w", a.BinPath, err)
	}
	return string(bytes.TrimSpace(out)), nil
}

// Run invokes the compiler under a pty, streaming combined stdout/stderr to
// the returned reader as the build proceeds; the caller drains it into the
// cache log entry for the node being built (spec.md §4.1 build logs).
func (a GNUAdapter) Run(ctx context.Context, args []string) (*bufio.Scanner, func() error, error) {
	cmd := exec.CommandContext(ctx, a.BinPath, args...)
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("toolchain: start %s under pty: %w", a.BinPath, err)
	}
	scanner := bufio.NewScanner(f)
	wait := func() error {
		defer f.Close()
		return cmd.Wait()
	}
	return scanner, wait, nil
}
