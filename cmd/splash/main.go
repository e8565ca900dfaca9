// Command splash is the developer-facing client for a splash build
// controller: it pushes working-copy file changes and issues build/info
// requests over the wire protocol described in spec.md §4.5/§6. Its CLI
// surface is intentionally thin (spec.md §6: "out-of-scope logic-wise but
// its contract with the controller is fixed").
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/azonenberg/splash-build-system-sub000/internal/config"
	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
	"github.com/azonenberg/splash-build-system-sub000/internal/wire"
)

type CLI struct {
	Init        InitCmd        `cmd:"" help:"initialize this directory as a splash working copy"`
	Push        PushCmd        `cmd:"" help:"push local file changes to the controller"`
	Build       BuildCmd       `cmd:"" help:"request a build from the controller"`
	ListArches  ListArchesCmd  `cmd:"" name:"list-arches" help:"list known architectures"`
	ListClients ListClientsCmd `cmd:"" name:"list-clients" help:"list connected clients"`
	ListConfigs ListConfigsCmd `cmd:"" name:"list-configs" help:"list known configs"`
	ListTargets ListTargetsCmd `cmd:"" name:"list-targets" help:"list known targets"`
	ListChains  ListChainsCmd  `cmd:"" name:"list-toolchains" help:"list registered toolchains"`
}

type InitCmd struct {
	Server string `arg:"" help:"controller hostname or IP"`
	Port   int    `arg:"" optional:"" default:"49000" help:"controller port"`
}

func (c *InitCmd) Run() error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}
	w := config.DefaultWorkstation()
	w.Server.Host = c.Server
	w.Server.Port = c.Port
	w.Client.UUID = uuid.NewString()
	return config.SaveWorkstation(root, w)
}

// dial opens a connection to the controller and runs the developer
// handshake (spec.md §4.5 steps 1-4), returning a ready-to-use session.
func dial(ctx context.Context) (*clientConn, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	w, err := config.LoadWorkstation(root)
	if err != nil {
		return nil, err
	}
	if w.Server.Host == "" {
		return nil, fmt.Errorf("splash: not initialized; run 'splash init <server>' first")
	}

	addr := net.JoinHostPort(w.Server.Host, strconv.Itoa(w.Server.Port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("splash: dial %s: %w", addr, err)
	}

	cc := &clientConn{conn: conn, r: bufio.NewReader(conn), root: root}
	if err := cc.handshake(w.Client.UUID); err != nil {
		conn.Close()
		return nil, err
	}
	return cc, nil
}

type clientConn struct {
	conn net.Conn
	r    *bufio.Reader
	root string
}

func (c *clientConn) send(m wire.Message) error {
	return wire.WriteFrame(c.conn, m)
}

func (c *clientConn) recv() (wire.Type, wire.Message, error) {
	typ, body, err := wire.ReadFrame(c.r)
	if err != nil {
		return 0, nil, err
	}
	m, err := wire.Decode(typ, body)
	return typ, m, err
}

func (c *clientConn) handshake(clientUUID string) error {
	typ, msg, err := c.recv()
	if err != nil {
		return fmt.Errorf("splash: read server hello: %w", err)
	}
	hello, ok := msg.(*wire.ServerHello)
	if typ != wire.TypeServerHello || !ok {
		return fmt.Errorf("splash: expected ServerHello, got type %d", typ)
	}
	if hello.Magic != wire.Magic || hello.Version != wire.Version {
		return fmt.Errorf("splash: protocol mismatch (magic=%x version=%d)", hello.Magic, hello.Version)
	}

	hostname, _ := os.Hostname()
	if err := c.send(&wire.ClientHello{
		Magic: wire.Magic, Version: wire.Version,
		Role: wire.RoleDeveloper, Hostname: hostname, UUID: clientUUID,
	}); err != nil {
		return err
	}
	return c.send(&wire.DevInfo{Arch: hostArch()})
}

func hostArch() string {
	// Good enough for the developer identification handshake; workers
	// report their real build architecture separately via BuildInfo.
	return "x86_64-linux-gnu"
}

// PushCmd walks the working copy and announces every file's hash, sending
// content only for files the controller reports as not already cached
// (spec.md §8 scenario A).
type PushCmd struct {
	Path []string `arg:"" optional:"" help:"files to push (default: whole working copy)"`
}

func (c *PushCmd) Run() error {
	ctx := context.Background()
	cc, err := dial(ctx)
	if err != nil {
		return err
	}
	defer cc.conn.Close()

	paths := c.Path
	if len(paths) == 0 {
		paths, err = walkWorkingCopy(cc.root)
		if err != nil {
			return err
		}
	}

	// Reading and hashing every working-copy file is independent per path, so
	// fan it out instead of doing it one file at a time over a large tree.
	blobs := make([][]byte, len(paths))
	hashes := make([]oid.ID, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, rel := range paths {
		i, rel := i, rel
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			data, err := os.ReadFile(filepath.Join(cc.root, rel))
			if err != nil {
				return fmt.Errorf("splash: read %s: %w", rel, err)
			}
			blobs[i] = data
			hashes[i] = oid.Of(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var entries []wire.FileChangeEntry
	contents := map[string][]byte{}
	for i, rel := range paths {
		contents[rel] = blobs[i]
		entries = append(entries, wire.FileChangeEntry{FileName: rel, Hash: hashes[i]})
	}

	if err := cc.send(&wire.BulkFileChanged{Entries: entries}); err != nil {
		return err
	}
	_, msg, err := cc.recv()
	if err != nil {
		return err
	}
	ack, ok := msg.(*wire.BulkFileAck)
	if !ok {
		return fmt.Errorf("splash: expected BulkFileAck")
	}

	var needData []wire.FileChangeEntry
	for _, e := range ack.Entries {
		if !e.HaveContent {
			data := contents[e.FileName]
			needData = append(needData, wire.FileChangeEntry{
				FileName: e.FileName,
				Hash:     oid.Of(data),
				Data:     data,
			})
		}
	}
	if len(needData) == 0 {
		fmt.Println("push: up to date")
		return nil
	}
	if err := cc.send(&wire.BulkFileChanged{Entries: needData}); err != nil {
		return err
	}
	if _, _, err := cc.recv(); err != nil {
		return err
	}
	fmt.Printf("push: sent content for %d file(s)\n", len(needData))
	return nil
}

func walkWorkingCopy(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".splash" || info.Name() == "build" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	return out, err
}

// BuildCmd issues a BuildRequest and prints the resulting log/status lines,
// exiting 1 on overall failure (spec.md §6 CLI surface).
type BuildCmd struct {
	Target  string `arg:"" optional:"" help:"target name (wildcard by default)"`
	Arch    string `arg:"" optional:"" help:"architecture (wildcard by default)"`
	Config  string `arg:"" optional:"" help:"config (wildcard by default)"`
	Rebuild bool   `help:"set the rebuild flag on the request (the controller does not act on it; cached results are still used)"`
}

func (c *BuildCmd) Run() error {
	cc, err := dial(context.Background())
	if err != nil {
		return err
	}
	defer cc.conn.Close()

	if err := cc.send(&wire.BuildRequest{Target: c.Target, Arch: c.Arch, Config: c.Config, Rebuild: c.Rebuild}); err != nil {
		return err
	}
	_, msg, err := cc.recv()
	if err != nil {
		return err
	}
	res, ok := msg.(*wire.BuildResults)
	if !ok {
		return fmt.Errorf("splash: expected BuildResults")
	}
	for _, r := range res.Results {
		status := "ok"
		if !r.OK {
			status = "FAILED"
		}
		fmt.Printf("%s: %s\n", r.FileName, status)
		if r.Log != "" {
			fmt.Println(r.Log)
		}
	}
	if !res.Status {
		os.Exit(1)
	}
	return nil
}

// The list-* commands share one shape: send an InfoRequest, print the
// string-list reply.

type ListArchesCmd struct{ Target string `arg:"" optional:""` }

func (c *ListArchesCmd) Run() error { return listInfo(wire.InfoArch, c.Target) }

type ListClientsCmd struct{}

func (c *ListClientsCmd) Run() error { return listInfo(wire.InfoClient, "") }

type ListConfigsCmd struct{}

func (c *ListConfigsCmd) Run() error { return listInfo(wire.InfoConfig, "") }

type ListTargetsCmd struct{}

func (c *ListTargetsCmd) Run() error { return listInfo(wire.InfoTarget, "") }

type ListChainsCmd struct{}

func (c *ListChainsCmd) Run() error { return listInfo(wire.InfoToolchain, "") }

func listInfo(kind wire.InfoKind, query string) error {
	cc, err := dial(context.Background())
	if err != nil {
		return err
	}
	defer cc.conn.Close()

	if err := cc.send(&wire.InfoRequest{Kind: kind, Query: query}); err != nil {
		return err
	}
	_, msg, err := cc.recv()
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case *wire.ArchList:
		printLines(m.Arches)
	case *wire.ClientList:
		printLines(m.Clients)
	case *wire.ConfigList:
		printLines(m.Configs)
	case *wire.NodeList:
		printLines(m.Nodes)
	case *wire.TargetList:
		printLines(m.Targets)
	case *wire.ToolchainList:
		for _, e := range m.Entries {
			fmt.Printf("%s type=%d version=%s arches=%v\n", e.Hash, e.Type, e.Version, e.Triplets)
		}
	default:
		return fmt.Errorf("splash: unexpected info response")
	}
	return nil
}

func printLines(lines []string) {
	for _, l := range lines {
		fmt.Println(l)
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Description("splash is the developer client for a splash build controller."))
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
