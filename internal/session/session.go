// Package session implements the per-connection protocol state machines of
// spec.md §4.5: handshake, then a role-specific loop (worker or developer)
// driven from the controller side. One goroutine owns each TCP connection,
// matching the original's one-thread-per-session model (spec.md §5).
package session

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/goombaio/namegenerator"

	"github.com/azonenberg/splash-build-system-sub000/internal/cache"
	"github.com/azonenberg/splash-build-system-sub000/internal/db"
	"github.com/azonenberg/splash-build-system-sub000/internal/graph"
	"github.com/azonenberg/splash-build-system-sub000/internal/scheduler"
	"github.com/azonenberg/splash-build-system-sub000/internal/splasherr"
	"github.com/azonenberg/splash-build-system-sub000/internal/toolchain"
	"github.com/azonenberg/splash-build-system-sub000/internal/wire"
	"github.com/azonenberg/splash-build-system-sub000/internal/workerhosts"
)

// Deps bundles the controller-wide, already-constructed subsystems a
// session needs. Sessions never reach into package-level globals (spec.md
// §9 "no globals are required"); everything arrives via this struct.
type Deps struct {
	Cache      *cache.Cache
	Registry   *toolchain.Registry
	Scheduler  *scheduler.Scheduler
	Graph      *graph.Graph
	NameSource namegenerator.Generator

	// WorkerHosts is optional; when set, every connected build worker gets
	// an ssh_config Host entry for the duration of its session
	// (SPEC_FULL.md §4.8).
	WorkerHosts *workerhosts.Manager

	// DB is optional; when set, client connects and toolchain registrations
	// are persisted so they survive a controller restart (SPEC_FULL.md §4.8).
	DB *db.DB
}

// Session owns one TCP connection for its lifetime.
type Session struct {
	conn net.Conn
	r    *bufio.Reader
	deps Deps

	// Name is a friendly, pre-handshake identifier assigned for logging
	// before the client declares its hostname, the way an operator would
	// want a readable label even for a connection that never completes its
	// handshake (SPEC_FULL.md §4.8 notes goombaio/namegenerator for this).
	// Once the handshake completes, Run replaces it with the client's UUID,
	// or with its hostname when no UUID was sent.
	Name string
	Role wire.ClientRole
	Host string
	UUID string
}

// New wraps conn in a Session with a friendly pre-handshake name.
func New(conn net.Conn, deps Deps) *Session {
	name := "session"
	if deps.NameSource != nil {
		name = deps.NameSource.Generate()
	}
	return &Session{conn: conn, r: bufio.NewReader(conn), deps: deps, Name: name}
}

func (s *Session) send(ctx context.Context, m wire.Message) error {
	if err := wire.WriteFrame(s.conn, m); err != nil {
		return fmt.Errorf("%w: %s: %v", splasherr.ErrTransport, s.Name, err)
	}
	return nil
}

func (s *Session) recvTyped(expect wire.Type) (wire.Message, error) {
	typ, body, err := wire.ReadFrame(s.r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", splasherr.ErrTransport, s.Name, err)
	}
	if typ != expect {
		return nil, fmt.Errorf("%w: %s: expected message type %d, got %d", splasherr.ErrTransport, s.Name, expect, typ)
	}
	return wire.Decode(typ, body)
}

func (s *Session) recvAny() (wire.Type, wire.Message, error) {
	typ, body, err := wire.ReadFrame(s.r)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %v", splasherr.ErrTransport, s.Name, err)
	}
	m, err := wire.Decode(typ, body)
	return typ, m, err
}

// Run performs the handshake and then hands off to the role-specific loop.
// It returns when the connection drops or a transport error occurs; the
// caller is responsible for calling scheduler.RemoveNode with the session's
// worker identity once Run returns (spec.md §4.4 cancellation on disconnect).
func (s *Session) Run(ctx context.Context) error {
	if err := s.send(ctx, &wire.ServerHello{Magic: wire.Magic, Version: wire.Version}); err != nil {
		return err
	}

	helloMsg, err := s.recvTyped(wire.TypeClientHello)
	if err != nil {
		return err
	}
	hello := helloMsg.(*wire.ClientHello)
	if hello.Magic != wire.Magic || hello.Version != wire.Version {
		return fmt.Errorf("%w: %s: handshake mismatch magic=%x version=%d", splasherr.ErrTransport, s.Name, hello.Magic, hello.Version)
	}
	s.Role = hello.Role
	s.Host = hello.Hostname
	s.UUID = hello.UUID
	if s.UUID != "" {
		s.Name = s.UUID
	} else if s.Host != "" {
		s.Name = s.Host
	}
	slog.InfoContext(ctx, "session: handshake complete", "name", s.Name, "role", s.Role)

	if s.deps.DB != nil {
		if err := s.deps.DB.UpsertClient(ctx, s.Name, s.Host, roleName(s.Role)); err != nil {
			slog.WarnContext(ctx, "session: failed to persist client record", "name", s.Name, "error", err)
		}
	}

	switch s.Role {
	case wire.RoleDeveloper, wire.RoleUi:
		return s.runDeveloperHandshake(ctx)
	case wire.RoleBuild:
		return s.runWorkerHandshake(ctx)
	default:
		return fmt.Errorf("%w: %s: unknown role %d", splasherr.ErrTransport, s.Name, s.Role)
	}
}

func (s *Session) runDeveloperHandshake(ctx context.Context) error {
	msg, err := s.recvTyped(wire.TypeDevInfo)
	if err != nil {
		return err
	}
	arch := msg.(*wire.DevInfo).Arch
	slog.InfoContext(ctx, "session: developer connected", "name", s.Name, "arch", arch)
	return s.developerLoop(ctx)
}

func (s *Session) runWorkerHandshake(ctx context.Context) error {
	msg, err := s.recvTyped(wire.TypeBuildInfo)
	if err != nil {
		return err
	}
	info := msg.(*wire.BuildInfo)
	byNameChanged := false
	for i := uint32(0); i < info.NumChains; i++ {
		acMsg, err := s.recvTyped(wire.TypeAddCompiler)
		if err != nil {
			return err
		}
		ac := acMsg.(*wire.AddCompiler)
		d := toolchainFromWire(ac)
		if s.deps.Registry.AddToolchain(s.Name, d) {
			byNameChanged = true
		}
		if s.deps.DB != nil {
			langs := make([]string, len(d.Languages))
			for i, l := range d.Languages {
				langs[i] = string(l)
			}
			if err := s.deps.DB.UpsertToolchain(ctx, d.Hash.String(), d.Type.String(), d.Version.String, langs, d.Triplets); err != nil {
				slog.WarnContext(ctx, "session: failed to persist toolchain record", "hash", d.Hash, "error", err)
			}
		}
	}
	slog.InfoContext(ctx, "session: worker connected", "name", s.Name, "chains", info.NumChains)

	if byNameChanged {
		wc := s.deps.Graph.WorkingCopy()
		if err := wc.RefreshToolchains(ctx, s.loadScriptBody(wc)); err != nil {
			slog.WarnContext(ctx, "session: refresh_toolchains failed", "error", err)
		}
	}

	if s.deps.WorkerHosts != nil {
		if addr, ok := s.conn.RemoteAddr().(*net.TCPAddr); ok {
			if err := s.deps.WorkerHosts.AddWorker(s.Name, addr.IP.String(), 22); err != nil {
				slog.WarnContext(ctx, "session: failed to register worker ssh host", "name", s.Name, "error", err)
			}
		}
	}

	return s.workerLoop(ctx)
}

func roleName(r wire.ClientRole) string {
	switch r {
	case wire.RoleDeveloper:
		return "developer"
	case wire.RoleBuild:
		return "build"
	case wire.RoleUi:
		return "ui"
	default:
		return "unknown"
	}
}

func toolchainFromWire(ac *wire.AddCompiler) toolchain.Descriptor {
	var t toolchain.Type
	switch ac.Type {
	case "GNU":
		t = toolchain.GNU
	case "Clang":
		t = toolchain.Clang
	case "Yosys":
		t = toolchain.Yosys
	case "ISE":
		t = toolchain.ISE
	case "Vivado":
		t = toolchain.Vivado
	}
	langs := make([]toolchain.Language, len(ac.Languages))
	for i, l := range ac.Languages {
		langs[i] = toolchain.Language(l)
	}
	v := toolchain.Version{Major: int(ac.Major), Minor: int(ac.Minor), Patch: int(ac.Patch), String: ac.Version}
	d := toolchain.Descriptor{
		Type:          t,
		Version:       v,
		Languages:     langs,
		Triplets:      ac.Triplets,
		CompilerNames: []string{ac.Name},
	}
	d.Hash = toolchain.ComputeHash(t, v, langs, ac.Triplets)
	return d
}

// workerLoop implements spec.md §4.5's controller-side worker state machine:
// idle, pop a scan or build job, dispatch it, and service interleaved
// content-request messages until the terminal response arrives.
func (s *Session) workerLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if scanJob, ok := s.deps.Scheduler.PopScanJob(s.Name); ok {
			if err := s.runScanJob(ctx, scanJob); err != nil {
				return err
			}
			continue
		}
		if buildJob, ok := s.deps.Scheduler.PopJob(s.Name); ok {
			if err := s.runBuildJob(ctx, buildJob); err != nil {
				return err
			}
			continue
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (s *Session) runScanJob(ctx context.Context, job *scheduler.ScanJob) error {
	if err := s.send(ctx, &wire.DependencyScan{Path: job.Path, Arch: job.Arch, Toolchain: job.Toolchain, Flags: job.Flags}); err != nil {
		return err
	}
	for {
		typ, msg, err := s.recvAny()
		if err != nil {
			return err
		}
		switch typ {
		case wire.TypeContentRequestByHash:
			if err := s.serveContentRequest(ctx, msg.(*wire.ContentRequestByHash)); err != nil {
				return err
			}
		case wire.TypeBulkHashRequest:
			if err := s.serveBulkHashRequest(ctx, msg.(*wire.BulkHashRequest)); err != nil {
				return err
			}
		case wire.TypeDependencyResults:
			res := msg.(*wire.DependencyResults)
			sr := graph.ScanResult{OK: res.OK, Stdout: res.Stdout, LibFlags: res.LibFlags}
			for _, d := range res.Deps {
				sr.Deps = append(sr.Deps, graph.ScanDep{FileName: d.FileName, Hash: d.Hash})
			}
			s.deps.Scheduler.CompleteScan(s.Name, job, sr)
			return nil
		default:
			return fmt.Errorf("%w: %s: unexpected message %d during scan", splasherr.ErrTransport, s.Name, typ)
		}
	}
}

func (s *Session) runBuildJob(ctx context.Context, job *scheduler.BuildJob) error {
	req := &wire.NodeBuildRequest{
		FileName:  job.Node.Path(),
		Toolchain: job.Toolchain,
		Arch:      job.Node.Arch(),
		Sources:   job.Node.Dependencies(),
	}
	if err := s.send(ctx, req); err != nil {
		return err
	}
	for {
		typ, msg, err := s.recvAny()
		if err != nil {
			return err
		}
		switch typ {
		case wire.TypeContentRequestByHash:
			if err := s.serveContentRequest(ctx, msg.(*wire.ContentRequestByHash)); err != nil {
				return err
			}
		case wire.TypeNodeBuildResults:
			res := msg.(*wire.NodeBuildResults)
			s.routeBuildOutputs(ctx, job, res)
			s.deps.Scheduler.CompleteJob(s.Name, job, res.Success)
			return nil
		default:
			return fmt.Errorf("%w: %s: unexpected message %d during build", splasherr.ErrTransport, s.Name, typ)
		}
	}
}

// routeBuildOutputs implements spec.md §4.5's output-routing rule: the
// output whose basename equals the node's own basename uses the node's oid
// and the job's stdout as its log; every other output uses its own content
// hash as oid.
func (s *Session) routeBuildOutputs(ctx context.Context, job *scheduler.BuildJob, res *wire.NodeBuildResults) {
	nodeHash := job.Node.Hash()
	if !res.Success {
		if err := s.deps.Cache.AddFailed(ctx, nodeHash, res.Stdout); err != nil {
			slog.WarnContext(ctx, "session: add_failed error", "node", job.Node.Name(), "error", err)
		}
		return
	}
	for _, out := range res.Outputs {
		id := out.Hash
		log := ""
		if out.FileName == res.FileName {
			id = nodeHash
			log = res.Stdout
		}
		if err := s.deps.Cache.Add(ctx, id, out.Hash, out.Data, log); err != nil {
			slog.WarnContext(ctx, "session: add error", "file", out.FileName, "error", err)
		}
	}
}

func (s *Session) serveContentRequest(ctx context.Context, req *wire.ContentRequestByHash) error {
	resp := &wire.ContentResponse{}
	for _, id := range req.Oids {
		entry := wire.ContentEntry{Hash: id}
		switch s.deps.Cache.State(id) {
		case cache.Ready:
			data, err := s.deps.Cache.Read(id)
			if err == nil {
				entry.Status = wire.ContentReady
				entry.Data = data
			}
		case cache.Failed:
			entry.Status = wire.ContentFailed
		default:
			entry.Status = wire.ContentMissing
		}
		resp.Entries = append(resp.Entries, entry)
	}
	return s.send(ctx, resp)
}

func (s *Session) serveBulkHashRequest(ctx context.Context, req *wire.BulkHashRequest) error {
	resp := &wire.BulkHashResponse{}
	wc := s.deps.Graph.WorkingCopy()
	for _, fname := range req.FileNames {
		entry := wire.HashFileEntry{FileName: fname}
		if h, ok := wc.GetHash(fname); ok {
			entry.Found = true
			entry.Hash = h
		}
		resp.Files = append(resp.Files, entry)
	}
	return s.send(ctx, resp)
}

// developerLoop implements spec.md §4.5's controller-side developer state
// machine: wait for one primary request, handle it to completion, repeat.
func (s *Session) developerLoop(ctx context.Context) error {
	for {
		typ, msg, err := s.recvAny()
		if err != nil {
			return err
		}
		switch typ {
		case wire.TypeBulkFileChanged:
			if err := s.handleBulkFileChanged(ctx, msg.(*wire.BulkFileChanged)); err != nil {
				return err
			}
		case wire.TypeFileRemoved:
			s.deps.Graph.WorkingCopy().Remove(msg.(*wire.FileRemoved).FileName)
		case wire.TypeContentRequestByHash:
			if err := s.serveContentRequest(ctx, msg.(*wire.ContentRequestByHash)); err != nil {
				return err
			}
		case wire.TypeBuildRequest:
			if err := s.handleBuildRequest(ctx, msg.(*wire.BuildRequest)); err != nil {
				return err
			}
		case wire.TypeInfoRequest:
			if err := s.handleInfoRequest(ctx, msg.(*wire.InfoRequest)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s: unexpected message %d in developer loop", splasherr.ErrTransport, s.Name, typ)
		}
	}
}

// handleBulkFileChanged implements spec.md §8 scenario A. A push walks the
// whole working copy unless specific files are named, so most pushed entries are already cached
// (haveContent true, Data empty) and update_file must reload the real body
// by hash rather than trust whatever bytes the wire entry happened to carry
// — otherwise a repeat push of an unmodified build.yml reparses it against
// an empty body and silently wipes every target it declares.
func (s *Session) handleBulkFileChanged(ctx context.Context, msg *wire.BulkFileChanged) error {
	ack := &wire.BulkFileAck{}
	var dirty []string
	for _, e := range msg.Entries {
		haveContent := s.deps.Cache.IsCached(e.Hash)
		if !haveContent && len(e.Data) > 0 {
			if err := s.deps.Cache.Add(ctx, e.Hash, e.Hash, e.Data, ""); err != nil {
				slog.WarnContext(ctx, "session: cache add on file push failed", "file", e.FileName, "error", err)
			} else {
				haveContent = true
			}
		}

		var body []byte
		if haveContent {
			b, err := s.deps.Cache.Read(e.Hash)
			if err != nil {
				slog.WarnContext(ctx, "session: failed to read cached content for update_file", "file", e.FileName, "error", err)
			} else {
				body = b
			}
		}

		d, err := s.deps.Graph.WorkingCopy().Update(ctx, e.FileName, e.Hash, body, true)
		if err != nil {
			slog.WarnContext(ctx, "session: update_file failed", "file", e.FileName, "error", err)
		}
		dirty = append(dirty, d...)

		ack.Entries = append(ack.Entries, wire.FileAckEntry{FileName: e.FileName, HaveContent: haveContent})
	}

	s.refreshDirtyScripts(ctx, dirty)

	return s.send(ctx, ack)
}

// refreshDirtyScripts reparses every script spec.md §4.3's dirty_scripts
// machinery flagged as invalidated by the updates above, following the
// chain until reparsing produces no further dirty scripts.
func (s *Session) refreshDirtyScripts(ctx context.Context, dirty []string) {
	wc := s.deps.Graph.WorkingCopy()
	loadBody := s.loadScriptBody(wc)

	seen := map[string]bool{}
	queue := dirty
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		if seen[path] {
			continue
		}
		seen[path] = true

		id, ok := wc.GetHash(path)
		if !ok {
			continue
		}
		body, err := loadBody(path)
		if err != nil {
			slog.WarnContext(ctx, "session: failed to read cached script body for refresh", "script", path, "error", err)
			continue
		}
		more, err := s.deps.Graph.UpdateScript(ctx, path, id, body)
		if err != nil {
			slog.WarnContext(ctx, "session: dirty script reparse failed", "script", path, "error", err)
			continue
		}
		queue = append(queue, more...)
	}
}

// loadScriptBody returns a loadBody callback, as WorkingCopy.RefreshToolchains
// and refreshDirtyScripts want, that resolves a working-copy path's current
// content by hash through the object cache.
func (s *Session) loadScriptBody(wc *graph.WorkingCopy) func(path string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		id, ok := wc.GetHash(path)
		if !ok {
			return nil, fmt.Errorf("session: no content hash recorded for %s", path)
		}
		return s.deps.Cache.Read(id)
	}
}

func (s *Session) handleInfoRequest(ctx context.Context, req *wire.InfoRequest) error {
	switch req.Kind {
	case wire.InfoArch:
		return s.send(ctx, &wire.ArchList{})
	case wire.InfoToolchain:
		list := &wire.ToolchainList{}
		return s.send(ctx, list)
	case wire.InfoTarget:
		nodes := s.deps.Graph.GetTargets("", "", "")
		names := make([]string, len(nodes))
		for i, n := range nodes {
			names[i] = n.Name()
		}
		return s.send(ctx, &wire.TargetList{Targets: names})
	default:
		return s.send(ctx, &wire.ClientList{})
	}
}
