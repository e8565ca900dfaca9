// Package controller assembles the cache, toolchain registry, build graph,
// scheduler, and session listener into one running splash controller
// daemon. Per spec.md §9 Design Notes ("construct a controller context
// object at startup, pass it down the session-thread stack; no globals are
// required"), every session is handed this struct explicitly rather than
// reaching for package-level state.
package controller

import (
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
	"github.com/azonenberg/splash-build-system-sub000/internal/session"
	"github.com/azonenberg/splash-build-system-sub000/internal/toolchain"
	"github.com/azonenberg/splash-build-system-sub000/internal/workerhosts"
)

// Controller is the top-level context object for one running splash
// controller. A single Controller currently backs a single working copy;
// SPEC_FULL.md's cross-controller federation is explicitly a non-goal, and
// multi-working-copy support is left as the natural next step (the pieces
// — keyed by a working copy identifier instead of held singly — are already
// separable).
type Controller struct {
	Cache     *cache.Cache
	Registry  *toolchain.Registry
	Scheduler *scheduler.Scheduler
	Graph     *graph.Graph
	WC        *graph.WorkingCopy
	Hosts     *workerhosts.Manager // nil if ssh_config bookkeeping could not be set up
	DB        *db.DB               // nil if no DBPath was configured

	names namegenerator.Generator
}

// Config is what New needs to assemble a Controller.
type Config struct {
	CacheName string
	DBPath    string // empty disables persistent client/toolchain/job-history tracking
	Seed      int64  // namegenerator seed; callers pass time.Now().UnixNano()
}

// New constructs a Controller: opens the object cache, builds an empty
// registry/working-copy/graph/scheduler, and binds the graph's dependency
// scanner to the scheduler.
func New(ctx context.Context, cfg Config) (*Controller, error) {
	c, err := cache.Open(ctx, cfg.CacheName)
	if err != nil {
		return nil, fmt.Errorf("controller: open cache: %w", err)
	}
	registry := toolchain.NewRegistry()
	sched := scheduler.New(registry)
	wc := graph.NewWorkingCopy()
	g := graph.New(wc, registry, c, sched)
	wc.Bind(g)

	hosts, err := workerhosts.New()
	if err != nil {
		slog.WarnContext(ctx, "controller: ssh_config bookkeeping disabled", "error", err)
		hosts = nil
	}

	var database *db.DB
	if cfg.DBPath != "" {
		database, err = db.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("controller: open db: %w", err)
		}
	}

	return &Controller{
		Cache:     c,
		Registry:  registry,
		Scheduler: sched,
		Graph:     g,
		WC:        wc,
		Hosts:     hosts,
		DB:        database,
		names:     namegenerator.NewNameGenerator(cfg.Seed),
	}, nil
}

// Serve accepts connections on ln until ctx is canceled, spawning one
// session goroutine per connection (spec.md §5 "one thread per TCP
// session"). A disconnected worker's in-flight jobs are canceled/requeued
// via Scheduler.RemoveNode once its session goroutine returns.
func (ctrl *Controller) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("controller: accept: %w", err)
		}
		go ctrl.handleConn(ctx, conn)
	}
}

func (ctrl *Controller) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sess := session.New(conn, session.Deps{
		Cache:       ctrl.Cache,
		Registry:    ctrl.Registry,
		Scheduler:   ctrl.Scheduler,
		Graph:       ctrl.Graph,
		NameSource:  ctrl.names,
		WorkerHosts: ctrl.Hosts,
		DB:          ctrl.DB,
	})

	start := time.Now()
	err := sess.Run(ctx)
	slog.InfoContext(ctx, "controller: session ended", "name", sess.Name, "role", sess.Role, "duration", time.Since(start), "error", err)

	if sess.Name != "" {
		ctrl.Registry.RemoveClient(sess.Name)
		ctrl.Scheduler.RemoveNode(sess.Name)
		if ctrl.Hosts != nil {
			ctrl.Hosts.RemoveWorker(sess.Name)
		}
	}
}
