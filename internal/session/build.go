package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/azonenberg/splash-build-system-sub000/internal/cache"
	"github.com/azonenberg/splash-build-system-sub000/internal/graph"
	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
	"github.com/azonenberg/splash-build-system-sub000/internal/scheduler"
	"github.com/azonenberg/splash-build-system-sub000/internal/telemetry"
	"github.com/azonenberg/splash-build-system-sub000/internal/wire"
)

// handleBuildRequest implements spec.md §4.6's Build Orchestration in full:
// resolve targets, walk missing dependencies into scheduler jobs, wait for
// them to drain, and assemble the BuildResults response.
func (s *Session) handleBuildRequest(ctx context.Context, req *wire.BuildRequest) error {
	ctx, span := telemetry.StartBuildSpan(ctx, req.Target, req.Arch, req.Config)
	defer span.End()

	g := s.deps.Graph
	if err := g.Rebuild(ctx); err != nil {
		return fmt.Errorf("graph rebuild before build request: %w", err)
	}

	targets := g.GetTargets(req.Target, req.Arch, req.Config)

	overallOK := true
	jobs := map[oid.ID]*scheduler.BuildJob{}
	jobSpans := map[oid.ID]trace.Span{}
	visiting := map[oid.ID]bool{}

	var buildNode func(n graph.Node) *scheduler.BuildJob
	buildNode = func(n graph.Node) *scheduler.BuildJob {
		h := n.Hash()
		if job, ok := jobs[h]; ok {
			return job
		}
		if visiting[h] {
			return nil
		}
		visiting[h] = true
		defer delete(visiting, h)

		var depJobs []*scheduler.BuildJob
		for _, depHash := range n.Dependencies() {
			switch s.deps.Cache.State(depHash) {
			case cache.Ready:
				// nothing to do
			case cache.Failed:
				overallOK = false
				input := depHash.String()
				if depNode, ok := g.NodeByHash(depHash); ok {
					input = depNode.Path()
				}
				_ = s.deps.Cache.AddFailed(ctx, h, "unable to build due to failed input "+input)
				return nil
			default:
				if depNode, ok := g.NodeByHash(depHash); ok {
					if dj := buildNode(depNode); dj != nil {
						depJobs = append(depJobs, dj)
					}
				}
			}
		}

		_, jobSpan := telemetry.StartJobSpan(ctx, n.Path(), "")

		job := &scheduler.BuildJob{Priority: scheduler.Normal, Node: n, Toolchain: n.Toolchain(), DepJobs: depJobs}
		if err := s.deps.Scheduler.SubmitJob(job); err != nil {
			overallOK = false
			jobSpan.End()
			return nil
		}
		jobs[h] = job
		jobSpans[h] = jobSpan
		return job
	}

	for _, n := range targets {
		switch s.deps.Cache.State(n.Hash()) {
		case cache.Ready, cache.Building:
			// nothing to do
		case cache.Failed:
			overallOK = false
		default:
			buildNode(n)
		}
	}

	// Wait-loop: poll the job set every 50ms, removing DONE/CANCELED jobs
	// (spec.md §4.6 step 5).
	pending := make([]*scheduler.BuildJob, 0, len(jobs))
	for _, j := range jobs {
		pending = append(pending, j)
	}
	for len(pending) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var still []*scheduler.BuildJob
		for _, j := range pending {
			switch j.State() {
			case scheduler.Done:
				jobSpans[j.Node.Hash()].End()
			case scheduler.Canceled:
				overallOK = false
				jobSpans[j.Node.Hash()].End()
			default:
				still = append(still, j)
			}
		}
		pending = still
		if len(pending) > 0 {
			time.Sleep(50 * time.Millisecond)
		}
	}

	resp := s.assembleBuildResults(overallOK)
	return s.send(ctx, resp)
}

// assembleBuildResults implements spec.md §4.6 step 6 by reporting the cache
// state of every target node in the graph. Intermediate nodes (objects,
// netlists) and generated files such as board constraint files are not
// listed.
func (s *Session) assembleBuildResults(overallOK bool) *wire.BuildResults {
	resp := &wire.BuildResults{Status: overallOK}
	g := s.deps.Graph
	for _, n := range g.GetTargets("", "", "") {
		sync := strings.Contains(n.Path(), "/build/")
		state := s.deps.Cache.State(n.Hash())
		log, _ := s.deps.Cache.ReadLog(n.Hash())
		resp.Results = append(resp.Results, wire.ResultEntry{
			FileName: n.Path(),
			Hash:     n.Hash(),
			Log:      log,
			OK:       state == cache.Ready,
			Sync:     sync,
		})
	}
	return resp
}
