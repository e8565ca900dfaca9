// Package scheduler implements the per-worker scan/build queues described
// in spec.md §4.4, replacing the original's usleep(250)-polling
// ScanDependencies with a condition-variable wakeup (spec.md §9 Design
// Notes: "the poll loop becomes a condition variable wait in the Go
// rewrite") while keeping the same queue/priority/golden-node shape.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/azonenberg/splash-build-system-sub000/internal/graph"
	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

// Priority is the runnable-band a build job is queued under.
type Priority int

const (
	Low Priority = iota
	Normal
	High
)

// JobState is a job's lifecycle state.
type JobState int

const (
	Queued JobState = iota
	Running
	Done
	Canceled
)

func (s JobState) String() string {
	switch s {
	case Queued:
		return "QUEUED"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	case Canceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// ScanJob is a dependency-scan request destined for a specific worker (the
// golden node for its toolchain hash).
type ScanJob struct {
	ID        uint64
	Path      string
	Arch      string
	Toolchain oid.ID
	Flags     []string

	mu     sync.Mutex
	state  JobState
	result graph.ScanResult
}

func (j *ScanJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *ScanJob) complete(res graph.ScanResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	j.state = Done
}

func (j *ScanJob) cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = Canceled
}

// BuildJob is a build request for one graph node, submitted to whichever
// worker advertises its toolchain hash (spec.md §4.4 submit_job).
type BuildJob struct {
	ID        uint64
	Priority  Priority
	Node      graph.Node
	Toolchain oid.ID
	DepJobs   []*BuildJob

	mu    sync.Mutex
	state JobState
	ok    bool
}

func (j *BuildJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *BuildJob) complete(ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = Done
	j.ok = ok
}

func (j *BuildJob) cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = Canceled
}

// workerQueues is the per-worker queue triple from spec.md §4.4:
// pending_scans (FIFO), pending_builds (priority-band FIFO), in_flight.
type workerQueues struct {
	scans    []*ScanJob
	builds   map[Priority][]*BuildJob
	inFlight map[uint64]any // ScanJob or BuildJob, keyed by ID
}

func newWorkerQueues() *workerQueues {
	return &workerQueues{
		builds:   map[Priority][]*BuildJob{Low: nil, Normal: nil, High: nil},
		inFlight: map[uint64]any{},
	}
}

// Registry is the minimal view the scheduler needs of the toolchain
// registry to pick candidate workers for a job.
type Registry interface {
	NodesForHash(h oid.ID) []string
	GoldenNode(h oid.ID) (string, error)
}

// Scheduler implements spec.md §4.4's push/pop/cancel semantics. One
// Scheduler instance is shared by every working copy on a controller.
type Scheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	registry Registry

	workers map[string]*workerQueues
	nextID  uint64
}

// New returns a Scheduler bound to a toolchain registry, used to resolve
// which workers can run a given job.
func New(registry Registry) *Scheduler {
	s := &Scheduler{registry: registry, workers: map[string]*workerQueues{}}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Scheduler) queuesLocked(worker string) *workerQueues {
	q, ok := s.workers[worker]
	if !ok {
		q = newWorkerQueues()
		s.workers[worker] = q
	}
	return q
}

func (s *Scheduler) nextIDLocked() uint64 {
	s.nextID++
	return s.nextID
}

// SubmitScanJob enqueues job on the given worker's scan FIFO (spec.md §4.4
// "job is destined for that specific worker").
func (s *Scheduler) SubmitScanJob(worker string, job *ScanJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.ID = s.nextIDLocked()
	q := s.queuesLocked(worker)
	q.scans = append(q.scans, job)
	s.cond.Broadcast()
}

// SubmitJob enqueues job into the runnable band for its priority, on
// whichever eligible worker currently has the shortest queue (ties broken
// by worker id), per spec.md §4.4 submit_job.
func (s *Scheduler) SubmitJob(job *BuildJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.registry.NodesForHash(job.Toolchain)
	if len(candidates) == 0 {
		return fmt.Errorf("scheduler: no worker advertises toolchain %s", job.Toolchain)
	}
	sort.Strings(candidates)

	best := candidates[0]
	bestLen := s.queueLenLocked(best)
	for _, w := range candidates[1:] {
		if l := s.queueLenLocked(w); l < bestLen {
			best, bestLen = w, l
		}
	}

	job.ID = s.nextIDLocked()
	job.state = Queued
	q := s.queuesLocked(best)
	q.builds[job.Priority] = append(q.builds[job.Priority], job)
	s.cond.Broadcast()
	return nil
}

func (s *Scheduler) queueLenLocked(worker string) int {
	q, ok := s.workers[worker]
	if !ok {
		return 0
	}
	total := 0
	for _, b := range q.builds {
		total += len(b)
	}
	return total
}

// PopScanJob returns the next scan job for worker, if any. It never returns
// a build job: scans take priority over builds because a worker's loop calls
// PopScanJob before PopJob (spec.md §4.4 "A worker thread pops a scan
// first").
func (s *Scheduler) PopScanJob(worker string) (*ScanJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queuesLocked(worker)
	if len(q.scans) == 0 {
		return nil, false
	}
	job := q.scans[0]
	q.scans = q.scans[1:]
	job.state = Running
	q.inFlight[job.ID] = job
	return job, true
}

// PopJob returns the next build job for worker, draining priority bands
// high -> normal -> low.
func (s *Scheduler) PopJob(worker string) (*BuildJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queuesLocked(worker)
	for _, p := range []Priority{High, Normal, Low} {
		if len(q.builds[p]) > 0 {
			job := q.builds[p][0]
			q.builds[p] = q.builds[p][1:]
			job.state = Running
			q.inFlight[job.ID] = job
			return job, true
		}
	}
	return nil, false
}

// CompleteScan marks a scan job done and wakes any blocked ScanDependencies
// caller.
func (s *Scheduler) CompleteScan(worker string, job *ScanJob, res graph.ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.complete(res)
	delete(s.queuesLocked(worker).inFlight, job.ID)
	s.cond.Broadcast()
}

// CompleteJob marks a build job done.
func (s *Scheduler) CompleteJob(worker string, job *BuildJob, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.complete(ok)
	delete(s.queuesLocked(worker).inFlight, job.ID)
	s.cond.Broadcast()
}

// RemoveNode cancels every in-flight job on worker, requeues build jobs
// onto another eligible worker where possible, and drops its queues
// (spec.md §4.4 "Cancellation on disconnect"). Jobs still blocked on
// dependencies are left untouched: they were never submitted to this
// worker in the first place.
func (s *Scheduler) RemoveNode(worker string) {
	s.mu.Lock()
	q, ok := s.workers[worker]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.workers, worker)

	var toRequeue []*BuildJob
	for _, v := range q.inFlight {
		switch j := v.(type) {
		case *ScanJob:
			j.cancel()
		case *BuildJob:
			j.cancel()
			toRequeue = append(toRequeue, j)
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, j := range toRequeue {
		j.state = Queued
		_ = s.SubmitJob(j)
	}
}

// ScanDependencies launches a scan on the golden node for toolchain and
// blocks until it completes, returning false if it was canceled (spec.md
// §4.4). It replaces the original's usleep(250) poll with a condition
// variable wait woken by CompleteScan/RemoveNode.
func (s *Scheduler) ScanDependencies(ctx context.Context, path, arch string, toolchain oid.ID, flags []string) (graph.ScanResult, bool, error) {
	worker, err := s.registry.GoldenNode(toolchain)
	if err != nil {
		return graph.ScanResult{}, false, err
	}

	job := &ScanJob{Path: path, Arch: arch, Toolchain: toolchain, Flags: flags}
	s.SubmitScanJob(worker, job)

	s.mu.Lock()
	defer s.mu.Unlock()
	for job.State() == Queued || job.State() == Running {
		if ctx.Err() != nil {
			return graph.ScanResult{}, false, ctx.Err()
		}
		s.cond.Wait()
	}
	if job.State() == Canceled {
		return graph.ScanResult{}, false, nil
	}
	return job.result, true, nil
}
