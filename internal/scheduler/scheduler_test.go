package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
)

type fakeRegistry struct {
	nodes map[oid.ID][]string
	gold  map[oid.ID]string
}

func (f *fakeRegistry) NodesForHash(h oid.ID) []string { return f.nodes[h] }
func (f *fakeRegistry) GoldenNode(h oid.ID) (string, error) {
	return f.gold[h], nil
}

func TestScanJobFIFOWithinWorker(t *testing.T) {
	reg := &fakeRegistry{}
	s := New(reg)

	j1 := &ScanJob{Path: "a.c"}
	j2 := &ScanJob{Path: "b.c"}
	j3 := &ScanJob{Path: "c.c"}
	s.SubmitScanJob("worker-1", j1)
	s.SubmitScanJob("worker-1", j2)
	s.SubmitScanJob("worker-1", j3)

	got1, ok := s.PopScanJob("worker-1")
	require.True(t, ok)
	got2, ok := s.PopScanJob("worker-1")
	require.True(t, ok)
	got3, ok := s.PopScanJob("worker-1")
	require.True(t, ok)

	require.Equal(t, j1, got1)
	require.Equal(t, j2, got2)
	require.Equal(t, j3, got3)
}

func TestBuildJobFIFOWithinPriorityBand(t *testing.T) {
	tc := oid.Of([]byte("toolchain"))
	reg := &fakeRegistry{nodes: map[oid.ID][]string{tc: {"worker-1"}}}
	s := New(reg)

	j1 := &BuildJob{Toolchain: tc, Priority: Normal}
	j2 := &BuildJob{Toolchain: tc, Priority: Normal}
	require.NoError(t, s.SubmitJob(j1))
	require.NoError(t, s.SubmitJob(j2))

	got1, ok := s.PopJob("worker-1")
	require.True(t, ok)
	got2, ok := s.PopJob("worker-1")
	require.True(t, ok)
	require.Equal(t, j1, got1)
	require.Equal(t, j2, got2)
}

// The scheduler has no combined pop: the worker loop calls PopScanJob before
// PopJob. This checks that a scan submitted after a build is still handed out
// by PopScanJob, and that the build stays queued for PopJob.
func TestPopPrefersScanOverBuild(t *testing.T) {
	tc := oid.Of([]byte("toolchain"))
	reg := &fakeRegistry{nodes: map[oid.ID][]string{tc: {"worker-1"}}}
	s := New(reg)

	build := &BuildJob{Toolchain: tc, Priority: Normal}
	require.NoError(t, s.SubmitJob(build))
	scan := &ScanJob{Path: "a.c"}
	s.SubmitScanJob("worker-1", scan)

	gotJob, gotScan := s.PopScanJob("worker-1")
	require.True(t, gotScan)
	require.Equal(t, scan, gotJob)

	gotBuild, ok := s.PopJob("worker-1")
	require.True(t, ok)
	require.Equal(t, build, gotBuild)
}

func TestRemoveNodeCancelsOrRequeuesInFlight(t *testing.T) {
	tc := oid.Of([]byte("toolchain"))
	reg := &fakeRegistry{nodes: map[oid.ID][]string{tc: {"worker-1", "worker-2"}}}
	s := New(reg)

	job := &BuildJob{Toolchain: tc, Priority: Normal}
	require.NoError(t, s.SubmitJob(job))
	_, _ = s.PopJob("worker-1")
	require.Equal(t, Running, job.State())

	// The controller drops the worker from the registry before calling
	// RemoveNode, so only worker-2 is still eligible.
	reg.nodes[tc] = []string{"worker-2"}
	s.RemoveNode("worker-1")

	require.NotEqual(t, Running, job.State())
	j, ok := s.PopJob("worker-2")
	found := ok && j == job
	require.True(t, found, "job must be requeued onto a surviving worker after its owner disconnects")
}
