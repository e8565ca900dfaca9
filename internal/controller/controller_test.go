package controller

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/azonenberg/splash-build-system-sub000/internal/oid"
	"github.com/azonenberg/splash-build-system-sub000/internal/wire"
)

// fakeClient drives one side of the wire protocol manually, standing in for
// a real workstation/worker binary during these controller-level tests.
type fakeClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialFake(t *testing.T, conn net.Conn) *fakeClient {
	t.Helper()
	return &fakeClient{conn: conn, r: bufio.NewReader(conn)}
}

func (f *fakeClient) send(t *testing.T, m wire.Message) {
	t.Helper()
	require.NoError(t, wire.WriteFrame(f.conn, m))
}

func (f *fakeClient) recv(t *testing.T) (wire.Type, wire.Message) {
	t.Helper()
	typ, body, err := wire.ReadFrame(f.r)
	require.NoError(t, err)
	m, err := wire.Decode(typ, body)
	require.NoError(t, err)
	return typ, m
}

func (f *fakeClient) handshake(t *testing.T, role wire.ClientRole, hostname string) {
	t.Helper()
	typ, _ := f.recv(t)
	require.Equal(t, wire.TypeServerHello, typ)
	f.send(t, &wire.ClientHello{Magic: wire.Magic, Version: wire.Version, Role: role, Hostname: hostname})
}

func startController(t *testing.T) (*Controller, net.Listener) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	ctx := context.Background()
	ctrl, err := New(ctx, Config{CacheName: "test", Seed: 1})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go ctrl.Serve(ctx, ln)
	return ctrl, ln
}

// TestBulkFileChangedAckReportsHaveContent exercises scenario A from
// spec.md §8: a bulk file change without a data payload reports
// have_content=false, and a follow-up with the data populates the cache and
// flips the ack to true.
func TestBulkFileChangedAckReportsHaveContent(t *testing.T) {
	_, ln := startController(t)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	client := dialFake(t, conn)
	client.handshake(t, wire.RoleDeveloper, "dev-box")
	client.send(t, &wire.DevInfo{Arch: "x86_64-linux-gnu"})

	h := oid.Of([]byte("int main(){}"))
	client.send(t, &wire.BulkFileChanged{Entries: []wire.FileChangeEntry{{FileName: "src/main.c", Hash: h}}})

	typ, msg := client.recv(t)
	require.Equal(t, wire.TypeBulkFileAck, typ)
	ack := msg.(*wire.BulkFileAck)
	require.Len(t, ack.Entries, 1)
	require.False(t, ack.Entries[0].HaveContent)

	client.send(t, &wire.BulkFileChanged{Entries: []wire.FileChangeEntry{{FileName: "src/main.c", Hash: h, Data: []byte("int main(){}")}}})
	typ, msg = client.recv(t)
	require.Equal(t, wire.TypeBulkFileAck, typ)
	ack = msg.(*wire.BulkFileAck)
	require.True(t, ack.Entries[0].HaveContent)
}

// TestInfoRequestTargetListReflectsGraph is a smoke test for the developer
// loop's InfoRequest branch (spec.md §4.5).
func TestInfoRequestTargetListReflectsGraph(t *testing.T) {
	_, ln := startController(t)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	client := dialFake(t, conn)
	client.handshake(t, wire.RoleDeveloper, "dev-box")
	client.send(t, &wire.DevInfo{Arch: "x86_64-linux-gnu"})

	client.send(t, &wire.InfoRequest{Kind: wire.InfoTarget})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, msg := client.recv(t)
	require.Equal(t, wire.TypeTargetList, typ)
	require.Empty(t, msg.(*wire.TargetList).Targets)
}

// TestRepeatPushDoesNotWipeTargets is the regression test for spec.md §8
// scenario A's two-phase push: a second `push` of an unmodified tree sends
// build.yml's hash with no data (it's already cached), and that must not
// cause the controller to reparse build.yml against an empty body and drop
// every target it declares.
func TestRepeatPushDoesNotWipeTargets(t *testing.T) {
	_, ln := startController(t)
	defer ln.Close()

	workerConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer workerConn.Close()

	worker := dialFake(t, workerConn)
	worker.handshake(t, wire.RoleBuild, "worker-box")
	worker.send(t, &wire.BuildInfo{CPUCount: 4, CPUSpeed: 3000, RAMMB: 8192, NumChains: 1})
	worker.send(t, &wire.AddCompiler{
		Name:      "gcc",
		Type:      "GNU",
		Major:     9,
		Minor:     4,
		Patch:     0,
		Version:   "9.4.0",
		Languages: []string{"c++"},
		Triplets:  []string{"global"},
	})

	devConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer devConn.Close()

	dev := dialFake(t, devConn)
	dev.handshake(t, wire.RoleDeveloper, "dev-box")
	dev.send(t, &wire.DevInfo{Arch: "x86_64-linux-gnu"})

	mainCPP := []byte("int main(){}")
	buildYML := []byte("hello:\n  toolchain: c++/gcc\n  sources:\n    - main.cpp\n")
	mainHash := oid.Of(mainCPP)
	buildHash := oid.Of(buildYML)

	// First push: nothing cached yet, so both entries come back
	// have_content=false and need a follow-up round carrying the data.
	dev.send(t, &wire.BulkFileChanged{Entries: []wire.FileChangeEntry{
		{FileName: "main.cpp", Hash: mainHash},
		{FileName: "build.yml", Hash: buildHash},
	}})
	typ, msg := dev.recv(t)
	require.Equal(t, wire.TypeBulkFileAck, typ)
	ack := msg.(*wire.BulkFileAck)
	require.Len(t, ack.Entries, 2)
	for _, e := range ack.Entries {
		require.False(t, e.HaveContent)
	}

	dev.send(t, &wire.BulkFileChanged{Entries: []wire.FileChangeEntry{
		{FileName: "main.cpp", Hash: mainHash, Data: mainCPP},
		{FileName: "build.yml", Hash: buildHash, Data: buildYML},
	}})
	typ, msg = dev.recv(t)
	require.Equal(t, wire.TypeBulkFileAck, typ)
	ack = msg.(*wire.BulkFileAck)
	for _, e := range ack.Entries {
		require.True(t, e.HaveContent)
	}

	dev.send(t, &wire.InfoRequest{Kind: wire.InfoTarget})
	devConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, msg = dev.recv(t)
	require.Equal(t, wire.TypeTargetList, typ)
	require.Len(t, msg.(*wire.TargetList).Targets, 1, "target should resolve after first push")

	// Second push over an unmodified tree: every entry is already cached,
	// so round one is the only round and carries no Data at all.
	dev.send(t, &wire.BulkFileChanged{Entries: []wire.FileChangeEntry{
		{FileName: "main.cpp", Hash: mainHash},
		{FileName: "build.yml", Hash: buildHash},
	}})
	typ, msg = dev.recv(t)
	require.Equal(t, wire.TypeBulkFileAck, typ)
	ack = msg.(*wire.BulkFileAck)
	for _, e := range ack.Entries {
		require.True(t, e.HaveContent)
	}

	dev.send(t, &wire.InfoRequest{Kind: wire.InfoTarget})
	devConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, msg = dev.recv(t)
	require.Equal(t, wire.TypeTargetList, typ)
	require.Len(t, msg.(*wire.TargetList).Targets, 1, "repeat push of an unmodified build.yml must not wipe its targets")
}
