package workerhosts

import (
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockFileSystem is a trimmed stand-in for the teacher's MockFileSystem,
// covering only the calls Manager makes.
type mockFileSystem struct {
	files map[string][]byte
	dirs  map[string]bool
}

func newMockFileSystem() *mockFileSystem {
	return &mockFileSystem{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func (m *mockFileSystem) Stat(name string) (fs.FileInfo, error) {
	if m.dirs[name] {
		return nil, nil
	}
	if _, ok := m.files[name]; ok {
		return nil, nil
	}
	return nil, os.ErrNotExist
}

func (m *mockFileSystem) MkdirAll(name string, perm fs.FileMode) error {
	m.dirs[name] = true
	return nil
}

func (m *mockFileSystem) ReadFile(name string) ([]byte, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *mockFileSystem) SafeWriteFile(name string, data []byte, perm fs.FileMode) error {
	m.files[name] = append([]byte(nil), data...)
	return nil
}

func TestNewSplicesIncludeIntoMissingSSHConfig(t *testing.T) {
	fsys := newMockFileSystem()
	m, err := newWithFS(fsys)
	require.NoError(t, err)

	data, err := fsys.ReadFile(m.sshConfig)
	require.NoError(t, err)
	require.Contains(t, string(data), "Include "+m.fragmentPath)
}

func TestNewDoesNotDuplicateExistingInclude(t *testing.T) {
	fsys := newMockFileSystem()
	m1, err := newWithFS(fsys)
	require.NoError(t, err)

	m2, err := newWithFS(fsys)
	require.NoError(t, err)
	require.Equal(t, m1.sshConfig, m2.sshConfig)

	data, _ := fsys.ReadFile(m1.sshConfig)
	require.Equal(t, 1, strings.Count(string(data), "Include "+m1.fragmentPath))
}

func TestAddWorkerThenRemoveWorkerUpdatesFragment(t *testing.T) {
	fsys := newMockFileSystem()
	m, err := newWithFS(fsys)
	require.NoError(t, err)

	require.NoError(t, m.AddWorker("build-worker-atlas", "10.0.0.5", 22))
	data, err := fsys.ReadFile(m.fragmentPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "build-worker-atlas")
	require.Contains(t, string(data), "10.0.0.5")

	require.NoError(t, m.RemoveWorker("build-worker-atlas"))
	data, _ = fsys.ReadFile(m.fragmentPath)
	require.NotContains(t, string(data), "build-worker-atlas")
}

func TestAddWorkerWithNonStandardPortIncludesPortLine(t *testing.T) {
	fsys := newMockFileSystem()
	m, err := newWithFS(fsys)
	require.NoError(t, err)

	require.NoError(t, m.AddWorker("build-worker-orbit", "10.0.0.9", 2222))
	data, _ := fsys.ReadFile(m.fragmentPath)
	require.Contains(t, string(data), "Port 2222")
}
