// Package workerhosts maintains an ssh_config fragment naming every
// currently-connected build worker, so an operator can `ssh <name>`
// straight into a stuck worker for interactive debugging, where <name> is
// the name passed to AddWorker (the controller passes the worker's session
// name). Adapted from the teacher's sshimmer.go, trimmed
// to just the ssh_config bookkeeping: no certificate authorities, since
// splash workers authenticate over the wire protocol's own handshake, not
// over ssh.
package workerhosts

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kevinburke/ssh_config"
)

// FileSystem abstracts the filesystem calls Manager makes, for testability
// without touching $HOME.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)
	MkdirAll(name string, perm fs.FileMode) error
	ReadFile(name string) ([]byte, error)
	SafeWriteFile(name string, data []byte, perm fs.FileMode) error
}

// RealFileSystem is the default FileSystem, backed by the OS.
type RealFileSystem struct{}

func (RealFileSystem) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }
func (RealFileSystem) MkdirAll(name string, perm fs.FileMode) error {
	return os.MkdirAll(name, perm)
}
func (RealFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

// SafeWriteFile writes via a temp file in the same directory then renames
// over the target, so a crash mid-write never leaves a truncated config.
func (RealFileSystem) SafeWriteFile(name string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(name)
	tmp, err := os.CreateTemp(dir, filepath.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("workerhosts: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("workerhosts: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("workerhosts: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("workerhosts: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, name); err != nil {
		return fmt.Errorf("workerhosts: rename temp file: %w", err)
	}
	return os.Chmod(name, perm)
}

// Manager owns the generated ssh_config fragment at
// "$HOME/.splash/ssh_config" and keeps one Host entry per connected
// worker. All writes rewrite the whole fragment; the file is generated and
// never hand-edited, so there is no need to preserve unknown entries.
type Manager struct {
	mu sync.Mutex
	fs FileSystem

	fragmentPath string
	sshConfig    string // "$HOME/.ssh/config"

	hosts map[string]hostEntry
}

type hostEntry struct {
	HostName string
	Port     int
}

// New resolves "$HOME/.splash/ssh_config", ensures the directory exists,
// and splices an Include line into "$HOME/.ssh/config" if one isn't there
// already.
func New() (*Manager, error) { return newWithFS(RealFileSystem{}) }

func newWithFS(fsys FileSystem) (*Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("workerhosts: resolve home dir: %w", err)
	}
	base := filepath.Join(home, ".splash")
	if err := fsys.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("workerhosts: create %s: %w", base, err)
	}

	m := &Manager{
		fs:           fsys,
		fragmentPath: filepath.Join(base, "ssh_config"),
		sshConfig:    filepath.Join(home, ".ssh", "config"),
		hosts:        map[string]hostEntry{},
	}
	if err := m.ensureInclude(); err != nil {
		return nil, err
	}
	return m, nil
}

// AddWorker registers or updates a Host entry so "ssh <name>" reaches
// worker at hostAddr:port. Call on every successful worker handshake.
func (m *Manager) AddWorker(name, hostAddr string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[name] = hostEntry{HostName: hostAddr, Port: port}
	return m.writeFragmentLocked()
}

// RemoveWorker drops name's Host entry. Call when a worker's session ends.
func (m *Manager) RemoveWorker(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hosts[name]; !ok {
		return nil
	}
	delete(m.hosts, name)
	return m.writeFragmentLocked()
}

func (m *Manager) writeFragmentLocked() error {
	names := make([]string, 0, len(m.hosts))
	for name := range m.hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	cfg := &ssh_config.Config{}
	for _, name := range names {
		h := m.hosts[name]
		pattern, err := ssh_config.NewPattern(name)
		if err != nil {
			return fmt.Errorf("workerhosts: host pattern %q: %w", name, err)
		}
		nodes := []ssh_config.Node{
			&ssh_config.KV{Key: "HostName", Value: h.HostName},
			&ssh_config.KV{Key: "StrictHostKeyChecking", Value: "no"},
		}
		if h.Port != 0 && h.Port != 22 {
			nodes = append(nodes, &ssh_config.KV{Key: "Port", Value: fmt.Sprintf("%d", h.Port)})
		}
		cfg.Hosts = append(cfg.Hosts, &ssh_config.Host{
			Patterns: []*ssh_config.Pattern{pattern},
			Nodes:    nodes,
		})
	}

	data, err := cfg.MarshalText()
	if err != nil {
		return fmt.Errorf("workerhosts: marshal ssh_config: %w", err)
	}
	return m.fs.SafeWriteFile(m.fragmentPath, data, 0o644)
}

// includeLine is what gets spliced into the operator's real ssh config.
func (m *Manager) includeLine() string {
	return "Include " + m.fragmentPath
}

// ensureInclude checks "$HOME/.ssh/config" for the splash Include line,
// adding it at the top (before any Host blocks, which must come first for
// ssh_config's first-match-wins semantics) if missing.
func (m *Manager) ensureInclude() error {
	line := m.includeLine()

	existing, err := m.fs.ReadFile(m.sshConfig)
	if err != nil {
		if os.IsNotExist(err) {
			return m.fs.SafeWriteFile(m.sshConfig, []byte(line+"\n"), 0o644)
		}
		return fmt.Errorf("workerhosts: read %s: %w", m.sshConfig, err)
	}

	for _, l := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(l) == line {
			return nil
		}
	}

	updated := append([]byte(line+"\n"), existing...)
	return m.fs.SafeWriteFile(m.sshConfig, updated, 0o644)
}
