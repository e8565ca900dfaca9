// Package config resolves splashctl's on-disk configuration, grounded on
// the teacher's kong + kong-yaml config-file pattern: flags are the single
// source of truth for shape, config.yml merely supplies defaults (spec.md
// §1 explicitly excludes config file *contents* from scope; this package
// only owns loading the file, not interpreting vendor-specific keys).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Controller is splashctl's resolved configuration.
type Controller struct {
	ListenAddr string `yaml:"listen_addr"`
	CacheName  string `yaml:"cache_name"`
	LogFile    string `yaml:"log_file"`
	LogLevel   string `yaml:"log_level"`
	DBPath     string `yaml:"db_path"`

	// OTLPEndpoint, if set, enables trace export over OTLP/gRPC (SPEC_FULL.md
	// §4.8). Empty disables tracing entirely.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the built-in defaults, used when no config.yml is found
// and no flags override them.
func Default() Controller {
	return Controller{
		ListenAddr: ":49000",
		CacheName:  "default",
		LogFile:    "",
		LogLevel:   "info",
		DBPath:     "",
	}
}

// Load reads path (if it exists) and overlays it onto Default(); a missing
// file is not an error, matching kong-yaml's "optional config file"
// behavior for the teacher's CLI.
func Load(path string) (Controller, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// Workstation is the developer client's per-project config, stored at
// "<project-root>/.splash/config.yml" per spec.md §6.
type Workstation struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Client struct {
		UUID string `yaml:"uuid"`
	} `yaml:"client"`
}

// DefaultWorkstation returns the zero-config defaults: port 49000 and an
// empty uuid (the caller generates and persists one on first Init).
func DefaultWorkstation() Workstation {
	w := Workstation{}
	w.Server.Port = 49000
	return w
}

// LoadWorkstation reads "<projectRoot>/.splash/config.yml".
func LoadWorkstation(projectRoot string) (Workstation, error) {
	w := DefaultWorkstation()
	path := filepath.Join(projectRoot, ".splash", "config.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return w, nil
		}
		return w, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return w, nil
}

// SaveWorkstation writes w to "<projectRoot>/.splash/config.yml", creating
// the directory if necessary.
func SaveWorkstation(projectRoot string, w Workstation) error {
	dir := filepath.Join(projectRoot, ".splash")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}
	data, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("config: marshal workstation config: %w", err)
	}
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// AppHomeDir returns (creating if necessary) "$HOME/.splash", the base
// directory for the cache, sqlite database, and ssh_config fragment.
func AppHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".splash")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("config: create app home dir: %w", err)
	}
	return dir, nil
}
