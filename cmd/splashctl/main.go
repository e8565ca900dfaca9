// Command splashctl is the splash build controller daemon: it serves the
// wire protocol described in spec.md §4.5 to connecting workstations and
// workers, backed by the object cache, toolchain registry, build graph, and
// scheduler in internal/.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	completion "github.com/jotaen/kong-completion"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/azonenberg/splash-build-system-sub000/internal/config"
	"github.com/azonenberg/splash-build-system-sub000/internal/controller"
	"github.com/azonenberg/splash-build-system-sub000/internal/telemetry"
	"github.com/azonenberg/splash-build-system-sub000/version"
)

// CLI is splashctl's flag/subcommand surface. Flags are the authoritative
// shape; config.yml (loaded via kong-yaml) only supplies overriding
// defaults, matching the teacher's cmd/sand CLI pattern.
type CLI struct {
	ConfigFile string `default:"~/.splash/config.yml" placeholder:"<path>" help:"controller config file (optional)"`
	ListenAddr string `default:"" placeholder:"<host:port>" help:"address to listen on; overrides config.yml"`
	CacheName  string `default:"" placeholder:"<name>" help:"object cache name; overrides config.yml"`
	LogFile    string `default:"" placeholder:"<path>" help:"log file path (empty logs to stderr)"`
	LogLevel   string `default:"info" placeholder:"<debug|info|warn|error>" help:"logging level"`

	Serve       ServeCmd       `cmd:"" default:"1" help:"run the controller daemon"`
	Version     VersionCmd     `cmd:"" help:"print version information"`
	Completions completion.Cmd `cmd:"" help:"generate shell completion script"`
}

// ServeCmd runs the controller's accept loop until interrupted.
type ServeCmd struct{}

func (s *ServeCmd) Run(cli *CLI) error {
	lvl := parseLevel(cli.LogLevel)
	initSlog(cli.LogFile, lvl)

	path := expandHome(cli.ConfigFile)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cli.ListenAddr != "" {
		cfg.ListenAddr = cli.ListenAddr
	}
	if cli.CacheName != "" {
		cfg.CacheName = cli.CacheName
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("splashctl: %w", err)
	}
	defer tp.Shutdown(context.Background())

	dbPath := cfg.DBPath
	if dbPath == "" {
		if home, err := config.AppHomeDir(); err == nil {
			dbPath = filepath.Join(home, "splash.db")
		}
	}
	ctrl, err := controller.New(ctx, controller.Config{CacheName: cfg.CacheName, DBPath: dbPath, Seed: time.Now().UnixNano()})
	if err != nil {
		return fmt.Errorf("splashctl: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("splashctl: listen on %s: %w", cfg.ListenAddr, err)
	}
	slog.InfoContext(ctx, "splashctl: listening", "addr", cfg.ListenAddr, "cache", cfg.CacheName)

	return ctrl.Serve(ctx, ln)
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	info := version.Get()
	fmt.Printf("Git Repository: %s\n", info.GitRepo)
	fmt.Printf("Git Branch: %s\n", info.GitBranch)
	fmt.Printf("Git Commit: %s\n", info.GitCommit)
	fmt.Printf("Build Time: %s\n", info.BuildTime)
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initSlog wires a JSON structured logger, rotated by lumberjack when a
// LogFile is given, matching the teacher's cmd/sand slog setup.
func initSlog(logFile string, level slog.Level) {
	var handler slog.Handler
	if logFile == "" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		w := &lumberjack.Logger{
			Filename:   expandHome(logFile),
			MaxSize:    64, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func main() {
	var cli CLI
	parser := kong.Must(&cli,
		kong.Configuration(kongyaml.Loader, "~/.splash/config.yml"),
		kong.Description("splashctl is the splash build cluster controller daemon."),
	)
	completion.Register(parser)

	kongCtx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := kongCtx.Run(&cli); err != nil {
		slog.Error("splashctl: fatal", "error", err)
		os.Exit(1)
	}
}
