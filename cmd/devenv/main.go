package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	kongcompletion "github.com/jotaen/kong-completion"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/banksean/devenv/daemon"
)

// Context threads shared dependencies into every subcommand's Run method,
// the same role cmd/sand/main.go's Context plays for its own subcommands.
type Context struct {
	AppBaseDir string
	LogFile    string
	LogLevel   string

	Offline          bool
	Impure           bool
	RefreshEvalCache bool
	MaxJobs          int
	Cores            int
}

// CLI is the root Kong command. The five flags below are spec.md §6's
// "CLI surface (referenced but out of scope beyond these invariants)"
// list; --max-jobs and --cores default to floor(cores/4) and
// floor(cores/max-jobs) when left at zero, per that same section.
type CLI struct {
	LogFile    string `default:"" placeholder:"<log-file-path>" help:"location of log file (leave empty for a random tmp/ path)"`
	LogLevel   string `default:"info" placeholder:"<debug|info|warn|error>" help:"the logging level (debug, info, warn, error)"`
	AppBaseDir string `default:"" placeholder:"<app-base-dir>" help:"root dir for daemon socket, lock file, and caches. Leave unset to use '~/.config/devenv'"`

	Offline          bool `help:"suppress substituter/network contact during evaluation"`
	Impure           bool `help:"relax input tracking (env reads are still recorded)"`
	RefreshEvalCache bool `help:"force the eval cache to re-evaluate instead of reusing a stored hit"`
	MaxJobs          int  `default:"0" help:"max concurrent task jobs; 0 derives from available parallelism"`
	Cores            int  `default:"0" help:"cores made available per job; 0 derives from available parallelism"`

	Daemon     DaemonCmd          `cmd:"" help:"start, stop, restart, or check the devenv background daemon"`
	Task       TaskCmd            `cmd:"" help:"run one or more tasks from a task manifest"`
	Shell      ShellCmd           `cmd:"" help:"enter a hot-reloading development shell"`
	Processes  ProcessesCmd       `cmd:"" help:"list, stop, or restart processes supervised by the daemon"`
	Version    VersionCmd         `cmd:"" help:"print version information about this command"`
	Completion kongcompletion.Cmd `cmd:"" help:"print shell completion script"`
}

func (c *CLI) initSlog(cctx *kong.Context) {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if c.LogFile != "" && strings.HasPrefix(cctx.Command(), "daemon") {
		c.LogFile = c.LogFile + "daemon"
	}
	if c.LogFile == "" {
		f, err := os.CreateTemp("", "devenv-log")
		if err != nil {
			panic(err)
		}
		c.LogFile = f.Name()
		f.Close()
	} else if logDir := filepath.Dir(c.LogFile); logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			panic(err)
		}
	}

	// Rotating JSON log, so a long-running daemon never grows its log file
	// unbounded (the teacher's own main.go imports lumberjack for this but
	// never constructs it; this wires it up for real).
	writer := &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	slog.Info("slog initialized")
}

const description = `devenv supervises development processes, runs task DAGs, and hosts a
hot-reloading PTY shell, backed by an evaluator-produced configuration.`

// appHomeDir mirrors cmd/sand/main.go's appHomeDir, generalized away from
// the teacher's macOS-only "~/Library/Application Support" path to an
// XDG-style "~/.config/devenv" base.
func appHomeDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".config", "devenv")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating app base directory: %w", err)
	}
	return dir, nil
}

// resolveParallelism fills in MaxJobs/Cores from runtime.NumCPU per
// spec.md §6's "defaults derived from available parallelism as
// (cores/4, cores/max_jobs) each floored at 1", only when the user left
// them at their zero-value default.
func resolveParallelism(c *CLI) {
	cpus := runtime.NumCPU()
	if c.MaxJobs <= 0 {
		c.MaxJobs = max(cpus/4, 1)
	}
	if c.Cores <= 0 {
		c.Cores = max(cpus/c.MaxJobs, 1)
	}
}

func main() {
	var cli CLI

	parser := kong.Must(&cli,
		kong.Configuration(kong.JSON, ".devenv.json", "~/.devenv.json"),
		kong.Configuration(kongyaml.Loader, ".devenv.yaml", "~/.devenv.yaml"),
		kong.Description(description))
	kongcompletion.Register(parser)

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	cli.initSlog(kctx)
	resolveParallelism(&cli)

	appBaseDir := cli.AppBaseDir
	if appBaseDir == "" {
		var err error
		appBaseDir, err = appHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to get application base directory: %v\n", err)
			os.Exit(1)
		}
	} else if err := os.MkdirAll(appBaseDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "unable to create application base directory: %v\n", err)
		os.Exit(1)
	}
	slog.Info("main", "appBaseDir", appBaseDir)

	// Don't try to ensure the daemon is running if we're trying to start
	// or stop it ourselves, or just printing our own version.
	cmd := kctx.Command()
	if !strings.HasPrefix(cmd, "daemon") && !strings.HasPrefix(cmd, "version") {
		if err := daemon.EnsureRunning(context.Background(), appBaseDir); err != nil {
			fmt.Fprintf(os.Stderr, "daemon not running, and failed to start it: %v\n", err)
			os.Exit(1)
		}
	}

	err = kctx.Run(&Context{
		AppBaseDir:       appBaseDir,
		LogFile:          cli.LogFile,
		LogLevel:         cli.LogLevel,
		Offline:          cli.Offline,
		Impure:           cli.Impure,
		RefreshEvalCache: cli.RefreshEvalCache,
		MaxJobs:          cli.MaxJobs,
		Cores:            cli.Cores,
	})
	kctx.FatalIfErrorf(err)
}
