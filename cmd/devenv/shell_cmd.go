package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/goombaio/namegenerator"
	"github.com/riywo/loginshell"

	"github.com/banksean/devenv/consolemsg"
	"github.com/banksean/devenv/filewatch"
	"github.com/banksean/devenv/ptysession"
	"github.com/banksean/devenv/reload"
)

// ShellCmd enters a hot-reloading development shell (spec.md §4.H):
// a PTY running Command, rebuilt whenever a watched file changes. The
// generalization of cmd/sand/shell_cmd.go's "attach a terminal to a
// sandbox container" down to its actual shared concern with devenv: an
// interactive PTY the user drives, minus the container lifecycle that
// command also manages (covered separately by supervisor.ContainerTarget).
type ShellCmd struct {
	Name    string   `help:"label for this shell session in log output (default: a generated name)"`
	Command string   `default:"" placeholder:"<shell-command>" help:"command to run in the shell (defaults to the user's login shell)"`
	Watch   []string `help:"paths to watch for changes that trigger a rebuild (default: current directory)"`
	NoWatch bool     `help:"disable hot reload; just run the command once"`
}

// staticBuilder always returns the same command; it's the stand-in for
// the evaluator-driven build step the component boundary puts out of
// scope (spec.md's evaluator binding layer is assumed, not implemented
// here).
type staticBuilder struct {
	command []string
}

func (b staticBuilder) Build(ctx context.Context, bc reload.BuildContext) ([]string, error) {
	return b.command, nil
}

func (sc *ShellCmd) Run(cctx *Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	command := sc.Command
	if command == "" {
		shell, err := loginshell.Shell()
		if err != nil {
			shell = "/bin/sh"
		}
		command = shell
	}

	if sc.Name == "" {
		sc.Name = namegenerator.NewNameGenerator(time.Now().UTC().UnixNano()).Generate()
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	watch := sc.Watch
	if len(watch) == 0 {
		watch = []string{cwd}
	}

	rawGuard, err := ptysession.NewRawModeGuard()
	if err != nil {
		return err
	}
	defer rawGuard.Release()

	session := ptysession.NewSession(true, ptysession.Size{})
	messenger := consolemsg.NewTerminalMessenger(os.Stderr, nil)

	if sc.NoWatch {
		commands := make(chan ptysession.Command)
		return session.Run(ctx, strings.Fields(command), os.Environ(), cwd, commands)
	}

	watcher := filewatch.New(filewatch.Config{Paths: watch, Recursive: true})
	defer watcher.Close()

	manager := reload.New(staticBuilder{command: strings.Fields(command)}, session, watcher, cwd, os.Environ())

	go func() {
		for msg := range manager.Messages() {
			switch msg.Kind {
			case reload.MessageReloaded:
				messenger.Message(ctx, sc.Name+": reloaded: "+strings.Join(msg.Files, ", "))
			case reload.MessageReloadFailed:
				messenger.Message(ctx, sc.Name+": reload failed: "+msg.Error.Error())
			case reload.MessageBuildFailed:
				messenger.Message(ctx, sc.Name+": build failed: "+msg.Error.Error())
			}
		}
	}()

	return manager.Run(ctx, filepath.Clean(cwd))
}
