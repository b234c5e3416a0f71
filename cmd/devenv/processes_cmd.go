package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/banksean/devenv/daemon"
)

// ProcessesCmd groups the supervised-process control subcommands, the
// generalization of cmd/sand/ls_cmd.go+stop_cmd.go's sandbox-container
// listing/control to devenv's process supervisor: one daemon.Client call
// per action instead of a sandbox lookup.
type ProcessesCmd struct {
	List    ProcessesListCmd    `cmd:"" help:"list processes supervised by the daemon"`
	Stop    ProcessesStopCmd    `cmd:"" help:"stop a supervised process"`
	Restart ProcessesRestartCmd `cmd:"" help:"restart a supervised process"`
}

type ProcessesListCmd struct{}

func (c *ProcessesListCmd) Run(cctx *Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := daemon.NewClient(cctx.AppBaseDir)
	statuses, err := client.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "List", "error", err)
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTARGET\tRESTARTS\t")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%d\t\n", s.Name, s.Target, s.RestartCount)
	}
	w.Flush()
	return nil
}

type ProcessesStopCmd struct {
	Name string `arg:"" help:"name of the process to stop"`
}

func (c *ProcessesStopCmd) Run(cctx *Context) error {
	ctx := context.Background()
	client := daemon.NewClient(cctx.AppBaseDir)
	if err := client.Stop(ctx, c.Name); err != nil {
		return fmt.Errorf("stop %s: %w", c.Name, err)
	}
	fmt.Printf("%s stopped\n", c.Name)
	return nil
}

type ProcessesRestartCmd struct {
	Name string `arg:"" help:"name of the process to restart"`
}

func (c *ProcessesRestartCmd) Run(cctx *Context) error {
	ctx := context.Background()
	client := daemon.NewClient(cctx.AppBaseDir)
	if err := client.Restart(ctx, c.Name); err != nil {
		return fmt.Errorf("restart %s: %w", c.Name, err)
	}
	fmt.Printf("%s restarted\n", c.Name)
	return nil
}
