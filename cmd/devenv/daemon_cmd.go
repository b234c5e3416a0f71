package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/banksean/devenv/daemon"
)

// DaemonCmd mirrors cmd/sand/daemon_cmd.go's DaemonCmd, adapted to talk to
// daemon.Daemon/daemon.Client instead of sandmux's Mux/MuxClient.
type DaemonCmd struct {
	Action string `arg:"" optional:"" default:"status" enum:"start,stop,restart,status" help:"Action to perform: start, stop, restart, or status (default)."`
}

func (c *DaemonCmd) Run(cctx *Context) error {
	ctx := context.Background()
	switch c.Action {
	case "start":
		return c.startDaemon(ctx, cctx)
	case "stop":
		return c.stopDaemon(ctx, cctx)
	case "restart":
		return c.restartDaemon(ctx, cctx)
	default:
		return c.checkStatus(ctx, cctx)
	}
}

func (c *DaemonCmd) checkStatus(ctx context.Context, cctx *Context) error {
	client := daemon.NewClient(cctx.AppBaseDir)
	if err := client.Ping(ctx); err != nil {
		fmt.Println("Daemon is not running")
		return nil
	}
	fmt.Println("Daemon is running")
	return nil
}

func (c *DaemonCmd) startDaemon(ctx context.Context, cctx *Context) error {
	client := daemon.NewClient(cctx.AppBaseDir)
	if err := client.Ping(ctx); err == nil {
		fmt.Println("Daemon is already running")
		return nil
	}
	d := daemon.New(cctx.AppBaseDir)
	return d.Serve(ctx)
}

func (c *DaemonCmd) stopDaemon(ctx context.Context, cctx *Context) error {
	client := daemon.NewClient(cctx.AppBaseDir)
	if err := client.Ping(ctx); err != nil {
		fmt.Println("Daemon is not running")
		return nil
	}
	if err := client.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Println("Daemon stopped")
	return nil
}

func (c *DaemonCmd) restartDaemon(ctx context.Context, cctx *Context) error {
	client := daemon.NewClient(cctx.AppBaseDir)
	if err := client.Ping(ctx); err == nil {
		if err := client.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
		fmt.Println("Daemon stopped")
	}

	cmd := exec.CommandContext(ctx, os.Args[0], "daemon", "start", "--log-file", cctx.LogFile, "--app-base-dir", cctx.AppBaseDir)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	for i := 0; i < 20; i++ {
		time.Sleep(100 * time.Millisecond)
		if pingErr := client.Ping(ctx); pingErr == nil {
			fmt.Println("Daemon restarted successfully")
			return nil
		}
	}
	return fmt.Errorf("daemon failed to start")
}
