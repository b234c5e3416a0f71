package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banksean/devenv/version"
)

// Client talks to a running Daemon over its unix socket. Grounded on
// mux_client.go's MuxClient (same doRequest-over-unix-http idiom), with
// box-management endpoints replaced by process-supervision ones.
type Client struct {
	SocketPath string
	httpClient *http.Client
}

// NewClient builds a Client for the daemon socket under appBaseDir. It does
// not dial anything itself — the underlying http.Client dials lazily per
// request.
func NewClient(appBaseDir string) *Client {
	socketPath := filepath.Join(appBaseDir, socketFile)
	return &Client{
		SocketPath: socketPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return net.Dial("unix", socketPath)
				},
			},
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/ping", nil, nil)
}

func (c *Client) Version(ctx context.Context) (version.Info, error) {
	var info version.Info
	err := c.doRequest(ctx, http.MethodGet, "/version", nil, &info)
	return info, err
}

func (c *Client) Shutdown(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodPost, "/shutdown", nil, nil); err != nil {
		return err
	}
	time.Sleep(200 * time.Millisecond)
	if _, err := os.Stat(c.SocketPath); err == nil {
		return fmt.Errorf("daemon may not have shut down cleanly")
	}
	return nil
}

func (c *Client) List(ctx context.Context) ([]ProcessStatus, error) {
	var statuses []ProcessStatus
	err := c.doRequest(ctx, http.MethodGet, "/list", nil, &statuses)
	return statuses, err
}

func (c *Client) Stop(ctx context.Context, name string) error {
	return c.doRequest(ctx, http.MethodPost, "/stop", map[string]string{"name": name}, nil)
}

func (c *Client) Restart(ctx context.Context, name string) error {
	return c.doRequest(ctx, http.MethodPost, "/restart", map[string]string{"name": name}, nil)
}

// EnsureRunning connects to an existing daemon for appBaseDir, or forks a
// new one in the background and waits for its socket to come up
// (mux_client.go's EnsureDaemon, minus the version-mismatch
// shutdown-and-restart dance: devenv's daemon command is expected to be
// invoked by the same binary that's asking, so a version skew here would
// mean the caller upgraded mid-session — rare enough that a clear "restart
// the daemon yourself" error beats silently killing a peer's daemon).
func EnsureRunning(ctx context.Context, appBaseDir string) error {
	socketPath := filepath.Join(appBaseDir, socketFile)

	if conn, err := net.DialTimeout("unix", socketPath, 500*time.Millisecond); err == nil {
		conn.Close()
		return nil
	}

	cmd := exec.Command(os.Args[0], "daemon", "start", "--app-base-dir", appBaseDir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	for i := 0; i < 20; i++ {
		time.Sleep(100 * time.Millisecond)
		if conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond); err == nil {
			conn.Close()
			return nil
		}
	}
	return fmt.Errorf("daemon failed to start")
}
