package supervisor

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/banksean/devenv/options"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Process is a running supervised process: something that can be waited on
// and signaled. Each LaunchTarget below produces one per Start call.
type Process interface {
	// Wait blocks until the process exits and reports how.
	Wait() (ExitStatus, error)
	// Signal delivers a termination signal (SIGTERM, then SIGKILL on
	// escalation) to the process (and, for local command targets, its
	// whole process group).
	Signal(sig syscall.Signal) error
}

// LaunchTarget knows how to start one supervised process. spec.md §4.J
// names three: a bare local command (the default), an OCI container image,
// and a command run on a remote host over SSH.
type LaunchTarget interface {
	Start(ctx context.Context) (Process, error)
	String() string
}

// --- Local command ---------------------------------------------------

// LocalCommandTarget runs Command/Args directly, in its own process group
// so Signal can reach children the same way tasks.SubprocessExecutor does.
type LocalCommandTarget struct {
	Command string
	Args    []string
	Env     []string
	Cwd     string
	Stdout  io.Writer
	Stderr  io.Writer
}

func (t *LocalCommandTarget) String() string { return t.Command }

func (t *LocalCommandTarget) Start(ctx context.Context) (Process, error) {
	cmd := exec.Command(t.Command, t.Args...)
	cmd.Env = t.Env
	cmd.Dir = t.Cwd
	cmd.Stdout = t.Stdout
	cmd.Stderr = t.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", t.Command, err)
	}
	return &localProcess{cmd: cmd}, nil
}

type localProcess struct {
	cmd *exec.Cmd
}

func (p *localProcess) Wait() (ExitStatus, error) {
	err := p.cmd.Wait()
	if err == nil {
		return ExitSuccess, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return ExitFailure, nil
	}
	return ExitFailure, err
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func (p *localProcess) Signal(sig syscall.Signal) error {
	return syscall.Kill(-p.cmd.Process.Pid, sig)
}

// --- Container image ---------------------------------------------------

// ContainerTarget runs Command inside a container started from Image, used
// when spec.md's process config names an `image:` instead of a bare
// command. ResolveDigest pins a tag to its registry digest through
// go-containerregistry's crane helper; Start does not call it and runs
// Image exactly as given, leaving any pull to the container runtime's own
// --pull handling. Run-flag construction reuses
// options.ToArgs and options.ManagementOptions/ProcessOptions, the
// teacher's own generic struct-tag-to-CLI-args mechanism, rather than
// hand-appending flags.
type ContainerTarget struct {
	Image      string
	Command    string
	Args       []string
	Runtime    string // "docker", "podman", ... defaults to "docker"
	PullPolicy string // "always", "missing" (default), "never"

	Env     map[string]string
	Publish []string
	Volume  string
	Name    string
	Network string

	Stdout io.Writer
	Stderr io.Writer
}

func (t *ContainerTarget) String() string { return t.Image }

// ResolveDigest pins t.Image to its current registry digest, so repeated
// restarts of a `:latest`-tagged image supervise the same bits until the
// caller explicitly re-resolves (spec.md §4.J "image references are
// resolved once at process-group start, not per restart").
func (t *ContainerTarget) ResolveDigest(ctx context.Context) (string, error) {
	digest, err := crane.Digest(t.Image, crane.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("resolve digest for %s: %w", t.Image, err)
	}
	ref := t.Image
	if i := strings.IndexByte(ref, '@'); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.LastIndexByte(ref, ':'); i > strings.LastIndexByte(ref, '/') {
		ref = ref[:i]
	}
	return ref + "@" + digest, nil
}

// buildRunArgs assembles the `docker run`/`podman run` argument list for
// this target. Split out from Start so it's testable without shelling out
// to a container runtime.
func (t *ContainerTarget) buildRunArgs() []string {
	args := []string{"run", "--rm", "-i"}
	if t.PullPolicy != "" {
		args = append(args, "--pull", t.PullPolicy)
	}

	mgmt := options.ManagementOptions{
		Name:    t.Name,
		Volume:  t.Volume,
		Network: t.Network,
	}
	args = append(args, options.ToArgs(&mgmt)...)
	if len(t.Env) > 0 {
		args = append(args, options.ToArgs(&options.ProcessOptions{Env: t.Env})...)
	}
	for _, p := range t.Publish {
		args = append(args, "--publish", p)
	}

	args = append(args, t.Image)
	if t.Command != "" {
		args = append(args, t.Command)
	}
	args = append(args, t.Args...)
	return args
}

func (t *ContainerTarget) Start(ctx context.Context) (Process, error) {
	runtime := t.Runtime
	if runtime == "" {
		runtime = "docker"
	}

	cmd := exec.Command(runtime, t.buildRunArgs()...)
	cmd.Stdout = t.Stdout
	cmd.Stderr = t.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start container %s: %w", t.Image, err)
	}
	return &localProcess{cmd: cmd}, nil
}

// --- Remote (SSH) ---------------------------------------------------

// RemoteTarget runs Command on a host resolved from the user's ssh_config
// (spec.md's `remote: <host>` process config), verifying against the
// user's ordinary ~/.ssh/known_hosts the way a person would `ssh` there by
// hand.
type RemoteTarget struct {
	Host           string // alias looked up via ssh_config, or host:port
	Command        string
	Env            map[string]string
	SSHConfigPath  string // defaults to ~/.ssh/config
	KnownHostsPath string // defaults to ~/.ssh/known_hosts
}

func (t *RemoteTarget) String() string { return "remote:" + t.Host }

func (t *RemoteTarget) resolve() (addr, user, identityFile string) {
	cfgPath := t.SSHConfigPath
	if cfgPath == "" {
		cfgPath = os.ExpandEnv("$HOME/.ssh/config")
	}
	f, err := os.Open(cfgPath)
	if err != nil {
		return t.Host + ":22", "", ""
	}
	defer f.Close()
	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return t.Host + ":22", "", ""
	}
	hostname, _ := cfg.Get(t.Host, "HostName")
	if hostname == "" {
		hostname = t.Host
	}
	port, _ := cfg.Get(t.Host, "Port")
	if port == "" {
		port = "22"
	}
	user, _ = cfg.Get(t.Host, "User")
	identityFile, _ = cfg.Get(t.Host, "IdentityFile")
	return hostname + ":" + port, user, identityFile
}

func (t *RemoteTarget) Start(ctx context.Context) (Process, error) {
	addr, user, identityFile := t.resolve()
	if user == "" {
		user = os.Getenv("USER")
	}

	knownHostsPath := t.KnownHostsPath
	if knownHostsPath == "" {
		knownHostsPath = os.ExpandEnv("$HOME/.ssh/known_hosts")
	}
	hostKeyCallback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", knownHostsPath, err)
	}

	var auths []ssh.AuthMethod
	if identityFile != "" {
		key, err := os.ReadFile(os.ExpandEnv(identityFile))
		if err == nil {
			if signer, err := ssh.ParsePrivateKey(key); err == nil {
				auths = append(auths, ssh.PublicKeys(signer))
			}
		}
	}
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			auths = append(auths, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open session on %s: %w", addr, err)
	}

	cmd := t.Command
	for k, v := range t.Env {
		cmd = fmt.Sprintf("export %s=%q; ", k, v) + cmd
	}
	if err := session.Start(cmd); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("start remote command on %s: %w", addr, err)
	}

	return &remoteProcess{client: client, session: session}, nil
}

type remoteProcess struct {
	client  *ssh.Client
	session *ssh.Session
}

func (p *remoteProcess) Wait() (ExitStatus, error) {
	defer p.client.Close()
	defer p.session.Close()
	if err := p.session.Wait(); err != nil {
		if _, ok := err.(*ssh.ExitError); ok {
			return ExitFailure, nil
		}
		return ExitFailure, err
	}
	return ExitSuccess, nil
}

// Signal best-efforts an SSH "signal" request; many sshd configurations
// ignore it, so the caller should also close the session to force the
// remote command's stdin closed as a secondary stop signal.
func (p *remoteProcess) Signal(sig syscall.Signal) error {
	name := "TERM"
	if sig == syscall.SIGKILL {
		name = "KILL"
	}
	return p.session.Signal(ssh.Signal(name))
}
