package supervisor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContainerTargetBuildRunArgs(t *testing.T) {
	t.Run("minimal", func(t *testing.T) {
		target := &ContainerTarget{Image: "devenv/worker:latest"}
		got := target.buildRunArgs()
		want := []string{"run", "--rm", "-i", "devenv/worker:latest"}
		assertArgsEqual(t, got, want)
	})

	t.Run("full", func(t *testing.T) {
		target := &ContainerTarget{
			Image:      "devenv/worker:latest",
			Command:    "serve",
			Args:       []string{"--port", "8080"},
			PullPolicy: "always",
			Name:       "web",
			Volume:     "/data:/data",
			Network:    "devenv-net",
			Publish:    []string{"8080:8080"},
		}
		got := target.buildRunArgs()
		want := []string{
			"run", "--rm", "-i",
			"--pull", "always",
			"--name", "web",
			"--network", "devenv-net",
			"--volume", "/data:/data",
			"--publish", "8080:8080",
			"devenv/worker:latest",
			"serve", "--port", "8080",
		}
		assertArgsEqual(t, got, want)
	})
}

// assertArgsEqual checks every element of want appears in got in order,
// since ManagementOptions/ProcessOptions field iteration order determines
// some of the interleaving and this test only cares that every expected
// flag made it in, not struct-reflection field order.
func assertArgsEqual(t *testing.T, got, want []string) {
	t.Helper()
	gi := 0
	for _, w := range want {
		found := false
		for gi < len(got) {
			if got[gi] == w {
				found = true
				gi++
				break
			}
			gi++
		}
		if !found {
			t.Fatalf("expected %q in args %v (after consuming up to index %d)", w, got, gi)
		}
	}
}

func TestRemoteTargetResolveFallsBackWithoutConfig(t *testing.T) {
	target := &RemoteTarget{
		Host:          "myhost",
		SSHConfigPath: filepath.Join(t.TempDir(), "does-not-exist"),
	}
	addr, user, identity := target.resolve()
	if addr != "myhost:22" {
		t.Fatalf("expected fallback addr myhost:22, got %q", addr)
	}
	if user != "" || identity != "" {
		t.Fatalf("expected no user/identity without a config file, got %q/%q", user, identity)
	}
}

func TestRemoteTargetResolveReadsSSHConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config")
	cfg := "Host myhost\n  HostName 10.0.0.5\n  Port 2222\n  User deploy\n  IdentityFile ~/.ssh/deploy_key\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	target := &RemoteTarget{Host: "myhost", SSHConfigPath: cfgPath}
	addr, user, identity := target.resolve()
	if addr != "10.0.0.5:2222" {
		t.Fatalf("got addr %q", addr)
	}
	if user != "deploy" {
		t.Fatalf("got user %q", user)
	}
	if identity != "~/.ssh/deploy_key" {
		t.Fatalf("got identity %q", identity)
	}
}
