package path

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStateDirOverride(t *testing.T) {
	want := t.TempDir()
	t.Setenv("NEONSHELL_STATE_DIR", want)

	got, err := StateDir()
	if err != nil {
		t.Fatalf("StateDir: %v", err)
	}
	if got != want {
		t.Fatalf("StateDir = %q, want %q", got, want)
	}
}

func TestStateDirDefault(t *testing.T) {
	t.Setenv("NEONSHELL_STATE_DIR", "")

	got, err := StateDir()
	if err != nil {
		t.Skipf("no user config dir on this system: %v", err)
	}
	if filepath.Base(got) != "neonshell" {
		t.Fatalf("StateDir = %q, want a neonshell directory", got)
	}
}

func TestEnsureStateDirCreates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	t.Setenv("NEONSHELL_STATE_DIR", dir)

	got, err := EnsureStateDir()
	if err != nil {
		t.Fatalf("EnsureStateDir: %v", err)
	}
	if got != dir {
		t.Fatalf("EnsureStateDir = %q, want %q", got, dir)
	}

	fi, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat %q: %v", dir, err)
	}
	if !fi.IsDir() {
		t.Fatalf("%q is not a directory", dir)
	}
	if perm := fi.Mode().Perm(); perm != 0o700 {
		t.Fatalf("state dir permissions = %04o, want 0700", perm)
	}
}

func TestStatePaths(t *testing.T) {
	base := t.TempDir()
	t.Setenv("NEONSHELL_STATE_DIR", base)

	cases := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"known_hosts", KnownHostsPath, filepath.Join(base, "known_hosts")},
		{"secrets", SecretsDir, filepath.Join(base, "secrets")},
		{"identity", DefaultIdentityPath, filepath.Join(base, "id_ed25519")},
	}
	for _, tc := range cases {
		got, err := tc.fn()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAPISocketPathPrefersRuntimeDir(t *testing.T) {
	runtime := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtime)
	t.Setenv("NEONSHELL_STATE_DIR", t.TempDir())

	got, err := APISocketPath()
	if err != nil {
		t.Fatalf("APISocketPath: %v", err)
	}
	if want := filepath.Join(runtime, "neonshell.sock"); got != want {
		t.Fatalf("APISocketPath = %q, want %q", got, want)
	}
}

func TestAPISocketPathFallsBackToStateDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	state := t.TempDir()
	t.Setenv("NEONSHELL_STATE_DIR", state)

	got, err := APISocketPath()
	if err != nil {
		t.Fatalf("APISocketPath: %v", err)
	}
	if want := filepath.Join(state, "neonshell.sock"); got != want {
		t.Fatalf("APISocketPath = %q, want %q", got, want)
	}
}
