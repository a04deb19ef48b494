package path

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Slashx124/NeonShell/pkg/define"
)

// StateDir resolves the directory holding known_hosts, secrets and generated
// identities. NEONSHELL_STATE_DIR overrides the per-user config location.
func StateDir() (string, error) {
	if dir := os.Getenv(define.EnvStateDir); dir != "" {
		return dir, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config dir: %w", err)
	}
	return filepath.Join(base, define.StateDirName), nil
}

// EnsureStateDir resolves the state directory and creates it with owner-only
// permissions if missing.
func EnsureStateDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create state dir %q: %w", dir, err)
	}
	return dir, nil
}

// KnownHostsPath returns the trust store file inside the state directory.
func KnownHostsPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, define.KnownHostsFile), nil
}

// SecretsDir returns the directory file-backed secrets are read from.
func SecretsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, define.SecretsDirName), nil
}

// DefaultIdentityPath returns where keygen places a client key when no
// output path is given.
func DefaultIdentityPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, define.DefaultIdentityOut), nil
}

// APISocketPath returns the unix socket the management API listens on. The
// runtime dir is preferred so the socket does not survive reboots.
func APISocketPath() (string, error) {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, define.APISocketName), nil
	}
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, define.APISocketName), nil
}
