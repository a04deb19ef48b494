// Package trust persists host keys in OpenSSH known_hosts format and answers
// whether a presented key matches what was recorded on first use.
package trust

import (
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Result classifies a host key against the store.
type Result int

const (
	// NotFound means no entry exists for the host.
	NotFound Result = iota
	// Match means the presented key equals the recorded one.
	Match
	// Mismatch means an entry exists with a different key. Revoked keys
	// classify as Mismatch as well.
	Mismatch
)

func (r Result) String() string {
	switch r {
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	default:
		return "not-found"
	}
}

// Store is a known_hosts file plus an advisory lock serializing appends.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore creates a store backed by the given known_hosts path. The file
// may not exist yet; every host is NotFound until the first append.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Check classifies the presented key for host:port. The file is re-read on
// every call so external edits are picked up between connections.
func (s *Store) Check(host string, port uint16, remote net.Addr, key ssh.PublicKey) (Result, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return NotFound, nil
		}
		return NotFound, errors.Wrapf(err, "failed to stat %q", s.path)
	}

	callback, err := knownhosts.New(s.path)
	if err != nil {
		return NotFound, errors.Wrapf(err, "failed to load %q", s.path)
	}

	if remote == nil {
		remote = &net.TCPAddr{IP: net.IPv4zero, Port: int(port)}
	}

	err = callback(hostPort(host, port), remote, key)
	if err == nil {
		return Match, nil
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return NotFound, nil
		}
		return Mismatch, nil
	}
	var revoked *knownhosts.RevokedError
	if errors.As(err, &revoked) {
		return Mismatch, nil
	}

	return NotFound, errors.Wrap(err, "known_hosts check failed")
}

// Append records the key for host:port. Concurrent appends from several
// sessions are serialized with an advisory file lock; the entry uses the
// [host]:port form for non-default ports.
func (s *Store) Append(host string, port uint16, key ssh.PublicKey, comment string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrapf(err, "failed to create %q", filepath.Dir(s.path))
	}

	if err := s.lock.Lock(); err != nil {
		return errors.Wrap(err, "failed to lock known_hosts")
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostPort(host, port))}, key)
	if comment != "" {
		line += " " + comment
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", s.path)
	}
	defer f.Close()

	// Keep the file well-formed when the previous write lacked a newline.
	if fi, err := f.Stat(); err == nil && fi.Size() > 0 {
		tail := make([]byte, 1)
		if _, err := f.ReadAt(tail, fi.Size()-1); err == nil && tail[0] != '\n' {
			line = "\n" + line
		}
	}

	if _, err := f.WriteString(line + "\n"); err != nil {
		return errors.Wrapf(err, "failed to append to %q", s.path)
	}
	return nil
}

func hostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
