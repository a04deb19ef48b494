// Package secret resolves credential references at connect time. The engine
// never stores secret material; it asks a Store for the bytes behind an
// opaque reference, uses them for one authentication attempt, and wipes them.
package secret

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a reference resolves to nothing.
var ErrNotFound = errors.New("secret not found")

// Store resolves a secret reference to its material.
type Store interface {
	Get(ref string) ([]byte, error)
}

// Static is an in-memory store for inline credentials and tests.
type Static map[string][]byte

func (s Static) Get(ref string) ([]byte, error) {
	v, ok := s[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Ephemeral holds inline credentials handed over with a connect request.
// Get consumes: the material is wiped and forgotten after the first read,
// so a secret lives exactly as long as the one authentication that needs it.
type Ephemeral struct {
	mu sync.Mutex
	m  map[string][]byte
}

func NewEphemeral() *Ephemeral {
	return &Ephemeral{m: make(map[string][]byte)}
}

// Put registers material under a fresh opaque reference and returns it.
func (e *Ephemeral) Put(material []byte) string {
	ref := "inline:" + uuid.NewString()
	buf := make([]byte, len(material))
	copy(buf, material)

	e.mu.Lock()
	e.m[ref] = buf
	e.mu.Unlock()
	return ref
}

func (e *Ephemeral) Get(ref string) ([]byte, error) {
	e.mu.Lock()
	v, ok := e.m[ref]
	if ok {
		delete(e.m, ref)
	}
	e.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return v, nil
}

// Drop discards a reference that was never consumed.
func (e *Ephemeral) Drop(ref string) {
	e.mu.Lock()
	if v, ok := e.m[ref]; ok {
		Wipe(v)
		delete(e.m, ref)
	}
	e.mu.Unlock()
}

// FileStore resolves references to files under a single root directory.
// References never escape the root.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir. The directory is created with
// owner-only permissions if it does not exist.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secrets dir %q: %w", dir, err)
	}
	return &FileStore{root: dir}, nil
}

func (f *FileStore) Get(ref string) ([]byte, error) {
	if ref == "" || strings.Contains(ref, "..") || strings.ContainsRune(ref, os.PathSeparator) {
		return nil, fmt.Errorf("%w: invalid reference %q", ErrNotFound, ref)
	}

	path := filepath.Join(f.root, ref)
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to stat secret %q: %w", ref, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, ref)
	}
	if fi.Mode().Perm()&0o077 != 0 {
		logrus.Warnf("secret %q has loose permissions %04o, expected owner-only", ref, fi.Mode().Perm())
	}

	return os.ReadFile(path)
}

// Layered tries stores in order; the first hit wins.
type Layered []Store

func (l Layered) Get(ref string) ([]byte, error) {
	for _, s := range l {
		if s == nil {
			continue
		}
		v, err := s.Get(ref)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// Wipe zeroes secret material after use.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
