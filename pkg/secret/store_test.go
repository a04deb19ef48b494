package secret

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStaticStore(t *testing.T) {
	s := Static{"pw": []byte("hunter2")}

	v, err := s.Get("pw")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "hunter2" {
		t.Fatalf("got %q", v)
	}

	// The caller gets a copy; wiping it must not corrupt the store.
	Wipe(v)
	again, err := s.Get("pw")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if string(again) != "hunter2" {
		t.Fatalf("store corrupted by caller wipe: %q", again)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing ref = %v, want ErrNotFound", err)
	}
}

func TestEphemeralConsumeOnce(t *testing.T) {
	e := NewEphemeral()

	ref := e.Put([]byte("one-shot"))
	if !strings.HasPrefix(ref, "inline:") {
		t.Fatalf("ref = %q, want inline: prefix", ref)
	}

	v, err := e.Get(ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "one-shot" {
		t.Fatalf("got %q", v)
	}

	if _, err := e.Get(ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second get = %v, want ErrNotFound", err)
	}
}

func TestEphemeralDrop(t *testing.T) {
	e := NewEphemeral()

	ref := e.Put([]byte("never used"))
	e.Drop(ref)
	if _, err := e.Get(ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after drop = %v, want ErrNotFound", err)
	}

	// Dropping an unknown or already consumed ref is harmless.
	e.Drop(ref)
	e.Drop("inline:bogus")
}

func TestEphemeralCopiesMaterial(t *testing.T) {
	e := NewEphemeral()

	buf := []byte("secret")
	ref := e.Put(buf)
	Wipe(buf)

	v, err := e.Get(ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "secret" {
		t.Fatalf("caller wipe reached stored material: %q", v)
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "password"), []byte("hunter2"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	v, err := fs.Get("password")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "hunter2" {
		t.Fatalf("got %q", v)
	}

	if _, err := fs.Get("absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing file = %v, want ErrNotFound", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "secrets"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "outside"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, ref := range []string{"", "..", "../outside", "a/b"} {
		if _, err := fs.Get(ref); !errors.Is(err, ErrNotFound) {
			t.Errorf("ref %q = %v, want ErrNotFound", ref, err)
		}
	}
}

func TestFileStoreRejectsNonRegular(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, err := fs.Get("subdir"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("directory ref = %v, want ErrNotFound", err)
	}
}

type failingStore struct{}

func (failingStore) Get(string) ([]byte, error) {
	return nil, errors.New("backend unavailable")
}

func TestLayered(t *testing.T) {
	e := NewEphemeral()
	ref := e.Put([]byte("inline wins"))
	static := Static{"pw": []byte("from static")}

	l := Layered{e, static}

	v, err := l.Get(ref)
	if err != nil {
		t.Fatalf("get inline: %v", err)
	}
	if string(v) != "inline wins" {
		t.Fatalf("got %q", v)
	}

	v, err = l.Get("pw")
	if err != nil {
		t.Fatalf("get fallthrough: %v", err)
	}
	if string(v) != "from static" {
		t.Fatalf("got %q", v)
	}

	if _, err := l.Get("absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing everywhere = %v, want ErrNotFound", err)
	}

	// A nil layer is skipped, a failing layer stops the walk.
	withNil := Layered{nil, static}
	if _, err := withNil.Get("pw"); err != nil {
		t.Fatalf("nil layer: %v", err)
	}
	withFailure := Layered{failingStore{}, static}
	if _, err := withFailure.Get("pw"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("failing layer = %v, want its error surfaced", err)
	}
}

func TestWipe(t *testing.T) {
	buf := []byte("sensitive")
	Wipe(buf)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not wiped", i)
		}
	}
}
