package ssh

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Slashx124/NeonShell/pkg/secret"
	"github.com/Slashx124/NeonShell/pkg/trust"
)

func testManager(t *testing.T, srv *testSSHServer) (*Manager, *recordSink, string) {
	t.Helper()
	sink := newRecordSink()
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	secrets := secret.Static{}
	if srv != nil {
		secrets["pw"] = []byte(srv.password)
	}
	mgr := NewManager(
		WithEventSink(sink),
		WithTrustStore(trust.NewStore(knownHosts)),
		WithSecretStore(secrets),
	)
	t.Cleanup(mgr.CloseAll)
	return mgr, sink, knownHosts
}

func serverConfig(srv *testSSHServer) *SessionConfig {
	return NewSessionConfig("127.0.0.1", srv.user).
		WithPort(srv.port()).
		WithAuth(AuthSpec{Method: AuthPassword, PasswordRef: "pw"}).
		WithPolicy(PolicyAccept)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestSSHServer(t)
	mgr, sink, _ := testManager(t, srv)

	h, err := mgr.Create(*serverConfig(srv))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := h.State(); got != StateCreated {
		t.Fatalf("state after create = %s, want %s", got, StateCreated)
	}
	if mgr.Count() != 1 {
		t.Fatalf("count = %d, want 1", mgr.Count())
	}

	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	sink.waitState(t, StateConnecting)
	sink.waitState(t, StateConnected)

	if err := mgr.Send(h.ID(), []byte("hello\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
	sink.waitOutput(t, "hello\n")

	if err := mgr.Resize(h.ID(), 120, 40); err != nil {
		t.Fatalf("resize: %v", err)
	}

	infos := mgr.List()
	if len(infos) != 1 {
		t.Fatalf("list has %d sessions, want 1", len(infos))
	}
	if infos[0].State != StateConnected {
		t.Errorf("listed state = %s, want %s", infos[0].State, StateConnected)
	}
	if infos[0].ConnectedAt == "" {
		t.Error("connectedAt not recorded")
	}

	if err := mgr.Disconnect(h.ID()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	sink.waitClosed(t)
	if mgr.Count() != 0 {
		t.Fatalf("count after disconnect = %d, want 0", mgr.Count())
	}
	if _, err := mgr.Get(h.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("get after disconnect = %v, want ErrSessionNotFound", err)
	}
}

func TestExecCommandExitStatus(t *testing.T) {
	srv := newTestSSHServer(t)
	mgr, sink, _ := testManager(t, srv)

	cfg := serverConfig(srv).WithCommand("exit", "3")
	h, err := mgr.Create(*cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	closed := sink.waitClosed(t)
	if closed.ExitStatus == nil {
		t.Fatal("exit status not reported")
	}
	if *closed.ExitStatus != 3 {
		t.Fatalf("exit status = %d, want 3", *closed.ExitStatus)
	}
	if got := h.State(); got != StateDisconnected {
		t.Fatalf("state after exit = %s, want %s", got, StateDisconnected)
	}

	// The finished session stays listed until it is disconnected.
	if mgr.Count() != 1 {
		t.Fatalf("count = %d, want 1", mgr.Count())
	}
	if err := mgr.Disconnect(h.ID()); err != nil {
		t.Fatalf("disconnect after exit: %v", err)
	}
}

func TestExecCommandOutput(t *testing.T) {
	srv := newTestSSHServer(t)
	mgr, sink, _ := testManager(t, srv)

	cfg := serverConfig(srv).WithCommand("echo", "hi")
	h, err := mgr.Create(*cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sink.waitOutput(t, "hi\n")
	closed := sink.waitClosed(t)
	if closed.ExitStatus == nil || *closed.ExitStatus != 0 {
		t.Fatalf("exit status = %v, want 0", closed.ExitStatus)
	}
}

func TestPrivateKeyAuth(t *testing.T) {
	srv := newTestSSHServer(t)

	priv, authorized, err := GenerateEphemeralKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	srv.authorize(authorized)

	sink := newRecordSink()
	mgr := NewManager(
		WithEventSink(sink),
		WithTrustStore(trust.NewStore(filepath.Join(t.TempDir(), "known_hosts"))),
		WithSecretStore(secret.Static{"key": priv}),
	)
	t.Cleanup(mgr.CloseAll)

	cfg := NewSessionConfig("127.0.0.1", srv.user).
		WithPort(srv.port()).
		WithAuth(AuthSpec{Method: AuthPrivateKey, KeyRef: "key"}).
		WithPolicy(PolicyAccept)
	h, err := mgr.Create(*cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	sink.waitState(t, StateConnected)
}

func TestPasswordRejected(t *testing.T) {
	srv := newTestSSHServer(t)
	sink := newRecordSink()
	mgr := NewManager(
		WithEventSink(sink),
		WithTrustStore(trust.NewStore(filepath.Join(t.TempDir(), "known_hosts"))),
		WithSecretStore(secret.Static{"pw": []byte("not-the-password")}),
	)
	t.Cleanup(mgr.CloseAll)

	h, err := mgr.Create(*serverConfig(srv))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	serr := sink.waitError(t)
	if serr.Message != "Password authentication failed" {
		t.Fatalf("error message = %q, want password rejection", serr.Message)
	}
	sink.waitState(t, StateError)
}

func TestMissingSecret(t *testing.T) {
	srv := newTestSSHServer(t)
	sink := newRecordSink()
	mgr := NewManager(
		WithEventSink(sink),
		WithSecretStore(secret.Static{}),
	)
	t.Cleanup(mgr.CloseAll)

	h, err := mgr.Create(*serverConfig(srv))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	serr := sink.waitError(t)
	if serr.Message != "Password required" {
		t.Fatalf("error message = %q, want %q", serr.Message, "Password required")
	}
	sink.waitState(t, StateError)
}

func TestConnectRefused(t *testing.T) {
	// Grab a port nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	_ = ln.Close()

	sink := newRecordSink()
	mgr := NewManager(
		WithEventSink(sink),
		WithSecretStore(secret.Static{"pw": []byte("x")}),
	)
	t.Cleanup(mgr.CloseAll)

	cfg := NewSessionConfig("127.0.0.1", "nobody").
		WithPort(port).
		WithAuth(AuthSpec{Method: AuthPassword, PasswordRef: "pw"}).
		WithPolicy(PolicyAccept)
	h, err := mgr.Create(*cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	serr := sink.waitError(t)
	if !strings.HasPrefix(serr.Message, "TCP connect failed") {
		t.Fatalf("error message = %q, want TCP connect failure", serr.Message)
	}
	sink.waitState(t, StateError)
}

func TestHostKeyTrustOnFirstUse(t *testing.T) {
	srv := newTestSSHServer(t)
	mgr, sink, knownHosts := testManager(t, srv)

	cfg := serverConfig(srv).WithPolicy(PolicyAsk)
	h, err := mgr.Create(*cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	prompt := sink.waitPrompt(t)
	if prompt.Host != "127.0.0.1" || prompt.Port != int(srv.port()) {
		t.Errorf("prompt for %s:%d, want 127.0.0.1:%d", prompt.Host, prompt.Port, srv.port())
	}
	if prompt.KeyType != "ssh-ed25519" {
		t.Errorf("prompt key type = %q, want ssh-ed25519", prompt.KeyType)
	}
	if !strings.HasPrefix(prompt.Fingerprint, "SHA256:") {
		t.Errorf("fingerprint = %q, want SHA256: prefix", prompt.Fingerprint)
	}
	if got := h.State(); got != StateWaitingForHostKey {
		t.Errorf("state during prompt = %s, want %s", got, StateWaitingForHostKey)
	}

	if err := mgr.SetHostKeyDecision(h.ID(), TrustAlways); err != nil {
		t.Fatalf("decision: %v", err)
	}
	sink.waitState(t, StateConnected)

	data, err := os.ReadFile(knownHosts)
	if err != nil {
		t.Fatalf("known_hosts not written: %v", err)
	}
	if !strings.Contains(string(data), "[127.0.0.1]:") {
		t.Errorf("known_hosts entry missing bracketed host:port: %q", data)
	}
	if !strings.Contains(string(data), "Added by NeonShell") {
		t.Errorf("known_hosts entry missing comment: %q", data)
	}

	if err := mgr.Disconnect(h.ID()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	// Second connection matches the stored key and never prompts, even
	// under the strict policy.
	cfg2 := serverConfig(srv).WithPolicy(PolicyStrict)
	h2, err := mgr.Create(*cfg2)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := mgr.Connect(context.Background(), h2.ID()); err != nil {
		t.Fatalf("connect second: %v", err)
	}
	sink.waitState(t, StateConnected)

	if n := sink.promptCount(); n != 1 {
		t.Fatalf("prompt count = %d, want 1", n)
	}
}

func TestHostKeyRejected(t *testing.T) {
	srv := newTestSSHServer(t)
	mgr, sink, knownHosts := testManager(t, srv)

	cfg := serverConfig(srv).WithPolicy(PolicyAsk)
	h, err := mgr.Create(*cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sink.waitPrompt(t)
	if err := mgr.SetHostKeyDecision(h.ID(), RejectKey); err != nil {
		t.Fatalf("decision: %v", err)
	}

	serr := sink.waitError(t)
	if serr.Message != "Host key rejected by user" {
		t.Fatalf("error message = %q, want rejection", serr.Message)
	}
	sink.waitState(t, StateError)

	if _, err := os.Stat(knownHosts); !os.IsNotExist(err) {
		t.Errorf("known_hosts should not exist after rejection, stat err = %v", err)
	}
}

func TestHostKeyStrictPolicy(t *testing.T) {
	srv := newTestSSHServer(t)
	mgr, sink, _ := testManager(t, srv)

	cfg := serverConfig(srv).WithPolicy(PolicyStrict)
	h, err := mgr.Create(*cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	serr := sink.waitError(t)
	if !strings.Contains(serr.Message, "strict host key policy") {
		t.Fatalf("error message = %q, want strict policy rejection", serr.Message)
	}
	if n := sink.promptCount(); n != 0 {
		t.Fatalf("prompt count = %d, want 0 under strict policy", n)
	}
}

func TestHostKeyMismatch(t *testing.T) {
	srv := newTestSSHServer(t)
	mgr, sink, knownHosts := testManager(t, srv)

	// Record a different key for the server's host:port.
	other := newTestSigner(t)
	store := trust.NewStore(knownHosts)
	if err := store.Append("127.0.0.1", srv.port(), other.PublicKey(), ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	cfg := serverConfig(srv).WithPolicy(PolicyAsk)
	h, err := mgr.Create(*cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	serr := sink.waitError(t)
	if !strings.Contains(serr.Message, "SECURITY WARNING") {
		t.Fatalf("error message = %q, want mismatch warning", serr.Message)
	}
	if n := sink.promptCount(); n != 0 {
		t.Fatalf("prompt count = %d, want 0 on mismatch", n)
	}
	sink.waitState(t, StateError)
}

func TestDisconnectDuringHostKeyPrompt(t *testing.T) {
	srv := newTestSSHServer(t)
	mgr, sink, _ := testManager(t, srv)

	cfg := serverConfig(srv).WithPolicy(PolicyAsk)
	h, err := mgr.Create(*cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Connect(context.Background(), h.ID()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sink.waitPrompt(t)
	if err := mgr.Disconnect(h.ID()); err != nil {
		t.Fatalf("disconnect during prompt: %v", err)
	}
	if mgr.Count() != 0 {
		t.Fatalf("count = %d, want 0", mgr.Count())
	}
}
