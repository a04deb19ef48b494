package ssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Slashx124/NeonShell/pkg/event"
	"golang.org/x/crypto/ssh"
)

const eventWait = 10 * time.Second

// testSSHServer is a minimal in-process SSH server. It accepts one fixed
// credential pair plus any authorized public key, and answers session
// channels with an echo shell or scripted exec results.
type testSSHServer struct {
	t      *testing.T
	ln     net.Listener
	config *ssh.ServerConfig
	signer ssh.Signer

	user     string
	password string

	mu         sync.Mutex
	authorized []ssh.PublicKey
	exec       map[string]execResult
	conns      []net.Conn
	closed     bool
}

type execResult struct {
	output string
	status uint32
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	signer := newTestSigner(t)
	srv := &testSSHServer{
		t:        t,
		signer:   signer,
		user:     "testuser",
		password: "sekret",
		exec: map[string]execResult{
			"true":    {status: 0},
			"exit 3":  {status: 3},
			"echo hi": {output: "hi\n", status: 0},
		},
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == srv.user && string(pass) == srv.password {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong credentials for %q", meta.User())
		},
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			srv.mu.Lock()
			defer srv.mu.Unlock()
			for _, k := range srv.authorized {
				if bytes.Equal(k.Marshal(), key.Marshal()) {
					return nil, nil
				}
			}
			return nil, fmt.Errorf("unknown public key for %q", meta.User())
		},
	}
	cfg.AddHostKey(signer)
	srv.config = cfg

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	srv.ln = ln

	go srv.acceptLoop()
	t.Cleanup(srv.close)
	return srv
}

func newTestSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to build signer: %v", err)
	}
	return signer
}

func (s *testSSHServer) port() uint16 {
	return uint16(s.ln.Addr().(*net.TCPAddr).Port)
}

func (s *testSSHServer) authorize(authorizedKey []byte) {
	key, _, _, _, err := ssh.ParseAuthorizedKey(authorizedKey)
	if err != nil {
		s.t.Fatalf("failed to parse authorized key: %v", err)
	}
	s.mu.Lock()
	s.authorized = append(s.authorized, key)
	s.mu.Unlock()
}

func (s *testSSHServer) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := s.conns
	s.mu.Unlock()

	_ = s.ln.Close()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *testSSHServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

func (s *testSSHServer) handleConn(conn net.Conn) {
	serverConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer serverConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *testSSHServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "pty-req", "env", "window-change":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		case "shell":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			s.runShell(ch)
			return
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			s.runExec(ch, payload.Command)
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

// runShell echoes every byte back until the client closes its side.
func (s *testSSHServer) runShell(ch ssh.Channel) {
	buf := make([]byte, 4096)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if _, werr := ch.Write(buf[:n]); werr != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}
	s.sendExit(ch, 0)
}

func (s *testSSHServer) runExec(ch ssh.Channel, command string) {
	s.mu.Lock()
	res, ok := s.exec[command]
	s.mu.Unlock()
	if !ok {
		res = execResult{status: 127}
	}
	if res.output != "" {
		_, _ = ch.Write([]byte(res.output))
	}
	s.sendExit(ch, res.status)
}

func (s *testSSHServer) sendExit(ch ssh.Channel, status uint32) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	_ = ch.CloseWrite()
}

// recordSink collects engine events and lets tests wait for specific ones.
type recordSink struct {
	ch chan event.Event

	mu  sync.Mutex
	all []event.Event
}

func newRecordSink() *recordSink {
	return &recordSink{ch: make(chan event.Event, 1024)}
}

func (s *recordSink) Publish(e event.Event) {
	s.mu.Lock()
	s.all = append(s.all, e)
	s.mu.Unlock()
	select {
	case s.ch <- e:
	default:
	}
}

func (s *recordSink) snapshot() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.all))
	copy(out, s.all)
	return out
}

// waitFor consumes events until pred matches or the deadline expires.
func (s *recordSink) waitFor(t *testing.T, what string, pred func(event.Event) bool) event.Event {
	t.Helper()
	deadline := time.After(eventWait)
	for {
		select {
		case e := <-s.ch:
			if pred(e) {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, saw %v", what, s.kinds())
			return nil
		}
	}
}

func (s *recordSink) waitState(t *testing.T, state State) event.StateChanged {
	t.Helper()
	e := s.waitFor(t, fmt.Sprintf("state %s", state), func(e event.Event) bool {
		sc, ok := e.(event.StateChanged)
		return ok && sc.State == string(state)
	})
	return e.(event.StateChanged)
}

func (s *recordSink) waitError(t *testing.T) event.SessionError {
	t.Helper()
	e := s.waitFor(t, "session error", func(e event.Event) bool {
		_, ok := e.(event.SessionError)
		return ok
	})
	return e.(event.SessionError)
}

func (s *recordSink) waitClosed(t *testing.T) event.SessionClosed {
	t.Helper()
	e := s.waitFor(t, "session closed", func(e event.Event) bool {
		_, ok := e.(event.SessionClosed)
		return ok
	})
	return e.(event.SessionClosed)
}

func (s *recordSink) waitPrompt(t *testing.T) event.HostKeyPrompt {
	t.Helper()
	e := s.waitFor(t, "host key prompt", func(e event.Event) bool {
		_, ok := e.(event.HostKeyPrompt)
		return ok
	})
	return e.(event.HostKeyPrompt)
}

// waitOutput consumes events until the concatenated data stream contains
// substr.
func (s *recordSink) waitOutput(t *testing.T, substr string) {
	t.Helper()
	var buf bytes.Buffer
	deadline := time.After(eventWait)
	for {
		select {
		case e := <-s.ch:
			if d, ok := e.(event.DataChunk); ok {
				buf.Write(d.Data)
				if strings.Contains(buf.String(), substr) {
					return
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for output %q, got %q", substr, buf.String())
		}
	}
}

func (s *recordSink) kinds() []event.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Kind, 0, len(s.all))
	for _, e := range s.all {
		out = append(out, e.Kind())
	}
	return out
}

func (s *recordSink) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.all {
		if _, ok := e.(event.HostKeyPrompt); ok {
			n++
		}
	}
	return n
}
