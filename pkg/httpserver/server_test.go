//go:build (darwin && arm64) || (linux && (arm64 || amd64))

package httpserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/Slashx124/NeonShell/pkg/network"
	"github.com/Slashx124/NeonShell/pkg/probes"
	"github.com/Slashx124/NeonShell/pkg/secret"
	"github.com/Slashx124/NeonShell/pkg/ssh"
	"github.com/Slashx124/NeonShell/pkg/trust"
)

func TestServeUnixSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "api.sock")

	inline := secret.NewEphemeral()
	api := NewManagementAPIServer(sock, inline)
	mgr := ssh.NewManager(
		ssh.WithEventSink(api.Bridge()),
		ssh.WithTrustStore(trust.NewStore(filepath.Join(t.TempDir(), "known_hosts"))),
		ssh.WithSecretStore(secret.Layered{inline}),
	)
	defer mgr.CloseAll()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- api.Start(ctx, mgr) }()

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer probeCancel()
	if err := probes.WaitAll(probeCtx, probes.NewAPIProbe(sock)); err != nil {
		t.Fatalf("daemon never became ready: %v", err)
	}

	client := network.NewUnixClient(sock)
	defer client.Close()

	var health define.HealthResponse
	status, err := client.Get(define.RestAPIHealthURL).DoJSON(context.Background(), &health)
	if err != nil {
		t.Fatalf("healthz over socket: %v", err)
	}
	if status != http.StatusOK || health.Status != "ok" {
		t.Fatalf("healthz = %d %+v", status, health)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop after cancel")
	}
}

type sseFrame struct {
	event string
	data  string
}

func readFrame(r io.Reader) (sseFrame, error) {
	var f sseFrame
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "" && (f.event != "" || f.data != ""):
			return f, nil
		case strings.HasPrefix(line, "event:"):
			f.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			f.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := sc.Err(); err != nil {
		return f, err
	}
	return f, io.EOF
}

func TestSSESessionFilter(t *testing.T) {
	s := newSSEServer()
	bridge := newEventBridge(s)

	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/?session=abc")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type = %q", ct)
	}

	// Publish on a ticker until a frame lands: the subscription may still be
	// registering when the first batch goes out, and dropped frames are fine
	// because the zzz session's events can never reach this topic.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(25 * time.Millisecond):
				bridge.Publish(event.StateChanged{SessionID: "zzz", State: "Connecting"})
				bridge.Publish(event.DataChunk{SessionID: "abc", Data: []byte("hi")})
			}
		}
	}()

	frames := make(chan sseFrame, 1)
	go func() {
		if f, err := readFrame(resp.Body); err == nil {
			frames <- f
		}
	}()

	select {
	case f := <-frames:
		if f.event != "ssh:data" {
			t.Fatalf("event type = %q", f.event)
		}
		if !strings.Contains(f.data, `"sessionId":"abc"`) {
			t.Fatalf("data = %q", f.data)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no event arrived on filtered stream")
	}
}

func TestSSEGlobalStream(t *testing.T) {
	s := newSSEServer()
	bridge := newEventBridge(s)

	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(25 * time.Millisecond):
				bridge.Publish(event.SessionClosed{SessionID: "s1", Reason: "remote closed connection"})
			}
		}
	}()

	frames := make(chan sseFrame, 1)
	go func() {
		if f, err := readFrame(resp.Body); err == nil {
			frames <- f
		}
	}()

	select {
	case f := <-frames:
		if f.event != "ssh:closed" {
			t.Fatalf("event type = %q", f.event)
		}
		if !strings.Contains(f.data, `"reason":"remote closed connection"`) {
			t.Fatalf("data = %q", f.data)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no event arrived on global stream")
	}
}
