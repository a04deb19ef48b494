//go:build (darwin && arm64) || (linux && (arm64 || amd64))

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Slashx124/NeonShell/pkg/network"
	"github.com/Slashx124/NeonShell/pkg/system"
	"github.com/sirupsen/logrus"
)

// shutdownGrace bounds how long in-flight requests may finish on shutdown.
const shutdownGrace = 3 * time.Second

// httpServer provides common HTTP server functionality. The listener string
// is either a unix://<path> or tcp://<host>:<port> address; a bare path is
// treated as a unix socket.
type httpServer struct {
	name     string
	listener string
	server   *http.Server
	mux      *http.ServeMux
}

func newHTTPServer(name, listener string) *httpServer {
	return &httpServer{
		name:     name,
		listener: listener,
		mux:      http.NewServeMux(),
	}
}

func (s *httpServer) listen() (net.Listener, func(), error) {
	raw := s.listener
	if !strings.Contains(raw, "://") {
		raw = "unix://" + raw
	}

	if strings.HasPrefix(raw, "tcp://") {
		addr, err := network.ParseTcpAddr(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse tcp address: %w", err)
		}
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr.Host, addr.Port))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to listen on %q: %w", raw, err)
		}
		return ln, func() {}, nil
	}

	addr, err := network.ParseUnixAddr(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse unix socket address: %w", err)
	}
	if err := system.RemoveStaleSocket(addr.Path); err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("unix", addr.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %q: %w", addr.Path, err)
	}
	return ln, func() { _ = os.Remove(addr.Path) }, nil
}

// serve starts the HTTP server and blocks until context is cancelled.
func (s *httpServer) serve(ctx context.Context) error {
	ln, cleanup, err := s.listen()
	if err != nil {
		return err
	}
	defer cleanup()

	s.server = &http.Server{Handler: logRequests(s.mux)}

	errChan := make(chan error, 1)
	go func() {
		logrus.Infof("starting %s httpserver on %q", s.name, ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			_ = s.server.Close()
		}
		_ = ln.Close()
		logrus.Infof("%s httpserver stopped", s.name)
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("%s httpserver error: %w", s.name, err)
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logrus.Debugf("http: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
