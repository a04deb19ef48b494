//go:build (darwin && arm64) || (linux && (arm64 || amd64))

package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/Slashx124/NeonShell/pkg/secret"
	"github.com/Slashx124/NeonShell/pkg/ssh"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// ManagementAPIServer provides a REST API for driving sessions from a UI
// process. It listens on a Unix socket by default; tcp:// listeners are
// accepted for development setups.
//
// Endpoints:
//   - POST   /sessions               - Create a session and start connecting
//   - GET    /sessions               - List sessions
//   - GET    /sessions/{id}          - Session details
//   - POST   /sessions/{id}/write    - Queue terminal input
//   - POST   /sessions/{id}/resize   - Propagate a terminal resize
//   - POST   /sessions/{id}/hostkey  - Resolve a pending host key prompt
//   - DELETE /sessions/{id}          - Disconnect and remove a session
//   - GET    /events                 - SSE stream of session events
//   - GET    /healthz                - Health check
type ManagementAPIServer struct {
	mgr    *ssh.Manager
	inline *secret.Ephemeral
	srv    *httpServer
	sse    *sseServer
	bridge *EventBridge
}

// NewManagementAPIServer creates the API server for the given listener
// address. The manager is supplied at Start time so its event sink can be
// wired to this server's Bridge first.
func NewManagementAPIServer(listener string, inline *secret.Ephemeral) *ManagementAPIServer {
	s := &ManagementAPIServer{
		inline: inline,
		srv:    newHTTPServer("management-api", listener),
		sse:    newSSEServer(),
	}
	s.bridge = newEventBridge(s.sse)
	return s
}

// Bridge returns the event sink that forwards session events onto the SSE
// stream. Pass it to ssh.WithEventSink when building the Manager.
func (s *ManagementAPIServer) Bridge() event.Sink {
	return s.bridge
}

// Start begins serving requests. Blocks until the context is cancelled.
func (s *ManagementAPIServer) Start(ctx context.Context, mgr *ssh.Manager) error {
	s.routes(ctx, mgr)
	return s.srv.serve(ctx)
}

// routes binds the manager and registers every endpoint on the server mux.
// Session workers spawned by POST /sessions run on ctx, not on the request
// context, so they outlive the creating request.
func (s *ManagementAPIServer) routes(ctx context.Context, mgr *ssh.Manager) *http.ServeMux {
	s.mgr = mgr
	mux := s.srv.mux

	mux.HandleFunc("POST "+define.RestAPISessionsURL, func(w http.ResponseWriter, r *http.Request) {
		s.handleCreateSession(ctx, w, r)
	})
	mux.HandleFunc("GET "+define.RestAPISessionsURL, s.handleListSessions)
	mux.HandleFunc("GET "+define.RestAPISessionsURL+"/{id}", s.handleGetSession)
	mux.HandleFunc("POST "+define.RestAPISessionsURL+"/{id}/write", s.handleWrite)
	mux.HandleFunc("POST "+define.RestAPISessionsURL+"/{id}/resize", s.handleResize)
	mux.HandleFunc("POST "+define.RestAPISessionsURL+"/{id}/hostkey", s.handleHostKeyDecision)
	mux.HandleFunc("DELETE "+define.RestAPISessionsURL+"/{id}", s.handleDeleteSession)
	mux.Handle("GET "+define.RestAPIEventsURL, s.sse)
	mux.HandleFunc("GET "+define.RestAPIHealthURL, s.handleHealth)

	return mux
}

func (s *ManagementAPIServer) handleCreateSession(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req define.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrResponse{Error: "invalid json", Code: "INVALID_CONFIG"})
		return
	}

	cfg, refs, err := s.sessionConfig(&req)
	if err != nil {
		WriteError(w, err)
		return
	}

	h, err := s.mgr.Create(*cfg)
	if err != nil {
		s.dropRefs(refs)
		WriteError(w, err)
		return
	}

	if err := s.mgr.Connect(ctx, h.ID()); err != nil {
		s.dropRefs(refs)
		s.mgr.Remove(h.ID())
		WriteError(w, err)
		return
	}

	logrus.Infof("session %s created for %s@%s", h.ID(), cfg.Username, cfg.Host)
	WriteJSON(w, http.StatusCreated, define.CreateSessionResponse{ID: h.ID()})
}

// sessionConfig maps the wire request onto a SessionConfig. Inline secrets
// are parked in the ephemeral store and replaced by consume-once references;
// the returned refs must be dropped if the session never starts connecting.
func (s *ManagementAPIServer) sessionConfig(req *define.ConnectRequest) (*ssh.SessionConfig, []string, error) {
	policy, err := ssh.ParseKnownHostsPolicy(req.KnownHostsPolicy)
	if err != nil {
		return nil, nil, err
	}

	auth, refs, err := s.authSpec(req.Auth)
	if err != nil {
		return nil, nil, err
	}

	cfg := ssh.NewSessionConfig(req.Host, req.Username).
		WithAuth(auth).
		WithPolicy(policy)
	if req.Port > 0 {
		cfg.WithPort(uint16(req.Port))
	}
	if req.Term != "" {
		cfg.TermType = req.Term
	}
	if req.Cols > 0 && req.Rows > 0 {
		cfg.Cols = req.Cols
		cfg.Rows = req.Rows
	}
	if req.KeepaliveSeconds > 0 {
		cfg.WithKeepaliveInterval(time.Duration(req.KeepaliveSeconds) * time.Second)
	}
	if req.ForwardAgent {
		cfg.ForwardAgent = true
	}
	if len(req.Command) > 0 {
		cfg.WithCommand(req.Command...)
	}
	if req.ProfileID != "" {
		cfg.WithProfileID(req.ProfileID)
	}
	return cfg, refs, nil
}

// authSpec resolves the auth portion of a connect request. Inline material
// wins over store references when both are present.
func (s *ManagementAPIServer) authSpec(req define.AuthRequest) (ssh.AuthSpec, []string, error) {
	var refs []string
	park := func(material string) string {
		ref := s.inline.Put([]byte(material))
		refs = append(refs, ref)
		return ref
	}

	spec := ssh.AuthSpec{Method: ssh.AuthMethod(req.Type)}
	switch spec.Method {
	case ssh.AuthPassword:
		spec.PasswordRef = req.SecretRef
		if req.Password != "" {
			spec.PasswordRef = park(req.Password)
		}
	case ssh.AuthPrivateKey:
		spec.KeyRef = req.SecretRef
		if req.PrivateKey != "" {
			spec.KeyRef = park(req.PrivateKey)
		}
		spec.PassphraseRef = req.PassphraseRef
		if req.Passphrase != "" {
			spec.PassphraseRef = park(req.Passphrase)
		}
	case ssh.AuthAgent, ssh.AuthInteractive:
	default:
		return ssh.AuthSpec{}, nil, fmt.Errorf("%w: unknown auth type %q", ssh.ErrInvalidConfig, req.Type)
	}
	return spec, refs, nil
}

func (s *ManagementAPIServer) dropRefs(refs []string) {
	for _, ref := range refs {
		s.inline.Drop(ref)
	}
}

func (s *ManagementAPIServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.mgr.List())
}

func (s *ManagementAPIServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	h, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.Info())
}

func (s *ManagementAPIServer) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req define.WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrResponse{Error: "invalid json", Code: "INVALID_CONFIG"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrResponse{Error: "data must be base64", Code: "INVALID_CONFIG"})
		return
	}

	if err := s.mgr.Send(r.PathValue("id"), data); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

func (s *ManagementAPIServer) handleResize(w http.ResponseWriter, r *http.Request) {
	var req define.ResizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrResponse{Error: "invalid json", Code: "INVALID_CONFIG"})
		return
	}

	if err := s.mgr.Resize(r.PathValue("id"), req.Cols, req.Rows); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

func (s *ManagementAPIServer) handleHostKeyDecision(w http.ResponseWriter, r *http.Request) {
	var req define.HostKeyDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrResponse{Error: "invalid json", Code: "INVALID_CONFIG"})
		return
	}

	if err := s.mgr.SetHostKeyDecision(r.PathValue("id"), ssh.HostKeyDecision(req.Decision)); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

func (s *ManagementAPIServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Disconnect(r.PathValue("id")); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

func (s *ManagementAPIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := define.HealthResponse{
		Status:    "ok",
		Sessions:  s.mgr.Count(),
		GoVersion: runtime.Version(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPercent = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		resp.Load1 = avg.Load1
	}
	WriteJSON(w, http.StatusOK, resp)
}
