package ssh

import (
	"context"
	"sync"
	"time"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/sirupsen/logrus"
)

// State is a session lifecycle state. The wire values match the desktop
// client protocol.
type State string

const (
	StateCreated           State = "Created"
	StateConnecting        State = "Connecting"
	StateWaitingForHostKey State = "WaitingForHostKey"
	StateConnected         State = "Connected"
	StateDisconnected      State = "Disconnected"
	StateError             State = "Error"
)

// Terminal reports whether no further transitions can leave this state.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError
}

// HostKeyDecision is the user's answer to an unknown host key prompt.
type HostKeyDecision string

const (
	TrustOnce   HostKeyDecision = "once"
	TrustAlways HostKeyDecision = "always"
	RejectKey   HostKeyDecision = "reject"
)

// ParseHostKeyDecision maps a wire string to a decision.
func ParseHostKeyDecision(s string) (HostKeyDecision, bool) {
	switch HostKeyDecision(s) {
	case TrustOnce, TrustAlways, RejectKey:
		return HostKeyDecision(s), true
	}
	return "", false
}

// Info is a point-in-time session snapshot for listings.
type Info struct {
	ID          string `json:"id"`
	Host        string `json:"host"`
	Port        uint16 `json:"port"`
	Username    string `json:"username"`
	ProfileID   string `json:"profileId,omitempty"`
	State       State  `json:"state"`
	Error       string `json:"error,omitempty"`
	ConnectedAt string `json:"connectedAt,omitempty"`
}

type commandKind int

const (
	cmdWrite commandKind = iota
	cmdResize
	cmdClose
)

// command is one element of a session's bounded write queue.
type command struct {
	kind commandKind
	data []byte
	cols int
	rows int
}

// Handle is one registered session. The connect worker goroutine owns the
// connection; the handle is the thread-safe surface the registry and the
// management API talk to.
type Handle struct {
	id      string
	cfg     SessionConfig
	created time.Time

	sink event.Sink

	mu          sync.RWMutex
	state       State
	errMsg      string
	connectedAt time.Time
	commands    chan command
	started     bool

	decisionCh chan HostKeyDecision
	cancel     context.CancelFunc
	done       chan struct{}
	doneOnce   sync.Once
}

func newHandle(id string, cfg SessionConfig, sink event.Sink) *Handle {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Handle{
		id:         id,
		cfg:        cfg,
		created:    time.Now(),
		sink:       sink,
		state:      StateCreated,
		decisionCh: make(chan HostKeyDecision, 1),
		done:       make(chan struct{}),
	}
}

// ID returns the immutable session id.
func (h *Handle) ID() string {
	return h.id
}

// Config returns a copy of the session configuration.
func (h *Handle) Config() SessionConfig {
	return h.cfg
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Info snapshots the session for listings.
func (h *Handle) Info() Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	info := Info{
		ID:        h.id,
		Host:      h.cfg.Host,
		Port:      h.cfg.Port,
		Username:  h.cfg.Username,
		ProfileID: h.cfg.ProfileID,
		State:     h.state,
		Error:     h.errMsg,
	}
	if !h.connectedAt.IsZero() {
		info.ConnectedAt = h.connectedAt.Format(time.RFC3339)
	}
	return info
}

// Done is closed when the connect worker has fully torn down.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// markStarted flips the handle to started exactly once. The second caller
// gets false.
func (h *Handle) markStarted(cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return false
	}
	h.started = true
	h.cancel = cancel
	return true
}

// setState moves the session along the lifecycle diagram and publishes the
// transition. Transitions out of a terminal state and self-transitions are
// ignored so every observer sees each edge exactly once.
func (h *Handle) setState(next State) {
	h.mu.Lock()
	if h.state == next || h.state.Terminal() {
		h.mu.Unlock()
		return
	}
	h.state = next
	if next == StateConnected {
		h.connectedAt = time.Now()
	}
	msg := h.errMsg
	h.mu.Unlock()

	logrus.Debugf("session %s: state -> %s", h.id, next)
	h.sink.Publish(event.StateChanged{SessionID: h.id, State: string(next), Message: msg})
}

// fail records a sanitized error message and moves the session to Error.
func (h *Handle) fail(msg string) {
	msg = SanitizeErrorMessage(msg)
	h.mu.Lock()
	if h.state.Terminal() {
		h.mu.Unlock()
		return
	}
	h.errMsg = msg
	h.mu.Unlock()

	logrus.Errorf("session %s: %s", h.id, msg)
	h.sink.Publish(event.SessionError{SessionID: h.id, Message: msg})
	h.setState(StateError)
}

// emitDebug publishes a staged diagnostic event. Never includes payload data.
func (h *Handle) emitDebug(stage event.Stage, details map[string]any) {
	h.sink.Publish(event.DebugEvent{SessionID: h.id, Stage: stage, Details: details})
}

// installQueue publishes the command queue once the worker is ready for
// traffic.
func (h *Handle) installQueue(q chan command) {
	h.mu.Lock()
	h.commands = q
	h.mu.Unlock()
}

// clearQueue detaches the command queue during teardown. Senders observe
// ErrSessionClosed afterwards.
func (h *Handle) clearQueue() {
	h.mu.Lock()
	h.commands = nil
	h.mu.Unlock()
}

func (h *Handle) queue() chan command {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.commands
}

// Send enqueues terminal input. It never blocks: a saturated queue returns
// ErrQueueFull immediately and the caller decides how to shed load.
func (h *Handle) Send(data []byte) error {
	q := h.queue()
	if q == nil {
		return ErrSessionClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case q <- command{kind: cmdWrite, data: buf}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Resize enqueues a PTY geometry change. Before the session is connected the
// call is accepted and ignored; on a saturated queue the resize is dropped
// and the next resize repairs the geometry.
func (h *Handle) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return ErrInvalidConfig
	}
	q := h.queue()
	if q == nil {
		return nil
	}
	select {
	case q <- command{kind: cmdResize, cols: cols, rows: rows}:
	default:
		logrus.Warnf("session %s: resize dropped, queue full", h.id)
	}
	return nil
}

// requestClose asks the worker to shut down, best effort.
func (h *Handle) requestClose() {
	q := h.queue()
	if q == nil {
		return
	}
	select {
	case q <- command{kind: cmdClose}:
	default:
	}
}

// cancelWorker aborts an in-flight dial or handshake.
func (h *Handle) cancelWorker() {
	h.mu.RLock()
	cancel := h.cancel
	h.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// offerDecision delivers a host key decision to a waiting verifier. At most
// one decision is consumed per prompt; extras are dropped.
func (h *Handle) offerDecision(d HostKeyDecision) {
	select {
	case h.decisionCh <- d:
	default:
		logrus.Debugf("session %s: surplus host key decision %q dropped", h.id, d)
	}
}

// awaitDecision blocks until the UI answers the host key prompt, the wait
// times out, or the worker context ends.
func (h *Handle) awaitDecision(ctx context.Context) (HostKeyDecision, error) {
	select {
	case d := <-h.decisionCh:
		return d, nil
	case <-time.After(define.HostKeyDecisionTimeout):
		return "", ErrDecisionTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// finish marks the worker as fully exited.
func (h *Handle) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}
