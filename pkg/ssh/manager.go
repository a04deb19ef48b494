package ssh

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/Slashx124/NeonShell/pkg/secret"
	"github.com/Slashx124/NeonShell/pkg/trust"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type options struct {
	sink    event.Sink
	trust   *trust.Store
	secrets secret.Store
}

// Option customizes a Manager.
type Option func(*options)

// WithEventSink routes engine events to the given sink.
func WithEventSink(s event.Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithTrustStore sets the known-hosts trust store.
func WithTrustStore(ts *trust.Store) Option {
	return func(o *options) {
		o.trust = ts
	}
}

// WithSecretStore sets the store used to resolve credential references.
func WithSecretStore(ss secret.Store) Option {
	return func(o *options) {
		o.secrets = ss
	}
}

// Manager is the session registry. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Handle

	opts options
}

// NewManager creates an empty registry.
func NewManager(opts ...Option) *Manager {
	o := options{
		sink:    event.NopSink{},
		secrets: secret.Static{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		sessions: make(map[string]*Handle),
		opts:     o,
	}
}

// Create validates the configuration and registers a new session in state
// Created. The connection is not dialed until Connect.
func (m *Manager) Create(cfg SessionConfig) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := newHandle(uuid.NewString(), cfg, m.opts.sink)

	m.mu.Lock()
	m.sessions[h.id] = h
	m.mu.Unlock()

	logrus.Infof("session %s created for %s@%s:%d", h.id, cfg.Username, cfg.Host, cfg.Port)
	return h, nil
}

// Get resolves a session id.
func (m *Manager) Get(id string) (*Handle, error) {
	m.mu.RLock()
	h, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return h, nil
}

// List snapshots all sessions ordered by creation time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	handles := make([]*Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool {
		if handles[i].created.Equal(handles[j].created) {
			return handles[i].id < handles[j].id
		}
		return handles[i].created.Before(handles[j].created)
	})

	infos := make([]Info, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	return infos
}

// Remove drops a session from the registry. Idempotent; a removed id
// resolves to ErrSessionNotFound afterwards.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Connect spawns the worker goroutine that owns the session's connection.
// It returns immediately; progress is reported through state events.
func (m *Manager) Connect(ctx context.Context, id string) error {
	h, err := m.Get(id)
	if err != nil {
		return err
	}
	if h.State() != StateCreated {
		return fmt.Errorf("%w: session %s is %s", ErrAlreadyStarted, id, h.State())
	}

	wctx, cancel := context.WithCancel(ctx)
	if !h.markStarted(cancel) {
		cancel()
		return fmt.Errorf("%w: session %s", ErrAlreadyStarted, id)
	}

	go m.runSession(wctx, h)
	return nil
}

// Send enqueues terminal input for the session.
func (m *Manager) Send(id string, data []byte) error {
	h, err := m.Get(id)
	if err != nil {
		return err
	}
	return h.Send(data)
}

// Resize enqueues a PTY geometry change for the session.
func (m *Manager) Resize(id string, cols, rows int) error {
	h, err := m.Get(id)
	if err != nil {
		return err
	}
	return h.Resize(cols, rows)
}

// SetHostKeyDecision answers a pending host key prompt.
func (m *Manager) SetHostKeyDecision(id string, decision HostKeyDecision) error {
	h, err := m.Get(id)
	if err != nil {
		return err
	}
	if _, ok := ParseHostKeyDecision(string(decision)); !ok {
		return fmt.Errorf("%w: unknown host key decision %q", ErrInvalidConfig, decision)
	}
	h.offerDecision(decision)
	return nil
}

// Disconnect closes a session and removes it from the registry. The worker
// gets a bounded window to drain before the context is cut.
func (m *Manager) Disconnect(id string) error {
	h, err := m.Get(id)
	if err != nil {
		return err
	}

	h.requestClose()
	h.setState(StateDisconnected)

	select {
	case <-h.Done():
	case <-time.After(define.DisconnectDrainWait):
	}
	h.cancelWorker()

	m.Remove(id)
	logrus.Infof("session %s disconnected", id)
	return nil
}

// CloseAll disconnects every live session. Used on daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Disconnect(id); err != nil {
			logrus.Warnf("close all: %v", err)
		}
	}
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
