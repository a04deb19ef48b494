package probes

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/network"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultProbeTimeout  = 50 * time.Millisecond
	defaultProbeInterval = 50 * time.Millisecond
)

// Probe defines the interface for service readiness probes.
type Probe interface {
	// ProbeUntilReady blocks until the service is ready or the context is cancelled.
	// Returns nil on success, ctx.Err() on context cancellation/timeout.
	ProbeUntilReady(ctx context.Context) error
}

// APIProbe polls the daemon management API until it responds to health
// checks. The listener can be a unix:// URL, a raw socket path, or a
// tcp://<host>:<port> address.
type APIProbe struct {
	listener string
	Ch       chan struct{}
	once     sync.Once
}

// NewAPIProbe creates a probe that monitors the given API listener.
func NewAPIProbe(listener string) *APIProbe {
	return &APIProbe{
		listener: listener,
		Ch:       make(chan struct{}, 1),
	}
}

// ProbeUntilReady polls the /healthz endpoint until it returns HTTP 200.
// It blocks until the daemon is ready or the context is cancelled.
// The Ch channel is closed when the daemon becomes ready.
// Returns nil on success, ctx.Err() on context cancellation/timeout.
func (p *APIProbe) ProbeUntilReady(ctx context.Context) error {
	// Fast-path: already ready
	select {
	case <-p.Ch:
		return nil
	default:
	}

	client, err := network.NewClientFromAddr(p.listener, network.WithTimeout(defaultProbeTimeout))
	if err != nil {
		return err
	}
	defer client.Close()

	ticker := time.NewTicker(defaultProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			resp, err := client.Get(define.RestAPIHealthURL).Do(ctx) //nolint:bodyclose
			if err != nil {
				continue
			}

			if resp.StatusCode != http.StatusOK {
				logrus.Warnf("daemon /healthz returned status code: %d, retrying", resp.StatusCode)
				network.CloseResponse(resp)
				continue
			}

			network.CloseResponse(resp)
			p.once.Do(func() { close(p.Ch) })
			logrus.Info("daemon API is ready")
			return nil
		}
	}
}

// WaitUntilReady blocks until the daemon is ready or the context is cancelled.
// Unlike ProbeUntilReady, this method does not actively poll - it only waits
// on the channel.
func (p *APIProbe) WaitUntilReady(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-p.Ch:
		return
	}
}

// WaitAll waits for all probes to be ready in parallel.
// Returns the first error encountered, or nil if all probes succeed.
func WaitAll(ctx context.Context, probeList ...Probe) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range probeList {
		g.Go(func() error {
			return p.ProbeUntilReady(ctx)
		})
	}
	return g.Wait()
}
