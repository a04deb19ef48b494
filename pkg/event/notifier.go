package event

import (
	"context"
	"time"

	"github.com/Slashx124/NeonShell/pkg/network"
	"github.com/sirupsen/logrus"
)

const reportTimeout = 1 * time.Second

// Reporter forwards session lifecycle events to an external endpoint as
// GET /notify requests. Terminal data and debug traffic are not forwarded.
// It exists for supervisors that want to watch a daemon without holding an
// SSE subscription open.
type Reporter struct {
	client *network.Client
}

// NewReporter builds a reporter for the given endpoint, which accepts the
// same address forms as the API listener. Returns nil for an empty endpoint
// so callers can wire it unconditionally.
func NewReporter(endpoint string) (*Reporter, error) {
	if endpoint == "" {
		return nil, nil
	}

	client, err := network.NewClientFromAddr(endpoint, network.WithTimeout(reportTimeout))
	if err != nil {
		return nil, err
	}
	return &Reporter{client: client}, nil
}

// Publish implements Sink. Delivery is best-effort and never blocks the
// engine; failed reports are logged and dropped.
func (r *Reporter) Publish(e Event) {
	if r == nil || r.client == nil {
		return
	}

	var value string
	switch p := e.(type) {
	case StateChanged:
		value = p.State
	case HostKeyPrompt:
		value = p.Fingerprint
	case SessionError:
		value = p.Message
	case SessionClosed:
		value = p.Reason
	default:
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()

		resp, err := r.client.Get("/notify").
			Query("kind", string(e.Kind())).
			Query("session", e.Session()).
			Query("value", value).
			Do(ctx)
		if err != nil {
			logrus.Debugf("event report failed: %v", err)
			return
		}
		network.CloseResponse(resp)
	}()
}

// Close closes the reporter's HTTP client.
func (r *Reporter) Close() error {
	if r != nil && r.client != nil {
		return r.client.Close()
	}
	return nil
}
