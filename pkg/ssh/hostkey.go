package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/Slashx124/NeonShell/pkg/trust"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// hostKeyVerifier binds the trust-on-first-use flow to one connection
// attempt. It runs inside the handshake's host key callback on the connect
// worker goroutine, so it may block while the UI decides.
type hostKeyVerifier struct {
	ctx    context.Context
	handle *Handle
	store  *trust.Store

	mu  sync.Mutex
	err error
}

func (v *hostKeyVerifier) callback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := v.verify(remote, key)
		if err != nil {
			v.mu.Lock()
			v.err = err
			v.mu.Unlock()
		}
		return err
	}
}

// verificationError reports the error the callback returned, if any. The
// transport folds callback errors into its own handshake error; keeping the
// original around preserves the exact message surfaced to the user.
func (v *hostKeyVerifier) verificationError() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

func (v *hostKeyVerifier) verify(remote net.Addr, key ssh.PublicKey) error {
	cfg := v.handle.Config()
	fingerprint := ssh.FingerprintSHA256(key)

	result := trust.NotFound
	if v.store != nil {
		var err error
		result, err = v.store.Check(cfg.Host, cfg.Port, remote, key)
		if err != nil {
			logrus.Errorf("session %s: known_hosts check failed: %v", v.handle.ID(), err)
			return classify(ErrSSH, "Failed to check known hosts")
		}
	}

	switch result {
	case trust.Match:
		logrus.Debugf("host key matched for %s:%d", cfg.Host, cfg.Port)
		return nil

	case trust.Mismatch:
		logrus.Errorf("HOST KEY MISMATCH for %s:%d! Possible MITM attack!", cfg.Host, cfg.Port)
		return classify(ErrHostKeyMismatch, "SECURITY WARNING: Host key has changed for %s:%d! "+
			"This could indicate a man-in-the-middle attack. Connection rejected. "+
			"If you trust this change, remove the old key from known_hosts.",
			cfg.Host, cfg.Port)
	}

	// Unknown host.
	logrus.Infof("unknown host key for %s:%d (%s %s)", cfg.Host, cfg.Port, key.Type(), fingerprint)

	switch cfg.Policy {
	case PolicyStrict:
		return classify(ErrHostKeyRejected, "Unknown host %s:%d rejected by strict host key policy", cfg.Host, cfg.Port)
	case PolicyAccept:
		logrus.Infof("session %s: accepting unknown host key for %s:%d", v.handle.ID(), cfg.Host, cfg.Port)
		return nil
	}

	return v.prompt(key, fingerprint)
}

// prompt runs the TOFU exchange: park the session in WaitingForHostKey,
// surface the key to the UI, and act on the answer.
func (v *hostKeyVerifier) prompt(key ssh.PublicKey, fingerprint string) error {
	cfg := v.handle.Config()

	v.handle.setState(StateWaitingForHostKey)
	v.handle.sink.Publish(event.HostKeyPrompt{
		SessionID:   v.handle.ID(),
		Host:        cfg.Host,
		Port:        int(cfg.Port),
		KeyType:     key.Type(),
		Fingerprint: fingerprint,
	})

	decision, err := v.handle.awaitDecision(v.ctx)
	if err != nil {
		if errors.Is(err, ErrDecisionTimeout) {
			return err
		}
		return classify(ErrHostKeyRejected, "Host key verification interrupted: %v", err)
	}

	switch decision {
	case TrustOnce:
		logrus.Infof("session %s: user accepted host key once", v.handle.ID())
		return nil

	case TrustAlways:
		logrus.Infof("session %s: user accepted host key permanently", v.handle.ID())
		if v.store == nil {
			return nil
		}
		comment := fmt.Sprintf("%s on %s", define.KnownHostsComment, time.Now().UTC().Format(time.RFC3339))
		if err := v.store.Append(cfg.Host, cfg.Port, key, comment); err != nil {
			return classify(ErrSSH, "Failed to add known host: %v", err)
		}
		return nil

	default:
		return classify(ErrHostKeyRejected, "Host key rejected by user")
	}
}
