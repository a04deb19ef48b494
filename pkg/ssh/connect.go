package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// runSession is the connection worker. It owns the whole lifetime of one
// session: dial, verify, authenticate, open the channel, run the I/O loop,
// tear down. All failures are reported through the handle, never returned.
func (m *Manager) runSession(ctx context.Context, h *Handle) {
	defer h.finish()

	cfg := h.Config()
	h.setState(StateConnecting)
	logrus.Infof("session %s connecting to %s@%s:%d", h.ID(), cfg.Username, cfg.Host, cfg.Port)

	auth, err := buildAuthenticator(cfg, m.opts.secrets)
	if err != nil {
		h.fail(err.Error())
		return
	}
	defer auth.close()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port)))
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		h.fail(fmt.Sprintf("TCP connect failed: %v", err))
		return
	}

	// Cancellation has to reach blocked transport reads and writes, and the
	// handshake itself. Closing the raw connection is the one lever that
	// unblocks all of them.
	guard := make(chan struct{})
	defer close(guard)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-guard:
		}
	}()

	verifier := &hostKeyVerifier{ctx: ctx, handle: h, store: m.opts.trust}
	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth.methods,
		HostKeyCallback: verifier.callback(),
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		h.fail(classifyHandshakeError(err, verifier, auth).Error())
		return
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()
	logrus.Infof("session %s authenticated as %s", h.ID(), cfg.Username)

	if cfg.ForwardAgent && auth.agentClient != nil {
		if err := agent.ForwardToAgent(client, auth.agentClient); err != nil {
			logrus.Warnf("session %s: agent forwarding unavailable: %v", h.ID(), err)
		}
	}

	commands := make(chan command, define.CommandQueueCap)
	sched := newIOScheduler(h, client, commands)

	opener := &channelOpener{
		handle:       h,
		client:       client,
		output:       sched.output(),
		forwardAgent: cfg.ForwardAgent && auth.agentClient != nil,
	}
	sess, stdin, err := opener.open()
	if err != nil {
		h.fail(err.Error())
		return
	}
	sched.attach(sess, stdin)

	h.installQueue(commands)
	h.setState(StateConnected)
	logrus.Infof("session %s connected to %s:%d", h.ID(), cfg.Host, cfg.Port)

	sched.run()

	h.clearQueue()
	_ = client.Close()

	status, _ := sched.exitInfo()
	h.setState(StateDisconnected)
	h.sink.Publish(event.SessionClosed{
		SessionID:  h.ID(),
		Reason:     "Connection closed",
		ExitStatus: status,
	})
}

// classifyHandshakeError maps a transport handshake failure onto the error
// taxonomy. Host key outcomes keep their own message; everything the server
// said about authentication is replaced with the method's summary line.
func classifyHandshakeError(err error, verifier *hostKeyVerifier, auth *authenticator) error {
	if verr := verifier.verificationError(); verr != nil {
		return verr
	}
	if isAuthRejection(err) {
		msg := auth.rejectedMsg
		if msg == "" {
			msg = "Authentication failed"
		}
		return classify(ErrAuth, "%s", msg)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return classify(ErrConnection, "Connection lost during handshake: %v", err)
	}
	return classify(ErrSSH, "SSH handshake failed: %v", err)
}
