package ssh

import (
	"io"
	"os"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// channelOpener produces the interactive channel for a connected client.
// Some servers refuse a plain shell request, so after the primary attempt it
// walks a fallback ladder of login-shell exec commands, opening a fresh
// session for each rung: a session that failed to start a shell or exec
// cannot be reused.
type channelOpener struct {
	handle *Handle
	client *ssh.Client

	// output receives the merged stdout+stderr stream.
	output io.Writer

	// forwardAgent requests agent forwarding on each attempted session.
	forwardAgent bool
}

// open returns the started session and its stdin pipe.
func (o *channelOpener) open() (*ssh.Session, io.WriteCloser, error) {
	cfg := o.handle.Config()

	if len(cfg.Command) > 0 {
		return o.tryExec("command", cfg.CommandString())
	}

	if sess, stdin, err := o.tryShell("primary"); err == nil {
		return sess, stdin, nil
	}

	shell := os.Getenv(define.EnvShell)
	if shell == "" {
		shell = define.DefaultShell
	}
	for _, cmd := range []string{shell + " -l", "/bin/sh -l"} {
		if sess, stdin, err := o.tryExec("fallback_exec_shell", cmd); err == nil {
			return sess, stdin, nil
		}
	}
	for _, cmd := range []string{"bash -l", "sh -l"} {
		if sess, stdin, err := o.tryExec("fallback_exec_generic", cmd); err == nil {
			return sess, stdin, nil
		}
	}

	return nil, nil, classify(ErrSSH, "Failed to start interactive shell")
}

// newPTYSession opens a session, merges stderr into the output stream and
// negotiates the PTY. Any failure discards the session and fails the rung.
func (o *channelOpener) newPTYSession(label string) (*ssh.Session, io.WriteCloser, error) {
	cfg := o.handle.Config()

	logrus.Debugf("session %s: opening channel [%s]", o.handle.ID(), label)
	o.handle.emitDebug(event.ChannelOpen, map[string]any{"label": label})

	sess, err := o.client.NewSession()
	if err != nil {
		return nil, nil, classify(ErrSSH, "Failed to open channel: %v", err)
	}

	// Both remote streams land in the same writer so the UI sees one
	// ordered byte stream.
	sess.Stdout = o.output
	sess.Stderr = o.output

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, nil, classify(ErrSSH, "Failed to open stdin: %v", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.IUTF8:         1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(cfg.TermType, cfg.Rows, cfg.Cols, modes); err != nil {
		_ = sess.Close()
		o.handle.emitDebug(event.PtyFail, map[string]any{"label": label, "error": err.Error()})
		return nil, nil, classify(ErrSSH, "Failed to request PTY: %v", err)
	}
	o.handle.emitDebug(event.PtyOk, map[string]any{"label": label})

	if o.forwardAgent {
		if err := agent.RequestAgentForwarding(sess); err != nil {
			logrus.Warnf("session %s: agent forwarding refused: %v", o.handle.ID(), err)
		}
	}

	return sess, stdin, nil
}

func (o *channelOpener) tryShell(label string) (*ssh.Session, io.WriteCloser, error) {
	sess, stdin, err := o.newPTYSession(label)
	if err != nil {
		return nil, nil, err
	}

	if err := sess.Shell(); err != nil {
		o.handle.emitDebug(event.ShellFail, map[string]any{"label": label, "error": err.Error()})
		_ = sess.Close()
		return nil, nil, classify(ErrSSH, "Failed to start shell: %v", err)
	}

	logrus.Debugf("session %s: shell started (%s)", o.handle.ID(), label)
	o.handle.emitDebug(event.ShellOk, map[string]any{"label": label})
	return sess, stdin, nil
}

func (o *channelOpener) tryExec(label, cmd string) (*ssh.Session, io.WriteCloser, error) {
	sess, stdin, err := o.newPTYSession(label)
	if err != nil {
		return nil, nil, err
	}

	o.handle.emitDebug(event.ExecTry, map[string]any{"cmd": cmd})
	if err := sess.Start(cmd); err != nil {
		o.handle.emitDebug(event.ExecFail, map[string]any{"cmd": cmd, "error": err.Error()})
		_ = sess.Close()
		return nil, nil, classify(ErrSSH, "Failed to start command: %v", err)
	}

	logrus.Debugf("session %s: exec shell started with %q", o.handle.ID(), cmd)
	o.handle.emitDebug(event.ExecOk, map[string]any{"cmd": cmd})
	return sess, stdin, nil
}
