package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/Slashx124/NeonShell/pkg/path"
	"github.com/Slashx124/NeonShell/pkg/ssh"
	"github.com/Slashx124/NeonShell/pkg/system"
	"github.com/Slashx124/NeonShell/pkg/trust"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

var connectCmd = cli.Command{
	Name:        "connect",
	Usage:       "open an interactive session to a host",
	UsageText:   "connect [flags] user@host[:port] [command...]",
	Description: "connect runs the engine in-process and bridges the local terminal to the remote PTY; trailing arguments run instead of the login shell",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  define.FlagPasswordFile,
			Usage: "read the password from this file",
		},
		&cli.StringFlag{
			Name:    define.FlagIdentity,
			Aliases: []string{"i"},
			Usage:   "private key file",
		},
		&cli.StringFlag{
			Name:  define.FlagPassphraseFile,
			Usage: "read the key passphrase from this file",
		},
		&cli.BoolFlag{
			Name:  define.FlagUseAgent,
			Usage: "authenticate with the ssh-agent even when an identity file is configured",
		},
		&cli.BoolFlag{
			Name:  define.FlagForwardAgent,
			Usage: "forward the local agent connection to the remote host",
		},
		&cli.DurationFlag{
			Name:  define.FlagKeepalive,
			Usage: "keepalive interval, 0 disables",
			Value: define.DefaultKeepaliveInterval,
		},
		&cli.StringFlag{
			Name:  define.FlagPolicy,
			Usage: "unknown host key policy: ask, strict, accept",
			Value: string(ssh.PolicyAsk),
		},
		&cli.StringFlag{
			Name:  define.FlagExec,
			Usage: "run this command line through the remote shell instead of starting a login shell",
		},
		&cli.StringFlag{
			Name:  define.FlagTerm,
			Usage: "terminal type to request, defaults to $TERM",
		},
	},
	Action: runConnect,
}

func runConnect(ctx context.Context, command *cli.Command) error {
	if command.Args().Len() < 1 {
		return fmt.Errorf("no destination specified")
	}

	user, host, port, err := parseDestination(command.Args().First())
	if err != nil {
		return err
	}

	auth, store, err := fileAuthSpec(command)
	if err != nil {
		return err
	}
	if command.Bool(define.FlagUseAgent) {
		auth = ssh.AuthSpec{Method: ssh.AuthAgent}
	}

	policy, err := ssh.ParseKnownHostsPolicy(command.String(define.FlagPolicy))
	if err != nil {
		return err
	}

	if _, err := path.EnsureStateDir(); err != nil {
		return fmt.Errorf("failed to prepare state dir: %w", err)
	}
	knownHosts, err := path.KnownHostsPath()
	if err != nil {
		return err
	}

	termType, cols, rows := localTerm(command)

	cfg := ssh.NewSessionConfig(host, user).
		WithPort(port).
		WithAuth(auth).
		WithPolicy(policy).
		WithTerm(termType, cols, rows).
		WithKeepaliveInterval(command.Duration(define.FlagKeepalive))
	if command.Bool(define.FlagForwardAgent) {
		cfg.ForwardAgent = true
	}
	if args := command.Args().Tail(); len(args) > 0 {
		cfg.WithCommand(args...)
	} else if line := command.String(define.FlagExec); line != "" {
		cfg.WithCommand("sh", "-c", line)
	}

	sink := newConsoleSink()
	mgr := ssh.NewManager(
		ssh.WithEventSink(sink),
		ssh.WithTrustStore(trust.NewStore(knownHosts)),
		ssh.WithSecretStore(store),
	)
	defer mgr.CloseAll()

	h, err := mgr.Create(*cfg)
	if err != nil {
		return err
	}
	if err := mgr.Connect(ctx, h.ID()); err != nil {
		return err
	}

	return bridgeTerminal(ctx, mgr, h.ID(), sink)
}

// consoleSink renders engine events on the local terminal. Remote output is
// written to stdout directly so byte order survives; everything else goes
// through a small queue to the bridge loop.
type consoleSink struct {
	out    *os.File
	events chan event.Event
}

func newConsoleSink() *consoleSink {
	return &consoleSink{out: os.Stdout, events: make(chan event.Event, 64)}
}

func (s *consoleSink) Publish(e event.Event) {
	if d, ok := e.(event.DataChunk); ok {
		_, _ = s.out.Write(d.Data)
		return
	}
	if e.Kind() == event.Debug {
		return
	}
	select {
	case s.events <- e:
	default:
		logrus.Warnf("console event dropped: %s", e.Kind())
	}
}

// bridgeTerminal drives one session to completion: answers host key
// prompts, switches the terminal to raw mode once connected, pumps stdin,
// and turns the close reason into the process exit code.
func bridgeTerminal(ctx context.Context, mgr *ssh.Manager, id string, sink *consoleSink) error {
	var rawState *system.StdinState
	restore := func() {
		if rawState != nil {
			system.ResetStdin(rawState)
			rawState = nil
		}
	}
	defer restore()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			restore()
			_ = mgr.Disconnect(id)
			return nil
		case ev := <-sink.events:
			switch p := ev.(type) {
			case event.HostKeyPrompt:
				_ = mgr.SetHostKeyDecision(id, promptHostKey(p))
			case event.StateChanged:
				logrus.Debugf("session %s: %s", p.SessionID, p.State)
				if p.State == string(ssh.StateConnected) {
					if system.IsTerminal() {
						st, err := system.MakeStdinRaw()
						if err != nil {
							logrus.Warnf("failed to enter raw mode: %v", err)
						} else {
							rawState = st
						}
					}
					go pumpStdin(mgr, id)
					system.OnTerminalResize(ctx, func(cols, rows int) {
						_ = mgr.Resize(id, cols, rows)
					})
				}
				if p.State == string(ssh.StateError) {
					restore()
					msg := lastErr
					if msg == "" {
						msg = p.Message
					}
					if msg != "" {
						fmt.Fprintln(os.Stderr, msg)
					}
					return cli.Exit("", 1)
				}
			case event.SessionError:
				lastErr = p.Message
			case event.SessionClosed:
				restore()
				if lastErr != "" {
					fmt.Fprintln(os.Stderr, lastErr)
					return cli.Exit("", 1)
				}
				if p.ExitStatus != nil && *p.ExitStatus != 0 {
					return cli.Exit("", *p.ExitStatus)
				}
				return nil
			}
		}
	}
}

// promptHostKey asks the user about an unknown host key on the local
// terminal, OpenSSH style. Non-interactive runs reject the key.
func promptHostKey(p event.HostKeyPrompt) ssh.HostKeyDecision {
	if !system.IsTerminal() {
		fmt.Fprintf(os.Stderr, "Host key verification failed: unknown key %s for %s:%d\n", p.Fingerprint, p.Host, p.Port)
		return ssh.RejectKey
	}

	fmt.Fprintf(os.Stderr, "The authenticity of host '%s:%d' can't be established.\n", p.Host, p.Port)
	fmt.Fprintf(os.Stderr, "%s key fingerprint is %s.\n", p.KeyType, p.Fingerprint)
	fmt.Fprint(os.Stderr, "Are you sure you want to continue connecting (yes/no/always)? ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return ssh.RejectKey
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y":
		return ssh.TrustOnce
	case "always", "a":
		return ssh.TrustAlways
	default:
		return ssh.RejectKey
	}
}

// pumpStdin forwards local keystrokes to the session until stdin or the
// session ends. Queue-full bursts are dropped, matching the engine's
// backpressure contract.
func pumpStdin(mgr *ssh.Manager, id string) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if serr := mgr.Send(id, data); serr != nil {
				if errors.Is(serr, ssh.ErrQueueFull) {
					continue
				}
				return
			}
		}
		if err != nil {
			return
		}
	}
}
