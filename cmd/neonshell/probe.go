package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/Slashx124/NeonShell/pkg/path"
	"github.com/Slashx124/NeonShell/pkg/probes"
	"github.com/Slashx124/NeonShell/pkg/ssh"
	"github.com/Slashx124/NeonShell/pkg/trust"
	"github.com/urfave/cli/v3"
)

var probeCmd = cli.Command{
	Name:        "probe",
	Usage:       "diagnose connectivity to a host, or wait for the daemon",
	UsageText:   "probe [flags] user@host[:port]",
	Description: "run a one-shot connection through the engine and print each stage as it happens; with --wait-api, poll the daemon health endpoint instead. Unknown host keys are accepted for the probe and not stored",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  define.FlagWaitAPI,
			Usage: "wait until the daemon API answers health checks, then exit",
		},
		&cli.StringFlag{
			Name:  define.FlagSocket,
			Usage: "daemon API socket for --wait-api",
		},
		&cli.DurationFlag{
			Name:  define.FlagTimeout,
			Usage: "give up after this long",
			Value: 30 * time.Second,
		},
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
			Usage: "authenticate with the ssh-agent",
		},
		&cli.StringFlag{
			Name:  define.FlagPolicy,
			Usage: "unknown host key policy: ask, strict, accept",
			Value: string(ssh.PolicyAccept),
		},
	},
	Action: runProbe,
}

func runProbe(ctx context.Context, command *cli.Command) error {
	ctx, cancel := context.WithTimeout(ctx, command.Duration(define.FlagTimeout))
	defer cancel()

	if command.Bool(define.FlagWaitAPI) {
		listener := command.String(define.FlagSocket)
		if listener == "" {
			p, err := path.APISocketPath()
			if err != nil {
				return err
			}
			listener = p
		}
		if err := probes.WaitAll(ctx, probes.NewAPIProbe(listener)); err != nil {
			return cli.Exit(fmt.Sprintf("daemon not ready: %v", err), 1)
		}
		return nil
	}

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

	sink := newProbeSink()
	mgr := ssh.NewManager(
		ssh.WithEventSink(sink),
		ssh.WithTrustStore(trust.NewStore(knownHosts)),
		ssh.WithSecretStore(store),
	)
	defer mgr.CloseAll()

	// A trivial remote command walks the whole bring-up: dial, handshake,
	// host key check, auth, channel, PTY, exec, clean close.
	cfg := ssh.NewSessionConfig(host, user).
		WithPort(port).
		WithAuth(auth).
		WithPolicy(policy).
		WithCommand("true")

	start := time.Now()
	h, err := mgr.Create(*cfg)
	if err != nil {
		return err
	}
	if err := mgr.Connect(ctx, h.ID()); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		_ = mgr.Disconnect(h.ID())
		return cli.Exit("probe timed out", 1)
	case <-sink.done:
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	if msg := sink.errorMessage(); msg != "" {
		return cli.Exit(fmt.Sprintf("probe failed after %s: %s", elapsed, msg), 1)
	}
	fmt.Printf("probe ok in %s (%d bytes of output)\n", elapsed, sink.bytes.Load())
	return nil
}

// probeSink prints every stage of the bring-up as it happens and signals
// once the session reaches a terminal state.
type probeSink struct {
	done  chan struct{}
	once  sync.Once
	bytes atomic.Int64

	mu     sync.Mutex
	errMsg string
}

func newProbeSink() *probeSink {
	return &probeSink{done: make(chan struct{})}
}

func (s *probeSink) Publish(e event.Event) {
	switch p := e.(type) {
	case event.StateChanged:
		fmt.Printf("state: %s\n", p.State)
		if p.State == string(ssh.StateError) {
			s.once.Do(func() { close(s.done) })
		}
	case event.DebugEvent:
		if len(p.Details) > 0 {
			fmt.Printf("stage: %s %v\n", p.Stage, p.Details)
		} else {
			fmt.Printf("stage: %s\n", p.Stage)
		}
	case event.HostKeyPrompt:
		fmt.Printf("hostkey: %s %s\n", p.KeyType, p.Fingerprint)
	case event.SessionError:
		s.mu.Lock()
		s.errMsg = p.Message
		s.mu.Unlock()
		fmt.Printf("error: %s\n", p.Message)
	case event.DataChunk:
		s.bytes.Add(int64(len(p.Data)))
	case event.SessionClosed:
		if p.ExitStatus != nil {
			fmt.Printf("closed: %s exit=%d\n", p.Reason, *p.ExitStatus)
		} else {
			fmt.Printf("closed: %s\n", p.Reason)
		}
		s.once.Do(func() { close(s.done) })
	}
}

func (s *probeSink) errorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}
