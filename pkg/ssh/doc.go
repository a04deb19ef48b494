/*
Package ssh implements the SSH connection engine behind the terminal UI:
a session registry, trust-on-first-use host key verification, a PTY
channel opener, and a per-session I/O scheduler that bridges terminal
input and output between the UI and the remote host.

# Architecture

The package is organized into clear layers:

  - config.go: Session configuration and validation
  - manager.go: Session registry and lifecycle entry points
  - session.go: Per-session state, command queue, and host key prompts
  - auth.go: Authentication method construction from secret references
  - hostkey.go: known_hosts verification and the TOFU prompt flow
  - connect.go: Connection worker (dial, handshake, channel, I/O loop)
  - channel.go: PTY shell channel opener with shell fallbacks
  - ioloop.go: Steady-state I/O scheduler with backpressure
  - keygen.go: SSH key pair generation

# Basic Usage

The Manager owns every session. Create a session from a config, then
connect it; the connection work runs on its own goroutine and reports
progress through the event sink:

	package main

	import (
		"context"
		"log"

		"github.com/Slashx124/NeonShell/pkg/ssh"
	)

	func main() {
		ctx := context.Background()

		mgr := ssh.NewManager(
			ssh.WithEventSink(sink),
			ssh.WithTrustStore(store),
			ssh.WithSecretStore(secrets),
		)
		defer mgr.CloseAll()

		cfg := ssh.NewSessionConfig("example.com", "user").
			WithPort(22).
			WithAuth(ssh.AuthSpec{Method: ssh.AuthAgent})

		h, err := mgr.Create(*cfg)
		if err != nil {
			log.Fatal(err)
		}

		if err := mgr.Connect(ctx, h.ID()); err != nil {
			log.Fatal(err)
		}
	}

Terminal input, resizes, and disconnects go through the Manager by
session ID:

	mgr.Send(id, []byte("ls -la\r"))
	mgr.Resize(id, 120, 40)
	mgr.Disconnect(id)

# Events

The engine never renders anything itself. Everything the UI needs
arrives as events on the sink passed to WithEventSink: state changes,
terminal output chunks, host key prompts, and a single user-facing
message per failure. Sinks must not block; slow consumers should buffer
or drop.

# Host Key Verification

Host keys are checked against a known_hosts trust store. A key that
conflicts with a stored entry fails the connection under every policy.
Unknown keys follow the session's KnownHostsPolicy:

  - PolicyAsk prompts the UI with a HostKeyPrompt event and waits for
    SetHostKeyDecision. The prompt times out after one minute.
  - PolicyStrict rejects the connection.
  - PolicyAccept trusts the key for this connection without storing it.

A TrustAlways decision appends the key to known_hosts so later
connections verify silently.

# Authentication

AuthSpec selects one strategy: password, private key, or an ssh-agent.
Secret material never lives on the config; an AuthSpec carries opaque
references that are resolved through a secret.Store just before the
handshake and wiped afterwards.

# Error Handling

Failures surface exactly one user-facing message per attempt, already
sanitized for display. Programmatic callers classify errors with
errors.Is against the package sentinels:

	if errors.Is(err, ssh.ErrAuth) {
		// prompt for different credentials
	}

# Thread Safety

The Manager and every Handle are safe for concurrent use. Send, Resize,
SetHostKeyDecision, and Disconnect may be called from any goroutine;
they communicate with the connection worker through the session's
command queue.
*/
package ssh
