package main

import (
	"context"
	"fmt"
	"net"
	"os"
	osuser "os/user"
	"strconv"
	"strings"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/network"
	"github.com/Slashx124/NeonShell/pkg/path"
	"github.com/Slashx124/NeonShell/pkg/secret"
	"github.com/Slashx124/NeonShell/pkg/ssh"
	"github.com/Slashx124/NeonShell/pkg/system"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func earlyStage(ctx context.Context, command *cli.Command) (context.Context, error) {
	setLogrus(command)
	return ctx, nil
}

func setLogrus(command *cli.Command) {
	logrus.SetLevel(logrus.InfoLevel)
	if lvl, err := logrus.ParseLevel(command.String(define.FlagLogLevel)); err == nil {
		logrus.SetLevel(lvl)
	}
	if command.Bool(define.FlagVerbose) {
		logrus.SetLevel(logrus.DebugLevel)
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		ForceColors:     true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	logrus.SetOutput(os.Stderr)
}

// parseDestination splits user@host[:port]. The user defaults to the current
// OS user, the port to 22. IPv6 hosts with a port need brackets, same as ssh.
func parseDestination(dest string) (user, host string, port uint16, err error) {
	port = define.DefaultSSHPort

	rest := dest
	if u, h, found := strings.Cut(dest, "@"); found {
		user, rest = u, h
	}
	if user == "" {
		current, uerr := osuser.Current()
		if uerr != nil {
			return "", "", 0, fmt.Errorf("no user in destination and cannot resolve current user: %w", uerr)
		}
		user = current.Username
	}

	host = rest
	if strings.HasPrefix(rest, "[") || strings.Count(rest, ":") == 1 {
		h, p, serr := net.SplitHostPort(rest)
		if serr != nil {
			if strings.HasPrefix(rest, "[") {
				host = strings.Trim(rest, "[]")
			}
		} else {
			parsed, perr := strconv.ParseUint(p, 10, 16)
			if perr != nil {
				return "", "", 0, fmt.Errorf("invalid port %q in destination", p)
			}
			host, port = h, uint16(parsed)
		}
	}

	if host == "" {
		return "", "", 0, fmt.Errorf("empty host in destination %q", dest)
	}
	return user, host, port, nil
}

// daemonClient builds an API client from --socket, falling back to the
// default socket path.
func daemonClient(command *cli.Command, opts ...network.ClientOption) (*network.Client, error) {
	listener := command.String(define.FlagSocket)
	if listener == "" {
		p, err := path.APISocketPath()
		if err != nil {
			return nil, err
		}
		listener = p
	}
	return network.NewClientFromAddr(listener, opts...)
}

// fileAuthSpec assembles the auth spec and backing store for the connect and
// probe commands from their credential flags.
func fileAuthSpec(command *cli.Command) (ssh.AuthSpec, secret.Store, error) {
	static := secret.Static{}

	if keyPath := command.String(define.FlagIdentity); keyPath != "" {
		keyBytes, err := os.ReadFile(keyPath)
		if err != nil {
			return ssh.AuthSpec{}, nil, fmt.Errorf("failed to read identity file: %w", err)
		}
		static["identity"] = keyBytes

		spec := ssh.AuthSpec{Method: ssh.AuthPrivateKey, KeyRef: "identity"}
		if passFile := command.String(define.FlagPassphraseFile); passFile != "" {
			pass, err := readSecretFile(passFile)
			if err != nil {
				return ssh.AuthSpec{}, nil, err
			}
			static["passphrase"] = pass
			spec.PassphraseRef = "passphrase"
		}
		return spec, static, nil
	}

	if pwFile := command.String(define.FlagPasswordFile); pwFile != "" {
		pw, err := readSecretFile(pwFile)
		if err != nil {
			return ssh.AuthSpec{}, nil, err
		}
		static["password"] = pw
		return ssh.AuthSpec{Method: ssh.AuthPassword, PasswordRef: "password"}, static, nil
	}

	// Default to the agent; auth construction reports a friendly error
	// when no agent is reachable.
	return ssh.AuthSpec{Method: ssh.AuthAgent}, static, nil
}

// readSecretFile reads a one-line secret, trimming the trailing newline that
// editors and shells leave behind.
func readSecretFile(p string) ([]byte, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}
	return []byte(strings.TrimRight(string(data), "\r\n")), nil
}

// localTerm returns the terminal type and geometry to request, falling back
// to defaults when stdin is not a terminal.
func localTerm(command *cli.Command) (termType string, cols, rows int) {
	termType = command.String(define.FlagTerm)
	if termType == "" {
		termType = system.GetTerminalType()
	}

	cols, rows = define.DefaultCols, define.DefaultRows
	if c, r, err := system.GetTerminalSize(); err == nil {
		cols, rows = c, r
	}
	return termType, cols, rows
}
