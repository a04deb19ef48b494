package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/event"
	"github.com/Slashx124/NeonShell/pkg/httpserver"
	"github.com/Slashx124/NeonShell/pkg/path"
	"github.com/Slashx124/NeonShell/pkg/secret"
	"github.com/Slashx124/NeonShell/pkg/ssh"
	"github.com/Slashx124/NeonShell/pkg/system"
	"github.com/Slashx124/NeonShell/pkg/trust"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

var serveCmd = cli.Command{
	Name:        "serve",
	Usage:       "run the session daemon with the management API",
	UsageText:   "serve [flags]",
	Description: "serve the REST management API and the SSE event stream on a local socket; UIs drive sessions through it",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  define.FlagListen,
			Usage: "API listener: unix:// URL, raw socket path, or tcp://<host>:<port>",
		},
		&cli.StringFlag{
			Name:  define.FlagStateDir,
			Usage: "state directory holding known_hosts and the default socket",
		},
		&cli.StringFlag{
			Name:  define.FlagSecretsDir,
			Usage: "directory with secret files, addressed by reference from connect requests",
		},
		&cli.StringFlag{
			Name:  define.FlagReportURL,
			Usage: "forward session lifecycle events to this endpoint, e.g. unix:///var/run/events.sock",
		},
	},
	Action: runServe,
}

func runServe(ctx context.Context, command *cli.Command) error {
	if err := system.Rlimit(); err != nil {
		logrus.Warnf("failed to raise file limit: %v", err)
	}

	if dir := command.String(define.FlagStateDir); dir != "" {
		if err := os.Setenv(define.EnvStateDir, dir); err != nil {
			return err
		}
	}
	if _, err := path.EnsureStateDir(); err != nil {
		return fmt.Errorf("failed to prepare state dir: %w", err)
	}

	knownHosts, err := path.KnownHostsPath()
	if err != nil {
		return err
	}

	listener := command.String(define.FlagListen)
	if listener == "" {
		listener, err = path.APISocketPath()
		if err != nil {
			return err
		}
	}

	secretsDir := command.String(define.FlagSecretsDir)
	if secretsDir == "" {
		secretsDir, err = path.SecretsDir()
		if err != nil {
			return err
		}
	}
	fileStore, err := secret.NewFileStore(secretsDir)
	if err != nil {
		return fmt.Errorf("failed to open secrets dir: %w", err)
	}

	inline := secret.NewEphemeral()
	api := httpserver.NewManagementAPIServer(listener, inline)

	sinks := event.Fanout{api.Bridge()}
	reporter, err := event.NewReporter(command.String(define.FlagReportURL))
	if err != nil {
		return fmt.Errorf("failed to set up event reporter: %w", err)
	}
	if reporter != nil {
		defer reporter.Close()
		sinks = append(sinks, reporter)
	}

	mgr := ssh.NewManager(
		ssh.WithEventSink(sinks),
		ssh.WithTrustStore(trust.NewStore(knownHosts)),
		ssh.WithSecretStore(secret.Layered{inline, fileStore}),
	)
	defer mgr.CloseAll()

	logrus.Infof("daemon listening on %s", listener)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Start(ctx, mgr)
	})
	return g.Wait()
}
