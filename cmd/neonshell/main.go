//go:build (darwin && arm64) || (linux && (arm64 || amd64))

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	app := cli.Command{
		Name:                      os.Args[0],
		Usage:                     "SSH session engine for terminal UIs",
		UsageText:                 os.Args[0] + " [command] [flags]",
		Description:               "manage SSH sessions with trust-on-first-use host key checks, either in-process or through a daemon",
		Before:                    earlyStage,
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    define.FlagVerbose,
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  define.FlagLogLevel,
				Usage: "set log level (trace, debug, info, warn, error, fatal, panic)",
				Value: "info",
			},
		},
	}

	app.Commands = []*cli.Command{
		&serveCmd,
		&connectCmd,
		&sessionsCmd,
		&probeCmd,
		&keygenCmd,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, os.Interrupt)
	defer cancel()

	if err := app.Run(ctx, os.Args); err != nil {
		logrus.Fatal(err)
	}
}
