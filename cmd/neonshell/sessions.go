package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/ssh"
	"github.com/urfave/cli/v3"
)

var sessionsCmd = cli.Command{
	Name:        "sessions",
	Usage:       "list sessions on the daemon",
	UsageText:   "sessions [flags]",
	Description: "query the daemon management API and print every registered session",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  define.FlagSocket,
			Usage: "daemon API socket path or tcp:// address",
		},
		&cli.StringFlag{
			Name:  define.FlagOutput,
			Usage: "output format: table or json",
			Value: "table",
		},
	},
	Action: runSessions,
}

func runSessions(ctx context.Context, command *cli.Command) error {
	client, err := daemonClient(command)
	if err != nil {
		return err
	}
	defer client.Close()

	var infos []ssh.Info
	status, err := client.Get(define.RestAPISessionsURL).JSON().DoJSON(ctx, &infos)
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("daemon returned status %d", status)
	}

	if command.String(define.FlagOutput) == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tUSER\tHOST\tCONNECTED\tERROR")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s:%d\t%s\t%s\n",
			info.ID, info.State, info.Username, info.Host, info.Port, info.ConnectedAt, info.Error)
	}
	return w.Flush()
}
