package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/path"
	"github.com/Slashx124/NeonShell/pkg/ssh"
	"github.com/urfave/cli/v3"
)

var keygenCmd = cli.Command{
	Name:        "keygen",
	Usage:       "generate an ed25519 identity for key authentication",
	UsageText:   "keygen [flags]",
	Description: "create an ed25519 key pair, or print the fingerprint of the pair already at the output path",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    define.FlagOutput,
			Aliases: []string{"o"},
			Usage:   "write the key pair to this path, defaults to the state dir",
		},
		&cli.StringFlag{
			Name:  define.FlagPassphraseFile,
			Usage: "encrypt the private key with the passphrase from this file",
		},
	},
	Action: runKeygen,
}

func runKeygen(ctx context.Context, command *cli.Command) error {
	out := command.String(define.FlagOutput)
	if out == "" {
		if _, err := path.EnsureStateDir(); err != nil {
			return fmt.Errorf("failed to prepare state dir: %w", err)
		}
		p, err := path.DefaultIdentityPath()
		if err != nil {
			return err
		}
		out = p
	}

	var passphrase string
	if passFile := command.String(define.FlagPassphraseFile); passFile != "" {
		pass, err := readSecretFile(passFile)
		if err != nil {
			return err
		}
		passphrase = string(pass)
	}

	id, err := ssh.GenerateIdentity(out, passphrase)
	if err != nil {
		return err
	}

	fmt.Printf("Identity:    %s\n", id.PrivateKeyPath)
	fmt.Printf("Public key:  %s\n", id.PublicKeyPath)
	fmt.Printf("Fingerprint: %s\n", id.Fingerprint)
	fmt.Printf("Authorized:  %s\n", strings.TrimSpace(id.AuthorizedKey))
	return nil
}
