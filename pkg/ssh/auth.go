package ssh

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/Slashx124/NeonShell/pkg/define"
	"github.com/Slashx124/NeonShell/pkg/secret"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// authenticator holds the auth methods for one connection attempt plus the
// message to surface when the server rejects them all. Everything that can
// fail locally (secret resolution, key parsing, agent enumeration) fails
// here, before the handshake.
type authenticator struct {
	methods     []ssh.AuthMethod
	rejectedMsg string

	agentClient agent.ExtendedAgent
	agentConn   net.Conn
}

// close releases the agent connection, if any.
func (a *authenticator) close() {
	if a.agentConn != nil {
		_ = a.agentConn.Close()
		a.agentConn = nil
		a.agentClient = nil
	}
}

// buildAuthenticator resolves credentials and produces the ssh.AuthMethod
// set for the configured strategy. Secret material is wiped before return.
func buildAuthenticator(cfg SessionConfig, secrets secret.Store) (*authenticator, error) {
	switch cfg.Auth.Method {
	case AuthPassword:
		return passwordAuth(cfg, secrets)
	case AuthPrivateKey:
		return privateKeyAuth(cfg, secrets)
	case AuthAgent:
		return agentAuth()
	case AuthInteractive:
		return nil, classify(ErrAuth, "Keyboard-interactive auth not yet supported")
	default:
		return nil, fmt.Errorf("%w: unknown auth method %q", ErrInvalidConfig, cfg.Auth.Method)
	}
}

func passwordAuth(cfg SessionConfig, secrets secret.Store) (*authenticator, error) {
	pw, err := secrets.Get(cfg.Auth.PasswordRef)
	if err != nil {
		return nil, classify(ErrAuth, "Password required")
	}
	password := string(pw)
	secret.Wipe(pw)

	return &authenticator{
		methods:     []ssh.AuthMethod{ssh.Password(password)},
		rejectedMsg: "Password authentication failed",
	}, nil
}

func privateKeyAuth(cfg SessionConfig, secrets secret.Store) (*authenticator, error) {
	keyBytes, err := secrets.Get(cfg.Auth.KeyRef)
	if err != nil {
		return nil, classify(ErrAuth, "Private key required")
	}
	defer secret.Wipe(keyBytes)

	var passBytes []byte
	if cfg.Auth.PassphraseRef != "" {
		passBytes, err = secrets.Get(cfg.Auth.PassphraseRef)
		if err != nil {
			return nil, classify(ErrAuth, "Passphrase required")
		}
		defer secret.Wipe(passBytes)
	}

	var signer ssh.Signer
	if len(passBytes) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, passBytes)
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		logrus.Debugf("private key parse failed: %v", err)
		return nil, classify(ErrAuth, "Invalid passphrase or key format. Ensure the key is in PEM or OpenSSH format.")
	}

	return &authenticator{
		methods:     []ssh.AuthMethod{ssh.PublicKeys(signer)},
		rejectedMsg: "Private key not accepted by server",
	}, nil
}

func agentAuth() (*authenticator, error) {
	sock := os.Getenv(define.EnvSSHAuthSock)
	if sock == "" {
		return nil, classify(ErrAuth, "SSH agent not available. Make sure ssh-agent is running.")
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, classify(ErrAuth, "Failed to connect to SSH agent. Is it running?")
	}

	client := agent.NewClient(conn)
	identities, err := client.List()
	if err != nil {
		_ = conn.Close()
		return nil, classify(ErrAuth, "Failed to list SSH agent identities")
	}
	if len(identities) == 0 {
		_ = conn.Close()
		return nil, classify(ErrAuth, "No identities found in SSH agent. Add keys with ssh-add.")
	}
	logrus.Debugf("ssh agent offers %d identities", len(identities))

	return &authenticator{
		methods:     []ssh.AuthMethod{ssh.PublicKeysCallback(client.Signers)},
		rejectedMsg: "SSH agent authentication failed. No matching key accepted.",
		agentClient: client,
		agentConn:   conn,
	}, nil
}

// isAuthRejection reports whether a handshake error means the server refused
// every offered method, as opposed to a transport failure.
func isAuthRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}
