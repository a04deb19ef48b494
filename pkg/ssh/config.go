package ssh

import (
	"errors"
	"fmt"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/Slashx124/NeonShell/pkg/define"
)

// AuthMethod selects the authentication strategy for a session.
type AuthMethod string

const (
	AuthPassword    AuthMethod = "password"
	AuthPrivateKey  AuthMethod = "private-key"
	AuthAgent       AuthMethod = "agent"
	AuthInteractive AuthMethod = "interactive"
)

// AuthSpec carries the chosen method and the secret references it needs.
// Secret material itself is resolved through a secret.Store at connect time
// and never stored on the config.
type AuthSpec struct {
	Method AuthMethod

	// PasswordRef resolves to the password for AuthPassword.
	PasswordRef string

	// KeyRef resolves to the private key bytes for AuthPrivateKey.
	// PassphraseRef is optional and resolves to the key passphrase.
	KeyRef        string
	PassphraseRef string
}

// KnownHostsPolicy controls how unknown host keys are handled. A key that
// mismatches the trust store is fatal under every policy.
type KnownHostsPolicy string

const (
	// PolicyAsk prompts the UI for a trust decision on unknown keys.
	PolicyAsk KnownHostsPolicy = "ask"
	// PolicyStrict fails the connection on unknown keys.
	PolicyStrict KnownHostsPolicy = "strict"
	// PolicyAccept trusts unknown keys for this connection without prompting.
	PolicyAccept KnownHostsPolicy = "accept"
)

// ParseKnownHostsPolicy maps a wire string to a policy, defaulting to ask.
func ParseKnownHostsPolicy(s string) (KnownHostsPolicy, error) {
	switch KnownHostsPolicy(s) {
	case PolicyAsk, "":
		return PolicyAsk, nil
	case PolicyStrict:
		return PolicyStrict, nil
	case PolicyAccept:
		return PolicyAccept, nil
	default:
		return "", fmt.Errorf("%w: unknown host key policy %q", ErrInvalidConfig, s)
	}
}

// JumpHost is an intermediate hop. Hops are validated and recorded for
// future chaining; the engine does not dial them yet.
type JumpHost struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
}

// SessionConfig contains everything needed to establish one session.
type SessionConfig struct {
	// Connection details
	Host     string
	Port     uint16
	Username string

	// Authentication
	Auth AuthSpec

	// Terminal configuration
	TermType string
	Cols     int
	Rows     int

	// Command runs instead of the login shell when non-empty.
	Command []string

	// Network configuration
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration

	// Host key handling
	Policy KnownHostsPolicy

	// ForwardAgent requests agent forwarding on the interactive channel.
	ForwardAgent bool

	JumpHosts []JumpHost

	// ProfileID links the session back to the connection profile it was
	// launched from. Opaque to the engine, echoed in listings.
	ProfileID string
}

// NewSessionConfig creates a SessionConfig with default values.
func NewSessionConfig(host, username string) *SessionConfig {
	return &SessionConfig{
		Host:              host,
		Port:              define.DefaultSSHPort,
		Username:          username,
		TermType:          define.DefaultTermType,
		Cols:              define.DefaultCols,
		Rows:              define.DefaultRows,
		ConnectTimeout:    define.DefaultConnectTimeout,
		KeepaliveInterval: define.DefaultKeepaliveInterval,
		Policy:            PolicyAsk,
	}
}

// WithPort sets the SSH port.
func (c *SessionConfig) WithPort(port uint16) *SessionConfig {
	c.Port = port
	return c
}

// WithAuth sets the authentication spec.
func (c *SessionConfig) WithAuth(auth AuthSpec) *SessionConfig {
	c.Auth = auth
	return c
}

// WithTerm sets the terminal type and initial geometry.
func (c *SessionConfig) WithTerm(termType string, cols, rows int) *SessionConfig {
	c.TermType = termType
	c.Cols = cols
	c.Rows = rows
	return c
}

// WithCommand sets a remote command to run instead of the login shell.
func (c *SessionConfig) WithCommand(command ...string) *SessionConfig {
	c.Command = command
	return c
}

// WithConnectTimeout sets the TCP dial and handshake timeout.
func (c *SessionConfig) WithConnectTimeout(timeout time.Duration) *SessionConfig {
	c.ConnectTimeout = timeout
	return c
}

// WithKeepaliveInterval sets the keepalive interval. Zero disables keepalives.
func (c *SessionConfig) WithKeepaliveInterval(interval time.Duration) *SessionConfig {
	c.KeepaliveInterval = interval
	return c
}

// WithPolicy sets the known-hosts policy.
func (c *SessionConfig) WithPolicy(policy KnownHostsPolicy) *SessionConfig {
	c.Policy = policy
	return c
}

// WithJumpHosts records intermediate hops.
func (c *SessionConfig) WithJumpHosts(hops ...JumpHost) *SessionConfig {
	c.JumpHosts = hops
	return c
}

// WithProfileID tags the session with its originating profile.
func (c *SessionConfig) WithProfileID(id string) *SessionConfig {
	c.ProfileID = id
	return c
}

// CommandString renders the remote command with shell quoting applied.
func (c *SessionConfig) CommandString() string {
	return shellescape.QuoteCommand(c.Command)
}

// Validate checks if the configuration is valid.
func (c *SessionConfig) Validate() error {
	if c.Host == "" {
		return errors.Join(ErrInvalidConfig, errors.New("host cannot be empty"))
	}
	if c.Username == "" {
		return errors.Join(ErrInvalidConfig, errors.New("username cannot be empty"))
	}
	if c.Port == 0 {
		return errors.Join(ErrInvalidConfig, errors.New("port must be greater than 0"))
	}
	if c.Cols <= 0 || c.Rows <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("terminal size must be positive"))
	}
	if c.ConnectTimeout <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("connect timeout must be positive"))
	}
	if c.KeepaliveInterval < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("keepalive interval cannot be negative"))
	}
	if err := c.Auth.validate(); err != nil {
		return err
	}
	for _, hop := range c.JumpHosts {
		if hop.Host == "" {
			return errors.Join(ErrInvalidConfig, errors.New("jump host cannot be empty"))
		}
	}
	return nil
}

func (a AuthSpec) validate() error {
	switch a.Method {
	case AuthPassword:
		if a.PasswordRef == "" {
			return errors.Join(ErrInvalidConfig, errors.New("password auth requires a password reference"))
		}
	case AuthPrivateKey:
		if a.KeyRef == "" {
			return errors.Join(ErrInvalidConfig, errors.New("private key auth requires a key reference"))
		}
	case AuthAgent, AuthInteractive:
	case "":
		return errors.Join(ErrInvalidConfig, errors.New("auth method cannot be empty"))
	default:
		return errors.Join(ErrInvalidConfig, fmt.Errorf("unknown auth method %q", a.Method))
	}
	return nil
}
