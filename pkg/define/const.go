package define

import "time"

const (
	AppName      = "neonshell"
	StateDirName = "neonshell"

	KnownHostsFile = "known_hosts"
	SecretsDirName = "secrets"
	APISocketName  = "neonshell.sock"

	KnownHostsComment = "Added by NeonShell"
)

const (
	DefaultSSHPort     = 22
	DefaultTermType    = "xterm-256color"
	DefaultCols        = 80
	DefaultRows        = 24
	DefaultShell       = "/bin/sh"
	KeepaliveRequest   = "keepalive@openssh.com"
	EnvSSHAuthSock     = "SSH_AUTH_SOCK"
	EnvShell           = "SHELL"
	EnvTerm            = "TERM"
	EnvStateDir        = "NEONSHELL_STATE_DIR"
	DefaultIdentityOut = "id_ed25519"
)

const (
	DefaultConnectTimeout    = 30 * time.Second
	DefaultKeepaliveInterval = 20 * time.Second
	HostKeyDecisionTimeout   = 60 * time.Second
	DisconnectDrainWait      = 100 * time.Millisecond
	WaitCloseTimeout         = 500 * time.Millisecond
)

// I/O scheduler tunables. The pending cap and chunk size bound how much
// outbound data a session buffers and how large a single channel write can be.
const (
	CommandQueueCap      = 1024
	CommandBatchPerTick  = 32
	MaxPendingBytes      = 256 * 1024
	WriteChunkBytes      = 8 * 1024
	ReadBufferBytes      = 32 * 1024
	InboundQueueDepth    = 64
	MaxConsecutiveErrors = 5
	SchedulerTick        = 2 * time.Millisecond
	WriteRetryDelay      = 4 * time.Millisecond

	EventBridgeQueueDepth = 256
)

// RestAPI const var
const (
	RestAPISessionsURL = "/sessions"
	RestAPIEventsURL   = "/events"
	RestAPIHealthURL   = "/healthz"
)

const (
	FlagVerbose        = "verbose"
	FlagLogLevel       = "log-level"
	FlagListen         = "listen"
	FlagStateDir       = "state-dir"
	FlagSecretsDir     = "secrets-dir"
	FlagSocket         = "socket"
	FlagPasswordFile   = "password-file"
	FlagIdentity       = "identity"
	FlagPassphraseFile = "passphrase-file"
	FlagUseAgent       = "use-agent"
	FlagForwardAgent   = "forward-agent"
	FlagKeepalive      = "keepalive"
	FlagPolicy         = "host-key-policy"
	FlagExec           = "exec"
	FlagTerm           = "term"
	FlagOutput         = "output"
	FlagWaitAPI        = "wait-api"
	FlagReportURL      = "report-url"
	FlagTimeout        = "timeout"
)
