package define

// ConnectRequest is the management API payload for creating and connecting
// a session in one call.
type ConnectRequest struct {
	Host     string      `json:"host"`
	Port     int         `json:"port,omitempty"`
	Username string      `json:"username"`
	Auth     AuthRequest `json:"auth"`

	Term string `json:"term,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`

	KeepaliveSeconds int    `json:"keepaliveSeconds,omitempty"`
	KnownHostsPolicy string `json:"knownHostsPolicy,omitempty"`
	ForwardAgent     bool   `json:"forwardAgent,omitempty"`

	// Command runs instead of the login shell when set.
	Command []string `json:"command,omitempty"`

	// ProfileID tags the session with the profile it was launched from.
	ProfileID string `json:"profileId,omitempty"`
}

// AuthRequest selects one authentication strategy. Inline secrets take
// precedence over references into the daemon secret store.
type AuthRequest struct {
	Type string `json:"type"`

	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`

	SecretRef     string `json:"secretRef,omitempty"`
	PassphraseRef string `json:"passphraseRef,omitempty"`
}

type CreateSessionResponse struct {
	ID string `json:"id"`
}

type WriteRequest struct {
	// Data is base64-encoded terminal input.
	Data string `json:"data"`
}

type ResizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type HostKeyDecisionRequest struct {
	Decision string `json:"decision"`
}

type HealthResponse struct {
	Status         string  `json:"status"`
	Sessions       int     `json:"sessions"`
	GoVersion      string  `json:"goVersion"`
	MemUsedPercent float64 `json:"memUsedPercent"`
	Load1          float64 `json:"load1"`
}
