package event

// Kind names an event on the wire. The SSE stream uses it as the event type
// and subscribers key their handlers off it.
type Kind string

const (
	State   Kind = "ssh:sessions"
	Data    Kind = "ssh:data"
	HostKey Kind = "ssh:hostkey_request"
	Error   Kind = "ssh:error"
	Closed  Kind = "ssh:closed"
	Debug   Kind = "ssh:debug"
)

// Stage tags debug events emitted while a session is being brought up or
// while the scheduler is moving data.
type Stage string

const (
	ChannelOpen   Stage = "channel_open"
	PtyOk         Stage = "pty_ok"
	PtyFail       Stage = "pty_fail"
	ShellOk       Stage = "shell_ok"
	ShellFail     Stage = "shell_fail"
	ExecTry       Stage = "exec_try"
	ExecOk        Stage = "exec_ok"
	ExecFail      Stage = "exec_fail"
	WriteDropped  Stage = "write_dropped"
	WriteProgress Stage = "write_progress"
)

// StateChanged reports a session lifecycle transition.
type StateChanged struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
}

// DataChunk carries remote terminal output. Data is base64 on the wire.
type DataChunk struct {
	SessionID string `json:"sessionId"`
	Data      []byte `json:"data"`
}

// HostKeyPrompt asks the UI to decide about an unknown host key.
type HostKeyPrompt struct {
	SessionID   string `json:"sessionId"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	KeyType     string `json:"keyType"`
	Fingerprint string `json:"fingerprint"`
}

// SessionError reports a fatal session error. Message is already sanitized.
type SessionError struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// SessionClosed reports that a session ended and why.
type SessionClosed struct {
	SessionID  string `json:"sessionId"`
	Reason     string `json:"reason,omitempty"`
	ExitStatus *int   `json:"exitStatus,omitempty"`
}

// DebugEvent carries staged diagnostics for connection bring-up and the
// scheduler. Details values must be JSON-serializable.
type DebugEvent struct {
	SessionID string         `json:"sessionId"`
	Stage     Stage          `json:"stage"`
	Details   map[string]any `json:"details,omitempty"`
}

func (StateChanged) Kind() Kind  { return State }
func (DataChunk) Kind() Kind     { return Data }
func (HostKeyPrompt) Kind() Kind { return HostKey }
func (SessionError) Kind() Kind  { return Error }
func (SessionClosed) Kind() Kind { return Closed }
func (DebugEvent) Kind() Kind    { return Debug }

func (e StateChanged) Session() string  { return e.SessionID }
func (e DataChunk) Session() string     { return e.SessionID }
func (e HostKeyPrompt) Session() string { return e.SessionID }
func (e SessionError) Session() string  { return e.SessionID }
func (e SessionClosed) Session() string { return e.SessionID }
func (e DebugEvent) Session() string    { return e.SessionID }
