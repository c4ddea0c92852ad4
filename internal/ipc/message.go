package ipc

import "encoding/json"

// Message types exchanged between the broker and its clients.
const (
	TypeAuthRequest  = "auth_request"
	TypeAuthResponse = "auth_response"
	TypeExec         = "exec"
	TypeExecInput    = "exec_input"
	TypeExecResult   = "exec_result"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// MaxMessageSize bounds one JSON frame.
const MaxMessageSize = 4 * 1024 * 1024

// MaxChunkSize bounds the raw bytes carried by one exec_input frame. Base64
// inflation keeps the frame under MaxMessageSize.
const MaxChunkSize = 1024 * 1024

const ProtocolVersion = 1

// Envelope wraps every frame on the wire.
type Envelope struct {
	ID      string          `json:"id"`
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	HMAC    string          `json:"hmac"`
}

// AuthRequest opens a connection. UID must match the kernel-reported peer.
type AuthRequest struct {
	ProtocolVersion int    `json:"protocolVersion"`
	UID             uint32 `json:"uid"`
	PID             int    `json:"pid"`
	Username        string `json:"username,omitempty"`
}

type AuthResponse struct {
	Accepted   bool   `json:"accepted"`
	SessionKey string `json:"sessionKey,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ExecRequest asks the broker to run Command with sh -c. When HasInput is
// set the client follows with exec_input frames under the same id, the last
// one carrying EOF.
type ExecRequest struct {
	Command  string `json:"command"`
	HasInput bool   `json:"hasInput,omitempty"`
}

type ExecInput struct {
	Data []byte `json:"data,omitempty"`
	EOF  bool   `json:"eof,omitempty"`
}

type ExecResult struct {
	ExitCode   int    `json:"exitCode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"durationMs"`
}
