package ipc

import (
	"errors"
	"fmt"
)

var (
	ErrBadSignature  = errors.New("ipc: HMAC mismatch")
	ErrReplay        = errors.New("ipc: replayed or duplicate frame")
	ErrNotUnixSocket = errors.New("ipc: not a unix connection")
)

// RemoteError is an error reported by the other side of the connection.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ipc: remote %s error: %s", e.Type, e.Message)
}
