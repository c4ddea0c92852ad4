package broker

import "errors"

var (
	ErrServerClosed     = errors.New("broker: server is closed")
	ErrPermissionDenied = errors.New("broker: permission denied")
	ErrUnavailable      = errors.New("broker: not reachable")
	ErrUnexpectedReply  = errors.New("broker: unexpected reply")
)
