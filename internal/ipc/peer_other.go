//go:build !linux && !darwin

package ipc

import (
	"errors"
	"net"
)

// PeerCredentials is not available on this platform.
func PeerCredentials(conn net.Conn) (*Peer, error) {
	return nil, errors.New("ipc: peer credentials are not supported on this platform")
}
