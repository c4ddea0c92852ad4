//go:build linux

package ipc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerCredentials returns the kernel-verified identity of the process on
// the other end of a unix socket, read with SO_PEERCRED.
func PeerCredentials(conn net.Conn) (*Peer, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, ErrNotUnixSocket
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("ipc: syscall conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, fmt.Errorf("ipc: control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("ipc: getsockopt SO_PEERCRED: %w", credErr)
	}
	return &Peer{PID: int(cred.Pid), UID: cred.Uid, GID: cred.Gid}, nil
}
