//go:build darwin

package ipc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// localPeerPID is LOCAL_PEERPID from sys/un.h.
const localPeerPID = 0x002

// PeerCredentials returns the kernel-verified identity of the process on
// the other end of a unix socket, read with LOCAL_PEERCRED.
func PeerCredentials(conn net.Conn) (*Peer, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, ErrNotUnixSocket
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("ipc: syscall conn: %w", err)
	}

	peer := &Peer{}
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		pid, err := unix.GetsockoptInt(int(fd), unix.SOL_LOCAL, localPeerPID)
		if err != nil {
			credErr = fmt.Errorf("getsockopt LOCAL_PEERPID: %w", err)
			return
		}
		xcred, err := unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
		if err != nil {
			credErr = fmt.Errorf("getsockopt LOCAL_PEERCRED: %w", err)
			return
		}
		peer.PID = pid
		peer.UID = xcred.Uid
		if len(xcred.Groups) > 0 {
			peer.GID = xcred.Groups[0]
		}
	}); err != nil {
		return nil, fmt.Errorf("ipc: control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("ipc: %w", credErr)
	}
	return peer, nil
}
