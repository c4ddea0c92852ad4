package ipc

import "strconv"

// Peer is the identity of a connected process as reported by the kernel.
type Peer struct {
	PID int
	UID uint32
	GID uint32
}

// IdentityKey is the key used for per-peer accounting such as rate limits.
func (p *Peer) IdentityKey() string {
	return strconv.FormatUint(uint64(p.UID), 10)
}
