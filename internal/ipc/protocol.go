package ipc

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EikeiDev/apkupdateross/internal/logging"
)

var log = logging.L("ipc")

// handshakeKey signs frames exchanged before a session key is agreed.
var handshakeKey = make([]byte, 32)

// Conn frames envelopes as [4-byte BE length][JSON] over a stream socket.
// Every frame carries a sequence number and an HMAC over its content.
type Conn struct {
	conn net.Conn

	keyMu sync.RWMutex
	key   []byte

	sendSeq atomic.Uint64
	recvSeq atomic.Uint64
	writeMu sync.Mutex
}

// NewConn wraps an accepted or dialed connection. Frames are signed with
// the handshake key until SetSessionKey is called.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

func (c *Conn) SetSessionKey(key []byte) {
	c.keyMu.Lock()
	c.key = key
	c.keyMu.Unlock()
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// Raw returns the wrapped connection.
func (c *Conn) Raw() net.Conn {
	return c.conn
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Send stamps env with the next sequence number and its HMAC, then writes it.
func (c *Conn) Send(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	env.Seq = c.sendSeq.Add(1)
	env.HMAC = c.sign(env)

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ipc: marshal envelope: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("ipc: message too large: %d > %d", len(data), MaxMessageSize)
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("ipc: write frame: %w", err)
	}
	return nil
}

// Recv reads one frame and rejects it if the HMAC does not verify or the
// sequence number does not increase.
func (c *Conn) Recv() (*Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, fmt.Errorf("ipc: read header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	switch {
	case length == 0:
		return nil, fmt.Errorf("ipc: zero-length message")
	case length > MaxMessageSize:
		return nil, fmt.Errorf("ipc: message too large: %d > %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, fmt.Errorf("ipc: read payload: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ipc: unmarshal envelope: %w", err)
	}
	if !hmac.Equal([]byte(env.HMAC), []byte(c.sign(&env))) {
		log.Warn("frame signature rejected", "type", env.Type, "seq", env.Seq)
		return nil, ErrBadSignature
	}
	if last := c.recvSeq.Load(); env.Seq <= last {
		return nil, fmt.Errorf("ipc: sequence %d after %d: %w", env.Seq, last, ErrReplay)
	}
	c.recvSeq.Store(env.Seq)
	return &env, nil
}

// SendTyped marshals payload into an envelope of the given type and sends it.
func (c *Conn) SendTyped(id, msgType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("ipc: marshal %s payload: %w", msgType, err)
		}
		raw = b
	}
	return c.Send(&Envelope{ID: id, Type: msgType, Payload: raw})
}

// SendError answers request id with an error envelope.
func (c *Conn) SendError(id, errMsg string) error {
	return c.Send(&Envelope{ID: id, Type: TypeError, Error: errMsg})
}

// sign computes HMAC-SHA256 over id, seq, type, payload and error.
func (c *Conn) sign(env *Envelope) string {
	c.keyMu.RLock()
	key := c.key
	c.keyMu.RUnlock()
	if key == nil {
		key = handshakeKey
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(env.ID))
	mac.Write([]byte(strconv.FormatUint(env.Seq, 10)))
	mac.Write([]byte(env.Type))
	mac.Write(env.Payload)
	mac.Write([]byte(env.Error))
	return hex.EncodeToString(mac.Sum(nil))
}

// Decode unmarshals the payload of env into v. An error envelope is
// returned as a RemoteError.
func Decode(env *Envelope, v any) error {
	if env.Error != "" {
		return &RemoteError{Type: env.Type, Message: env.Error}
	}
	if v == nil || len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("ipc: decode %s: %w", env.Type, err)
	}
	return nil
}

// GenerateSessionKey returns a random 256-bit key.
func GenerateSessionKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("ipc: generate session key: %w", err)
	}
	return key, nil
}
