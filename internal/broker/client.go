package broker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"strconv"
	"sync"
	"time"

	"github.com/EikeiDev/apkupdateross/internal/installer"
	"github.com/EikeiDev/apkupdateross/internal/ipc"
)

const dialTimeout = 3 * time.Second

// Client talks to a Server. It keeps one authenticated connection and
// serializes commands over it. A broken connection is redialed on the next
// call.
type Client struct {
	socketPath string

	mu      sync.Mutex
	conn    *ipc.Conn
	nextID  uint64
	authErr error
}

var _ installer.PrivilegedProcessBroker = (*Client)(nil)

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// IsAvailable reports whether a server answers on the socket, whether or
// not it accepts this user.
func (c *Client) IsAvailable(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.connect(ctx)
	if errors.Is(err, ErrPermissionDenied) {
		return true
	}
	if err != nil {
		return false
	}
	if err := c.ping(ctx); err != nil {
		c.drop()
		return false
	}
	return true
}

// HasPermission reports whether the server accepted this user.
func (c *Client) HasPermission(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect(ctx) == nil
}

// Exec runs command on the server. The file at inputPath, if any, is
// streamed to the command's stdin in chunks.
func (c *Client) Exec(ctx context.Context, command, inputPath string) (installer.ExecResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return installer.ExecResult{}, err
	}

	res, err := c.exec(ctx, command, inputPath)
	var remote *ipc.RemoteError
	if err != nil && !errors.As(err, &remote) {
		c.drop()
	}
	return res, err
}

// Close drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
	return nil
}

func (c *Client) exec(ctx context.Context, command, inputPath string) (installer.ExecResult, error) {
	var input *os.File
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			return installer.ExecResult{}, fmt.Errorf("broker: open input: %w", err)
		}
		defer f.Close()
		input = f
	}

	stop := c.bindDeadline(ctx)
	defer stop()

	id := c.newID()
	if err := c.conn.SendTyped(id, ipc.TypeExec, ipc.ExecRequest{Command: command, HasInput: input != nil}); err != nil {
		return installer.ExecResult{}, err
	}
	if input != nil {
		if err := c.streamInput(id, input); err != nil {
			return installer.ExecResult{}, err
		}
	}

	env, err := c.conn.Recv()
	if err != nil {
		return installer.ExecResult{}, err
	}
	if env.ID != id || (env.Type != ipc.TypeExecResult && env.Type != ipc.TypeError) {
		return installer.ExecResult{}, fmt.Errorf("%w: %s for %s", ErrUnexpectedReply, env.Type, env.ID)
	}
	var res ipc.ExecResult
	if err := ipc.Decode(env, &res); err != nil {
		return installer.ExecResult{}, err
	}
	return installer.ExecResult{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

func (c *Client) streamInput(id string, r io.Reader) error {
	buf := make([]byte, ipc.MaxChunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		eof := err == io.EOF || err == io.ErrUnexpectedEOF
		if err != nil && !eof {
			return fmt.Errorf("broker: read input: %w", err)
		}
		if n > 0 || eof {
			if serr := c.conn.SendTyped(id, ipc.TypeExecInput, ipc.ExecInput{Data: buf[:n], EOF: eof}); serr != nil {
				return serr
			}
		}
		if eof {
			return nil
		}
	}
}

func (c *Client) ping(ctx context.Context) error {
	stop := c.bindDeadline(ctx)
	defer stop()

	id := c.newID()
	if err := c.conn.SendTyped(id, ipc.TypePing, nil); err != nil {
		return err
	}
	env, err := c.conn.Recv()
	if err != nil {
		return err
	}
	if env.Type != ipc.TypePong || env.ID != id {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, env.Type)
	}
	return nil
}

// connect dials and authenticates unless a connection is already open. A
// rejection is remembered until the client is closed.
func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	if c.authErr != nil {
		return c.authErr
	}

	d := net.Dialer{Timeout: dialTimeout}
	raw, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	conn := ipc.NewConn(raw)
	conn.SetDeadline(time.Now().Add(HandshakeTimeout))

	req := ipc.AuthRequest{ProtocolVersion: ipc.ProtocolVersion, UID: uint32(os.Getuid()), PID: os.Getpid()}
	if u, err := user.Current(); err == nil {
		req.Username = u.Username
	}
	if err := conn.SendTyped("auth", ipc.TypeAuthRequest, req); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	env, err := conn.Recv()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var resp ipc.AuthResponse
	if err := ipc.Decode(env, &resp); err != nil || env.Type != ipc.TypeAuthResponse {
		conn.Close()
		return fmt.Errorf("%w: auth reply %s", ErrUnexpectedReply, env.Type)
	}
	if !resp.Accepted {
		conn.Close()
		c.authErr = fmt.Errorf("%w: %s", ErrPermissionDenied, resp.Reason)
		return c.authErr
	}
	key, err := hex.DecodeString(resp.SessionKey)
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker: decode session key: %w", err)
	}
	conn.SetSessionKey(key)
	conn.SetDeadline(time.Time{})
	c.conn = conn
	return nil
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.authErr = nil
}

func (c *Client) newID() string {
	c.nextID++
	return strconv.FormatUint(c.nextID, 10)
}

// bindDeadline applies ctx's deadline to the connection and interrupts
// blocked I/O when ctx is cancelled.
func (c *Client) bindDeadline(ctx context.Context) func() {
	conn := c.conn
	if d, ok := ctx.Deadline(); ok {
		conn.SetDeadline(d)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	return func() {
		stop()
		conn.SetDeadline(time.Time{})
	}
}
