package broker

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/ipc"
	"github.com/EikeiDev/apkupdateross/internal/logging"
)

var log = logging.L("broker")

const (
	// HandshakeTimeout bounds the time between accept and a completed auth.
	HandshakeTimeout = 5 * time.Second

	// ExecTimeout bounds a single command run on behalf of a client.
	ExecTimeout = 10 * time.Minute

	RateLimitAttempts = 10
	RateLimitWindow   = time.Minute
)

// Runner runs a command line through a shell.
type Runner interface {
	Shell(ctx context.Context, command string, stdin io.Reader) (executor.Result, error)
}

// Server is the privileged side of the delegated install path. It accepts
// local clients on a unix socket, checks their kernel-reported uid and runs
// their package manager commands. Only the install session commands of the
// configured pm binary are run.
type Server struct {
	socketPath string
	pm         string
	runner     Runner
	allowed    map[uint32]bool
	limiter    *ipc.RateLimiter
	peerCreds  func(net.Conn) (*ipc.Peer, error)

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a server that runs pm on behalf of clients. Root and the
// server's own uid are always allowed in addition to allowedUIDs.
func NewServer(socketPath, pm string, runner Runner, allowedUIDs []uint32) *Server {
	allowed := map[uint32]bool{0: true, uint32(os.Getuid()): true}
	for _, uid := range allowedUIDs {
		allowed[uid] = true
	}
	return &Server{
		socketPath: socketPath,
		pm:         pm,
		runner:     runner,
		allowed:    allowed,
		limiter:    ipc.NewRateLimiter(RateLimitAttempts, RateLimitWindow),
		peerCreds:  ipc.PeerCredentials,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Listen binds the socket, replacing a stale socket file.
func (s *Server) Listen() error {
	os.Remove(s.socketPath)
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("broker: mkdir %s: %w", filepath.Dir(s.socketPath), err)
	}

	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("broker: listen %s: %w", s.socketPath, err)
	}
	// Clients run as other users; access is decided per connection.
	if err := os.Chmod(s.socketPath, 0666); err != nil {
		l.Close()
		return fmt.Errorf("broker: chmod %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	log.Info("broker listening", "path", s.socketPath)
	return nil
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return fmt.Errorf("broker: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			log.Warn("accept failed", logging.KeyError, err)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			defer s.forget(conn)
			s.handleConnection(ctx, conn)
		}()
	}
}

// Close stops accepting, drops every connection and removes the socket.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	l := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	os.Remove(s.socketPath)
	log.Info("broker closed")
}

func (s *Server) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) handleConnection(ctx context.Context, raw net.Conn) {
	raw.SetDeadline(time.Now().Add(HandshakeTimeout))

	peer, err := s.peerCreds(raw)
	if err != nil {
		log.Warn("peer credential check failed", logging.KeyError, err)
		return
	}
	if !s.limiter.Allow(peer.IdentityKey()) {
		log.Warn("connection rate limited", "uid", peer.UID, "pid", peer.PID)
		return
	}

	conn := ipc.NewConn(raw)
	env, err := conn.Recv()
	if err != nil {
		log.Warn("auth request read failed", "uid", peer.UID, logging.KeyError, err)
		return
	}
	if env.Type != ipc.TypeAuthRequest {
		log.Warn("expected auth_request", "type", env.Type, "uid", peer.UID)
		return
	}
	var req ipc.AuthRequest
	if err := ipc.Decode(env, &req); err != nil {
		log.Warn("invalid auth request", logging.KeyError, err)
		return
	}

	if reason := s.authorize(peer, req); reason != "" {
		log.Warn("client rejected", "uid", peer.UID, "pid", peer.PID, "reason", reason)
		conn.SendTyped(env.ID, ipc.TypeAuthResponse, ipc.AuthResponse{Accepted: false, Reason: reason})
		return
	}

	key, err := ipc.GenerateSessionKey()
	if err != nil {
		log.Error("session key generation failed", logging.KeyError, err)
		return
	}
	if err := conn.SendTyped(env.ID, ipc.TypeAuthResponse, ipc.AuthResponse{
		Accepted:   true,
		SessionKey: hex.EncodeToString(key),
	}); err != nil {
		log.Warn("auth response failed", logging.KeyError, err)
		return
	}
	conn.SetSessionKey(key)
	raw.SetDeadline(time.Time{})

	logger := log.With("uid", peer.UID, "pid", peer.PID)
	logger.Info("client connected")

	for {
		env, err := conn.Recv()
		if err != nil {
			logger.Debug("client disconnected", logging.KeyError, err)
			return
		}
		switch env.Type {
		case ipc.TypePing:
			err = conn.SendTyped(env.ID, ipc.TypePong, nil)
		case ipc.TypeExec:
			err = s.handleExec(ctx, conn, env, logger)
		default:
			err = conn.SendError(env.ID, fmt.Sprintf("unsupported message type %q", env.Type))
		}
		if err != nil {
			logger.Warn("connection dropped", logging.KeyError, err)
			return
		}
	}
}

func (s *Server) authorize(peer *ipc.Peer, req ipc.AuthRequest) string {
	switch {
	case req.ProtocolVersion != ipc.ProtocolVersion:
		return fmt.Sprintf("protocol version %d not supported", req.ProtocolVersion)
	case req.UID != peer.UID:
		return "uid mismatch"
	case !s.allowed[peer.UID]:
		return "uid not allowed"
	}
	return ""
}

// handleExec runs one command. With input, exec_input frames are piped to
// the command's stdin until the EOF frame. Frames that arrive after the
// command stopped reading are drained and discarded. Commands that are not
// pm install session commands are refused once their input is drained.
func (s *Server) handleExec(ctx context.Context, conn *ipc.Conn, env *ipc.Envelope, logger *slog.Logger) error {
	var req ipc.ExecRequest
	if err := ipc.Decode(env, &req); err != nil {
		return conn.SendError(env.ID, err.Error())
	}
	if !permitted(s.pm, req.Command) {
		logger.Warn("command refused", "command", req.Command)
		if req.HasInput {
			pr, pw := io.Pipe()
			pr.Close()
			if err := pumpInput(conn, env.ID, pw); err != nil {
				return err
			}
		}
		return conn.SendError(env.ID, "command not permitted")
	}

	execCtx, cancel := context.WithTimeout(ctx, ExecTimeout)
	defer cancel()

	type outcome struct {
		res executor.Result
		err error
	}
	done := make(chan outcome, 1)

	if !req.HasInput {
		go func() {
			res, err := s.runner.Shell(execCtx, req.Command, nil)
			done <- outcome{res, err}
		}()
	} else {
		pr, pw := io.Pipe()
		go func() {
			res, err := s.runner.Shell(execCtx, req.Command, pr)
			// Unblocks pumpInput if the command exited without reading.
			pr.CloseWithError(io.ErrClosedPipe)
			done <- outcome{res, err}
		}()
		if err := pumpInput(conn, env.ID, pw); err != nil {
			cancel()
			<-done
			return err
		}
	}

	out := <-done
	if out.err != nil {
		return conn.SendError(env.ID, out.err.Error())
	}
	logger.Info("command executed", "command", req.Command, "exitCode", out.res.ExitCode, logging.KeyDurationMs, out.res.Duration.Milliseconds())
	return conn.SendTyped(env.ID, ipc.TypeExecResult, ipc.ExecResult{
		ExitCode:   out.res.ExitCode,
		Stdout:     out.res.Stdout,
		Stderr:     out.res.Stderr,
		DurationMs: out.res.Duration.Milliseconds(),
	})
}

// pumpInput copies exec_input frames for id into pw and closes it at EOF.
func pumpInput(conn *ipc.Conn, id string, pw *io.PipeWriter) error {
	defer pw.Close()
	discard := false
	for {
		env, err := conn.Recv()
		if err != nil {
			pw.CloseWithError(err)
			return err
		}
		if env.Type != ipc.TypeExecInput || env.ID != id {
			err := fmt.Errorf("%w: %s while streaming input", ErrUnexpectedReply, env.Type)
			pw.CloseWithError(err)
			return err
		}
		var in ipc.ExecInput
		if err := ipc.Decode(env, &in); err != nil {
			pw.CloseWithError(err)
			return err
		}
		if len(in.Data) > 0 && !discard {
			if _, err := pw.Write(in.Data); err != nil {
				discard = true
			}
		}
		if in.EOF {
			return nil
		}
	}
}
