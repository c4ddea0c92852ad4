//go:build linux || darwin

package broker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/installer"
	"github.com/EikeiDev/apkupdateross/internal/ipc"
)

// fakeRunner emulates the package manager on the privileged side.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	inputs   [][]byte
}

func (r *fakeRunner) Shell(ctx context.Context, command string, stdin io.Reader) (executor.Result, error) {
	var data []byte
	if stdin != nil {
		data, _ = io.ReadAll(stdin)
	}
	r.mu.Lock()
	r.commands = append(r.commands, command)
	if stdin != nil {
		r.inputs = append(r.inputs, data)
	}
	r.mu.Unlock()

	switch {
	case strings.Contains(command, "install-create"):
		return executor.Result{Stdout: "Success: created install session [5]\n"}, nil
	case command == "pm install-abandon 3":
		return executor.Result{ExitCode: 3, Stderr: "boom"}, nil
	}
	return executor.Result{Stdout: "Success\n", Duration: time.Millisecond}, nil
}

func startServer(t *testing.T, runner Runner, configure func(*Server)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "b.sock")
	s := NewServer(path, "pm", runner, nil)
	if configure != nil {
		configure(s)
	}
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return path
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientExecWithoutInput(t *testing.T) {
	runner := &fakeRunner{}
	client := NewClient(startServer(t, runner, nil))
	defer client.Close()
	ctx := testContext(t)

	if !client.IsAvailable(ctx) || !client.HasPermission(ctx) {
		t.Fatal("server should be reachable and accept the current user")
	}

	res, err := client.Exec(ctx, "pm install-abandon 3", "")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 3 || res.Stderr != "boom" {
		t.Fatalf("result = %+v", res)
	}
}

func TestClientExecStreamsInput(t *testing.T) {
	runner := &fakeRunner{}
	client := NewClient(startServer(t, runner, nil))
	defer client.Close()

	payload := bytes.Repeat([]byte("0123456789abcdef"), (ipc.MaxChunkSize*5/2)/16)
	input := filepath.Join(t.TempDir(), "part.apk")
	if err := os.WriteFile(input, payload, 0644); err != nil {
		t.Fatal(err)
	}

	res, err := client.Exec(testContext(t), "pm install-write -S 1 5 0 -", input)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code %d", res.ExitCode)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.inputs) != 1 || !bytes.Equal(runner.inputs[0], payload) {
		t.Fatal("stdin did not match the streamed file")
	}
}

func TestClientEmptyInputFile(t *testing.T) {
	runner := &fakeRunner{}
	client := NewClient(startServer(t, runner, nil))
	defer client.Close()

	input := filepath.Join(t.TempDir(), "empty.apk")
	os.WriteFile(input, nil, 0644)

	if _, err := client.Exec(testContext(t), "pm install-write -S 0 5 0 -", input); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.inputs) != 1 || len(runner.inputs[0]) != 0 {
		t.Fatalf("inputs = %v", runner.inputs)
	}
}

func TestServerRefusesOtherCommands(t *testing.T) {
	runner := &fakeRunner{}
	client := NewClient(startServer(t, runner, nil))
	defer client.Close()
	ctx := testContext(t)

	input := filepath.Join(t.TempDir(), "part.apk")
	if err := os.WriteFile(input, bytes.Repeat([]byte{'x'}, ipc.MaxChunkSize+10), 0644); err != nil {
		t.Fatal(err)
	}

	refused := []struct {
		command string
		input   string
	}{
		{"echo PWNED; id -u", ""},
		{"id", ""},
		{"pm install-commit 5; id", ""},
		{"/tmp/pm install-create -r", ""},
		{"cat", input},
		{"pm install-write -S 9 5 0 - | sh", input},
	}
	for _, tt := range refused {
		_, err := client.Exec(ctx, tt.command, tt.input)
		var remote *ipc.RemoteError
		if !errors.As(err, &remote) || remote.Message != "command not permitted" {
			t.Fatalf("Exec(%q) = %v, want refusal", tt.command, err)
		}
	}

	// The connection stays usable after a refusal.
	if _, err := client.Exec(ctx, "pm install-create -r", ""); err != nil {
		t.Fatalf("Exec after refusal: %v", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.commands) != 1 || runner.commands[0] != "pm install-create -r" {
		t.Fatalf("runner saw %q", runner.commands)
	}
}

func TestClientRejectedUser(t *testing.T) {
	runner := &fakeRunner{}
	path := startServer(t, runner, func(s *Server) {
		s.peerCreds = func(conn net.Conn) (*ipc.Peer, error) {
			return &ipc.Peer{UID: uint32(os.Getuid()) + 1, PID: 1}, nil
		}
	})
	client := NewClient(path)
	defer client.Close()
	ctx := testContext(t)

	if !client.IsAvailable(ctx) {
		t.Fatal("a rejecting server is still available")
	}
	if client.HasPermission(ctx) {
		t.Fatal("rejected user must not have permission")
	}
	if _, err := client.Exec(ctx, "id", ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.commands) != 0 {
		t.Fatal("no command may run for a rejected user")
	}
}

func TestClientNoServer(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	ctx := testContext(t)

	if client.IsAvailable(ctx) {
		t.Fatal("no server is listening")
	}
	if _, err := client.Exec(ctx, "id", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestBrokerBackendThroughServer(t *testing.T) {
	runner := &fakeRunner{}
	client := NewClient(startServer(t, runner, nil))
	defer client.Close()

	lock := installer.NewCommitLock()
	backend := installer.NewBrokerBackend(client, "pm", t.TempDir(), lock, discardReporter{})

	part := installer.Part{Reader: io.NopCloser(strings.NewReader("apk-bytes")), Size: 9}
	if err := backend.InstallSingle(testContext(t), 21, "com.example", part); err != nil {
		t.Fatalf("InstallSingle: %v", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	want := []string{"pm install-create -r", "pm install-write -S 9 5 0 -", "pm install-commit 5"}
	if strings.Join(runner.commands, "|") != strings.Join(want, "|") {
		t.Fatalf("commands = %q", runner.commands)
	}
	if len(runner.inputs) != 1 || string(runner.inputs[0]) != "apk-bytes" {
		t.Fatalf("inputs = %q", runner.inputs)
	}
	if holder, held := lock.Holder(); !held || holder != 21 {
		t.Fatal("commit lock should be held by the install")
	}
}
