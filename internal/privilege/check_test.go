package privilege

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/installer"
)

type scriptedShell struct {
	res executor.Result
	err error
}

func (s scriptedShell) Shell(ctx context.Context, command string, stdin io.Reader) (executor.Result, error) {
	return s.res, s.err
}

func TestVerifyRoot(t *testing.T) {
	tests := []struct {
		name    string
		shell   scriptedShell
		wantErr bool
	}{
		{"root", scriptedShell{res: executor.Result{Stdout: "0\n"}}, false},
		{"user", scriptedShell{res: executor.Result{Stdout: "1000\n"}}, true},
		{"denied", scriptedShell{res: executor.Result{ExitCode: 1, Stderr: "permission denied"}}, true},
		{"missing su", scriptedShell{err: errors.New("exec: su: not found")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyRoot(context.Background(), tt.shell)
			if (err != nil) != tt.wantErr {
				t.Fatalf("VerifyRoot() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type stubBackend struct {
	mode installer.Mode
	err  error
}

func (b stubBackend) Mode() installer.Mode            { return b.mode }
func (b stubBackend) Deferred() bool                  { return false }
func (b stubBackend) Check(ctx context.Context) error { return b.err }
func (b stubBackend) InstallSingle(ctx context.Context, id int, pkg string, part installer.Part) error {
	return nil
}
func (b stubBackend) InstallSplit(ctx context.Context, id int, pkg string, parts []installer.Part) error {
	return nil
}

func TestProbeModes(t *testing.T) {
	backends := []installer.Backend{
		stubBackend{mode: installer.ModeStandard, err: &installer.PreconditionError{Check: "session_platform", Message: "no device"}},
		stubBackend{mode: installer.ModeRoot},
		stubBackend{mode: installer.ModeBroker},
	}
	extra := map[installer.Mode]func(context.Context) error{
		installer.ModeRoot: func(context.Context) error { return errors.New("not root") },
	}

	got := ProbeModes(context.Background(), backends, extra)
	if len(got) != 3 {
		t.Fatalf("got %d results", len(got))
	}
	if got[0].Available || got[0].Reason == "" {
		t.Fatalf("standard = %+v", got[0])
	}
	if got[1].Available || got[1].Reason != "not root" {
		t.Fatalf("root = %+v", got[1])
	}
	if !got[2].Available {
		t.Fatalf("broker = %+v", got[2])
	}
}

func TestRequiresElevation(t *testing.T) {
	if RequiresElevation(installer.ModeStandard) {
		t.Fatal("standard installs run unprivileged")
	}
	if !RequiresElevation(installer.ModeRoot) || !RequiresElevation(installer.ModeBroker) {
		t.Fatal("root and broker installs are elevated")
	}
}
