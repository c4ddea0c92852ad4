package privilege

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/installer"
)

// RequiresElevation reports whether installs in mode run package manager
// commands with elevated rights.
func RequiresElevation(mode installer.Mode) bool {
	return mode == installer.ModeRoot || mode == installer.ModeBroker
}

// Shell runs a command line through a privilege prefix such as su -c.
type Shell interface {
	Shell(ctx context.Context, command string, stdin io.Reader) (executor.Result, error)
}

// VerifyRoot runs id -u through shell and checks that it reports uid 0.
func VerifyRoot(ctx context.Context, shell Shell) error {
	res, err := shell.Shell(ctx, "id -u", nil)
	if err != nil {
		return fmt.Errorf("root shell: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("root shell exited with %d: %s", res.ExitCode, res.Output())
	}
	if uid := strings.TrimSpace(res.Stdout); uid != "0" {
		return fmt.Errorf("root shell runs as uid %s", uid)
	}
	return nil
}

// Availability is the probe result for one install mode.
type Availability struct {
	Mode      installer.Mode
	Available bool
	Reason    string
}

// ProbeModes runs each backend's precondition check. extra, when set for a
// mode, runs after a successful check.
func ProbeModes(ctx context.Context, backends []installer.Backend, extra map[installer.Mode]func(context.Context) error) []Availability {
	out := make([]Availability, 0, len(backends))
	for _, b := range backends {
		a := Availability{Mode: b.Mode(), Available: true}
		err := b.Check(ctx)
		if err == nil && extra[b.Mode()] != nil {
			err = extra[b.Mode()](ctx)
		}
		if err != nil {
			a.Available = false
			a.Reason = err.Error()
		}
		out = append(out, a)
	}
	return out
}
