package installer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/EikeiDev/apkupdateross/internal/logging"
	"github.com/EikeiDev/apkupdateross/internal/progress"
)

var log = logging.L("installer")

// Mode selects the privilege path used to commit packages.
type Mode int

const (
	ModeStandard Mode = iota
	ModeRoot
	ModeBroker
)

func (m Mode) String() string {
	switch m {
	case ModeStandard:
		return "standard"
	case ModeRoot:
		return "root"
	case ModeBroker:
		return "broker"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "session", "":
		return ModeStandard, nil
	case "root":
		return ModeRoot, nil
	case "broker":
		return ModeBroker, nil
	default:
		return 0, fmt.Errorf("unknown install mode %q", s)
	}
}

// Part is one package file of an install. The backend closes Reader.
type Part struct {
	Name   string
	Reader io.ReadCloser
	Size   int64 // 0 when unknown
}

// Reporter receives cumulative byte progress.
type Reporter interface {
	EmitProgress(progress.Progress)
}

// Backend commits package files through one privilege path.
type Backend interface {
	Mode() Mode

	// Deferred backends only report that the platform accepted the commit;
	// the result arrives later through progress.Completions.
	Deferred() bool

	// Check verifies preconditions without touching any file.
	Check(ctx context.Context) error

	InstallSingle(ctx context.Context, id int, packageName string, part Part) error
	InstallSplit(ctx context.Context, id int, packageName string, parts []Part) error
}

// PreconditionError means a backend could not start an install.
type PreconditionError struct {
	Check   string // e.g. "root_shell", "broker_permission", "session_id"
	Message string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("install precondition %q failed: %s", e.Check, e.Message)
}

// CommitError means the package manager rejected a step of the install.
type CommitError struct {
	Step     string // create, write, commit, install
	ExitCode int
	Output   string
}

func (e *CommitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("install %s failed with exit code %d", e.Step, e.ExitCode)
	}
	return fmt.Sprintf("install %s failed with exit code %d: %s", e.Step, e.ExitCode, e.Output)
}

func closeParts(parts []Part) {
	for _, p := range parts {
		if p.Reader != nil {
			p.Reader.Close()
		}
	}
}
