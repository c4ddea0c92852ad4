package installer

import (
	"context"
	"strings"
)

// ExecResult is the outcome of a command run by a privileged broker.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// PrivilegedProcessBroker runs commands on behalf of this process with
// elevated rights.
type PrivilegedProcessBroker interface {
	IsAvailable(ctx context.Context) bool
	HasPermission(ctx context.Context) bool
	// Exec runs command, streaming the file at inputPath to its stdin when
	// inputPath is not empty.
	Exec(ctx context.Context, command, inputPath string) (ExecResult, error)
}

// BrokerBackend installs through a delegated broker process. Every install,
// single or split, uses the create/write/commit session protocol with parts
// piped through stdin.
type BrokerBackend struct {
	shellBase
	broker PrivilegedProcessBroker
}

func NewBrokerBackend(broker PrivilegedProcessBroker, pm, stagingDir string, lock *CommitLock, rep Reporter) *BrokerBackend {
	return &BrokerBackend{
		shellBase: shellBase{mode: ModeBroker, pm: pm, stagingDir: stagingDir, lock: lock, reporter: rep},
		broker:    broker,
	}
}

func (b *BrokerBackend) Mode() Mode { return ModeBroker }

func (b *BrokerBackend) Deferred() bool { return false }

func (b *BrokerBackend) Check(ctx context.Context) error {
	if !b.broker.IsAvailable(ctx) {
		return &PreconditionError{Check: "broker_available", Message: "privileged broker is not running"}
	}
	if !b.broker.HasPermission(ctx) {
		return &PreconditionError{Check: "broker_permission", Message: "privileged broker refused this user"}
	}
	return nil
}

func (b *BrokerBackend) InstallSingle(ctx context.Context, id int, packageName string, part Part) error {
	return b.InstallSplit(ctx, id, packageName, []Part{part})
}

func (b *BrokerBackend) InstallSplit(ctx context.Context, id int, packageName string, parts []Part) error {
	if err := b.Check(ctx); err != nil {
		closeParts(parts)
		return err
	}
	return sessionInstall(ctx, &b.shellBase, id, parts, true, b.run)
}

func (b *BrokerBackend) run(ctx context.Context, command, inputPath string) (commandResult, error) {
	res, err := b.broker.Exec(ctx, command, inputPath)
	if err != nil {
		return commandResult{}, err
	}
	out := strings.TrimSpace(strings.TrimSpace(res.Stdout) + "\n" + strings.TrimSpace(res.Stderr))
	return commandResult{exitCode: res.ExitCode, output: out}, nil
}
