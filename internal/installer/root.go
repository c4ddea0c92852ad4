package installer

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/logging"
)

// Shell runs a command line with elevated rights, for example via su -c.
type Shell interface {
	Shell(ctx context.Context, command string, stdin io.Reader) (executor.Result, error)
}

// RootBackend installs by running the package manager through a root shell.
type RootBackend struct {
	shellBase
	shell Shell
}

// NewRootBackend creates a root shell backend. Parts are staged under
// stagingDir, which must be readable by root.
func NewRootBackend(shell Shell, pm, stagingDir string, lock *CommitLock, rep Reporter) *RootBackend {
	return &RootBackend{
		shellBase: shellBase{mode: ModeRoot, pm: pm, stagingDir: stagingDir, lock: lock, reporter: rep},
		shell:     shell,
	}
}

func (b *RootBackend) Mode() Mode { return ModeRoot }

func (b *RootBackend) Deferred() bool { return false }

func (b *RootBackend) Check(ctx context.Context) error {
	if probe, ok := b.shell.(interface{ Available() bool }); ok && !probe.Available() {
		return &PreconditionError{Check: "root_shell", Message: "root shell binary not found"}
	}
	return nil
}

// InstallSingle stages the package to a temp file and runs pm install -r on
// it. The exit status is the result.
func (b *RootBackend) InstallSingle(ctx context.Context, id int, packageName string, part Part) error {
	path, n, err := b.stage(ctx, id, part, 0)
	if path != "" {
		defer os.Remove(path)
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.lock.Acquire(ctx, id); err != nil {
		return err
	}

	res, err := b.run(context.WithoutCancel(ctx), pmCommands{pm: b.pm}.install(path), "")
	if err != nil {
		return err
	}
	if res.exitCode != 0 || strings.Contains(res.output, "Failure") {
		return &CommitError{Step: "install", ExitCode: res.exitCode, Output: res.output}
	}
	log.Info("package installed", logging.KeyCorrelationID, id, logging.KeyPackage, packageName, "bytes", n, logging.KeyMode, "root")
	return nil
}

func (b *RootBackend) InstallSplit(ctx context.Context, id int, packageName string, parts []Part) error {
	return sessionInstall(ctx, &b.shellBase, id, parts, false, b.run)
}

func (b *RootBackend) run(ctx context.Context, command, inputPath string) (commandResult, error) {
	var stdin io.Reader
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			return commandResult{}, err
		}
		defer f.Close()
		stdin = f
	}

	res, err := b.shell.Shell(ctx, command, stdin)
	if err != nil {
		return commandResult{}, err
	}
	return commandResult{exitCode: res.ExitCode, output: res.Output()}, nil
}
