package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/EikeiDev/apkupdateross/internal/logging"
)

var log = logging.L("executor")

// MaxOutputSize caps captured stdout and stderr per command.
const MaxOutputSize = 1024 * 1024

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports a zero exit status.
func (r Result) Success() bool { return r.ExitCode == 0 }

// Output joins stdout and stderr for error messages.
func (r Result) Output() string {
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// Runner starts commands, optionally wrapped by Prefix (for example
// ["su", "-c"]), in which case the whole command line is passed to the
// prefix as its final argument.
type Runner struct {
	Prefix []string
	Dir    string
}

// Shell runs a command line. Without a prefix it goes through sh -c.
func (r Runner) Shell(ctx context.Context, command string, stdin io.Reader) (Result, error) {
	argv := append([]string{}, r.Prefix...)
	if len(argv) == 0 {
		argv = []string{"sh", "-c"}
	}
	argv = append(argv, command)
	return r.run(ctx, argv[0], argv[1:], stdin)
}

// Exec runs name with args directly, ignoring Prefix.
func (r Runner) Exec(ctx context.Context, name string, args []string, stdin io.Reader) (Result, error) {
	return r.run(ctx, name, args, stdin)
}

// Available reports whether the binary the runner depends on is on PATH.
func (r Runner) Available() bool {
	bin := "sh"
	if len(r.Prefix) > 0 {
		bin = r.Prefix[0]
	}
	_, err := exec.LookPath(bin)
	return err == nil
}

// run returns an error only when the process could not be started or was
// killed through ctx. A non-zero exit is reported in Result.ExitCode.
func (r Runner) run(ctx context.Context, name string, args []string, stdin io.Reader) (Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, limit: MaxOutputSize}
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: MaxOutputSize}

	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() != nil {
			res.ExitCode = -1
			return res, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			log.Debug("command exited non-zero", "command", name, "exitCode", res.ExitCode)
			return res, nil
		}
		res.ExitCode = -1
		return res, fmt.Errorf("run %s: %w", name, err)
	}

	log.Debug("command completed", "command", name, logging.KeyDurationMs, res.Duration.Milliseconds())
	return res, nil
}

// limitedWriter wraps a buffer with a size limit, silently discarding the
// rest.
type limitedWriter struct {
	buf     *bytes.Buffer
	limit   int
	written int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.written >= w.limit {
		return len(p), nil
	}

	n := len(p)
	if remaining := w.limit - w.written; n > remaining {
		p = p[:remaining]
	}

	written, err := w.buf.Write(p)
	w.written += written
	return n, err
}
