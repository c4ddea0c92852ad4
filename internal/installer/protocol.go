package installer

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/EikeiDev/apkupdateross/internal/logging"
)

var sessionIDPattern = regexp.MustCompile(`\[(\d+)\]`)

// ParseSessionID extracts the session id from install-create output such as
// "Success: created install session [1234]".
func ParseSessionID(output string) (int, error) {
	m := sessionIDPattern.FindStringSubmatch(output)
	if m == nil {
		return 0, &PreconditionError{Check: "session_id", Message: fmt.Sprintf("no session id in %q", strings.TrimSpace(output))}
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, &PreconditionError{Check: "session_id", Message: err.Error()}
	}
	return id, nil
}

// pmCommands renders package manager command lines.
type pmCommands struct {
	pm string
}

func (c pmCommands) install(path string) string {
	return fmt.Sprintf("%s install -r %s", c.pm, shellQuote(path))
}

func (c pmCommands) create() string {
	return c.pm + " install-create -r"
}

func (c pmCommands) write(size int64, sid, idx int, path string) string {
	target := "-"
	if path != "-" {
		target = shellQuote(path)
	}
	return fmt.Sprintf("%s install-write -S %d %d %d %s", c.pm, size, sid, idx, target)
}

func (c pmCommands) commit(sid int) string {
	return fmt.Sprintf("%s install-commit %d", c.pm, sid)
}

func (c pmCommands) abandon(sid int) string {
	return fmt.Sprintf("%s install-abandon %d", c.pm, sid)
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '.' || r == '-' || r == '_' || r == ':' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// commandResult is what the session protocol needs back from a shell or
// broker call.
type commandResult struct {
	exitCode int
	output   string
}

// runFunc executes one package manager command. inputPath, when set, is fed
// to the command's stdin.
type runFunc func(ctx context.Context, command, inputPath string) (commandResult, error)

// sessionInstall drives install-create, one install-write per part and
// install-commit. Parts are staged one after another with a running progress
// offset. When pipe is set parts are streamed to stdin instead of passed by
// path. The commit lock is taken right before install-commit.
func sessionInstall(ctx context.Context, b *shellBase, id int, parts []Part, pipe bool, run runFunc) error {
	defer closeParts(parts)
	cmds := pmCommands{pm: b.pm}
	cmdCtx := context.WithoutCancel(ctx)

	res, err := run(cmdCtx, cmds.create(), "")
	if err != nil {
		return err
	}
	if res.exitCode != 0 {
		return &CommitError{Step: "create", ExitCode: res.exitCode, Output: res.output}
	}
	sid, err := ParseSessionID(res.output)
	if err != nil {
		return err
	}
	logger := log.With(logging.KeyCorrelationID, id, "session", sid, logging.KeyMode, b.mode.String())

	var staged []string
	defer func() {
		for _, path := range staged {
			os.Remove(path)
		}
	}()

	committed := false
	defer func() {
		if committed {
			return
		}
		if _, err := run(cmdCtx, cmds.abandon(sid), ""); err != nil {
			logger.Warn("abandon session failed", logging.KeyError, err)
		}
	}()

	var offset int64
	for i, part := range parts {
		path, n, err := b.stage(ctx, id, part, offset)
		if path != "" {
			staged = append(staged, path)
		}
		if err != nil {
			return err
		}
		offset += n

		target, input := path, ""
		if pipe {
			target, input = "-", path
		}
		res, err := run(cmdCtx, cmds.write(n, sid, i, target), input)
		if err != nil {
			return err
		}
		if res.exitCode != 0 {
			return &CommitError{Step: "write", ExitCode: res.exitCode, Output: res.output}
		}
		logger.Debug("part written", "index", i, "bytes", n)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.lock.Acquire(ctx, id); err != nil {
		return err
	}

	committed = true
	res, err = run(cmdCtx, cmds.commit(sid), "")
	if err != nil {
		return err
	}
	if res.exitCode != 0 || strings.Contains(res.output, "Failure") {
		return &CommitError{Step: "commit", ExitCode: res.exitCode, Output: res.output}
	}
	logger.Info("session committed", "parts", len(parts), "bytes", offset)
	return nil
}
