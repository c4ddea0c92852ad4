package notify

import (
	"context"
	"fmt"
	"io"

	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/logging"
)

// Commander runs a binary with arguments.
type Commander interface {
	Exec(ctx context.Context, name string, args []string, stdin io.Reader) (executor.Result, error)
}

// CommandOpener opens links with an external command such as xdg-open.
type CommandOpener struct {
	cmd      Commander
	command  []string
	notifier *Notifier
}

func NewCommandOpener(cmd Commander, command []string, notifier *Notifier) *CommandOpener {
	return &CommandOpener{cmd: cmd, command: command, notifier: notifier}
}

// Open runs the configured command with url appended. Without a command the
// link is only printed.
func (o *CommandOpener) Open(ctx context.Context, url string) error {
	if o.notifier != nil {
		o.notifier.Notify(MsgOpeningLink, url)
	}
	if len(o.command) == 0 {
		return nil
	}

	args := append(append([]string(nil), o.command[1:]...), url)
	res, err := o.cmd.Exec(ctx, o.command[0], args, nil)
	if err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	if !res.Success() {
		return fmt.Errorf("open %s: %s exited with %d: %s", url, o.command[0], res.ExitCode, res.Output())
	}
	log.Debug("link opened", logging.KeyURL, url)
	return nil
}
