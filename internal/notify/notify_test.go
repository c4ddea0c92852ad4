package notify

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/installer"
	"golang.org/x/text/language"
)

func TestNotifierLanguages(t *testing.T) {
	tests := []struct {
		lang string
		want string
		tag  language.Tag
	}{
		{"en", "Firefox installed\n", language.English},
		{"es", "Firefox instalada\n", language.Spanish},
		{"ru-RU", "Firefox установлено\n", language.Russian},
		{"xx", "Firefox installed\n", language.English},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			var buf bytes.Buffer
			n := New(&buf, tt.lang)
			n.InstallFinished(context.Background(), "Firefox", true, nil)
			if buf.String() != tt.want {
				t.Fatalf("got %q, want %q", buf.String(), tt.want)
			}
			if n.Language() != tt.tag {
				t.Fatalf("language = %v, want %v", n.Language(), tt.tag)
			}
		})
	}
}

func TestInstallFinishedPrecondition(t *testing.T) {
	var buf bytes.Buffer
	n := New(&buf, "en")

	n.InstallFinished(context.Background(), "Firefox", false, &installer.PreconditionError{Check: "broker_available"})
	n.InstallFinished(context.Background(), "Firefox", false, &installer.CommitError{Step: "commit", ExitCode: 1})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if lines[0] != MsgBrokerNotRunning {
		t.Fatalf("precondition line = %q", lines[0])
	}
	if lines[1] != "Firefox could not be installed" {
		t.Fatalf("failure line = %q", lines[1])
	}
}

type recordingCommander struct {
	name string
	args []string
	res  executor.Result
}

func (c *recordingCommander) Exec(ctx context.Context, name string, args []string, stdin io.Reader) (executor.Result, error) {
	c.name, c.args = name, args
	return c.res, nil
}

func TestCommandOpener(t *testing.T) {
	cmd := &recordingCommander{}
	var buf bytes.Buffer
	o := NewCommandOpener(cmd, []string{"xdg-open"}, New(&buf, "en"))

	if err := o.Open(context.Background(), "https://example.com/app"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if cmd.name != "xdg-open" || len(cmd.args) != 1 || cmd.args[0] != "https://example.com/app" {
		t.Fatalf("ran %s %q", cmd.name, cmd.args)
	}
	if !strings.Contains(buf.String(), "https://example.com/app") {
		t.Fatalf("notification = %q", buf.String())
	}

	cmd.res = executor.Result{ExitCode: 4}
	if err := o.Open(context.Background(), "https://example.com/x"); err == nil {
		t.Fatal("expected error for failing opener")
	}
}
