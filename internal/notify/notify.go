package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/EikeiDev/apkupdateross/internal/installer"
	"github.com/EikeiDev/apkupdateross/internal/logging"
)

var log = logging.L("notify")

var matcher = language.NewMatcher(supported)

// Notifier prints one-line localized messages for the user.
type Notifier struct {
	mu      sync.Mutex
	out     io.Writer
	printer *message.Printer
	tag     language.Tag
}

// New returns a notifier writing to out in the closest supported language
// to lang. Unknown languages fall back to English.
func New(out io.Writer, lang string) *Notifier {
	if out == nil {
		out = os.Stderr
	}
	tag := language.English
	if parsed, err := language.Parse(lang); err == nil {
		_, idx, _ := matcher.Match(parsed)
		tag = supported[idx]
	}
	return &Notifier{
		out:     out,
		printer: message.NewPrinter(tag, message.Catalog(newCatalog())),
		tag:     tag,
	}
}

// Language returns the language messages are printed in.
func (n *Notifier) Language() language.Tag {
	return n.tag
}

// Sprintf renders key in the notifier's language.
func (n *Notifier) Sprintf(key string, args ...any) string {
	return n.printer.Sprintf(key, args...)
}

// Notify prints key as one line.
func (n *Notifier) Notify(key string, args ...any) {
	line := n.Sprintf(key, args...)
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := fmt.Fprintln(n.out, line); err != nil {
		log.Warn("notification write failed", logging.KeyError, err)
	}
}

// InstallFinished announces the result of an install. Precondition failures
// get a message naming what was missing.
func (n *Notifier) InstallFinished(ctx context.Context, name string, succeeded bool, cause error) {
	if succeeded {
		n.Notify(MsgInstallSuccess, name)
		return
	}
	var pre *installer.PreconditionError
	if errors.As(cause, &pre) {
		if key, ok := preconditionMessages[pre.Check]; ok {
			n.Notify(key)
			return
		}
	}
	n.Notify(MsgInstallFailure, name)
}

var preconditionMessages = map[string]string{
	"root_shell":        MsgRootUnavailable,
	"broker_available":  MsgBrokerNotRunning,
	"broker_permission": MsgBrokerNoPermission,
	"session_platform":  MsgSessionUnavailable,
}
