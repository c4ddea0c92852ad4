package broker

import (
	"regexp"
	"strings"
)

// Command lines the broker runs on behalf of clients. Paths are either bare
// or single-quoted with embedded quotes written as '\''.
const (
	barePath   = `[A-Za-z0-9/._:][A-Za-z0-9/._:-]*`
	quotedPath = `'(?:[^']|'\\'')*'`
	path       = `(?:` + barePath + `|` + quotedPath + `)`
	number     = `[0-9]+`
)

var pmVerbs = []*regexp.Regexp{
	regexp.MustCompile(`^install -r ` + path + `$`),
	regexp.MustCompile(`^install-create -r$`),
	regexp.MustCompile(`^install-write -S ` + number + ` ` + number + ` ` + number + ` (?:-|` + path + `)$`),
	regexp.MustCompile(`^install-commit ` + number + `$`),
	regexp.MustCompile(`^install-abandon ` + number + `$`),
}

// permitted reports whether command is one of the package manager
// invocations of the session install protocol, run with the pm binary.
func permitted(pm, command string) bool {
	args, ok := strings.CutPrefix(command, pm+" ")
	if !ok {
		return false
	}
	for _, verb := range pmVerbs {
		if verb.MatchString(args) {
			return true
		}
	}
	return false
}
