//go:build !windows

package privilege

import "os"

// IsRunningAsRoot reports whether this process runs with uid 0.
func IsRunningAsRoot() bool {
	return os.Getuid() == 0
}
