//go:build windows

package privilege

// IsRunningAsRoot is always false on Windows; there is no root shell.
func IsRunningAsRoot() bool {
	return false
}
