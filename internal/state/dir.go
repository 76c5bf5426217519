// Package state provides the low-level file-locking primitive used by the
// Config Store's per-path exclusive lock, plus the default base directory
// the CLI falls back to when NET_SERVERS_BASE is unset.
package state

import (
	"os"
	"path/filepath"
)

const (
	// DefaultRootBase is the default environment root when running as root.
	DefaultRootBase = "/var/lib/net-servers"

	// DefaultUserBaseName is the directory name under the user's home used
	// as the default environment root for non-root users.
	DefaultUserBaseName = ".local/share/net-servers"
)

// DefaultBase returns the default environment base directory for the
// current process: /var/lib/net-servers when running as root, otherwise
// ~/.local/share/net-servers. This is only a fallback; an explicit
// base_path on an Environment record, or the NET_SERVERS_BASE environment
// variable, always takes precedence.
func DefaultBase() (string, error) {
	if os.Getuid() == 0 {
		return DefaultRootBase, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultUserBaseName), nil
}
