package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves a leading ~ and $VAR references in database, rules and
// metrics paths. A home directory that cannot be determined leaves ~ as is.
func ExpandPath(path string) string {
	rest, hasTilde := strings.CutPrefix(path, "~")
	if hasTilde && (rest == "" || rest[0] == '/') {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, rest)
		}
	}
	return os.ExpandEnv(path)
}
