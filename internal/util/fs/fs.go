package fs

import (
	"fmt"
	"os"
)

// MkdirP creates the path recursively with 0755 permissions, like `mkdir -p`.
// An already existing directory is not an error.
func MkdirP(path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	return os.MkdirAll(path, 0o755)
}
