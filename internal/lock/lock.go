package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// FileLock wraps gofrs/flock keyed on the destination instance, so two
// mongoclone runs cannot write into the same node at once.
type FileLock struct {
	fl   *flock.Flock
	path string
}

// New returns lock at /tmp/mongoclone_<hash>.lock for the destination URI.
func New(destURI string) *FileLock {
	sum := sha256.Sum256([]byte(destURI))
	name := fmt.Sprintf("/tmp/mongoclone_%s.lock", hex.EncodeToString(sum[:8]))
	return &FileLock{fl: flock.New(name), path: name}
}

// TryLock attempts non-blocking lock.
func (l *FileLock) TryLock() (bool, error) {
	return l.fl.TryLock()
}

// Unlock releases.
func (l *FileLock) Unlock() error {
	// Release the OS-level lock first.
	if err := l.fl.Unlock(); err != nil {
		return err
	}
	// Best-effort cleanup: remove the lock file so it does not linger in /tmp.
	// Ignore any error (e.g. if another process already removed it).
	_ = os.Remove(l.path)
	return nil
}
