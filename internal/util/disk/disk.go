package disk

import (
	"fmt"
	"syscall"
)

// Space holds information about free and total bytes.
// Values are in bytes.
// On Linux, Statfs uses fragment size in Bsize.
type Space struct {
	Free  uint64
	Total uint64
}

// FreeBytes returns available (for unprivileged user) and total bytes on filesystem containing path.
func FreeBytes(path string) (Space, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return Space{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	free := st.Bavail * uint64(st.Bsize)
	total := st.Blocks * uint64(st.Bsize)
	return Space{Free: free, Total: total}, nil
}

// EnsureSpace checks that path has at least required bytes free.
func EnsureSpace(path string, required uint64) error {
	sp, err := FreeBytes(path)
	if err != nil {
		return err
	}
	if sp.Free < required {
		return fmt.Errorf("insufficient space on %s: free %.2f MB, need %.2f MB", path, bytesToMB(sp.Free), bytesToMB(required))
	}
	return nil
}

func bytesToMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}
