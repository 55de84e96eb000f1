//go:build linux

package procfs

import (
	"os"
	"syscall"
)

// statInodeDev extracts the executable image's inode+device identity, used
// to detect an on-disk binary swap between plan time and execution time.
func statInodeDev(path string) (inode, dev uint64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, nil
	}
	return sys.Ino, uint64(sys.Dev), nil
}
