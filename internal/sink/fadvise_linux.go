//go:build linux

package sink

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential tells the kernel the file will be read front to back, so
// readahead can run ahead of the parser.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
