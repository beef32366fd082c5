//go:build !linux

package sink

import "os"

// adviseSequential is a no-op where posix_fadvise isn't available.
func adviseSequential(f *os.File) {}
