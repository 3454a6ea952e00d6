package logging

import (
	"errors"
	"syscall"
)

// Errno extracts the OS error number carried by err, or -1 when err is
// non-nil but carries none.  A nil error yields 0.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	var en syscall.Errno
	if errors.As(err, &en) {
		return int(en)
	}
	return -1
}
