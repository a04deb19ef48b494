package system

import (
	"fmt"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Rlimit raises the open-file soft limit to the hard limit. Every session
// holds a TCP connection plus pipes, so the daemon burns descriptors fast.
func Rlimit() error {
	rlimit := syscall.Rlimit{}
	if err := syscall.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return fmt.Errorf("getrlimit error: %v", err)
	}

	if rlimit.Cur >= rlimit.Max {
		logrus.Debugf("rlimit NOFILE already at max (%d)", rlimit.Cur)
		return nil
	}

	logrus.Debugf("raising rlimit NOFILE %d -> %d", rlimit.Cur, rlimit.Max)
	rlimit.Cur = rlimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		return fmt.Errorf("failed to set rlimit: %v", err)
	}

	return nil
}
