package system

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RemoveStaleSocket deletes a leftover unix socket file so a fresh listener
// can bind. Refuses to touch anything that is not a socket.
func RemoveStaleSocket(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "failed to stat %q", path)
	}

	if info.Mode()&os.ModeSocket == 0 {
		return errors.Errorf("refusing to remove %q: not a socket", path)
	}

	logrus.Debugf("removing stale socket %q", path)
	return errors.Wrapf(os.Remove(path), "failed to remove stale socket %q", path)
}
