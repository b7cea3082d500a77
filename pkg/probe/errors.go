package probe

import (
	"errors"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"

	"procwatch/pkg/interfaces"
)

// mapErr folds platform errors onto the probe taxonomy so callers only ever
// match interfaces.ErrGone / ErrDenied.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, process.ErrorProcessNotRunning),
		errors.Is(err, syscall.ESRCH),
		errors.Is(err, os.ErrNotExist):
		return interfaces.ErrGone
	case errors.Is(err, os.ErrPermission):
		return interfaces.ErrDenied
	default:
		return err
	}
}
