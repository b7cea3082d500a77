//go:build !linux

package probe

import (
	"context"

	"procwatch/pkg/interfaces"
)

func hasProcfs() bool { return false }

func readProcStatCPU(int32) (float64, error) {
	return 0, interfaces.ErrUnsupported
}

func countProcFDs(int32) (int, error) {
	return 0, interfaces.ErrUnsupported
}

func scanAllProcFDs(context.Context) (map[int32]int, error) {
	return nil, interfaces.ErrUnsupported
}

func readSystemCPU() (float64, error) {
	return 0, interfaces.ErrUnsupported
}
