package interfaces

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrGone reports that a process exited between enumeration and probing.
	ErrGone = errors.New("process no longer exists")
	// ErrDenied reports missing permission to read a process field.
	ErrDenied = errors.New("permission denied reading process")
	// ErrUnsupported reports that a fast probe path is unavailable on this platform.
	ErrUnsupported = errors.New("probe path unsupported on this platform")
)

// Meta carries the cheap per-process fields read once per batch. IO counters
// may be unreadable for foreign processes; IOValid marks whether ReadBytes
// and WriteBytes hold real values.
type Meta struct {
	PID        int32
	Name       string
	User       string
	Status     string
	StartTime  time.Time
	RSS        uint64 // resident set, bytes
	Threads    int32
	ReadBytes  uint64
	WriteBytes uint64
	IOValid    bool
}

// Prober is the OS measurement surface the sampler runs against.
// Implementations map platform errors onto ErrGone/ErrDenied/ErrUnsupported;
// any other error is a probe failure the caller absorbs field-by-field.
type Prober interface {
	// Pids returns the identifiers of every live process.
	Pids(ctx context.Context) ([]int32, error)

	// Meta reads the cheap metadata fields for one process.
	Meta(ctx context.Context, pid int32) (Meta, error)

	// CPUTime reads cumulative CPU time (user+system, seconds) for one process.
	CPUTime(ctx context.Context, pid int32) (float64, error)

	// BulkCPUTimes reads cumulative CPU time for many processes in one pass.
	// Returns ErrUnsupported where no kernel-filesystem fast path exists;
	// missing PIDs are simply absent from the result.
	BulkCPUTimes(ctx context.Context, pids []int32) (map[int32]float64, error)

	// OpenFileCount returns the number of open file descriptors for one process.
	OpenFileCount(ctx context.Context, pid int32) (int, error)

	// ConnectionCount returns the number of network connections for one process.
	ConnectionCount(ctx context.Context, pid int32) (int, error)

	// AllOpenFileCounts enumerates open-file counts for every process at once.
	AllOpenFileCounts(ctx context.Context) (map[int32]int, error)

	// AllConnectionCounts enumerates connection counts for every process at once.
	AllConnectionCounts(ctx context.Context) (map[int32]int, error)

	// SystemCPUTime returns cumulative CPU time across all cores (seconds).
	SystemCPUTime(ctx context.Context) (float64, error)

	// SystemCPUPercent returns instantaneous whole-system CPU utilisation.
	SystemCPUPercent(ctx context.Context) (float64, error)
}
