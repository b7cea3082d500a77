package probe

import (
	"context"
	"errors"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"procwatch/pkg/interfaces"
	"procwatch/pkg/status"
)

// SystemProber implements interfaces.Prober on top of gopsutil, reading
// procfs directly on platforms that have it for the hot paths (cumulative
// CPU time, fd counts). Everything else goes through the portable calls.
// Identity strings pass through the status sanitizer before anything
// downstream sees them.
type SystemProber struct {
	procfs   bool
	sanitize *status.Sanitizer
}

// New returns a prober for the current host.
func New() *SystemProber {
	return &SystemProber{procfs: hasProcfs(), sanitize: status.NewSanitizer()}
}

func (s *SystemProber) Pids(ctx context.Context) ([]int32, error) {
	return process.PidsWithContext(ctx)
}

func (s *SystemProber) Meta(ctx context.Context, pid int32) (interfaces.Meta, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return interfaces.Meta{}, mapErr(err)
	}

	m := interfaces.Meta{PID: pid}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		// A process whose name cannot be read is as good as gone.
		return interfaces.Meta{}, mapErr(err)
	}
	m.Name = s.sanitize.CleanName(name)

	if user, err := p.UsernameWithContext(ctx); err == nil {
		m.User = s.sanitize.CleanField(user)
	}
	if st, err := p.StatusWithContext(ctx); err == nil && len(st) > 0 {
		m.Status = s.sanitize.CleanField(st[0])
	}
	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		m.Threads = threads
	}
	if start, err := p.CreateTimeWithContext(ctx); err == nil {
		m.StartTime = time.UnixMilli(start)
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		m.RSS = mem.RSS
	}
	if io, err := p.IOCountersWithContext(ctx); err == nil && io != nil {
		m.ReadBytes = io.ReadBytes
		m.WriteBytes = io.WriteBytes
		m.IOValid = true
	}
	return m, nil
}

func (s *SystemProber) CPUTime(ctx context.Context, pid int32) (float64, error) {
	if s.procfs {
		t, err := readProcStatCPU(pid)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, interfaces.ErrGone) {
			return 0, err
		}
	}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, mapErr(err)
	}
	times, err := p.TimesWithContext(ctx)
	if err != nil {
		return 0, mapErr(err)
	}
	return times.User + times.System, nil
}

func (s *SystemProber) BulkCPUTimes(ctx context.Context, pids []int32) (map[int32]float64, error) {
	if !s.procfs {
		return nil, interfaces.ErrUnsupported
	}
	out := make(map[int32]float64, len(pids))
	for _, pid := range pids {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		if t, err := readProcStatCPU(pid); err == nil {
			out[pid] = t
		}
	}
	return out, nil
}

func (s *SystemProber) OpenFileCount(ctx context.Context, pid int32) (int, error) {
	if s.procfs {
		n, err := countProcFDs(pid)
		if err == nil || errors.Is(err, interfaces.ErrGone) || errors.Is(err, interfaces.ErrDenied) {
			return n, err
		}
	}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := p.NumFDsWithContext(ctx)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(n), nil
}

func (s *SystemProber) ConnectionCount(ctx context.Context, pid int32) (int, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, mapErr(err)
	}
	conns, err := p.ConnectionsWithContext(ctx)
	if err != nil {
		return 0, mapErr(err)
	}
	return len(conns), nil
}

func (s *SystemProber) AllOpenFileCounts(ctx context.Context) (map[int32]int, error) {
	if !s.procfs {
		return nil, interfaces.ErrUnsupported
	}
	return scanAllProcFDs(ctx)
}

func (s *SystemProber) AllConnectionCounts(ctx context.Context) (map[int32]int, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, mapErr(err)
	}
	out := make(map[int32]int)
	for _, c := range conns {
		if c.Pid > 0 {
			out[c.Pid]++
		}
	}
	return out, nil
}

func (s *SystemProber) SystemCPUTime(ctx context.Context) (float64, error) {
	if s.procfs {
		if t, err := readSystemCPU(); err == nil {
			return t, nil
		}
	}
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return 0, mapErr(err)
	}
	if len(times) == 0 {
		return 0, errors.New("no system cpu times reported")
	}
	return times[0].Total(), nil
}

func (s *SystemProber) SystemCPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, mapErr(err)
	}
	if len(pcts) == 0 {
		return 0, errors.New("no system cpu utilisation reported")
	}
	return pcts[0], nil
}
