package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"procwatch/pkg/interfaces"
	"procwatch/pkg/watcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProber serves a fixed process table, enough to drive the watcher
// through full passes.
type stubProber struct {
	mu      sync.Mutex
	pids    []int32
	metas   map[int32]interfaces.Meta
	cpu     map[int32]float64
	sysTime float64
}

func newStubProber(pids ...int32) *stubProber {
	s := &stubProber{
		metas: make(map[int32]interfaces.Meta),
		cpu:   make(map[int32]float64),
	}
	for _, pid := range pids {
		s.pids = append(s.pids, pid)
		s.metas[pid] = interfaces.Meta{
			PID:       pid,
			Name:      "stub",
			User:      "app",
			Status:    "S",
			StartTime: time.Now().Add(-time.Minute),
			RSS:       64 << 20,
			Threads:   1,
		}
		s.cpu[pid] = float64(pid)
	}
	return s
}

func (s *stubProber) drop(pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pids[:0]
	for _, p := range s.pids {
		if p != pid {
			kept = append(kept, p)
		}
	}
	s.pids = kept
	delete(s.metas, pid)
	delete(s.cpu, pid)
}

func (s *stubProber) Pids(ctx context.Context) ([]int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int32(nil), s.pids...), nil
}

func (s *stubProber) Meta(ctx context.Context, pid int32) (interfaces.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metas[pid]
	if !ok {
		return interfaces.Meta{}, interfaces.ErrGone
	}
	return m, nil
}

func (s *stubProber) CPUTime(ctx context.Context, pid int32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.cpu[pid]
	if !ok {
		return 0, interfaces.ErrGone
	}
	return t, nil
}

func (s *stubProber) BulkCPUTimes(ctx context.Context, pids []int32) (map[int32]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int32]float64, len(pids))
	for _, pid := range pids {
		if t, ok := s.cpu[pid]; ok {
			out[pid] = t
		}
	}
	return out, nil
}

func (s *stubProber) OpenFileCount(ctx context.Context, pid int32) (int, error) { return 0, nil }

func (s *stubProber) ConnectionCount(ctx context.Context, pid int32) (int, error) { return 0, nil }

func (s *stubProber) AllOpenFileCounts(ctx context.Context) (map[int32]int, error) {
	return map[int32]int{}, nil
}

func (s *stubProber) AllConnectionCounts(ctx context.Context) (map[int32]int, error) {
	return map[int32]int{}, nil
}

func (s *stubProber) SystemCPUTime(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sysTime += 0.1
	return s.sysTime, nil
}

func (s *stubProber) SystemCPUPercent(ctx context.Context) (float64, error) { return 5, nil }

func newTestService(t *testing.T, prober interfaces.Prober) (*MonitorService, context.CancelFunc) {
	t.Helper()
	cfg := watcher.DefaultConfig()
	cfg.Interval = time.Millisecond
	cfg.MinInterval = time.Millisecond
	cfg.AutoInterval = false
	cfg.BatchSize = 10
	cfg.AutoBatch = false
	cfg.Workers = 2

	w := watcher.New(cfg, prober)
	svc := NewMonitorService(w)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start()
	svc.Start(ctx)
	stop := func() {
		cancel()
		w.Stop()
		svc.Wait()
	}
	return svc, stop
}

// TestMonitorService_TableAndRemoval tests that the table follows the
// watcher's deltas, including removals.
func TestMonitorService_TableAndRemoval(t *testing.T) {
	prober := newStubProber(1, 2, 3)
	svc, stop := newTestService(t, prober)
	defer stop()

	require.Eventually(t, func() bool {
		return len(svc.Processes(0)) == 3
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := svc.Process(2)
	assert.True(t, ok)
	assert.False(t, svc.LastUpdate().IsZero())

	prober.drop(2)
	require.Eventually(t, func() bool {
		_, ok := svc.Process(2)
		return !ok && len(svc.Processes(0)) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

// TestMonitorService_ProcessesLimit tests the result cap.
func TestMonitorService_ProcessesLimit(t *testing.T) {
	prober := newStubProber(1, 2, 3, 4)
	svc, stop := newTestService(t, prober)
	defer stop()

	require.Eventually(t, func() bool {
		return len(svc.Processes(0)) == 4
	}, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, svc.Processes(2), 2)
	assert.Len(t, svc.Processes(100), 4)
}

// TestMonitorService_SubscribeReceivesFrames tests the stream fan-out and
// that Unsubscribe closes the channel.
func TestMonitorService_SubscribeReceivesFrames(t *testing.T) {
	prober := newStubProber(1, 2)
	svc, stop := newTestService(t, prober)
	defer stop()

	id, ch := svc.Subscribe()
	require.NotEmpty(t, id)

	select {
	case frame := <-ch:
		assert.False(t, frame.Timestamp.IsZero())
		assert.Positive(t, frame.Progress)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	svc.Unsubscribe(id)
	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

// TestMonitorService_HistoryAfterFullPass tests that each completed pass
// lands in the history ring and in the trailing-window summary.
func TestMonitorService_HistoryAfterFullPass(t *testing.T) {
	prober := newStubProber(1, 2, 3)
	svc, stop := newTestService(t, prober)
	defer stop()

	require.Eventually(t, func() bool {
		return len(svc.History(0)) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	sum := svc.Summary(time.Minute)
	assert.GreaterOrEqual(t, sum.Passes, 2)
	assert.InDelta(t, 3, sum.AvgProcessCount, 0.01)

	assert.Len(t, svc.History(1), 1)
}

// TestMonitorService_PauseResume tests that pause state is delegated to the
// watcher.
func TestMonitorService_PauseResume(t *testing.T) {
	prober := newStubProber(1)
	svc, stop := newTestService(t, prober)
	defer stop()

	assert.False(t, svc.Paused())
	svc.Pause()
	assert.True(t, svc.Paused())
	svc.Resume()
	assert.False(t, svc.Paused())
}
