package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"procwatch/pkg/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProber is an in-memory process table implementing interfaces.Prober.
// All methods are safe for the pool's concurrent probes.
type fakeProber struct {
	mu       sync.Mutex
	pids     []int32
	metas    map[int32]interfaces.Meta
	cpuTimes map[int32]float64
	files    map[int32]int
	conns    map[int32]int
	cpuErrs  map[int32]error
	pidsErr  error
	sysTime  float64
	sysLoad  float64
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		metas:    make(map[int32]interfaces.Meta),
		cpuTimes: make(map[int32]float64),
		files:    make(map[int32]int),
		conns:    make(map[int32]int),
		cpuErrs:  make(map[int32]error),
	}
}

func (f *fakeProber) addProc(pid int32, user, name string, rssMiB uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pids = append(f.pids, pid)
	f.metas[pid] = interfaces.Meta{
		PID:       pid,
		Name:      name,
		User:      user,
		Status:    "S",
		StartTime: time.Now().Add(-time.Minute),
		RSS:       rssMiB << 20,
		Threads:   2,
	}
	f.cpuTimes[pid] = float64(pid) * 0.1
}

func (f *fakeProber) removeProc(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.pids[:0]
	for _, p := range f.pids {
		if p != pid {
			kept = append(kept, p)
		}
	}
	f.pids = kept
	delete(f.metas, pid)
	delete(f.cpuTimes, pid)
}

func (f *fakeProber) dropCPUTime(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cpuTimes, pid)
}

func (f *fakeProber) setCPUErr(pid int32, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cpuErrs[pid] = err
}

func (f *fakeProber) setPidsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pidsErr = err
}

func (f *fakeProber) Pids(ctx context.Context) ([]int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pidsErr != nil {
		return nil, f.pidsErr
	}
	return append([]int32(nil), f.pids...), nil
}

func (f *fakeProber) Meta(ctx context.Context, pid int32) (interfaces.Meta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.metas[pid]
	if !ok {
		return interfaces.Meta{}, interfaces.ErrGone
	}
	return m, nil
}

func (f *fakeProber) CPUTime(ctx context.Context, pid int32) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cpuErrs[pid]; err != nil {
		return 0, err
	}
	t, ok := f.cpuTimes[pid]
	if !ok {
		return 0, interfaces.ErrGone
	}
	return t, nil
}

func (f *fakeProber) BulkCPUTimes(ctx context.Context, pids []int32) (map[int32]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int32]float64, len(pids))
	for _, pid := range pids {
		if f.cpuErrs[pid] != nil {
			continue
		}
		if t, ok := f.cpuTimes[pid]; ok {
			out[pid] = t
		}
	}
	return out, nil
}

func (f *fakeProber) OpenFileCount(ctx context.Context, pid int32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[pid], nil
}

func (f *fakeProber) ConnectionCount(ctx context.Context, pid int32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[pid], nil
}

func (f *fakeProber) AllOpenFileCounts(ctx context.Context) (map[int32]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int32]int, len(f.files))
	for pid, c := range f.files {
		out[pid] = c
	}
	return out, nil
}

func (f *fakeProber) AllConnectionCounts(ctx context.Context) (map[int32]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int32]int, len(f.conns))
	for pid, c := range f.conns {
		out[pid] = c
	}
	return out, nil
}

func (f *fakeProber) SystemCPUTime(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sysTime += 0.1
	return f.sysTime, nil
}

func (f *fakeProber) SystemCPUPercent(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sysLoad, nil
}

// fastConfig returns a deterministic test tuning: fixed batch size, fixed
// short interval, no adaptive resizing.
func fastConfig(batch int) Config {
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	cfg.MinInterval = time.Millisecond
	cfg.AutoInterval = false
	cfg.BatchSize = batch
	cfg.AutoBatch = false
	cfg.Workers = 4
	return cfg
}

// collectUntil reads updates until stop returns true, failing the test on
// timeout.
func collectUntil(t *testing.T, w *Watcher, stop func(Update) bool) []Update {
	t.Helper()
	var got []Update
	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-w.Updates():
			got = append(got, u)
			if stop(u) {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for updates, got %d frames", len(got))
			return nil
		}
	}
}

// TestWatcher_FullPassEmission tests that a fresh fleet is emitted batch by
// batch with monotonic progress.
func TestWatcher_FullPassEmission(t *testing.T) {
	fake := newFakeProber()
	for pid := int32(1); pid <= 300; pid++ {
		fake.addProc(pid, "app", fmt.Sprintf("proc-%d", pid), uint64(pid%50+10))
	}

	w := New(fastConfig(100), fake)
	w.Start()
	defer w.Stop()

	frames := collectUntil(t, w, func(u Update) bool { return u.Progress >= 1.0 })
	require.Len(t, frames, 3)

	seen := make(map[int32]struct{})
	for i, frame := range frames {
		assert.InDelta(t, float64(i+1)/3.0, frame.Progress, 1e-9, "frame %d", i)
		assert.Empty(t, frame.Removed, "frame %d", i)
		assert.Len(t, frame.Updates, 100, "frame %d", i)
		for pid := range frame.Updates {
			seen[pid] = struct{}{}
		}
	}
	assert.Len(t, seen, 300)

	// First sightings carry metadata and memory but no CPU yet.
	snap := frames[0].Updates[1]
	require.NotNil(t, snap)
	assert.Equal(t, "proc-1", snap.Name)
	assert.Equal(t, "app", snap.User)
	assert.True(t, snap.Changed)
	assert.Equal(t, 0.0, snap.CPU)
	assert.InDelta(t, 11.0, snap.Mem, 1e-9)
	assert.Equal(t, LevelNormal, snap.Level)

	assert.Equal(t, 300, w.ProcessCount())
}

// TestWatcher_RemovalOnPassEnd tests that vanished processes are reported
// only on the frame that closes a full pass, then dropped from the table.
func TestWatcher_RemovalOnPassEnd(t *testing.T) {
	fake := newFakeProber()
	for pid := int32(1); pid <= 30; pid++ {
		fake.addProc(pid, "app", fmt.Sprintf("proc-%d", pid), 20)
	}

	w := New(fastConfig(10), fake)
	w.Start()
	defer w.Stop()

	collectUntil(t, w, func(u Update) bool { return u.Progress >= 1.0 })

	fake.removeProc(15)

	frames := collectUntil(t, w, func(u Update) bool { return len(u.Removed) > 0 })
	last := frames[len(frames)-1]
	assert.Equal(t, []int32{15}, last.Removed)
	assert.Equal(t, 1.0, last.Progress)
	for _, frame := range frames[:len(frames)-1] {
		assert.Empty(t, frame.Removed)
	}

	require.Eventually(t, func() bool {
		_, ok := w.Snapshot(15)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

// TestWatcher_Filters tests user and name exclusion with case folding.
func TestWatcher_Filters(t *testing.T) {
	fake := newFakeProber()
	fake.addProc(1, "Root", "rootd", 20)
	fake.addProc(2, "app", "worker", 20)
	fake.addProc(3, "app", "Kworker", 20)

	cfg := fastConfig(100)
	cfg.ExcludeUsers = []string{"ROOT"}
	cfg.IgnoreNames = []string{"kworker"}

	w := New(cfg, fake)
	w.Start()
	defer w.Stop()

	frames := collectUntil(t, w, func(u Update) bool { return u.Progress >= 1.0 })
	w.Stop()

	tracked := make(map[int32]struct{})
	for _, frame := range frames {
		for pid := range frame.Updates {
			tracked[pid] = struct{}{}
		}
	}
	assert.Equal(t, map[int32]struct{}{2: {}}, tracked)

	// The listing still counted every process.
	assert.Equal(t, 3, w.ProcessCount())
}

// TestWatcher_PidsErrorKeepsTable tests that listing failures leave tracked
// state untouched and sampling resumes once the listing recovers.
func TestWatcher_PidsErrorKeepsTable(t *testing.T) {
	fake := newFakeProber()
	for pid := int32(1); pid <= 3; pid++ {
		fake.addProc(pid, "app", fmt.Sprintf("proc-%d", pid), 20)
	}

	cfg := fastConfig(100)
	cfg.Detail.Interval = time.Second

	w := New(cfg, fake)
	w.Start()
	defer w.Stop()

	collectUntil(t, w, func(u Update) bool { return u.Progress >= 1.0 })

	fake.setPidsErr(errors.New("proc unavailable"))
	time.Sleep(300 * time.Millisecond)

	assert.Len(t, w.Snapshots(), 3)
	assert.Equal(t, 3, w.ProcessCount())

	// Recovery brings emissions back within the detail refresh interval.
	fake.setPidsErr(nil)
	collectUntil(t, w, func(u Update) bool { return len(u.Updates) > 0 })
}

// TestWatcher_CPUErrorRetention tests that probe failures keep the previous
// reading instead of dropping the process.
func TestWatcher_CPUErrorRetention(t *testing.T) {
	fake := newFakeProber()
	for pid := int32(1); pid <= 3; pid++ {
		fake.addProc(pid, "app", fmt.Sprintf("proc-%d", pid), 20)
	}

	w := New(fastConfig(100), fake)
	w.Start()
	defer w.Stop()

	collectUntil(t, w, func(u Update) bool { return u.Progress >= 1.0 })

	before2, ok := w.Snapshot(2)
	require.True(t, ok)
	before3, ok := w.Snapshot(3)
	require.True(t, ok)

	// A vanished CPU clock drops the pass for that process but keeps the
	// table entry; a plain failure reuses the previous clock.
	fake.dropCPUTime(2)
	fake.setCPUErr(3, errors.New("permission denied"))

	time.Sleep(400 * time.Millisecond)

	after2, ok := w.Snapshot(2)
	require.True(t, ok)
	assert.Equal(t, before2.CPUTime, after2.CPUTime)

	after3, ok := w.Snapshot(3)
	require.True(t, ok)
	assert.Equal(t, before3.CPUTime, after3.CPUTime)
}

// TestWatcher_EmitDropsStale tests the single-slot update channel.
func TestWatcher_EmitDropsStale(t *testing.T) {
	w := New(fastConfig(10), newFakeProber())
	defer w.Stop()

	w.emit(Update{Progress: 0.5})
	w.emit(Update{Progress: 1.0})

	require.Len(t, w.updates, 1)
	u := <-w.Updates()
	assert.Equal(t, 1.0, u.Progress)
}

// TestWatcher_PauseResume tests that a paused watcher emits nothing and picks
// back up on resume.
func TestWatcher_PauseResume(t *testing.T) {
	fake := newFakeProber()
	for pid := int32(1); pid <= 3; pid++ {
		fake.addProc(pid, "app", fmt.Sprintf("proc-%d", pid), 20)
	}

	w := New(fastConfig(100), fake)
	w.Pause()
	w.Start()
	defer w.Stop()

	assert.True(t, w.Paused())
	assert.True(t, w.Stats().Paused)

	select {
	case u := <-w.Updates():
		t.Fatalf("paused watcher emitted %+v", u)
	case <-time.After(400 * time.Millisecond):
	}

	w.Resume()
	assert.False(t, w.Paused())
	collectUntil(t, w, func(u Update) bool { return u.Progress >= 1.0 })
}

// TestWatcher_SnapshotCopies tests that accessors hand out independent copies
// ordered busiest first.
func TestWatcher_SnapshotCopies(t *testing.T) {
	fake := newFakeProber()
	fake.addProc(1, "app", "big", 300)
	fake.addProc(2, "app", "mid", 200)
	fake.addProc(3, "app", "small", 100)

	w := New(fastConfig(100), fake)
	w.Start()
	defer w.Stop()

	collectUntil(t, w, func(u Update) bool { return u.Progress >= 1.0 })

	all := w.Snapshots()
	require.Len(t, all, 3)
	assert.Equal(t, []int32{1, 2, 3}, []int32{all[0].PID, all[1].PID, all[2].PID})

	// Mutating a returned copy never touches the table.
	s, ok := w.Snapshot(1)
	require.True(t, ok)
	s.Name = "tampered"
	fresh, ok := w.Snapshot(1)
	require.True(t, ok)
	assert.Equal(t, "big", fresh.Name)

	_, ok = w.Snapshot(999)
	assert.False(t, ok)
}

// TestWatcher_Accessors tests the tuning accessors and runtime retargeting
// without running the cycle.
func TestWatcher_Accessors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 4
	w := New(cfg, newFakeProber())
	defer w.Stop()

	assert.Equal(t, 2*time.Second, w.Interval())
	assert.Equal(t, 100, w.BatchSize())
	assert.Equal(t, 4, w.Workers())
	assert.Equal(t, 0.0, w.RecentChangeRatio())
	assert.Equal(t, 0.0, w.RecentTrendRatio())
	assert.Equal(t, 100.0, w.AverageBatchSize())
	assert.Equal(t, 2*time.Second, w.AverageCycleTime())
	assert.Equal(t, 2*time.Second, w.AverageInterval())
	assert.Equal(t, 0.0, w.Throughput())

	// Retargeting clamps into the configured range.
	w.SetInterval(20 * time.Second)
	assert.Equal(t, 10*time.Second, w.Interval())
	w.SetInterval(50 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, w.Interval())

	w.SetDetailInterval(10 * time.Second)
	st := w.Stats()
	assert.Equal(t, 10.0, st.DetailInterval)
	assert.Equal(t, 4, st.WorkerCount)
	assert.Equal(t, 100, st.BatchSize)
	assert.Equal(t, 0, st.ProcessCount)
	assert.False(t, st.Paused)
}
