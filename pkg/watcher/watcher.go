package watcher

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"procwatch/pkg/interfaces"
	"procwatch/pkg/logger"
)

// Update is one emission of changed snapshots. Updates maps PID to a private
// copy, Removed lists processes that vanished (only ever set on the final
// batch of a full pass) and Progress runs from 1/N to 1.0 across a pass.
type Update struct {
	Updates  map[int32]*Snapshot
	Removed  []int32
	Progress float64
}

// Stats is a point-in-time view of the watcher's own runtime behavior.
type Stats struct {
	ProcessCount     int     `json:"process_count"`
	WorkerCount      int     `json:"worker_count"`
	Interval         float64 `json:"interval_seconds"`
	DetailInterval   float64 `json:"detail_interval_seconds"`
	BatchSize        int     `json:"batch_size"`
	StableCycles     int     `json:"stable_cycles"`
	ChangeRatio      float64 `json:"change_ratio"`
	TrendRatio       float64 `json:"trend_ratio"`
	AverageBatchSize float64 `json:"average_batch_size"`
	AverageCycleTime float64 `json:"average_cycle_time_seconds"`
	AverageInterval  float64 `json:"average_interval_seconds"`
	Throughput       float64 `json:"throughput"`
	LastDetailCount  int     `json:"last_detail_count"`
	Paused           bool    `json:"paused"`
}

// Watcher samples every process in adaptively sized batches, skips CPU reads
// for processes its duty-cycle controller considers idle, refreshes expensive
// details through TTL caches and emits per-batch deltas on a single-slot
// channel. One goroutine runs the cycle; it is the only mutator of the
// snapshot table.
type Watcher struct {
	cfg   Config
	probe interfaces.Prober

	mu              sync.RWMutex
	snapshot        map[int32]*Snapshot
	processCount    int
	lastDetailCount int
	autoCPU         float64
	autoMem         float64
	autoIO          float64

	tun  *tuner
	duty *dutyController
	pool *pool

	connCache *detailCache
	fileCache *detailCache

	globalConnScan      *pendingScan
	globalFileScan      *pendingScan
	fileScan            *pendingScan
	connScanUnsupported bool
	fileScanUnsupported bool

	detailTS     map[int32]time.Time
	stableCounts map[int32]int
	normalCounts map[int32]int

	pendingPIDs      []int32
	iterating        bool
	newPIDs          map[int32]struct{}
	processedBatches int
	totalBatches     int

	prevSystemTime  float64
	systemTimeDelta float64

	loadSkip int

	updates chan Update

	paused  atomic.Bool
	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	changeParams ChangeParams
}

// New builds a watcher over probe with cfg normalized. Call Start to begin
// sampling.
func New(cfg Config, probe interfaces.Prober) *Watcher {
	cfg = cfg.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		cfg:   cfg,
		probe: probe,

		snapshot: make(map[int32]*Snapshot),

		tun:  newTuner(&cfg),
		duty: newDutyController(cfg.Idle),
		pool: newPool(cfg.Workers),

		connCache: newDetailCache(cfg.Detail.ConnInterval, cfg.Detail.CacheTTL),
		fileCache: newDetailCache(cfg.Detail.FileInterval, cfg.Detail.CacheTTL),

		detailTS:     make(map[int32]time.Time),
		stableCounts: make(map[int32]int),
		normalCounts: make(map[int32]int),

		totalBatches:    1,
		systemTimeDelta: float64(runtime.NumCPU()),

		updates: make(chan Update, 1),

		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),

		changeParams: cfg.changeParams(),
	}
	if t, err := probe.SystemCPUTime(ctx); err == nil {
		w.prevSystemTime = t
	}
	return w
}

// Start launches the cycle goroutine. Starting twice is a no-op.
func (w *Watcher) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	logger.Infof("process watcher started interval=%s batch=%d workers=%d",
		w.tun.interval, w.tun.batchSize, w.pool.Size())
	go w.run()
}

// Stop cancels the cycle and waits for the goroutine to observe it. Queued
// probe work is discarded, not drained.
func (w *Watcher) Stop() {
	w.cancel()
	if w.started.Load() {
		<-w.done
	}
	logger.Infof("process watcher stopped")
}

// Pause suspends sampling at the next cycle boundary. Probes already in
// flight finish normally.
func (w *Watcher) Pause() {
	w.paused.Store(true)
}

// Resume lifts a pause.
func (w *Watcher) Resume() {
	w.paused.Store(false)
}

// Paused reports whether sampling is suspended.
func (w *Watcher) Paused() bool {
	return w.paused.Load()
}

// Updates returns the emission channel. It holds one pending update; when a
// consumer lags, the stale update is dropped in favor of the newest one.
func (w *Watcher) Updates() <-chan Update {
	return w.updates
}

func (w *Watcher) run() {
	defer close(w.done)
	defer w.pool.Stop()
	for {
		loopStart := time.Now()
		if sys, err := w.probe.SystemCPUTime(w.ctx); err == nil {
			w.systemTimeDelta = math.Max(sys-w.prevSystemTime, 0.001)
			w.prevSystemTime = sys
		}
		w.connCache.prune(loopStart)
		w.fileCache.prune(loopStart)
		w.maybeStartGlobalScans(loopStart)

		if !w.paused.Load() && !w.shouldPauseForLoad() {
			w.runBatch(loopStart)
		}
		if !w.sleep(w.Interval()) {
			return
		}
	}
}

func (w *Watcher) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// runBatch processes one batch of PIDs end to end: metadata, skip decisions,
// CPU reads, snapshot application, detail refresh, then emission.
func (w *Watcher) runBatch(loopStart time.Time) {
	now := time.Now()
	batch, cycleEnd, ok := w.nextBatch()
	if !ok {
		return
	}
	w.processedBatches++

	metas := make([]interfaces.Meta, len(batch))
	metaOK := make([]bool, len(batch))
	w.pool.mapN(len(batch), func(i int) {
		m, err := w.probe.Meta(w.ctx, batch[i])
		if err != nil {
			return
		}
		metas[i] = m
		metaOK[i] = true
	})

	type pendingProc struct {
		meta   interfaces.Meta
		prev   *Snapshot
		sample bool
	}
	pend := make([]pendingProc, 0, len(batch))
	var samplePIDs []int32
	for i := range batch {
		if !metaOK[i] {
			continue
		}
		m := metas[i]
		if w.cfg.HideSystem && isSystemUser(m.User) {
			continue
		}
		if containsFold(w.cfg.ExcludeUsers, m.User) {
			continue
		}
		if hasPrefixFold(w.cfg.IgnoreNames, m.Name) {
			continue
		}
		if w.cfg.IgnoreAge > 0 && time.Since(m.StartTime) < w.cfg.IgnoreAge {
			continue
		}
		prev := w.snapshot[m.PID]
		pid := m.PID
		sample := !w.duty.decide(pid, prev, m, now, w.systemTimeDelta, func() (float64, bool) {
			t, err := w.probe.CPUTime(w.ctx, pid)
			return t, err == nil
		})
		if sample {
			samplePIDs = append(samplePIDs, pid)
		}
		pend = append(pend, pendingProc{meta: m, prev: prev, sample: sample})
	}

	var bulk map[int32]float64
	if len(samplePIDs) >= w.cfg.BulkCPUThreshold {
		if m, err := w.probe.BulkCPUTimes(w.ctx, samplePIDs); err == nil {
			bulk = m
		}
	}

	cpuTimes := make([]float64, len(pend))
	cpuOK := make([]bool, len(pend))
	w.pool.mapN(len(pend), func(i int) {
		p := pend[i]
		if !p.sample {
			cpuTimes[i] = p.prev.CPUTime
			cpuOK[i] = true
			return
		}
		t, err := w.cpuTimeFor(p.meta.PID, bulk)
		switch {
		case err == nil:
			cpuTimes[i] = t
			cpuOK[i] = true
		case errors.Is(err, interfaces.ErrGone):
			// vanished mid-batch; dropped from this pass, removed at pass end
		default:
			if p.prev != nil {
				cpuTimes[i] = p.prev.CPUTime
				cpuOK[i] = true
			} else {
				cpuOK[i] = true
			}
		}
	})

	updates := make(map[int32]*Snapshot)
	trending := 0
	entries := make([]appliedEntry, 0, len(pend))

	w.mu.Lock()
	for i, p := range pend {
		if !cpuOK[i] {
			continue
		}
		m := p.meta
		mem := float64(m.RSS) / (1 << 20)
		cpuTime := cpuTimes[i]

		if p.prev != nil {
			var cpu, ioRate float64
			if p.sample {
				prevTS := w.duty.lastSampleOr(m.PID, now)
				deltaSec := math.Max(now.Sub(prevTS).Seconds(), 0.001)
				w.duty.markSampled(m.PID, now)
				cpu = (cpuTime - p.prev.CPUTime) / w.systemTimeDelta * 100
				ioRate = (float64(m.ReadBytes) - float64(p.prev.ReadBytes) +
					float64(m.WriteBytes) - float64(p.prev.WriteBytes)) / deltaSec / (1 << 20)
				w.duty.observe(m.PID, cpu, mem, ioRate)
			} else {
				cpu = p.prev.CPU
				ioRate = p.prev.IORate
				cpuTime = p.prev.CPUTime
				w.duty.recordSkipped(m.PID, p.prev.CPU, p.prev.Mem, p.prev.IORate)
			}
			sameCPU := cpuTime == p.prev.CPUTime && cpu == p.prev.CPU
			cur := Sample{
				Name:       m.Name,
				User:       m.User,
				Status:     m.Status,
				Threads:    m.Threads,
				ReadBytes:  m.ReadBytes,
				WriteBytes: m.WriteBytes,
				Metrics:    Metrics{CPU: cpu, Mem: mem, IO: ioRate},
			}
			changed := p.prev.ApplySample(cur, cpuTime, w.changeParams, w.cfg.Trend, w.cfg.Levels)
			if !sameCPU && p.prev.Trending() {
				trending++
			}
			entries = append(entries, appliedEntry{snap: p.prev, changed: changed})
			continue
		}

		w.duty.markSampled(m.PID, now)
		w.duty.seedNew(m.PID, mem, 0)
		cur := Sample{
			Name:       m.Name,
			User:       m.User,
			Status:     m.Status,
			Threads:    m.Threads,
			ReadBytes:  m.ReadBytes,
			WriteBytes: m.WriteBytes,
			Metrics:    Metrics{Mem: mem},
		}
		snap := newSnapshot(cur, m.PID, m.StartTime, cpuTime, w.cfg.SampleSize, w.cfg.Change.AggWindow)
		snap.ComputeTrends(w.cfg.Trend)
		snap.Classify(w.cfg.Levels)
		snap.Changed = true
		if snap.Trending() {
			trending++
		}
		w.normalCounts[m.PID] = 0
		entries = append(entries, appliedEntry{snap: snap, changed: true})
	}

	if w.cfg.Visible.Auto {
		w.updateAutoBaselines(entries)
	}
	if w.cfg.Limit > 0 && len(entries) > w.cfg.Limit {
		sort.Slice(entries, func(a, b int) bool {
			return entries[b].snap.less(entries[a].snap)
		})
		entries = entries[:w.cfg.Limit]
	}

	var detailCands []*Snapshot
	nowTS := time.Now()
	cpuThr, memThr, ioThr := w.visibleThresholds()
	for _, ec := range entries {
		e, changed := ec.snap, ec.changed
		if changed {
			updates[e.PID] = e
			w.stableCounts[e.PID] = 0
		} else {
			w.stableCounts[e.PID]++
		}
		e.Stable = w.stableCounts[e.PID] >= w.tun.stableCycles
		skipStable := e.Stable && w.stableCounts[e.PID]%w.cfg.Detail.StableSkip != 0
		if !changed && !e.Trending() &&
			e.CPU < cpuThr && e.Mem < memThr && e.IORate < ioThr && !e.Stable {
			w.normalCounts[e.PID]++
		} else {
			w.normalCounts[e.PID] = 0
		}
		e.Normal = w.normalCounts[e.PID] >= w.cfg.Visible.NormalWindow
		if (changed || nowTS.Sub(w.detailTS[e.PID]) >= w.tun.detailEvery) && !skipStable {
			detailCands = append(detailCands, e)
		}
		w.snapshot[e.PID] = e
	}
	w.mu.Unlock()

	if len(detailCands) > 0 {
		detailStart := time.Now()
		connCounts := w.refreshConns(detailCands, detailStart)
		fileCounts := w.refreshFiles(detailCands, detailStart)
		w.mu.Lock()
		for _, e := range detailCands {
			if c, ok := fileCounts[e.PID]; ok {
				e.Files = c
			}
			if c, ok := connCounts[e.PID]; ok {
				e.Conns = c
			}
			updates[e.PID] = e
			w.detailTS[e.PID] = time.Now()
		}
		w.tun.tuneDetail(time.Since(detailStart))
		w.lastDetailCount = len(detailCands)
		w.mu.Unlock()
	} else {
		w.mu.Lock()
		w.lastDetailCount = 0
		w.mu.Unlock()
	}

	var removed []int32
	if cycleEnd {
		w.mu.RLock()
		for pid := range w.snapshot {
			if _, live := w.newPIDs[pid]; !live {
				removed = append(removed, pid)
			}
		}
		w.mu.RUnlock()
		w.newPIDs = nil
		sort.Slice(removed, func(a, b int) bool { return removed[a] < removed[b] })
	}

	progress := float64(w.processedBatches) / float64(w.totalBatches)
	if len(updates) > 0 || len(removed) > 0 {
		out := Update{
			Updates:  make(map[int32]*Snapshot, len(updates)),
			Removed:  removed,
			Progress: progress,
		}
		for pid, s := range updates {
			out.Updates[pid] = s.Clone()
		}
		w.emit(out)

		w.mu.Lock()
		for _, pid := range removed {
			delete(w.snapshot, pid)
			delete(w.detailTS, pid)
			delete(w.stableCounts, pid)
			delete(w.normalCounts, pid)
			w.connCache.forget(pid)
			w.fileCache.forget(pid)
			w.duty.forget(pid)
		}
		w.mu.Unlock()
	}

	w.mu.Lock()
	w.tun.recordBatch(time.Since(loopStart), len(updates), trending)
	if cycleEnd {
		target := w.tun.endCycle(w.processCount, w.pool.Size())
		if target != w.pool.Size() {
			logger.Debugf("resizing probe pool %d -> %d (processes=%d)", w.pool.Size(), target, w.processCount)
			w.pool.Resize(target)
		}
	}
	w.mu.Unlock()
}

// nextBatch returns the next slice of PIDs and whether it closes a full
// pass. A fresh PID listing starts each pass; listing failures leave the
// current pass untouched so a transient error never wipes the table.
func (w *Watcher) nextBatch() (batch []int32, cycleEnd, ok bool) {
	if !w.iterating {
		pids, err := w.probe.Pids(w.ctx)
		if err != nil {
			logger.Warnf("listing pids failed: %v", err)
			return nil, false, false
		}
		w.mu.Lock()
		w.processCount = len(pids)
		w.mu.Unlock()
		w.newPIDs = make(map[int32]struct{}, len(pids))
		for _, pid := range pids {
			w.newPIDs[pid] = struct{}{}
		}
		w.pendingPIDs = pids
		w.iterating = true
		w.processedBatches = 0
		w.totalBatches = max(1, (len(pids)+w.tun.batchSize-1)/w.tun.batchSize)
	}
	n := min(w.tun.batchSize, len(w.pendingPIDs))
	batch = w.pendingPIDs[:n]
	w.pendingPIDs = w.pendingPIDs[n:]
	if len(w.pendingPIDs) == 0 {
		w.pendingPIDs = nil
		w.iterating = false
		return batch, true, true
	}
	return batch, false, true
}

func (w *Watcher) cpuTimeFor(pid int32, bulk map[int32]float64) (float64, error) {
	if v, ok := bulk[pid]; ok {
		return v, nil
	}
	return w.probe.CPUTime(w.ctx, pid)
}

// maybeStartGlobalScans kicks off whole-system detail scans when the process
// count makes per-PID refreshes more expensive than one bulk pass. At most
// one scan per kind is in flight.
func (w *Watcher) maybeStartGlobalScans(now time.Time) {
	if !w.connScanUnsupported &&
		w.processCount > w.cfg.Detail.ConnGlobalThreshold*2 &&
		w.globalConnScan == nil && w.connCache.globalStale(now) {
		w.globalConnScan = startScan(func() (map[int32]int, error) {
			return w.probe.AllConnectionCounts(w.ctx)
		})
	}
	if !w.fileScanUnsupported &&
		w.processCount > w.cfg.Detail.FileGlobalThreshold*2 &&
		w.globalFileScan == nil && w.fileCache.globalStale(now) {
		w.globalFileScan = startScan(func() (map[int32]int, error) {
			return w.probe.AllOpenFileCounts(w.ctx)
		})
	}
}

// refreshConns resolves connection counts for the detail candidates, using
// the global scan when many need refreshing and per-PID probes otherwise.
// Anything unresolved falls back to the cache, stale included.
func (w *Watcher) refreshConns(cands []*Snapshot, now time.Time) map[int32]int {
	var fetch []int32
	for _, e := range cands {
		if !w.connCache.fresh(e.PID, now) {
			fetch = append(fetch, e.PID)
		}
	}
	counts := make(map[int32]int)
	if len(fetch) > 0 {
		if len(fetch) > w.cfg.Detail.ConnGlobalThreshold {
			folded := false
			if w.globalConnScan != nil {
				if res, done := w.globalConnScan.poll(); done {
					w.globalConnScan = nil
					if res.err != nil {
						if errors.Is(res.err, interfaces.ErrUnsupported) {
							w.connScanUnsupported = true
						} else {
							logger.Debugf("global connection scan failed: %v", res.err)
						}
					} else {
						w.connCache.setGlobal(res.counts, now)
						for pid, c := range res.counts {
							w.connCache.put(pid, c, now)
						}
						for _, e := range cands {
							counts[e.PID] = res.counts[e.PID]
						}
						folded = true
					}
				}
			}
			if !folded && len(w.connCache.global) > 0 {
				for _, pid := range fetch {
					if c, ok := w.connCache.global[pid]; ok {
						counts[pid] = c
					}
				}
			}
		} else {
			res := make([]int, len(fetch))
			resOK := make([]bool, len(fetch))
			w.pool.mapN(len(fetch), func(i int) {
				c, err := w.probe.ConnectionCount(w.ctx, fetch[i])
				if err != nil {
					return
				}
				res[i] = c
				resOK[i] = true
			})
			for i, pid := range fetch {
				if resOK[i] {
					counts[pid] = res[i]
					w.connCache.put(pid, res[i], now)
				}
			}
		}
	}
	for _, e := range cands {
		if _, ok := counts[e.PID]; !ok {
			if c, cached := w.connCache.get(e.PID); cached {
				counts[e.PID] = c
			}
		}
	}
	return counts
}

// refreshFiles mirrors refreshConns for open file counts, with a targeted
// single-flight scan as the middle ground when the global scan data is not
// available yet.
func (w *Watcher) refreshFiles(cands []*Snapshot, now time.Time) map[int32]int {
	var fetch []int32
	for _, e := range cands {
		if !w.fileCache.fresh(e.PID, now) {
			fetch = append(fetch, e.PID)
		}
	}
	counts := make(map[int32]int)
	if len(fetch) > 0 {
		if len(fetch) > w.cfg.Detail.FileGlobalThreshold && !w.fileScanUnsupported {
			if w.globalFileScan != nil {
				if res, done := w.globalFileScan.poll(); done {
					w.globalFileScan = nil
					if res.err != nil {
						if errors.Is(res.err, interfaces.ErrUnsupported) {
							w.fileScanUnsupported = true
						} else {
							logger.Debugf("global file scan failed: %v", res.err)
						}
					} else {
						w.fileCache.setGlobal(res.counts, now)
					}
				}
			}
			if len(w.fileCache.global) > 0 {
				for _, pid := range fetch {
					if c, ok := w.fileCache.global[pid]; ok {
						counts[pid] = c
					}
				}
			} else {
				if w.fileScan == nil {
					pids := append([]int32(nil), fetch...)
					w.fileScan = startScan(func() (map[int32]int, error) {
						return w.targetedFileCounts(pids)
					})
				}
				if res, done := w.fileScan.poll(); done {
					w.fileScan = nil
					for pid, c := range res.counts {
						counts[pid] = c
					}
				}
			}
		} else {
			res := make([]int, len(fetch))
			resOK := make([]bool, len(fetch))
			w.pool.mapN(len(fetch), func(i int) {
				c, err := w.probe.OpenFileCount(w.ctx, fetch[i])
				if err != nil {
					return
				}
				res[i] = c
				resOK[i] = true
			})
			for i, pid := range fetch {
				if resOK[i] {
					counts[pid] = res[i]
				}
			}
		}
		for _, pid := range fetch {
			c, ok := counts[pid]
			if !ok {
				c, _ = w.fileCache.get(pid)
			}
			w.fileCache.put(pid, c, now)
		}
	}
	for _, e := range cands {
		if _, ok := counts[e.PID]; !ok {
			if c, cached := w.fileCache.get(e.PID); cached {
				counts[e.PID] = c
			}
		}
	}
	return counts
}

func (w *Watcher) targetedFileCounts(pids []int32) (map[int32]int, error) {
	counts := make(map[int32]int, len(pids))
	for _, pid := range pids {
		select {
		case <-w.ctx.Done():
			return counts, nil
		default:
		}
		c, err := w.probe.OpenFileCount(w.ctx, pid)
		if err != nil {
			continue
		}
		counts[pid] = c
	}
	return counts, nil
}

// shouldPauseForLoad skips whole cycles while system CPU stays above the
// configured threshold, then waits out the remaining penalty cycles.
func (w *Watcher) shouldPauseForLoad() bool {
	if w.cfg.Load.Threshold <= 0 {
		return false
	}
	if w.loadSkip > 0 {
		w.loadSkip--
		return true
	}
	load, err := w.probe.SystemCPUPercent(w.ctx)
	if err != nil {
		return false
	}
	if load >= w.cfg.Load.Threshold {
		w.loadSkip = w.cfg.Load.Cycles - 1
		logger.Debugf("pausing for system load %.1f%% (threshold %.1f%%)", load, w.cfg.Load.Threshold)
		return true
	}
	return false
}

// appliedEntry pairs a snapshot with its change verdict for one batch.
type appliedEntry struct {
	snap    *Snapshot
	changed bool
}

// updateAutoBaselines follows the 75th percentile of the batch at alpha 0.3,
// seeding from the first non-empty observation. Callers hold w.mu.
func (w *Watcher) updateAutoBaselines(entries []appliedEntry) {
	cpuVals := make([]float64, 0, len(entries))
	memVals := make([]float64, 0, len(entries))
	ioVals := make([]float64, 0, len(entries))
	for _, ec := range entries {
		cpuVals = append(cpuVals, ec.snap.CPU)
		memVals = append(memVals, ec.snap.Mem)
		ioVals = append(ioVals, ec.snap.IORate)
	}
	const alpha = 0.3
	w.autoCPU = blendBaseline(w.autoCPU, percentile(cpuVals, 0.75), alpha)
	w.autoMem = blendBaseline(w.autoMem, percentile(memVals, 0.75), alpha)
	w.autoIO = blendBaseline(w.autoIO, percentile(ioVals, 0.75), alpha)
}

func (w *Watcher) visibleThresholds() (cpu, mem, io float64) {
	if w.cfg.Visible.Auto {
		return w.autoCPU, w.autoMem, w.autoIO
	}
	return w.cfg.Visible.CPU, w.cfg.Visible.Mem, w.cfg.Visible.IO
}

// emit places u in the single-slot channel, displacing a stale pending
// update when the consumer has fallen behind.
func (w *Watcher) emit(u Update) {
	for {
		select {
		case w.updates <- u:
			return
		default:
		}
		select {
		case <-w.updates:
		default:
		}
	}
}

// ProcessCount returns how many processes the current pass covers.
func (w *Watcher) ProcessCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.processCount
}

// Snapshot returns a copy of the tracked state for pid.
func (w *Watcher) Snapshot(pid int32) (*Snapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.snapshot[pid]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Snapshots returns copies of every tracked process, busiest first.
func (w *Watcher) Snapshots() []*Snapshot {
	w.mu.RLock()
	out := make([]*Snapshot, 0, len(w.snapshot))
	for _, s := range w.snapshot {
		out = append(out, s.Clone())
	}
	w.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].CPU != out[b].CPU {
			return out[a].CPU > out[b].CPU
		}
		if out[a].Mem != out[b].Mem {
			return out[a].Mem > out[b].Mem
		}
		return out[a].PID < out[b].PID
	})
	return out
}

// Stats returns the watcher's current tuning state and activity ratios.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Stats{
		ProcessCount:     w.processCount,
		WorkerCount:      w.pool.Size(),
		Interval:         w.tun.interval.Seconds(),
		DetailInterval:   w.tun.detailEvery.Seconds(),
		BatchSize:        w.tun.batchSize,
		StableCycles:     w.tun.stableCycles,
		ChangeRatio:      w.tun.lastChangeRatio,
		TrendRatio:       w.tun.lastTrendRatio,
		AverageBatchSize: w.tun.averageBatchSize(),
		AverageCycleTime: w.tun.averageCycleTime().Seconds(),
		AverageInterval:  w.tun.averageInterval().Seconds(),
		Throughput:       w.tun.averageThroughput(),
		LastDetailCount:  w.lastDetailCount,
		Paused:           w.paused.Load(),
	}
}

// Interval returns the effective refresh interval.
func (w *Watcher) Interval() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tun.interval
}

// BatchSize returns the effective scan batch size.
func (w *Watcher) BatchSize() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tun.batchSize
}

// Workers returns the probe pool size.
func (w *Watcher) Workers() int {
	return w.pool.Size()
}

// RecentChangeRatio returns the changed share of the last completed pass.
func (w *Watcher) RecentChangeRatio() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tun.lastChangeRatio
}

// RecentTrendRatio returns the trending share of the last completed pass.
func (w *Watcher) RecentTrendRatio() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tun.lastTrendRatio
}

// AverageBatchSize returns the rolling mean batch size.
func (w *Watcher) AverageBatchSize() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tun.averageBatchSize()
}

// AverageCycleTime returns the rolling mean wall time of a full pass.
func (w *Watcher) AverageCycleTime() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tun.averageCycleTime()
}

// AverageInterval returns the rolling mean of the effective interval.
func (w *Watcher) AverageInterval() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tun.averageInterval()
}

// Throughput returns the rolling mean of processes covered per second.
func (w *Watcher) Throughput() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tun.averageThroughput()
}

// SetInterval retargets the refresh interval, clamped to configured bounds.
func (w *Watcher) SetInterval(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tun.setInterval(d)
}

// SetDetailInterval retargets the detail refresh interval.
func (w *Watcher) SetDetailInterval(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tun.setDetailInterval(d)
}

func isSystemUser(user string) bool {
	switch strings.ToLower(user) {
	case "root", "system", "localsystem":
		return true
	}
	return false
}

func containsFold(values []string, v string) bool {
	if len(values) == 0 {
		return false
	}
	v = strings.ToLower(v)
	for _, cand := range values {
		if cand == v {
			return true
		}
	}
	return false
}

// hasPrefixFold reports whether v starts with any of the (pre-lowered)
// prefixes.
func hasPrefixFold(prefixes []string, v string) bool {
	if len(prefixes) == 0 {
		return false
	}
	v = strings.ToLower(v)
	for _, p := range prefixes {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	return false
}

func blendBaseline(old, observed, alpha float64) float64 {
	if old == 0 {
		return observed
	}
	return old*(1-alpha) + observed*alpha
}

// percentile returns the p-quantile of values by rank, zero when empty.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	k := int(float64(len(sorted))*p) - 1
	k = max(0, min(len(sorted)-1, k))
	return sorted[k]
}
