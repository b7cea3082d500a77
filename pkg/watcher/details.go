package watcher

import "time"

// detailCache holds per-process expensive counts (open files or connections)
// together with the result of the last whole-system scan. Entries served
// within refresh keep their cached value; prune drops anything older than
// the TTL. Only the cycle goroutine touches a detailCache.
type detailCache struct {
	refresh time.Duration
	ttl     time.Duration

	entries  map[int32]detailEntry
	global   map[int32]int
	globalTS time.Time
}

type detailEntry struct {
	count int
	ts    time.Time
}

func newDetailCache(refresh, ttl time.Duration) *detailCache {
	return &detailCache{
		refresh: refresh,
		ttl:     ttl,
		entries: make(map[int32]detailEntry),
		global:  make(map[int32]int),
	}
}

// fresh reports whether the cached count for pid is recent enough to reuse.
func (c *detailCache) fresh(pid int32, now time.Time) bool {
	e, ok := c.entries[pid]
	return ok && now.Sub(e.ts) < c.refresh
}

// get returns the cached count regardless of age.
func (c *detailCache) get(pid int32) (int, bool) {
	e, ok := c.entries[pid]
	return e.count, ok
}

func (c *detailCache) put(pid int32, count int, now time.Time) {
	c.entries[pid] = detailEntry{count: count, ts: now}
}

// setGlobal replaces the whole-system scan result.
func (c *detailCache) setGlobal(counts map[int32]int, now time.Time) {
	c.global = counts
	c.globalTS = now
}

// globalStale reports whether a new whole-system scan is due.
func (c *detailCache) globalStale(now time.Time) bool {
	return len(c.global) == 0 || now.Sub(c.globalTS) > c.refresh
}

// prune evicts entries older than the TTL and expires the global scan data.
func (c *detailCache) prune(now time.Time) {
	for pid, e := range c.entries {
		if now.Sub(e.ts) > c.ttl {
			delete(c.entries, pid)
		}
	}
	if len(c.global) > 0 && now.Sub(c.globalTS) > c.ttl {
		c.global = make(map[int32]int)
	}
}

func (c *detailCache) forget(pid int32) {
	delete(c.entries, pid)
}

// pendingScan is one in-flight asynchronous count scan. At most one scan per
// kind runs at a time; results are polled at batch boundaries and may land a
// cycle after being started.
type pendingScan struct {
	done chan scanResult
}

type scanResult struct {
	counts map[int32]int
	err    error
}

func startScan(run func() (map[int32]int, error)) *pendingScan {
	p := &pendingScan{done: make(chan scanResult, 1)}
	go func() {
		counts, err := run()
		p.done <- scanResult{counts: counts, err: err}
	}()
	return p
}

// poll returns the scan result without blocking. ok is false while the scan
// is still running.
func (p *pendingScan) poll() (scanResult, bool) {
	select {
	case res := <-p.done:
		return res, true
	default:
		return scanResult{}, false
	}
}
