package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"procwatch/pkg/logger"
	"procwatch/pkg/monitoring"
	"procwatch/pkg/watcher"

	"github.com/google/uuid"
)

// subscriberBuffer bounds how many frames a slow stream consumer may fall
// behind before frames are dropped for it.
const subscriberBuffer = 16

// StreamFrame is one fan-out message: the batch delta plus scan progress.
type StreamFrame struct {
	Timestamp time.Time           `json:"timestamp"`
	Progress  float64             `json:"progress"`
	Updates   []*watcher.Snapshot `json:"updates"`
	Removed   []int32             `json:"removed,omitempty"`
}

// MonitorService consumes the watcher's update stream, maintains the latest
// process table and fans batch deltas out to stream subscribers.
type MonitorService struct {
	watcher *watcher.Watcher
	history *monitoring.Recorder

	mu          sync.RWMutex
	processes   map[int32]*watcher.Snapshot
	subscribers map[string]chan StreamFrame
	lastUpdate  time.Time

	wg sync.WaitGroup
}

// NewMonitorService creates a monitor service over a configured watcher.
func NewMonitorService(w *watcher.Watcher) *MonitorService {
	return &MonitorService{
		watcher:     w,
		history:     monitoring.NewRecorder(monitoring.DefaultCapacity),
		processes:   make(map[int32]*watcher.Snapshot),
		subscribers: make(map[string]chan StreamFrame),
	}
}

// Start begins consuming watcher updates until the context is canceled.
func (s *MonitorService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.consume(ctx)
}

// Wait blocks until the consume loop exits.
func (s *MonitorService) Wait() {
	s.wg.Wait()
}

func (s *MonitorService) consume(ctx context.Context) {
	defer s.wg.Done()

	updates := s.watcher.Updates()
	for {
		select {
		case <-ctx.Done():
			s.closeSubscribers()
			return
		case u := <-updates:
			s.apply(u)
		}
	}
}

// apply folds one batch delta into the table and broadcasts it. The watcher
// emits clones, so entries can be shared with subscribers as-is. Sends happen
// under the same lock that guards Subscribe/Unsubscribe; they never block, so
// a closed subscriber channel can never be written.
func (s *MonitorService) apply(u watcher.Update) {
	frame := StreamFrame{
		Timestamp: time.Now(),
		Progress:  u.Progress,
		Updates:   make([]*watcher.Snapshot, 0, len(u.Updates)),
		Removed:   u.Removed,
	}
	for _, snap := range u.Updates {
		frame.Updates = append(frame.Updates, snap)
	}
	sort.Slice(frame.Updates, func(i, j int) bool {
		return frame.Updates[i].PID < frame.Updates[j].PID
	})

	// A full pass just finished; record it in the bounded history.
	if u.Progress >= 1 {
		st := s.watcher.Stats()
		s.history.Record(monitoring.PassPoint{
			Timestamp:       frame.Timestamp,
			ProcessCount:    st.ProcessCount,
			WorkerCount:     st.WorkerCount,
			BatchSize:       st.BatchSize,
			IntervalSeconds: st.Interval,
			CycleSeconds:    st.AverageCycleTime,
			ChangeRatio:     st.ChangeRatio,
			TrendRatio:      st.TrendRatio,
			Throughput:      st.Throughput,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range frame.Updates {
		s.processes[snap.PID] = snap
	}
	for _, pid := range u.Removed {
		delete(s.processes, pid)
	}
	s.lastUpdate = frame.Timestamp
	for id, ch := range s.subscribers {
		select {
		case ch <- frame:
		default:
			logger.Debugf("stream subscriber %s lagging, dropping frame", id)
		}
	}
}

// Processes returns the current table sorted by average CPU, then memory.
// A positive limit truncates the result.
func (s *MonitorService) Processes(limit int) []*watcher.Snapshot {
	s.mu.RLock()
	list := make([]*watcher.Snapshot, 0, len(s.processes))
	for _, snap := range s.processes {
		list = append(list, snap)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.AvgCPU() != b.AvgCPU() {
			return a.AvgCPU() > b.AvgCPU()
		}
		if a.Mem != b.Mem {
			return a.Mem > b.Mem
		}
		return a.PID < b.PID
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// Process returns the latest snapshot for one PID.
func (s *MonitorService) Process(pid int32) (*watcher.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.processes[pid]
	return snap, ok
}

// LastUpdate returns when the table last absorbed a batch.
func (s *MonitorService) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Stats reports the watcher's runtime behavior.
func (s *MonitorService) Stats() watcher.Stats {
	return s.watcher.Stats()
}

// History returns up to limit recent pass points, oldest first.
func (s *MonitorService) History(limit int) []monitoring.PassPoint {
	return s.history.Recent(limit)
}

// Summary aggregates the pass history over the trailing span.
func (s *MonitorService) Summary(span time.Duration) monitoring.WindowSummary {
	return s.history.Window(span)
}

// Pause suspends sampling at the next cycle boundary.
func (s *MonitorService) Pause() {
	s.watcher.Pause()
	logger.Infof("sampling paused")
}

// Resume lifts a pause.
func (s *MonitorService) Resume() {
	s.watcher.Resume()
	logger.Infof("sampling resumed")
}

// Paused reports whether sampling is suspended.
func (s *MonitorService) Paused() bool {
	return s.watcher.Paused()
}

// SetInterval retargets the sampling interval.
func (s *MonitorService) SetInterval(d time.Duration) {
	s.watcher.SetInterval(d)
}

// Subscribe registers a stream consumer and returns its id and channel.
// The channel is closed when the service shuts down.
func (s *MonitorService) Subscribe() (string, <-chan StreamFrame) {
	id := uuid.New().String()
	ch := make(chan StreamFrame, subscriberBuffer)

	s.mu.Lock()
	s.subscribers[id] = ch
	count := len(s.subscribers)
	s.mu.Unlock()

	logger.Debugf("stream subscriber %s registered (%d active)", id, count)
	return id, ch
}

// Unsubscribe removes a stream consumer. Safe to call twice.
func (s *MonitorService) Unsubscribe(id string) {
	s.mu.Lock()
	ch, ok := s.subscribers[id]
	if ok {
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	if ok {
		close(ch)
		logger.Debugf("stream subscriber %s removed", id)
	}
}

func (s *MonitorService) closeSubscribers() {
	s.mu.Lock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()
}
