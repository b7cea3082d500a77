package watcher

import "sync"

// pool runs short probe tasks on a fixed set of workers. Resize swaps in a
// fresh queue and worker set; tasks still queued on the old generation are
// discarded, never drained. Stop behaves like a resize to nothing.
type pool struct {
	mu      sync.Mutex
	size    int
	tasks   chan func()
	quit    chan struct{}
	stopped bool
}

func newPool(size int) *pool {
	p := &pool{}
	p.mu.Lock()
	p.spawn(size)
	p.mu.Unlock()
	return p
}

// spawn starts a worker generation. Callers hold p.mu.
func (p *pool) spawn(size int) {
	if size < 1 {
		size = 1
	}
	p.size = size
	p.tasks = make(chan func(), size)
	p.quit = make(chan struct{})
	for i := 0; i < size; i++ {
		go worker(p.tasks, p.quit)
	}
}

func worker(tasks <-chan func(), quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case task := <-tasks:
			task()
		}
	}
}

// Size returns the current worker count.
func (p *pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Resize replaces the workers and the queue when n differs from the current
// size. Queued tasks from the old generation are dropped.
func (p *pool) Resize(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || n == p.size {
		return
	}
	close(p.quit)
	p.spawn(n)
}

// Stop shuts the pool down without draining outstanding work.
func (p *pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.quit)
}

// submit queues task, blocking while the queue is full. It reports false
// once the pool has stopped.
func (p *pool) submit(task func()) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	tasks, quit := p.tasks, p.quit
	p.mu.Unlock()
	select {
	case tasks <- task:
		return true
	case <-quit:
		return false
	}
}

// mapN runs fn for each index in [0, n) across the workers and waits for all
// of them. Indices rejected by a stopped pool are skipped.
func (p *pool) mapN(n int, fn func(int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		idx := i
		if !p.submit(func() {
			defer wg.Done()
			fn(idx)
		}) {
			wg.Done()
		}
	}
	wg.Wait()
}
