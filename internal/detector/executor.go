package detector

import "sync"

// Executor runs submitted functions one at a time on a single goroutine,
// in submission order. Detectors whose native library is not safe for
// concurrent use hand their work to one.
type Executor struct {
	mu     sync.Mutex
	jobs   chan func()
	closed bool
	done   chan struct{}
}

// NewExecutor starts an executor that queues at most queue pending jobs.
func NewExecutor(queue int) *Executor {
	if queue < 1 {
		queue = 1
	}
	e := &Executor{
		jobs: make(chan func(), queue),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.done)
	for job := range e.jobs {
		job()
	}
}

// Submit enqueues fn without blocking. It returns false when the queue is
// full or the executor is closed.
func (e *Executor) Submit(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	select {
	case e.jobs <- fn:
		return true
	default:
		return false
	}
}

// Close stops accepting work, runs what is already queued and waits for the
// goroutine to exit.
func (e *Executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.jobs)
	}
	e.mu.Unlock()

	<-e.done
}
