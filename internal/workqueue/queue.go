// Package workqueue runs tasks one at a time, in the order they were added,
// on a dedicated goroutine.
package workqueue

import (
	"log/slog"
	"sync"
)

type Queue struct {
	log *slog.Logger

	mu      sync.Mutex
	tasks   []func()
	running bool
	closed  bool
	// notEmpty is signalled when a task is added or the queue closes.
	notEmpty *sync.Cond
	// idle is broadcast when the running task returns.
	idle *sync.Cond
	done chan struct{}
}

func New(log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{
		log:  log,
		done: make(chan struct{}),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Add enqueues fn. It returns false if the queue is closed.
func (q *Queue) Add(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.notEmpty.Signal()
	return true
}

// Len is the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Cancel drops every task that has not started. It is safe to call from a
// running task.
func (q *Queue) Cancel() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelLocked()
}

func (q *Queue) cancelLocked() int {
	n := len(q.tasks)
	clear(q.tasks)
	q.tasks = q.tasks[:0]
	q.idle.Broadcast()
	return n
}

// WaitIdle waits until no task is pending or running, including tasks
// added while waiting.
func (q *Queue) WaitIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for (len(q.tasks) > 0 && !q.closed) || q.running {
		q.idle.Wait()
	}
}

// CancelAndWait drops every task that has not started and waits for the
// running task, if any, to return. Calling it from a task deadlocks.
func (q *Queue) CancelAndWait() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := q.cancelLocked(); n > 0 {
		q.log.Debug("work queue cancelled pending tasks", "count", n)
	}
	for q.running {
		q.idle.Wait()
	}
}

// Close cancels pending tasks, waits for the running one and stops the
// worker goroutine.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cancelLocked()
	q.notEmpty.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)

	q.mu.Lock()
	for {
		for len(q.tasks) == 0 && !q.closed {
			q.notEmpty.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}

		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.running = true
		q.mu.Unlock()

		q.exec(fn)

		q.mu.Lock()
		q.running = false
		q.idle.Broadcast()
	}
}

func (q *Queue) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("work queue task panicked", "panic", r)
		}
	}()
	fn()
}
