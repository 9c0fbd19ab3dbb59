package scheduler

import "sync/atomic"

// bufferCounter counts the buffers of one priming of a session that are
// scheduled on the node and not yet completed. It is shared between the
// work queue and the node's completion callbacks.
type bufferCounter struct {
	n atomic.Int64
	// finished is set once the end of the track or loop pass has been
	// handled for this counter.
	finished atomic.Bool
}

func (c *bufferCounter) increment() int64 { return c.n.Add(1) }

// decrement lowers the count unless it is already zero and returns the
// new value.
func (c *bufferCounter) decrement() int64 {
	for {
		v := c.n.Load()
		if v == 0 {
			return 0
		}
		if c.n.CompareAndSwap(v, v-1) {
			return v - 1
		}
	}
}

func (c *bufferCounter) load() int64 { return c.n.Load() }

// finish reports whether the caller is the first to finish the counter.
func (c *bufferCounter) finish() bool { return c.finished.CompareAndSwap(false, true) }
