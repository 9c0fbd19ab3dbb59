package workqueue

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, c chan struct{}) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for task")
	}
}

func TestTasksRunInOrder(t *testing.T) {
	q := New(nil)
	defer q.Close()

	var got []int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		q.Add(func() { got = append(got, i) })
	}
	q.Add(func() { close(done) })
	waitFor(t, done)

	for i, v := range got {
		if v != i {
			t.Fatalf("task order = %v", got)
		}
	}
	if len(got) != 10 {
		t.Fatalf("ran %d tasks, want 10", len(got))
	}
}

func TestTasksDoNotOverlap(t *testing.T) {
	q := New(nil)
	defer q.Close()

	var active, maxActive atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		q.Add(func() {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		})
	}
	q.Add(func() { close(done) })
	waitFor(t, done)

	if maxActive.Load() != 1 {
		t.Errorf("max concurrent tasks = %d, want 1", maxActive.Load())
	}
}

func TestCancelAndWaitDropsPendingAndWaitsForRunning(t *testing.T) {
	q := New(nil)
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var finished, dropped atomic.Bool
	q.Add(func() {
		close(started)
		<-release
		finished.Store(true)
	})
	q.Add(func() { dropped.Store(true) })
	waitFor(t, started)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	q.CancelAndWait()

	if !finished.Load() {
		t.Error("CancelAndWait returned before the running task finished")
	}

	// The queue keeps working afterwards.
	done := make(chan struct{})
	q.Add(func() { close(done) })
	waitFor(t, done)
	if dropped.Load() {
		t.Error("pending task ran after cancel")
	}
}

func TestCancelFromTask(t *testing.T) {
	q := New(nil)
	defer q.Close()

	var ran atomic.Bool
	gate := make(chan struct{})
	done := make(chan struct{})
	q.Add(func() {
		<-gate
		if n := q.Cancel(); n != 1 {
			t.Errorf("cancelled %d tasks, want 1", n)
		}
		close(done)
	})
	q.Add(func() { ran.Store(true) })
	close(gate)
	waitFor(t, done)

	flushed := make(chan struct{})
	q.Add(func() { close(flushed) })
	waitFor(t, flushed)
	if ran.Load() {
		t.Error("cancelled task ran")
	}
}

func TestPanickingTaskDoesNotStopQueue(t *testing.T) {
	q := New(nil)
	defer q.Close()

	q.Add(func() { panic("boom") })
	done := make(chan struct{})
	q.Add(func() { close(done) })
	waitFor(t, done)
}

func TestAddAfterClose(t *testing.T) {
	q := New(nil)
	q.Close()
	q.Close()
	if q.Add(func() {}) {
		t.Error("Add succeeded on a closed queue")
	}
}

func TestWaitIdle(t *testing.T) {
	q := New(nil)
	defer q.Close()

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		q.Add(func() {
			time.Sleep(time.Millisecond)
			if count.Add(1) == 5 {
				// Tasks added by tasks are waited for too.
				q.Add(func() { count.Add(1) })
			}
		})
	}
	q.WaitIdle()
	if got := count.Load(); got != 6 {
		t.Errorf("ran %d tasks before idle, want 6", got)
	}
}
