// File: internal/concurrency/executor.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across a fixed set of worker goroutines fed from a
// single FIFO backlog. The backlog is unbounded so a submitted task is never
// dropped while the executor is open; concurrency is bounded by the worker count.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-probe/api"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Executor manages a pool of worker goroutines.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog *queue.Queue // of TaskFunc, guarded by mu
	closed  bool
	wg      sync.WaitGroup

	numWorkers int
	busy       atomic.Int64

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	panics         atomic.Int64
}

var _ api.Executor = (*Executor)(nil)

// NewExecutor creates a new Executor with the given number of workers.
// If numWorkers <= 0, defaults to runtime.NumCPU().
func NewExecutor(numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		backlog:    queue.New(),
		numWorkers: numWorkers,
	}
	e.cond = sync.NewCond(&e.mu)
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.worker()
	}
	return e
}

// Submit enqueues a task, returning api.ErrExecutorClosed once Close was called.
func (e *Executor) Submit(task func()) error {
	if task == nil {
		return api.ErrInvalidArgument
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return api.ErrExecutorClosed
	}
	e.backlog.Add(TaskFunc(task))
	e.totalTasks.Add(1)
	e.mu.Unlock()
	e.cond.Signal()
	return nil
}

// Close stops accepting tasks, lets workers drain the backlog and waits for them.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
	e.wg.Wait()
}

// NumWorkers returns the number of worker goroutines.
func (e *Executor) NumWorkers() int {
	return e.numWorkers
}

// Pending returns the number of tasks waiting in the backlog.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backlog.Length()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total := e.totalTasks.Load()
	completed := e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": completed,
		"pending_tasks":   total - completed,
		"busy_workers":    e.busy.Load(),
		"num_workers":     int64(e.numWorkers),
		"panics":          e.panics.Load(),
	}
}

// next blocks until a task is available or the executor is closed and drained.
func (e *Executor) next() (TaskFunc, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.backlog.Length() == 0 {
		if e.closed {
			return nil, false
		}
		e.cond.Wait()
	}
	return e.backlog.Remove().(TaskFunc), true
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		task, ok := e.next()
		if !ok {
			return
		}
		e.safeExecute(task)
	}
}

// safeExecute runs the task and updates statistics, recovering from panics.
func (e *Executor) safeExecute(task TaskFunc) {
	e.busy.Add(1)
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
		}
		e.busy.Add(-1)
		e.completedTasks.Add(1)
	}()
	task()
}
