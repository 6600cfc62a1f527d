// Package api
// Author: momentics
//
// Executor contract for the probe worker pool.

package api

// Executor runs tasks off the event loop.
type Executor interface {
	// Submit schedules task for execution. It fails once the executor is closed.
	Submit(task func()) error

	// NumWorkers returns the number of worker goroutines.
	NumWorkers() int

	// Pending returns the number of queued tasks not yet picked up.
	Pending() int

	// Stats reports task counters.
	Stats() map[string]int64
}
