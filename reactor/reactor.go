// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface.

package reactor

import (
	"errors"
	"strings"
	"time"
)

// ErrWouldBlock is returned by socket calls that would block (EAGAIN).
var ErrWouldBlock = errors.New("reactor: operation would block")

// FDEventType is a bit set of readiness conditions.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	// EventHangup covers peer close (RDHUP) and full hangup (HUP).
	EventHangup
	EventError
)

// String renders the set as "read|write|...".
func (e FDEventType) String() string {
	var parts []string
	if e&EventRead != 0 {
		parts = append(parts, "read")
	}
	if e&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if e&EventHangup != 0 {
		parts = append(parts, "hangup")
	}
	if e&EventError != 0 {
		parts = append(parts, "error")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// FDCallback receives the ready events for fd.
type FDCallback func(fd int, events FDEventType)

// Reactor is a single-threaded readiness multiplexer. Register, Modify,
// Unregister and Poll must be called from the loop goroutine; Wake may be
// called from anywhere.
type Reactor interface {
	// Register adds fd with the given interest. Hangup and error conditions
	// are always reported.
	Register(fd int, events FDEventType, cb FDCallback) error
	// Modify replaces the interest set of a registered fd.
	Modify(fd int, events FDEventType) error
	// Unregister removes fd; pending events for it are dropped.
	Unregister(fd int) error
	// Poll waits up to timeout (negative blocks) and dispatches callbacks.
	// It returns early when Wake is called.
	Poll(timeout time.Duration) error
	// Wake interrupts a blocked Poll.
	Wake() error
	// Close releases the reactor's descriptors.
	Close() error
}
