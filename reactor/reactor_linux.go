//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"golang.org/x/sys/unix"
)

const maxEvents = 128

// registration ties a callback to one lifetime of an fd. The generation is
// carried in the epoll event so a stale event for a closed-and-reused fd is
// never delivered to the new owner.
type registration struct {
	gen int32
	cb  FDCallback
}

// epollReactor implements Reactor using Linux epoll and an eventfd for wakeups.
type epollReactor struct {
	epfd    int
	wakefd  int
	nextGen int32
	regs    map[int]registration // loop goroutine only
	events  [maxEvents]unix.EpollEvent
}

// New constructs a new platform-specific Reactor for Linux.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd create: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}
	return &epollReactor{
		epfd:   epfd,
		wakefd: wakefd,
		regs:   make(map[int]registration),
	}, nil
}

func toEpoll(events FDEventType) uint32 {
	var out uint32
	if events&EventRead != 0 {
		out |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	if events&EventHangup != 0 {
		out |= unix.EPOLLRDHUP
	}
	return out
}

func fromEpoll(ev uint32) FDEventType {
	var out FDEventType
	if ev&unix.EPOLLIN != 0 {
		out |= EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if ev&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
		out |= EventHangup
	}
	if ev&unix.EPOLLERR != 0 {
		out |= EventError
	}
	return out
}

// Register adds a file descriptor to the epoll watch list.
func (r *epollReactor) Register(fd int, events FDEventType, cb FDCallback) error {
	if cb == nil {
		return fmt.Errorf("epoll register fd=%d: nil callback", fd)
	}
	r.nextGen++
	reg := registration{gen: r.nextGen, cb: cb}
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd), Pad: reg.gen}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	r.regs[fd] = reg
	return nil
}

// Modify changes the interest set for a registered descriptor.
func (r *epollReactor) Modify(fd int, events FDEventType) error {
	reg, ok := r.regs[fd]
	if !ok {
		return fmt.Errorf("epoll ctl mod fd=%d: not registered", fd)
	}
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd), Pad: reg.gen}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Unregister removes a file descriptor from the epoll watch list.
func (r *epollReactor) Unregister(fd int) error {
	if _, ok := r.regs[fd]; !ok {
		return nil
	}
	delete(r.regs, fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Poll blocks up to timeout and dispatches ready descriptors.
func (r *epollReactor) Poll(timeout time.Duration) error {
	msec := -1
	if timeout >= 0 {
		// Round up so a sub-millisecond deadline does not turn into a busy loop.
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}

	n, err := unix.EpollWait(r.epfd, r.events[:], msec)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("epoll wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := r.events[i]
		fd := int(ev.Fd)
		if fd == r.wakefd {
			r.drainWake()
			continue
		}
		reg, ok := r.regs[fd]
		if !ok || reg.gen != ev.Pad {
			continue
		}
		r.dispatch(reg.cb, fd, fromEpoll(ev.Events))
	}
	return nil
}

// dispatch keeps the loop alive when a callback panics.
func (r *epollReactor) dispatch(cb FDCallback, fd int, events FDEventType) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[reactor] callback panic on fd=%d: %v", fd, p)
		}
	}()
	cb(fd, events)
}

// Wake makes a blocked Poll return.
func (r *epollReactor) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(r.wakefd, buf[:])
	if err == unix.EAGAIN {
		// Counter saturated; a wakeup is already pending.
		return nil
	}
	return err
}

func (r *epollReactor) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close closes the epoll instance and the wake descriptor.
func (r *epollReactor) Close() error {
	r.regs = map[int]registration{}
	werr := unix.Close(r.wakefd)
	if err := unix.Close(r.epfd); err != nil {
		return err
	}
	return werr
}
