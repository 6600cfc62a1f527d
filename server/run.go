// File: server/run.go
// Package server implements the core server startup, reactor loop, connection acceptor,
// and graceful shutdown.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-probe/affinity"
	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/reactor"
)

// Start binds and listens on bindAddress:port (IPv4). It returns an
// api.ErrCodeBind error when the address cannot be bound.
func (s *Server) Start(bindAddress string, port int) error {
	if s.r != nil {
		return api.ErrAlreadyRunning
	}
	r, err := s.newReactor()
	if err != nil {
		return fmt.Errorf("create reactor: %w", err)
	}
	fd, addr, err := reactor.Listen(bindAddress, port, s.cfg.Backlog)
	if err != nil {
		r.Close()
		return api.NewBindError(net.JoinHostPort(bindAddress, strconv.Itoa(port)), err)
	}
	if err := r.Register(fd, reactor.EventRead, s.onAccept); err != nil {
		reactor.CloseFD(fd)
		r.Close()
		return fmt.Errorf("register listener: %w", err)
	}
	s.mu.Lock()
	s.r, s.lnfd, s.addr = r, fd, addr
	s.mu.Unlock()
	s.logger.Printf("[server] listening on %s", addr)
	return nil
}

// Run drives the event loop on the calling goroutine, locked to its OS
// thread, until a requested shutdown has completed.
func (s *Server) Run() error {
	if s.r == nil {
		return api.ErrNotStarted
	}
	if !s.running.CompareAndSwap(false, true) {
		return api.ErrAlreadyRunning
	}
	runtime.LockOSThread()
	defer func() {
		// A pinned thread is not handed back to the scheduler; it exits with
		// this goroutine.
		if !s.pinned {
			runtime.UnlockOSThread()
		}
	}()
	defer s.teardown()
	if s.cfg.LoopCPU >= 0 {
		if err := affinity.SetAffinity(s.cfg.LoopCPU); err != nil {
			s.logger.Printf("[server] loop stays unpinned: %v", err)
		} else {
			s.pinned = true
			s.logger.Printf("[server] event loop pinned to cpu %d", s.cfg.LoopCPU)
		}
	}

	for {
		if err := s.r.Poll(s.pollTimeout(time.Now())); err != nil {
			return err
		}
		s.drainMailbox()
		s.maybeResumeAccept(time.Now())
		if s.shouldExit(time.Now()) {
			return nil
		}
	}
}

// RequestShutdown stops accepting new connections and schedules loop exit
// after the grace delay. Safe from any goroutine; repeated calls are no-ops.
func (s *Server) RequestShutdown() {
	s.shutdownOnce.Do(func() {
		if err := s.Post(s.beginShutdown); err != nil {
			s.logger.Printf("[server] shutdown request ignored: %v", err)
		}
	})
}

// Post queues fn to run on the loop goroutine and wakes the loop. It fails
// with api.ErrShutdownRequested once the loop has stopped.
func (s *Server) Post(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return api.ErrShutdownRequested
	}
	s.mailbox.Add(fn)
	if s.r == nil {
		return nil
	}
	return s.r.Wake()
}

func (s *Server) drainMailbox() {
	s.mu.Lock()
	n := s.mailbox.Length()
	if n == 0 {
		s.mu.Unlock()
		return
	}
	fns := make([]func(), 0, n)
	for s.mailbox.Length() > 0 {
		fns = append(fns, s.mailbox.Remove().(func()))
	}
	s.mu.Unlock()

	for _, fn := range fns {
		s.runPosted(fn)
	}
}

func (s *Server) runPosted(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Printf("[server] posted task panic: %v", p)
		}
	}()
	fn()
}

// beginShutdown runs on the loop.
func (s *Server) beginShutdown() {
	if s.draining {
		return
	}
	s.draining = true
	s.graceAt = time.Now().Add(s.cfg.GraceDelay)
	s.hardAt = s.graceAt.Add(s.cfg.DrainTimeout)
	s.closeListener()
	s.logger.Printf("[server] caught an interrupt signal; exiting cleanly in %s (open connections: %d)",
		s.cfg.GraceDelay, len(s.conns))
}

func (s *Server) closeListener() {
	if s.lnfd < 0 {
		return
	}
	if err := s.r.Unregister(s.lnfd); err != nil {
		s.logger.Printf("[server] unregister listener: %v", err)
	}
	if err := reactor.CloseFD(s.lnfd); err != nil {
		s.logger.Printf("[server] close listener: %v", err)
	}
	s.lnfd = -1
}

func (s *Server) pollTimeout(now time.Time) time.Duration {
	d := s.drainTimeout(now)
	if s.lnfd >= 0 && !s.acceptResumeAt.IsZero() {
		wait := s.acceptResumeAt.Sub(now)
		if wait < 0 {
			wait = 0
		}
		if d < 0 || wait < d {
			d = wait
		}
	}
	return d
}

func (s *Server) drainTimeout(now time.Time) time.Duration {
	switch {
	case !s.draining:
		return -1
	case now.Before(s.graceAt):
		return s.graceAt.Sub(now)
	case len(s.conns) > 0 && now.Before(s.hardAt):
		return s.hardAt.Sub(now)
	default:
		return 0
	}
}

// pauseAccept drops read interest on the listener after a hard accept error
// (EMFILE, ENFILE, ENOBUFS). The listener stays readable under level-triggered
// epoll, so without the pause the loop would spin on the same error.
func (s *Server) pauseAccept(now time.Time, err error) {
	s.logger.Printf("[server] accept: %v; pausing accepts for %s", err, s.acceptBackoff)
	if err := s.r.Modify(s.lnfd, 0); err != nil {
		s.logger.Printf("[server] pause listener: %v", err)
	}
	s.acceptResumeAt = now.Add(s.acceptBackoff)
}

func (s *Server) maybeResumeAccept(now time.Time) {
	if s.acceptResumeAt.IsZero() || now.Before(s.acceptResumeAt) {
		return
	}
	s.acceptResumeAt = time.Time{}
	if s.lnfd < 0 {
		return
	}
	if err := s.r.Modify(s.lnfd, reactor.EventRead); err != nil {
		s.logger.Printf("[server] resume listener: %v", err)
	}
}

// shouldExit: the grace delay has elapsed and either every connection is
// gone or the drain limit has passed too.
func (s *Server) shouldExit(now time.Time) bool {
	if !s.draining || now.Before(s.graceAt) {
		return false
	}
	return len(s.conns) == 0 || !now.Before(s.hardAt)
}

func (s *Server) teardown() {
	s.mu.Lock()
	s.stopped = true
	s.mailbox = queue.New()
	s.mu.Unlock()

	if n := len(s.conns); n > 0 {
		s.logger.Printf("[server] drain limit reached, closing %d connections", n)
	}
	for _, c := range s.conns {
		c.close("shutdown")
	}
	s.closeListener()
	if err := s.r.Close(); err != nil {
		s.logger.Printf("[server] close reactor: %v", err)
	}
	s.cancel()
	close(s.done)
}

// onAccept drains the accept queue; it runs on the loop.
func (s *Server) onAccept(lnfd int, _ reactor.FDEventType) {
	for {
		fd, peer, err := s.accept(lnfd)
		if errors.Is(err, reactor.ErrWouldBlock) {
			return
		}
		if err != nil {
			s.pauseAccept(time.Now(), err)
			return
		}
		c := newConn(s, fd, peer)
		// Write interest first: the greeting goes out as soon as the socket is writable.
		if err := s.r.Register(fd, reactor.EventWrite|reactor.EventHangup, c.onEvent); err != nil {
			s.logger.Printf("[server] register connection %s: %v", peer, err)
			reactor.CloseFD(fd)
			continue
		}
		c.interest = reactor.EventWrite | reactor.EventHangup
		s.conns[fd] = c
		s.active.Add(1)
		s.metrics.ConnAccepted()
		s.logger.Printf("[server] accepted connection from %s", peer)
		c.start()
	}
}
