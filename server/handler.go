// File: server/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection handler: greeting, fan-out, response, close. Every method
// runs on the loop goroutine; results from the fan-out re-enter via Post.

package server

import (
	"errors"
	"net"
	"time"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/fanout"
	"github.com/momentics/hioload-probe/probe"
	"github.com/momentics/hioload-probe/protocol"
	"github.com/momentics/hioload-probe/reactor"
)

// connState is the lifecycle of one client connection.
type connState int

const (
	stateAccepted connState = iota
	stateGreetingSent
	stateAggregating
	stateResponding
	stateClosed
)

func (st connState) String() string {
	switch st {
	case stateAccepted:
		return "accepted"
	case stateGreetingSent:
		return "greeting_sent"
	case stateAggregating:
		return "aggregating"
	case stateResponding:
		return "responding"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type conn struct {
	srv      *Server
	fd       int
	peer     *net.TCPAddr
	out      []byte
	state    connState
	interest reactor.FDEventType
	accepted time.Time
}

func newConn(s *Server, fd int, peer *net.TCPAddr) *conn {
	return &conn{
		srv:      s,
		fd:       fd,
		peer:     peer,
		state:    stateAccepted,
		accepted: time.Now(),
	}
}

// start queues the greeting and tries to write it right away.
func (c *conn) start() {
	c.out = append(c.out, protocol.Greeting...)
	c.flush()
}

// onEvent is the reactor callback. Reads are never enabled, so only write
// readiness, hangup and error arrive here.
func (c *conn) onEvent(_ int, ev reactor.FDEventType) {
	if c.state == stateClosed {
		return
	}
	if ev&reactor.EventError != 0 {
		c.fail(api.WrapError(api.ErrCodeConnectionIO, "connection error", reactor.SocketError(c.fd)))
		return
	}
	if ev&reactor.EventHangup != 0 {
		c.srv.logger.Printf("[server] connection closed by %s (state=%s)", c.peer, c.state)
		c.close("eof")
		return
	}
	if ev&reactor.EventWrite != 0 && len(c.out) > 0 {
		c.flush()
	}
}

// flush writes until the output buffer is empty or the socket would block.
func (c *conn) flush() {
	for len(c.out) > 0 {
		n, err := reactor.Write(c.fd, c.out)
		if errors.Is(err, reactor.ErrWouldBlock) || (err == nil && n == 0) {
			c.want(reactor.EventWrite | reactor.EventHangup)
			return
		}
		if err != nil {
			c.fail(api.WrapError(api.ErrCodeConnectionIO, "write failed", err))
			return
		}
		c.out = c.out[n:]
	}
	c.out = nil
	if !c.want(reactor.EventHangup) {
		return
	}
	c.onFlushed()
}

// want sets the reactor interest set; false means the connection was closed.
func (c *conn) want(ev reactor.FDEventType) bool {
	if c.interest == ev {
		return true
	}
	if err := c.srv.r.Modify(c.fd, ev); err != nil {
		c.fail(api.WrapError(api.ErrCodeConnectionIO, "update interest", err))
		return false
	}
	c.interest = ev
	return true
}

func (c *conn) onFlushed() {
	switch c.state {
	case stateAccepted:
		c.state = stateGreetingSent
		c.aggregate()
	case stateResponding:
		c.srv.logger.Printf("[server] flushed answer to %s in %s", c.peer, time.Since(c.accepted))
		c.close("flushed")
	}
}

// aggregate starts the fan-out and returns immediately. The completion is
// posted back to the loop.
func (c *conn) aggregate() {
	c.state = stateAggregating
	s := c.srv
	req := probe.Request{URL: s.cfg.TargetURL, Timeout: s.cfg.ProbeTimeout}
	err := s.fanout.Run(s.ctx, req, s.cfg.BatchSize, func(agg fanout.AggregateResult) {
		if err := s.Post(func() { c.deliver(agg) }); err != nil {
			s.dropped.Add(1)
			s.metrics.ResponseDropped()
			s.logger.Printf("[server] discarding result for %s: %v", c.peer, err)
		}
	})
	if err != nil {
		c.fail(err)
	}
}

// deliver encodes the aggregate and starts writing it. A connection that
// closed in the meantime just drops the result.
func (c *conn) deliver(agg fanout.AggregateResult) {
	if c.state != stateAggregating {
		c.srv.dropped.Add(1)
		c.srv.metrics.ResponseDropped()
		c.srv.logger.Printf("[server] discarding result for %s (state=%s)", c.peer, c.state)
		return
	}
	out, err := protocol.AppendTimeouts(c.out, agg.Results)
	if err != nil {
		c.fail(err)
		return
	}
	c.srv.logger.Printf("[server] batch for %s done: %s", c.peer, agg.Summary())
	c.out = out
	c.state = stateResponding
	c.flush()
}

func (c *conn) fail(err error) {
	c.srv.logger.Printf("[server] got an error on the connection %s: %v", c.peer, err)
	c.close("error")
}

// close releases the descriptor. Terminal and idempotent.
func (c *conn) close(reason string) {
	if c.state == stateClosed {
		return
	}
	c.state = stateClosed
	c.out = nil
	s := c.srv
	delete(s.conns, c.fd)
	if err := s.r.Unregister(c.fd); err != nil {
		s.logger.Printf("[server] unregister %s: %v", c.peer, err)
	}
	// Drop unread client input and send FIN first, so the peer sees a clean
	// EOF after the answer rather than a reset.
	_, _ = reactor.Discard(c.fd)
	_ = reactor.ShutdownWrite(c.fd)
	if err := reactor.CloseFD(c.fd); err != nil {
		s.logger.Printf("[server] close %s: %v", c.peer, err)
	}
	s.active.Add(-1)
	s.metrics.ConnClosed(reason)
}
