// File: server/server.go
// Package server implements the probe aggregator's reactor: one event loop
// goroutine owning the listening socket and every client connection, fed by
// a fan-out coordinator that runs probes off the loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/control"
	"github.com/momentics/hioload-probe/fanout"
	"github.com/momentics/hioload-probe/probe"
	"github.com/momentics/hioload-probe/reactor"
)

// defaultAcceptBackoff is how long accepts pause after a hard accept error.
const defaultAcceptBackoff = 100 * time.Millisecond

// Fanout starts a probe batch and reports its aggregate asynchronously.
type Fanout interface {
	Run(ctx context.Context, req probe.Request, batchSize int, done func(fanout.AggregateResult)) error
}

// Server is the reactor facade: listener, event loop, per-connection handlers
// and lifecycle.
type Server struct {
	cfg     *control.Config
	fanout  Fanout
	metrics *control.Metrics
	logger  *log.Logger

	newReactor func() (reactor.Reactor, error)
	accept     func(lnfd int) (int, *net.TCPAddr, error)

	r    reactor.Reactor
	lnfd int
	addr *net.TCPAddr

	// mailbox carries continuations from other goroutines to the loop.
	mu           sync.Mutex
	mailbox      *queue.Queue
	stopped      bool
	shutdownOnce sync.Once

	// Owned by the loop goroutine.
	conns    map[int]*conn
	pinned   bool
	draining bool

	acceptBackoff  time.Duration
	acceptResumeAt time.Time
	graceAt  time.Time
	hardAt   time.Time

	running atomic.Bool
	active  atomic.Int64
	dropped atomic.Int64
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a Server. cfg must already be validated.
func New(cfg *control.Config, f Fanout, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:           cfg,
		fanout:        f,
		logger:        log.Default(),
		newReactor:    reactor.New,
		accept:        reactor.Accept,
		lnfd:          -1,
		acceptBackoff: defaultAcceptBackoff,
		mailbox:       queue.New(),
		conns:         make(map[int]*conn),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = control.NewMetrics()
	}
	return s
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() *net.TCPAddr {
	return s.addr
}

// ActiveConnections returns the number of open client connections.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// DroppedResponses returns how many results arrived for already-closed connections.
func (s *Server) DroppedResponses() int64 {
	return s.dropped.Load()
}

// Done is closed once Run has returned and all descriptors are released.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// RegisterDebugProbes publishes server state through dp.
func (s *Server) RegisterDebugProbes(dp api.Debug) {
	dp.RegisterProbe("server.connections", func() any { return s.ActiveConnections() })
	dp.RegisterProbe("server.dropped_responses", func() any { return s.DroppedResponses() })
	dp.RegisterProbe("server.listen_addr", func() any {
		if a := s.Addr(); a != nil {
			return a.String()
		}
		return ""
	})
}
