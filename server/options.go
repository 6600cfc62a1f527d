// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log"

	"github.com/momentics/hioload-probe/control"
	"github.com/momentics/hioload-probe/reactor"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithMetrics records connection telemetry into m.
func WithMetrics(m *control.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReactorFactory overrides how the event reactor is created.
func WithReactorFactory(fn func() (reactor.Reactor, error)) ServerOption {
	return func(s *Server) {
		if fn != nil {
			s.newReactor = fn
		}
	}
}
