// control/http.go
// Author: momentics <momentics@gmail.com>
//
// Control HTTP surface: Prometheus scrape endpoint plus JSON debug views.

package control

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewRouter wires the control endpoints. Any argument may be nil, in which
// case its endpoints are not registered.
func NewRouter(m *Metrics, dp *DebugProbes, cs *ConfigStore) *mux.Router {
	r := mux.NewRouter()
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
		r.HandleFunc("/debug/batch", func(w http.ResponseWriter, _ *http.Request) {
			s, at := m.LastBatch()
			writeJSON(w, map[string]any{
				"size":         s.Size,
				"failed":       s.Failed,
				"mean_secs":    s.Mean,
				"median_secs":  s.Median,
				"max_secs":     s.Max,
				"completed_at": at,
			})
		}).Methods(http.MethodGet)
	}
	if dp != nil {
		r.HandleFunc("/debug/state", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, dp.DumpState())
		}).Methods(http.MethodGet)
		r.HandleFunc("/debug/state/{name}", func(w http.ResponseWriter, req *http.Request) {
			name := mux.Vars(req)["name"]
			state := dp.DumpState()
			v, ok := state[name]
			if !ok {
				http.Error(w, "unknown probe", http.StatusNotFound)
				return
			}
			writeJSON(w, map[string]any{name: v})
		}).Methods(http.MethodGet)
	}
	if cs != nil {
		r.HandleFunc("/debug/config", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, cs.GetSnapshot())
		}).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[control] encode response: %v", err)
	}
}

// HTTPServer runs the control surface in the background.
type HTTPServer struct {
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// StartHTTP listens on addr and serves h until Shutdown.
func StartHTTP(addr string, h http.Handler) (*HTTPServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &HTTPServer{
		srv:  &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second},
		ln:   ln,
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[control] http server: %v", err)
		}
	}()
	log.Printf("[control] serving metrics and debug endpoints on %s", ln.Addr())
	return s, nil
}

// Addr returns the bound address.
func (s *HTTPServer) Addr() net.Addr {
	return s.ln.Addr()
}

// Shutdown stops the server gracefully within ctx.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
