// File: probe/probe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/momentics/hioload-probe/api"
)

// Request describes one outbound call.
type Request struct {
	URL     string
	Timeout time.Duration
}

// Result is the outcome of one Request: Elapsed on success, Err on failure.
type Result struct {
	Elapsed    time.Duration
	StatusCode int
	Err        error
}

// Elapsed builds a successful result.
func Elapsed(d time.Duration, status int) Result {
	return Result{Elapsed: d, StatusCode: status}
}

// Failed builds a failed result.
func Failed(err error) Result {
	if err == nil {
		err = api.NewError(api.ErrCodeProbeTransport, "unknown probe failure")
	}
	return Result{Err: err}
}

// OK reports whether the probe completed at the transport level.
func (r Result) OK() bool {
	return r.Err == nil
}

// Reason returns the human-readable failure cause, or "" on success.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Prober performs a single probe.
type Prober interface {
	Probe(ctx context.Context, req Request) Result
}

// Option configures a Worker.
type Option func(*Worker)

// WithInsecureSkipVerify disables TLS certificate verification for probes.
func WithInsecureSkipVerify(skip bool) Option {
	return func(w *Worker) { w.insecure = skip }
}

// WithRoundTripper replaces the HTTP transport, mainly for tests.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(w *Worker) { w.rt = rt }
}

// WithLogger sets the logger used for per-request lines.
func WithLogger(l *log.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// Worker issues probes over a shared, concurrency-safe http.Client.
// Keep-alives are disabled so every probe measures a fresh connection.
type Worker struct {
	client   *http.Client
	rt       http.RoundTripper
	insecure bool
	logger   *log.Logger
}

// NewWorker builds a Worker.
func NewWorker(opts ...Option) *Worker {
	w := &Worker{logger: log.Default()}
	for _, o := range opts {
		o(w)
	}
	if w.rt == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.DisableKeepAlives = true
		// #nosec G402 -- verification is disabled only when configured.
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: w.insecure}
		w.rt = tr
	}
	w.client = &http.Client{Transport: w.rt}
	return w
}

// Insecure reports whether certificate verification is disabled.
func (w *Worker) Insecure() bool {
	return w.insecure
}

// Probe performs GET req.URL bounded by req.Timeout. The elapsed time covers
// the whole exchange including reading the response body.
func (w *Worker) Probe(ctx context.Context, req Request) Result {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return w.fail(req, api.WrapError(api.ErrCodeInvalidArgument, "bad probe request", err))
	}

	start := time.Now()
	resp, err := w.client.Do(httpReq)
	if err != nil {
		return w.fail(req, api.WrapError(api.ErrCodeProbeTransport, "probe failed", err))
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return w.fail(req, api.WrapError(api.ErrCodeProbeTransport, "probe body read failed", err))
	}
	elapsed := time.Since(start)

	w.logger.Printf("[probe] request to %s successful (status=%d, elapsed=%s)", req.URL, resp.StatusCode, elapsed)
	return Elapsed(elapsed, resp.StatusCode)
}

func (w *Worker) fail(req Request, err error) Result {
	w.logger.Printf("[probe] failed to request %s: %v", req.URL, err)
	return Failed(fmt.Errorf("%s: %w", req.URL, err))
}
