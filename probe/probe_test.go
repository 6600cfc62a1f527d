// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package probe

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-probe/api"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestWorker_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	w := NewWorker(WithLogger(quietLogger()))
	res := w.Probe(context.Background(), Request{URL: srv.URL + "/data", Timeout: time.Second})

	require.True(t, res.OK(), res.Reason())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.GreaterOrEqual(t, res.Elapsed, 20*time.Millisecond)
	assert.Empty(t, res.Reason())
}

func TestWorker_Non2xxIsNotFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := NewWorker(WithLogger(quietLogger())).Probe(context.Background(), Request{URL: srv.URL, Timeout: time.Second})

	require.True(t, res.OK())
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestWorker_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	res := NewWorker(WithLogger(quietLogger())).Probe(context.Background(), Request{URL: srv.URL, Timeout: 50 * time.Millisecond})

	require.False(t, res.OK())
	assert.True(t, api.IsCode(res.Err, api.ErrCodeProbeTransport))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, res.Reason(), srv.URL)
}

func TestWorker_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewWorker(WithLogger(quietLogger())).Probe(context.Background(), Request{URL: url, Timeout: time.Second})

	require.False(t, res.OK())
	assert.Zero(t, res.Elapsed)
	assert.NotEmpty(t, res.Reason())
}

func TestWorker_InsecureTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	strict := NewWorker(WithLogger(quietLogger()))
	res := strict.Probe(context.Background(), Request{URL: srv.URL, Timeout: time.Second})
	assert.False(t, res.OK(), "self-signed certificate must fail verification")

	insecure := NewWorker(WithInsecureSkipVerify(true), WithLogger(quietLogger()))
	require.True(t, insecure.Insecure())
	res = insecure.Probe(context.Background(), Request{URL: srv.URL, Timeout: time.Second})
	assert.True(t, res.OK(), res.Reason())
}

func TestWorker_BadURL(t *testing.T) {
	res := NewWorker(WithLogger(quietLogger())).Probe(context.Background(), Request{URL: "://nope", Timeout: time.Second})

	require.False(t, res.OK())
	assert.True(t, api.IsCode(res.Err, api.ErrCodeInvalidArgument))
}

func TestFailed_NilError(t *testing.T) {
	res := Failed(nil)
	assert.False(t, res.OK())
	assert.NotEmpty(t, res.Reason())
}
