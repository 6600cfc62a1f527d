// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/fanout"
	"github.com/momentics/hioload-probe/probe"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 3, cfg.BatchSize)
	assert.Equal(t, 20*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 2*time.Second, cfg.GraceDelay)
	assert.Equal(t, DefaultTargetURL, cfg.TargetURL)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Equal(t, 12, cfg.EffectiveWorkers())
	assert.Equal(t, "0.0.0.0:3000", cfg.ListenAddr())
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":          func(c *Config) { c.Port = 70000 },
		"bind_address":  func(c *Config) { c.BindAddress = "::1" },
		"target_url":    func(c *Config) { c.TargetURL = "" },
		"probe_timeout": func(c *Config) { c.ProbeTimeout = 0 },
		"batch_size":    func(c *Config) { c.BatchSize = 0 },
		"grace_delay":   func(c *Config) { c.GraceDelay = -time.Second },
	}
	for field, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		err := cfg.Validate()
		require.Error(t, err, field)
		assert.True(t, api.IsCode(err, api.ErrCodeInvalidArgument), field)
		assert.Contains(t, err.Error(), field)
	}
}

func TestConfig_FlagsAndEnv(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{
		EnvPrefix + "PORT":          "4000",
		EnvPrefix + "TARGET":        "http://example.test/data",
		EnvPrefix + "PROBE_TIMEOUT": "5s",
		EnvPrefix + "INSECURE":      "false",
	}
	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	assert.False(t, cfg.InsecureSkipVerify)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-port", "5000", "-batch", "5"}))
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, "http://example.test/data", cfg.TargetURL)

	bad := DefaultConfig()
	err := bad.ApplyEnv(func(k string) (string, bool) {
		if k == EnvPrefix+"BATCH" {
			return "three", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestConfigStore_Snapshot(t *testing.T) {
	cs := NewConfigStore()
	cs.SetConfig(DefaultConfig().Snapshot())

	snap := cs.GetSnapshot()
	assert.Equal(t, 3, snap["batch_size"])
	snap["batch_size"] = 99
	assert.Equal(t, 3, cs.GetSnapshot()["batch_size"], "snapshot must be a copy")
}

func TestMetrics_Observers(t *testing.T) {
	m := NewMetrics()
	m.ConnAccepted()
	m.ConnAccepted()
	m.ConnClosed("flushed")
	m.ResponseDropped()

	agg := fanout.AggregateResult{Results: []probe.Result{
		probe.Elapsed(100*time.Millisecond, 200),
		probe.Failed(errors.New("timeout")),
	}}
	for _, r := range agg.Results {
		m.ObserveProbe(r)
	}
	m.ObserveBatch(agg)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responsesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches))

	s, at := m.LastBatch()
	assert.Equal(t, 1, s.Failed)
	assert.False(t, at.IsZero())
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterRuntimeProbes(dp)
	dp.RegisterProbe("server.connections", func() any { return 7 })

	assert.Equal(t, []string{"runtime.cpus", "runtime.goroutines", "server.connections"}, dp.Names())
	assert.Equal(t, 7, dp.DumpState()["server.connections"])
}

func TestRouter(t *testing.T) {
	m := NewMetrics()
	m.ConnAccepted()
	dp := NewDebugProbes()
	dp.RegisterProbe("server.connections", func() any { return 1 })
	cs := NewConfigStore()
	cs.SetConfig(map[string]any{"port": 3000})

	srv := httptest.NewServer(NewRouter(m, dp, cs))
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "hioload_probe_connections_accepted_total 1")

	code, body = get("/debug/state")
	assert.Equal(t, http.StatusOK, code)
	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &state))
	assert.Equal(t, 1.0, state["server.connections"])

	code, _ = get("/debug/state/missing")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get("/debug/config")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"port":3000`)

	code, _ = get("/debug/batch")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get("/healthz")
	assert.Equal(t, http.StatusOK, code)
}

func TestStartHTTP(t *testing.T) {
	s, err := StartHTTP("127.0.0.1:0", NewRouter(nil, nil, nil))
	require.NoError(t, err)

	resp, err := http.Get("http://" + s.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
