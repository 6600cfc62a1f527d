// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Static service configuration with defaults, environment overrides, flag
// registration and a thread-safe snapshot store for runtime inspection.

package control

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/momentics/hioload-probe/api"
)

// DefaultTargetURL is the probe endpoint used when none is configured.
const DefaultTargetURL = "https://demo-test-task-delayed.fly.dev/data"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HIOLOAD_PROBE_"

// Config holds parameters immutable per run.
type Config struct {
	BindAddress        string        // IPv4 address to listen on, "" for all interfaces
	Port               int           // TCP port, 0 for ephemeral
	Backlog            int           // listen backlog, <= 0 for SOMAXCONN
	TargetURL          string        // probe endpoint
	ProbeTimeout       time.Duration // per-probe timeout
	BatchSize          int           // probes per connection
	Workers            int           // executor workers, <= 0 for 4 * BatchSize
	GraceDelay         time.Duration // delay between shutdown request and loop exit
	DrainTimeout       time.Duration // extra wait for live connections after GraceDelay
	InsecureSkipVerify bool          // disable TLS verification for probes
	MetricsAddr        string        // control HTTP address, "" disables it
	LoopCPU            int           // CPU the event loop thread is pinned to, -1 for none
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		BindAddress:        "0.0.0.0",
		Port:               3000,
		TargetURL:          DefaultTargetURL,
		ProbeTimeout:       20 * time.Second,
		BatchSize:          3,
		GraceDelay:         2 * time.Second,
		DrainTimeout:       30 * time.Second,
		InsecureSkipVerify: true,
		MetricsAddr:        "",
		LoopCPU:            -1,
	}
}

// ListenAddr renders host:port.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// EffectiveWorkers resolves the executor size.
func (c *Config) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 4 * c.BatchSize
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	invalid := func(field string, v any) error {
		return api.NewError(api.ErrCodeInvalidArgument, "invalid configuration").
			WithContext("field", field).WithContext("value", v)
	}
	if c.Port < 0 || c.Port > 65535 {
		return invalid("port", c.Port)
	}
	if c.BindAddress != "" && net.ParseIP(c.BindAddress).To4() == nil {
		return invalid("bind_address", c.BindAddress)
	}
	if c.TargetURL == "" {
		return invalid("target_url", c.TargetURL)
	}
	if c.ProbeTimeout <= 0 {
		return invalid("probe_timeout", c.ProbeTimeout)
	}
	if c.BatchSize < 1 {
		return invalid("batch_size", c.BatchSize)
	}
	if c.GraceDelay < 0 {
		return invalid("grace_delay", c.GraceDelay)
	}
	if c.DrainTimeout < 0 {
		return invalid("drain_timeout", c.DrainTimeout)
	}
	if c.LoopCPU < -1 {
		return invalid("loop_cpu", c.LoopCPU)
	}
	return nil
}

// RegisterFlags binds every field to fs, using the current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.BindAddress, "bind", c.BindAddress, "IPv4 address to listen on")
	fs.IntVar(&c.Port, "port", c.Port, "TCP port to listen on")
	fs.IntVar(&c.Backlog, "backlog", c.Backlog, "listen backlog (0 = SOMAXCONN)")
	fs.StringVar(&c.TargetURL, "target", c.TargetURL, "URL each probe requests")
	fs.DurationVar(&c.ProbeTimeout, "probe-timeout", c.ProbeTimeout, "timeout of a single probe")
	fs.IntVar(&c.BatchSize, "batch", c.BatchSize, "probes per connection")
	fs.IntVar(&c.Workers, "workers", c.Workers, "probe worker pool size (0 = 4 x batch)")
	fs.DurationVar(&c.GraceDelay, "grace", c.GraceDelay, "grace delay after an interrupt")
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "extra wait for open connections after the grace delay")
	fs.BoolVar(&c.InsecureSkipVerify, "insecure", c.InsecureSkipVerify, "skip TLS certificate verification for probes")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "control HTTP address for /metrics and /debug (empty disables)")
	fs.IntVar(&c.LoopCPU, "loop-cpu", c.LoopCPU, "pin the event loop thread to this CPU (-1 = no pinning)")
}

// ApplyEnv overrides fields from HIOLOAD_PROBE_* variables using lookup
// (os.LookupEnv when nil).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("BIND", &c.BindAddress)
	str("TARGET", &c.TargetURL)
	str("METRICS_ADDR", &c.MetricsAddr)
	for name, dst := range map[string]*int{"PORT": &c.Port, "BACKLOG": &c.Backlog, "BATCH": &c.BatchSize, "WORKERS": &c.Workers, "LOOP_CPU": &c.LoopCPU} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	for name, dst := range map[string]*time.Duration{"PROBE_TIMEOUT": &c.ProbeTimeout, "GRACE": &c.GraceDelay, "DRAIN_TIMEOUT": &c.DrainTimeout} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup(EnvPrefix + "INSECURE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sINSECURE: %w", EnvPrefix, err)
		}
		c.InsecureSkipVerify = b
	}
	return nil
}

// Snapshot flattens the config for the debug endpoint.
func (c *Config) Snapshot() map[string]any {
	return map[string]any{
		"bind_address":  c.BindAddress,
		"port":          c.Port,
		"backlog":       c.Backlog,
		"target_url":    c.TargetURL,
		"probe_timeout": c.ProbeTimeout.String(),
		"batch_size":    c.BatchSize,
		"workers":       c.EffectiveWorkers(),
		"grace_delay":   c.GraceDelay.String(),
		"drain_timeout": c.DrainTimeout.String(),
		"insecure":      c.InsecureSkipVerify,
		"metrics_addr":  c.MetricsAddr,
		"loop_cpu":      c.LoopCPU,
	}
}

// ConfigStore is a key/value map with snapshot reads.
type ConfigStore struct {
	mu     sync.RWMutex
	config map[string]any
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config: make(map[string]any),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// SetConfig merges new values.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
}
