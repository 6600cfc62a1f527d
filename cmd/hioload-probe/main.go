// File: cmd/hioload-probe/main.go
// Package main
// TCP probe aggregator: every accepted client gets a greeting, then the
// timings of a fresh batch of concurrent HTTP probes, then EOF.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/hioload-probe/affinity"
	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/control"
	"github.com/momentics/hioload-probe/fanout"
	"github.com/momentics/hioload-probe/internal/concurrency"
	"github.com/momentics/hioload-probe/probe"
	"github.com/momentics/hioload-probe/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := control.DefaultConfig()
	if err := cfg.ApplyEnv(nil); err != nil {
		log.Printf("[main] %v", err)
		return 2
	}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Printf("[main] %v", err)
		return 2
	}
	if cfg.InsecureSkipVerify {
		log.Printf("[main] TLS certificate verification is disabled for probes to %s", cfg.TargetURL)
	}

	metrics := control.NewMetrics()
	debug := control.NewDebugProbes()
	control.RegisterRuntimeProbes(debug)
	store := control.NewConfigStore()
	store.SetConfig(cfg.Snapshot())

	exec := concurrency.NewExecutor(cfg.EffectiveWorkers())
	defer exec.Close()
	worker := probe.NewWorker(probe.WithInsecureSkipVerify(cfg.InsecureSkipVerify))
	coord := fanout.NewCoordinator(exec, worker, fanout.WithObserver(metrics))

	debug.RegisterProbe("fanout.in_flight", func() any { return coord.InFlight() })
	registerExecutorProbes(debug, exec)
	registerWorkerProbes(debug, worker)

	srv := server.New(cfg, coord, server.WithMetrics(metrics))
	srv.RegisterDebugProbes(debug)
	if err := srv.Start(cfg.BindAddress, cfg.Port); err != nil {
		if api.IsCode(err, api.ErrCodeBind) {
			log.Printf("[main] %v", err)
			return 1
		}
		log.Printf("[main] failed to start: %v", err)
		return 1
	}

	var ctl *control.HTTPServer
	if cfg.MetricsAddr != "" {
		var err error
		ctl, err = control.StartHTTP(cfg.MetricsAddr, control.NewRouter(metrics, debug, store))
		if err != nil {
			log.Printf("[main] control server: %v", err)
			return 1
		}
		log.Printf("[main] control endpoints on http://%s", ctl.Addr())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		srv.RequestShutdown()
	}()

	code := 0
	if err := srv.Run(); err != nil {
		log.Printf("[main] event loop: %v", err)
		code = 1
	}
	signal.Stop(sigCh)

	if ctl != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := ctl.Shutdown(ctx); err != nil {
			log.Printf("[main] control server shutdown: %v", err)
		}
		cancel()
	}
	fmt.Println("done")
	return code
}

func registerExecutorProbes(dp api.Debug, exec api.Executor) {
	dp.RegisterProbe("executor.workers", func() any { return exec.NumWorkers() })
	dp.RegisterProbe("executor.pending", func() any { return exec.Pending() })
	dp.RegisterProbe("executor.stats", func() any { return exec.Stats() })
}

func registerWorkerProbes(dp api.Debug, w *probe.Worker) {
	dp.RegisterProbe("probe.insecure", func() any { return w.Insecure() })
	dp.RegisterProbe("runtime.cpus_allowed", func() any {
		cpus, err := affinity.CurrentCPUs()
		if err != nil {
			return err.Error()
		}
		return cpus
	})
}
