// File: cmd/hioload-probe-client/main.go
// Package main
// Connects to a probe aggregator, prints the greeting and per-slot timings.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/momentics/hioload-probe/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:3000", "server address")
	n := flag.Int("n", 1, "number of concurrent connections")
	timeout := flag.Duration("timeout", 30*time.Second, "deadline for each exchange")
	flag.Parse()

	cfg := client.DefaultClientConfig()
	cfg.ReadTimeout = *timeout
	c := client.New(cfg)

	resps, errs := c.FetchAll(context.Background(), *addr, *n)
	failed := 0
	for i, resp := range resps {
		if errs[i] != nil {
			log.Printf("[client] #%d: %v", i, errs[i])
			failed++
			continue
		}
		d, ok := resp.Timeouts.Durations()
		fmt.Printf("#%d in %s (closed=%t):", i, resp.Latency.Round(time.Millisecond), resp.Closed)
		for j := range d {
			if ok[j] {
				fmt.Printf(" %s", d[j])
			} else {
				fmt.Print(" failed")
			}
		}
		fmt.Println()
	}
	if failed > 0 {
		os.Exit(1)
	}
}
