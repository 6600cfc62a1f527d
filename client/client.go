// File: client/client.go
// Package client is a minimal consumer of the probe aggregator protocol.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A client dials, reads the greeting line, reads the timeouts line and then
// expects the server to close the connection. It never writes.

package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/momentics/hioload-probe/protocol"
)

// ClientConfig holds dial and read parameters.
type ClientConfig struct {
	DialTimeout time.Duration // connect deadline, 0 for none
	ReadTimeout time.Duration // deadline for the whole exchange, 0 for none
}

// DefaultClientConfig suits a batch with the default 20s probe timeout.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout: 5 * time.Second,
		ReadTimeout: 30 * time.Second,
	}
}

// Response is one completed exchange.
type Response struct {
	Greeting string
	Timeouts protocol.Timeouts
	Latency  time.Duration // dial to last byte
	Closed   bool          // server closed right after the answer
}

// Client fetches aggregated timings from a server.
type Client struct {
	cfg    ClientConfig
	dialer net.Dialer
}

// New returns a Client.
func New(cfg ClientConfig) *Client {
	return &Client{cfg: cfg, dialer: net.Dialer{Timeout: cfg.DialTimeout}}
}

// Fetch performs one exchange against addr.
func (c *Client) Fetch(ctx context.Context, addr string) (Response, error) {
	start := time.Now()
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Response{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if c.cfg.ReadTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	br := bufio.NewReader(conn)
	if err := protocol.ReadGreeting(br); err != nil {
		return Response{}, c.ctxErr(ctx, err)
	}
	ts, err := protocol.ReadTimeouts(br)
	if err != nil {
		return Response{}, c.ctxErr(ctx, err)
	}
	resp := Response{
		Greeting: protocol.Greeting,
		Timeouts: ts,
		Latency:  time.Since(start),
	}
	if _, err := br.ReadByte(); errors.Is(err, io.EOF) {
		resp.Closed = true
	}
	return resp, nil
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	// The socket deadline can fire a moment before the context timer does.
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

// FetchAll runs n exchanges concurrently and returns them in start order.
// Failed exchanges leave a zero Response and a non-nil entry in errs.
func (c *Client) FetchAll(ctx context.Context, addr string, n int) ([]Response, []error) {
	out := make([]Response, n)
	errs := make([]error, n)
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			out[i], errs[i] = c.Fetch(ctx, addr)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
	return out, errs
}
