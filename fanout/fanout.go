// File: fanout/fanout.go
// Package fanout launches a batch of probes concurrently and joins them into
// one ordered AggregateResult.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The join is a counting barrier: every task stores its outcome in its own
// slot and decrements a counter; the task that brings it to zero hands the
// result off. No goroutine ever blocks waiting on the batch.

package fanout

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"gonum.org/v1/gonum/stat"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/probe"
)

// Submitter runs tasks off the caller's goroutine.
type Submitter interface {
	Submit(task func()) error
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(task func()) error

// Submit calls f(task).
func (f SubmitFunc) Submit(task func()) error { return f(task) }

// Observer is notified of every probe outcome and every completed batch.
type Observer interface {
	ObserveProbe(res probe.Result)
	ObserveBatch(agg AggregateResult)
}

type nopObserver struct{}

func (nopObserver) ObserveProbe(probe.Result)    {}
func (nopObserver) ObserveBatch(AggregateResult) {}

// AggregateResult holds one probe.Result per launched worker, in launch order.
type AggregateResult struct {
	Results []probe.Result
}

// Len returns the number of slots.
func (a AggregateResult) Len() int { return len(a.Results) }

// Failed returns how many slots failed.
func (a AggregateResult) Failed() int {
	n := 0
	for _, r := range a.Results {
		if !r.OK() {
			n++
		}
	}
	return n
}

// Summary describes the successful slots of a batch, in seconds.
type Summary struct {
	Size   int
	Failed int
	Mean   float64
	Median float64
	Max    float64
}

// String renders the summary for log lines.
func (s Summary) String() string {
	return fmt.Sprintf("size=%d failed=%d mean=%.3fs median=%.3fs max=%.3fs",
		s.Size, s.Failed, s.Mean, s.Median, s.Max)
}

// Summary computes mean, median and max elapsed over the successful slots.
func (a AggregateResult) Summary() Summary {
	s := Summary{Size: a.Len(), Failed: a.Failed()}
	secs := make([]float64, 0, len(a.Results))
	for _, r := range a.Results {
		if r.OK() {
			secs = append(secs, r.Elapsed.Seconds())
		}
	}
	if len(secs) == 0 {
		return s
	}
	sort.Float64s(secs)
	s.Mean = stat.Mean(secs, nil)
	s.Median = stat.Quantile(0.5, stat.Empirical, secs, nil)
	s.Max = secs[len(secs)-1]
	return s
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver installs an outcome observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// Coordinator fans a probe request out to a batch of workers.
type Coordinator struct {
	exec     Submitter
	prober   probe.Prober
	observer Observer
	batches  atomic.Int64
}

// NewCoordinator constructs a Coordinator dispatching to exec.
func NewCoordinator(exec Submitter, prober probe.Prober, opts ...Option) *Coordinator {
	c := &Coordinator{exec: exec, prober: prober, observer: nopObserver{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// InFlight returns the number of batches started but not yet handed off.
func (c *Coordinator) InFlight() int64 {
	return c.batches.Load()
}

// Run launches batchSize probes of req and returns at once. done is called
// exactly once, from whichever worker finishes last, with all batchSize slots
// filled. A probe failure or a refused submission fills its slot with a
// failed result; it never cuts the batch short.
func (c *Coordinator) Run(ctx context.Context, req probe.Request, batchSize int, done func(AggregateResult)) error {
	if batchSize < 1 || done == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "fanout: batch size must be >= 1 and done non-nil").
			WithContext("batch_size", batchSize)
	}

	b := &batch{
		results: make([]probe.Result, batchSize),
		done:    done,
		c:       c,
	}
	b.remaining.Store(int32(batchSize))
	c.batches.Add(1)

	for slot := 0; slot < batchSize; slot++ {
		slot := slot
		err := c.exec.Submit(func() {
			b.complete(slot, c.probeSlot(ctx, req))
		})
		if err != nil {
			b.complete(slot, probe.Failed(fmt.Errorf("slot %d not scheduled: %w", slot, err)))
		}
	}
	return nil
}

func (c *Coordinator) probeSlot(ctx context.Context, req probe.Request) (res probe.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = probe.Failed(api.NewError(api.ErrCodeInternal, fmt.Sprintf("probe panic: %v", r)))
		}
	}()
	return c.prober.Probe(ctx, req)
}

// batch owns the per-batch result slots until handoff.
type batch struct {
	results   []probe.Result
	remaining atomic.Int32
	done      func(AggregateResult)
	c         *Coordinator
}

// complete stores one slot. Each slot is written by exactly one task, and the
// atomic decrement orders those writes before the final reader.
func (b *batch) complete(slot int, res probe.Result) {
	b.results[slot] = res
	b.c.observer.ObserveProbe(res)
	if b.remaining.Add(-1) != 0 {
		return
	}
	agg := AggregateResult{Results: b.results}
	b.results = nil
	b.c.batches.Add(-1)
	b.c.observer.ObserveBatch(agg)
	b.done(agg)
}
