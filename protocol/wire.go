// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Inbound wire format. Per connection the server writes Greeting, then one
// line {"timeouts":[f0,...,fN-1]}\n with each slot's elapsed seconds in launch
// order, then closes. Failed slots are rendered as null.

package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/momentics/hioload-probe/probe"
)

// Greeting is written immediately after accept.
const Greeting = "Message from server\n"

// MaxLineSize bounds a response line when reading it back.
const MaxLineSize = 64 * 1024

// ErrMalformedLine is returned for response lines that do not parse.
var ErrMalformedLine = errors.New("protocol: malformed timeouts line")

// Timeouts is the JSON shape of the response line. A nil entry is a failed slot.
type Timeouts struct {
	Timeouts []*float64 `json:"timeouts"`
}

// Durations converts the slots back to durations; ok[i] is false for failed slots.
func (t Timeouts) Durations() (d []time.Duration, ok []bool) {
	d = make([]time.Duration, len(t.Timeouts))
	ok = make([]bool, len(t.Timeouts))
	for i, v := range t.Timeouts {
		if v == nil {
			continue
		}
		d[i] = time.Duration(math.Round(*v * float64(time.Second)))
		ok[i] = true
	}
	return d, ok
}

// AppendTimeouts appends the encoded response line, newline included, to dst.
func AppendTimeouts(dst []byte, results []probe.Result) ([]byte, error) {
	msg := Timeouts{Timeouts: make([]*float64, len(results))}
	for i, r := range results {
		if !r.OK() {
			continue
		}
		secs := r.Elapsed.Seconds()
		msg.Timeouts[i] = &secs
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return dst, fmt.Errorf("encode timeouts: %w", err)
	}
	dst = append(dst, b...)
	return append(dst, '\n'), nil
}

// DecodeTimeouts parses one response line, with or without its trailing newline.
func DecodeTimeouts(line []byte) (Timeouts, error) {
	var t Timeouts
	line = bytes.TrimRight(line, "\r\n")
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return Timeouts{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if t.Timeouts == nil {
		return Timeouts{}, fmt.Errorf("%w: missing timeouts", ErrMalformedLine)
	}
	return t, nil
}

// ReadGreeting consumes and checks the greeting line.
func ReadGreeting(r *bufio.Reader) error {
	line, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if line != Greeting {
		return fmt.Errorf("unexpected greeting %q", line)
	}
	return nil
}

// ReadTimeouts reads and decodes the response line.
func ReadTimeouts(r *bufio.Reader) (Timeouts, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return Timeouts{}, fmt.Errorf("read timeouts: %w", err)
		}
		line = append(line, chunk...)
		if len(line) > MaxLineSize {
			return Timeouts{}, fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedLine, MaxLineSize)
		}
		if !isPrefix {
			break
		}
	}
	return DecodeTimeouts(line)
}
