// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-probe/probe"
)

func TestAppendTimeouts_AllSuccess(t *testing.T) {
	res := []probe.Result{
		probe.Elapsed(100*time.Millisecond, 200),
		probe.Elapsed(100*time.Millisecond, 200),
		probe.Elapsed(100*time.Millisecond, 200),
	}
	line, err := AppendTimeouts(nil, res)
	require.NoError(t, err)
	assert.Equal(t, "{\"timeouts\":[0.1,0.1,0.1]}\n", string(line))
}

func TestAppendTimeouts_FailedSlotsAreNull(t *testing.T) {
	res := []probe.Result{
		probe.Failed(errors.New("timeout")),
		probe.Elapsed(1500*time.Millisecond, 500),
		probe.Failed(errors.New("tls")),
	}
	line, err := AppendTimeouts([]byte("prefix:"), res)
	require.NoError(t, err)
	assert.Equal(t, "prefix:{\"timeouts\":[null,1.5,null]}\n", string(line))
}

func TestDecodeTimeouts_RoundTrip(t *testing.T) {
	tm, err := DecodeTimeouts([]byte("{\"timeouts\":[0.25,null]}\n"))
	require.NoError(t, err)

	d, ok := tm.Durations()
	assert.Equal(t, []bool{true, false}, ok)
	assert.Equal(t, 250*time.Millisecond, d[0])
}

func TestDecodeTimeouts_Malformed(t *testing.T) {
	for _, in := range []string{"", "{}", "not json", `{"timeouts":[1],"x":2}`} {
		_, err := DecodeTimeouts([]byte(in))
		assert.ErrorIs(t, err, ErrMalformedLine, "input %q", in)
	}
}

func TestReadGreetingAndTimeouts(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(Greeting + "{\"timeouts\":[0.1,null,0.3]}\n"))

	require.NoError(t, ReadGreeting(r))
	tm, err := ReadTimeouts(r)
	require.NoError(t, err)
	require.Len(t, tm.Timeouts, 3)
	assert.Nil(t, tm.Timeouts[1])

	_, err = ReadTimeouts(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadGreeting_Unexpected(t *testing.T) {
	err := ReadGreeting(bufio.NewReader(strings.NewReader("hello\n")))
	assert.Error(t, err)
}
