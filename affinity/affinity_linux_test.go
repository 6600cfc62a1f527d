//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAffinity(t *testing.T) {
	type result struct {
		before, after []int
		err           error
	}
	ch := make(chan result, 1)
	go func() {
		// Never unlocked: the pinned thread exits with the goroutine.
		runtime.LockOSThread()
		var res result
		if res.before, res.err = CurrentCPUs(); res.err == nil && len(res.before) > 0 {
			if res.err = SetAffinity(res.before[0]); res.err == nil {
				res.after, res.err = CurrentCPUs()
			}
		}
		ch <- res
	}()
	res := <-ch
	require.NoError(t, res.err)
	require.NotEmpty(t, res.before)
	assert.Equal(t, []int{res.before[0]}, res.after)

	assert.Error(t, SetAffinity(-1))
}
