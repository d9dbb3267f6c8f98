package netops

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerHonorsConcurrencyBound(t *testing.T) {
	env := newTestEnv(t, Config{MaxConcurrent: 2})
	require.Equal(t, 2, env.manager.Queue().MaxConcurrent())

	ops := make([]*DataOperation, 4)
	for i := range ops {
		url := fmt.Sprintf("https://example.test/slot/%d", i)
		env.session.script(url, fakeScript{holdOpen: true})
		op, err := env.manager.DataOperationURL(url, nil,
			func(op *DataOperation, b []byte, err error) {})
		require.NoError(t, err)
		ops[i] = op
		env.manager.Enqueue(op)
	}

	executing := func() int {
		n := 0
		for _, op := range ops {
			if op.State() == StateExecuting {
				n++
			}
		}
		return n
	}

	require.Eventually(t, func() bool { return executing() == 2 }, 5*time.Second, time.Millisecond)

	// The bound holds while both slots are occupied.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, executing())

	// Finishing one admits exactly one more.
	var first *DataOperation
	for _, op := range ops {
		if op.State() == StateExecuting {
			first = op
			break
		}
	}
	env.session.task(first.Identifier()).finish(nil)
	env.settle(t, first)

	require.Eventually(t, func() bool { return executing() == 2 }, 5*time.Second, time.Millisecond)

	for _, op := range ops {
		if !op.State().terminal() {
			env.session.task(op.Identifier()).finish(nil)
		}
	}
	for _, op := range ops {
		env.settle(t, op)
	}
}

func TestSchedulerWaitsForDependencies(t *testing.T) {
	env := newTestEnv(t, Config{MaxConcurrent: 4})
	env.session.script("https://example.test/first", fakeScript{holdOpen: true})
	env.session.script("https://example.test/second", fakeScript{chunks: [][]byte{[]byte("ok")}})

	var order []string
	first, err := env.manager.DataOperationURL("https://example.test/first", nil,
		func(op *DataOperation, b []byte, err error) {
			order = append(order, "first")
		})
	require.NoError(t, err)

	second, err := env.manager.DataOperationURL("https://example.test/second", nil,
		func(op *DataOperation, b []byte, err error) {
			order = append(order, "second")
		})
	require.NoError(t, err)
	second.AddDependency(first)

	// Deliberately enqueue the dependent one first.
	env.manager.Enqueue(second)
	env.manager.Enqueue(first)

	waitExecuting(t, first)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateReady, second.State(), "dependent operation must not start early")

	env.session.task(first.Identifier()).finish(nil)
	env.settle(t, first)
	env.settle(t, second)
	assert.Equal(t, StateFinished, second.State())
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestSchedulerCancelAll(t *testing.T) {
	env := newTestEnv(t, Config{MaxConcurrent: 1})

	var completions int32
	ops := make([]*DataOperation, 3)
	for i := range ops {
		url := fmt.Sprintf("https://example.test/ca/%d", i)
		env.session.script(url, fakeScript{holdOpen: true})
		op, err := env.manager.DataOperationURL(url, nil,
			func(op *DataOperation, b []byte, err error) {
				atomic.AddInt32(&completions, 1)
				assert.ErrorIs(t, err, ErrCancelled)
			})
		require.NoError(t, err)
		ops[i] = op
		env.manager.Enqueue(op)
	}

	// One executing, two queued behind the single slot.
	require.Eventually(t, func() bool {
		return ops[0].State() == StateExecuting
	}, 5*time.Second, time.Millisecond)

	env.manager.Queue().CancelAll()
	for _, op := range ops {
		env.settle(t, op)
	}
	env.manager.Queue().Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&completions))
	for _, op := range ops {
		assert.Equal(t, StateCancelled, op.State())
	}
	assert.Equal(t, 0, env.manager.InFlight())
}

func TestCancelBeforeStart(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.session.script("https://example.test/never", fakeScript{holdOpen: true})

	var calls int32
	op, err := env.manager.DataOperationURL("https://example.test/never", nil,
		func(op *DataOperation, b []byte, err error) {
			atomic.AddInt32(&calls, 1)
			assert.ErrorIs(t, err, ErrCancelled)
		})
	require.NoError(t, err)

	op.Cancel()
	env.settle(t, op)
	assert.Equal(t, StateCancelled, op.State())

	// Enqueueing a terminal operation must not revive it.
	env.manager.Enqueue(op)
	env.manager.Queue().Wait()
	assert.Equal(t, StateCancelled, op.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEnqueueTwiceIsNoOp(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.session.script("https://example.test/twice", fakeScript{chunks: [][]byte{[]byte("x")}})

	var calls int32
	op, err := env.manager.DataOperationURL("https://example.test/twice", nil,
		func(op *DataOperation, b []byte, err error) {
			atomic.AddInt32(&calls, 1)
		})
	require.NoError(t, err)

	env.manager.Enqueue(op)
	env.manager.Enqueue(op)
	env.settle(t, op)
	env.manager.Queue().Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
