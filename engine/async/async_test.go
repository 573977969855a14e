package async

import (
	"sync"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/fractaldogs/dogworld/engine/post"
)

func TestAppendJob(t *testing.T) {
	pool := NewPool(nil)
	defer pool.Shutdown()

	var wait sync.WaitGroup
	wait.Add(1)
	var got interface{}
	pool.AppendJob("1", func() (res interface{}, err error) {
		return 1, nil
	}, func(res interface{}, err error) {
		got = res
		wait.Done()
	})
	wait.Wait()
	assert.Equal(t, 1, got)
}

func TestJobsOfSameGroupRunInOrder(t *testing.T) {
	pool := NewPool(nil)
	var lock sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		pool.AppendJob("player-0", func() (interface{}, error) {
			lock.Lock()
			order = append(order, i)
			lock.Unlock()
			return nil, nil
		}, nil)
	}
	pool.Shutdown()
	assert.Equal(t, 100, len(order))
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestCallbackIsPosted(t *testing.T) {
	q := post.NewQueue()
	pool := NewPool(q)
	called := false
	pool.AppendJob("g", func() (interface{}, error) {
		panic("boom")
	}, func(res interface{}, err error) {
		called = true
		assert.T(t, IsJobPanic(err), "expected panic error")
	})
	pool.Shutdown()
	assert.T(t, !called, "callback must wait for Tick")
	q.Tick()
	assert.T(t, called, "callback should run on Tick")
}

func TestAppendAfterShutdown(t *testing.T) {
	pool := NewPool(nil)
	pool.Shutdown()
	assert.T(t, !pool.AppendJob("g", func() (interface{}, error) { return nil, nil }, nil), "closed pool accepts no jobs")
	pool.Shutdown()
}
