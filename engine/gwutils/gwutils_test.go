package gwutils

import (
	"fmt"
	"testing"

	"github.com/bmizerany/assert"
)

func TestRunPanicless(t *testing.T) {
	assert.T(t, RunPanicless(func() {
		panic(1)
	}), "should report panic")
	assert.T(t, RunPanicless(func() {
		panic(fmt.Errorf("bad"))
	}), "should report panic")
	assert.T(t, !RunPanicless(func() {}), "should not report panic")
}

func TestRepeatUntilPanicless(t *testing.T) {
	n := 0
	RepeatUntilPanicless(func() {
		n++
		if n < 3 {
			panic("again")
		}
	})
	assert.Equal(t, 3, n)

	calls := 0
	RepeatUntilPanicless(func() {
		calls++
	})
	assert.Equal(t, 1, calls)
}

func TestCatchPanic(t *testing.T) {
	err := CatchPanic(func() {
		panic("index broken")
	})
	assert.NotEqual(t, nil, err)
	assert.Equal(t, "index broken", err.Error())

	bad := fmt.Errorf("bad")
	assert.Equal(t, bad, CatchPanic(func() { panic(bad) }))
	assert.Equal(t, nil, CatchPanic(func() {}))
}

func TestShardOf(t *testing.T) {
	assert.Equal(t, 0, ShardOf("alice", 1))
	for _, key := range []string{"alice", "bob", "carol"} {
		s := ShardOf(key, 16)
		assert.T(t, s >= 0 && s < 16, "shard out of range")
		assert.Equal(t, s, ShardOf(key, 16))
	}
}
