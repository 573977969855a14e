package gwutils

import (
	"fmt"
	"hash/fnv"

	"github.com/fractaldogs/dogworld/engine/gwlog"
)

// RunPanicless calls a function panic-freely
func RunPanicless(f func()) (paniced bool) {
	defer func() {
		err := recover()
		if err != nil {
			gwlog.TraceError("%p panic: %v", f, err)
			paniced = true
		}
	}()

	f()
	return
}

// RepeatUntilPanicless runs f again each time it panics, returning once f returns normally
func RepeatUntilPanicless(f func()) {
	for RunPanicless(f) {
	}
}

// CatchPanic runs f and converts a panic into an error, logging the stack
func CatchPanic(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			gwlog.TraceError("caught panic: %v", r)
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", r)
			}
		}
	}()

	f()
	return
}

// ShardOf maps a string key onto one of n shards
func ShardOf(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
