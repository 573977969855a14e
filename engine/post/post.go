package post

import (
	"sync"

	"github.com/fractaldogs/dogworld/engine/gwutils"
)

// PostCallback is the type of functions to be posted
type PostCallback func()

// Poster accepts callbacks to be run later by the owning routine
type Poster interface {
	Post(f PostCallback)
}

// Queue collects posted callbacks until the owning routine calls Tick
type Queue struct {
	lock      sync.Mutex
	callbacks []PostCallback
}

// NewQueue creates an empty post queue
func NewQueue() *Queue {
	return &Queue{}
}

// Post a callback which will be executed when other things are done in the main service routine
//
// Post might be called from other goroutine, so we use a lock to protect the data
func (q *Queue) Post(f PostCallback) {
	q.lock.Lock()
	q.callbacks = append(q.callbacks, f)
	q.lock.Unlock()
}

// Len returns the number of callbacks waiting
func (q *Queue) Len() int {
	q.lock.Lock()
	n := len(q.callbacks)
	q.lock.Unlock()
	return n
}

// Tick is called by the main service routine to run all posted functions
func (q *Queue) Tick() {
	for { // loop until there is no callbacks posted anymore
		q.lock.Lock() // lock to check number of callbacks
		if len(q.callbacks) == 0 {
			q.lock.Unlock()
			break // all callbacked executed, quit
		}
		// switch callbacks in locked section
		callbacksCopy := q.callbacks
		q.callbacks = make([]PostCallback, 0, len(callbacksCopy))
		q.lock.Unlock()

		for _, f := range callbacksCopy {
			gwutils.RunPanicless(f)
		}
	}
}

// Inline runs callbacks immediately on the posting goroutine
type Inline struct{}

// Post runs f right away
func (Inline) Post(f PostCallback) {
	gwutils.RunPanicless(f)
}
