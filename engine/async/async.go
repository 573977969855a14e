package async

import (
	"sync"

	"github.com/fractaldogs/dogworld/engine/consts"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/gwutils"
	"github.com/fractaldogs/dogworld/engine/post"
)

// AsyncCallback receives the result of an AsyncRoutine on the poster's routine
type AsyncCallback func(res interface{}, err error)

// AsyncRoutine is a job executed on a group worker
type AsyncRoutine func() (res interface{}, err error)

type asyncJobWorker struct {
	jobQueue chan asyncJobItem
}

type asyncJobItem struct {
	routine  AsyncRoutine
	callback AsyncCallback
}

// Pool runs jobs on one worker goroutine per group, so jobs of the same group run in order
type Pool struct {
	poster post.Poster

	workersLock sync.RWMutex
	workers     map[string]*asyncJobWorker
	closed      bool
	running     sync.WaitGroup
}

// NewPool creates a job pool whose callbacks are posted to poster
func NewPool(poster post.Poster) *Pool {
	if poster == nil {
		poster = post.Inline{}
	}
	return &Pool{
		poster:  poster,
		workers: map[string]*asyncJobWorker{},
	}
}

func (p *Pool) newWorker() *asyncJobWorker {
	ajw := &asyncJobWorker{
		jobQueue: make(chan asyncJobItem, consts.ASYNC_JOB_QUEUE_MAXLEN),
	}
	p.running.Add(1)
	go p.loop(ajw)
	return ajw
}

func (p *Pool) loop(ajw *asyncJobWorker) {
	defer p.running.Done()
	for item := range ajw.jobQueue {
		item := item
		var res interface{}
		var err error
		if gwutils.RunPanicless(func() {
			res, err = item.routine()
		}) {
			err = errJobPanic
		}
		if item.callback != nil {
			p.poster.Post(func() {
				item.callback(res, err)
			})
		}
	}
}

func (p *Pool) getWorker(group string) (ajw *asyncJobWorker) {
	p.workersLock.RLock()
	ajw = p.workers[group]
	p.workersLock.RUnlock()

	if ajw == nil {
		p.workersLock.Lock()
		ajw = p.workers[group]
		if ajw == nil && !p.closed {
			ajw = p.newWorker()
			p.workers[group] = ajw
		}
		p.workersLock.Unlock()
	}
	return
}

// AppendJob queues routine on the worker of group, callback is posted when routine returns
func (p *Pool) AppendJob(group string, routine AsyncRoutine, callback AsyncCallback) bool {
	p.workersLock.RLock()
	defer p.workersLock.RUnlock()
	if p.closed {
		gwlog.Warnf("async: pool closed, job of group %s dropped", group)
		return false
	}
	ajw := p.workers[group]
	if ajw == nil {
		p.workersLock.RUnlock()
		ajw = p.getWorker(group)
		p.workersLock.RLock()
		if ajw == nil || p.closed {
			return false
		}
	}
	ajw.jobQueue <- asyncJobItem{routine, callback}
	return true
}

// Shutdown closes all job queues and waits for queued jobs to finish
func (p *Pool) Shutdown() {
	p.workersLock.Lock()
	if p.closed {
		p.workersLock.Unlock()
		return
	}
	p.closed = true
	for _, ajw := range p.workers {
		close(ajw.jobQueue)
	}
	p.workers = map[string]*asyncJobWorker{}
	p.workersLock.Unlock()

	p.running.Wait()
}
