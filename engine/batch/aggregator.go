package batch

import (
	"context"
	"time"

	"github.com/fractaldogs/dogworld/engine/async"
	"github.com/fractaldogs/dogworld/engine/audit"
	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/consts"
	"github.com/fractaldogs/dogworld/engine/dog"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/opmon"
	"github.com/fractaldogs/dogworld/engine/settlement"
	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
)

const (
	// SETTLEMENT_JOB_GROUP is the async group running settlement calls, so submissions stay ordered
	SETTLEMENT_JOB_GROUP = "settlement"
)

// ErrAggregatorClosed is returned by calls after Shutdown
var ErrAggregatorClosed = errors.New("batch aggregator closed")

// Config holds the flush triggers
type Config struct {
	BatchSize     int
	BatchInterval time.Duration
	// LastSequence is the highest sequence already in the audit log; commitments continue after it
	LastSequence uint64
}

// AuditLog records commitments before and after settlement
type AuditLog interface {
	Record(c audit.BatchCommitment, callback audit.ErrorCallback)
	SetStatus(seq uint64, status audit.Status, ref string, errMsg string, callback audit.ErrorCallback)
}

// JobRunner runs blocking work off the aggregator routine
type JobRunner interface {
	AppendJob(group string, routine async.AsyncRoutine, callback async.AsyncCallback) bool
}

// Counters receives settlement outcomes
type Counters interface {
	BatchSubmitted()
	SettlementFailed()
}

type recordMsg struct {
	diffs []dog.Diff
}

type checkFlushMsg struct {
	now time.Time
}

type flushMsg struct {
	reason string
	reply  chan *audit.BatchCommitment
}

type pendingMsg struct {
	reply chan int
}

// Aggregator buffers diffs and commits them in batches
//
// All state is owned by the aggregator routine; Record never blocks.
type Aggregator struct {
	cfg      Config
	audit    AuditLog
	settle   settlement.Client
	jobs     JobRunner
	counters Counters
	now      func() time.Time

	opQueue *xnsyncutil.SyncQueue
	closed  xnsyncutil.AtomicBool
	done    chan struct{}

	// owned by the routine
	pending   []dog.Diff
	lastFlush time.Time
	sequence  uint64
}

// NewAggregator starts the aggregator routine
func NewAggregator(cfg Config, auditLog AuditLog, settle settlement.Client, jobs JobRunner, counters Counters) *Aggregator {
	return newAggregator(cfg, auditLog, settle, jobs, counters, time.Now)
}

func newAggregator(cfg Config, auditLog AuditLog, settle settlement.Client, jobs JobRunner, counters Counters, now func() time.Time) *Aggregator {
	a := &Aggregator{
		cfg:      cfg,
		audit:    auditLog,
		settle:   settle,
		jobs:     jobs,
		counters: counters,
		now:      now,
		opQueue:  xnsyncutil.NewSyncQueue(),
		done:     make(chan struct{}),
		pending:  make([]dog.Diff, 0, cfg.BatchSize),
		sequence: cfg.LastSequence,
	}
	a.lastFlush = now()
	go a.routine()
	return a
}

// Record queues diffs in the given order; it implements dog.DiffSink
func (a *Aggregator) Record(diffs ...dog.Diff) {
	if len(diffs) == 0 {
		return
	}
	if a.closed.Load() {
		gwlog.Errorf("batch: aggregator closed, %d diffs dropped", len(diffs))
		return
	}
	a.opQueue.Push(recordMsg{diffs: diffs})
}

// CheckFlush flushes if the batch interval has passed since the last flush
func (a *Aggregator) CheckFlush(now time.Time) {
	if !a.closed.Load() {
		a.opQueue.Push(checkFlushMsg{now: now})
	}
}

// Flush commits everything pending and returns the commitment, nil if nothing was pending
func (a *Aggregator) Flush(ctx context.Context, reason string) (*audit.BatchCommitment, error) {
	if a.closed.Load() {
		return nil, ErrAggregatorClosed
	}
	reply := make(chan *audit.BatchCommitment, 1)
	a.opQueue.Push(flushMsg{reason: reason, reply: reply})
	select {
	case c := <-reply:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return nil, ErrAggregatorClosed
	}
}

// PendingCount returns the number of diffs waiting for the next flush
func (a *Aggregator) PendingCount(ctx context.Context) (int, error) {
	if a.closed.Load() {
		return 0, ErrAggregatorClosed
	}
	reply := make(chan int, 1)
	a.opQueue.Push(pendingMsg{reply: reply})
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-a.done:
		return 0, ErrAggregatorClosed
	}
}

// Shutdown stops the routine after queued messages; pending diffs are not flushed
func (a *Aggregator) Shutdown() {
	if !a.closed.Load() {
		a.closed.Store(true)
		a.opQueue.Close()
	}
	<-a.done
}

func (a *Aggregator) routine() {
	defer close(a.done)

	for {
		msg := a.opQueue.Pop()
		if msg == nil {
			break
		}

		switch m := msg.(type) {
		case recordMsg:
			a.pending = append(a.pending, m.diffs...)
			if len(a.pending) >= a.cfg.BatchSize {
				a.flush("size")
			}
		case checkFlushMsg:
			if m.now.Sub(a.lastFlush) >= a.cfg.BatchInterval {
				a.flush("interval")
			}
		case flushMsg:
			m.reply <- a.flush(m.reason)
		case pendingMsg:
			m.reply <- len(a.pending)
		default:
			gwlog.Panicf("batch: unknown message %T", msg)
		}
	}
	if len(a.pending) > 0 {
		gwlog.Warnf("batch: aggregator quit with %d diffs not committed", len(a.pending))
	}
}

func (a *Aggregator) flush(reason string) *audit.BatchCommitment {
	now := a.now()
	a.lastFlush = now
	if len(a.pending) == 0 {
		return nil
	}

	op := opmon.StartOperation("batch.flush")
	diffs := a.pending
	a.pending = make([]dog.Diff, 0, a.cfg.BatchSize)

	root, _ := RootOf(diffs)
	data := Serialize(diffs)
	a.sequence++
	c := audit.BatchCommitment{
		Sequence:    a.sequence,
		MerkleRoot:  root,
		DiffCount:   len(diffs),
		SubmittedAt: now,
		Status:      audit.StatusPending,
	}
	if consts.DEBUG_BATCH {
		gwlog.Debugf("batch: flush %s by %s: %v", c.String(), reason, diffs)
	}
	gwlog.Infof("batch: committing %s (%s)", c.String(), reason)

	a.audit.Record(c, func(err error) {
		if err != nil {
			gwlog.Errorf("batch: audit record of %d failed: %s", c.Sequence, err)
		}
	})
	a.submit(c.Sequence, root, data)
	op.Finish(time.Millisecond * 50)
	return &c
}

func (a *Aggregator) submit(seq uint64, root common.Hash, data []byte) {
	ok := a.jobs.AppendJob(SETTLEMENT_JOB_GROUP, func() (interface{}, error) {
		return a.settle.SubmitBatch(root, data)
	}, func(res interface{}, err error) {
		if err != nil {
			gwlog.Errorf("batch: settlement of %d (root %s) failed: %s", seq, root, err)
			a.counters.SettlementFailed()
			a.audit.SetStatus(seq, audit.StatusFailed, "", err.Error(), nil)
			return
		}
		ref, _ := res.(string)
		a.counters.BatchSubmitted()
		a.audit.SetStatus(seq, audit.StatusSubmitted, ref, "", nil)
	})
	if !ok {
		gwlog.Errorf("batch: settlement of %d not scheduled", seq)
		a.counters.SettlementFailed()
		a.audit.SetStatus(seq, audit.StatusFailed, "", "settlement worker closed", nil)
	}
}
