package audit

import (
	"strconv"
	"time"

	"github.com/fractaldogs/dogworld/engine/audit/audit_common"
	"github.com/fractaldogs/dogworld/engine/audit/backend/filesystem"
	"github.com/fractaldogs/dogworld/engine/audit/backend/memory"
	"github.com/fractaldogs/dogworld/engine/audit/backend/mongodb"
	"github.com/fractaldogs/dogworld/engine/audit/backend/redis"
	"github.com/fractaldogs/dogworld/engine/audit/backend/redis_cluster"
	"github.com/fractaldogs/dogworld/engine/config"
	"github.com/fractaldogs/dogworld/engine/consts"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/opmon"
	"github.com/fractaldogs/dogworld/engine/post"
	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
)

type (
	// BatchCommitment records what was sent to settlement
	BatchCommitment = auditcommon.BatchCommitment
	// Status is the settlement status of a commitment
	Status = auditcommon.Status
)

const (
	StatusPending   = auditcommon.StatusPending
	StatusSubmitted = auditcommon.StatusSubmitted
	StatusFailed    = auditcommon.StatusFailed
)

var (
	// ErrUnknownCommitment is returned when updating a sequence that was never recorded
	ErrUnknownCommitment = errors.New("unknown commitment")
	// ErrCommitmentExists is returned when recording a sequence that is already stored
	ErrCommitmentExists = auditcommon.ErrCommitmentExists
	// ErrLogClosed is returned by LastSequence after Shutdown
	ErrLogClosed = errors.New("audit log closed")
)

// Opener connects the storage backend; it is called again after an EOF
type Opener func() (auditcommon.CommitmentStorage, error)

// ConfigOpener returns the Opener of the configured backend
func ConfigOpener(cfg *config.AuditConfig) Opener {
	return func() (auditcommon.CommitmentStorage, error) {
		switch cfg.Type {
		case "memory":
			return auditmemory.Open(), nil
		case "filesystem":
			return auditfilesystem.OpenDirectory(cfg.Directory)
		case "redis":
			dbindex, err := strconv.Atoi(cfg.DB)
			if err != nil {
				return nil, errors.Wrap(err, "redis db must be integer")
			}
			return auditredis.OpenRedis(cfg.Url, dbindex)
		case "redis_cluster":
			return auditrediscluster.OpenRedisCluster(cfg.StartNodes.ToList())
		case "mongodb":
			return auditmongodb.OpenMongoDB(cfg.Url, cfg.DB, cfg.Collection)
		}
		return nil, errors.Errorf("unknown audit type: %s", cfg.Type)
	}
}

// ErrorCallback receives the outcome of a write
type ErrorCallback func(err error)

// LoadCallback receives a loaded commitment, nil if absent
type LoadCallback func(c *BatchCommitment, err error)

// ListCallback receives all recorded sequences
type ListCallback func(seqs []uint64, err error)

type recordRequest struct {
	commitment BatchCommitment
	callback   ErrorCallback
}

type statusRequest struct {
	seq      uint64
	status   Status
	ref      string
	errMsg   string
	callback ErrorCallback
}

type loadRequest struct {
	seq      uint64
	callback LoadCallback
}

type listRequest struct {
	callback ListCallback
}

type lastSequenceReply struct {
	seq uint64
	err error
}

type lastSequenceRequest struct {
	reply chan lastSequenceReply
}

// Log is the append-only commitment log, written by its own routine
type Log struct {
	open          Opener
	poster        post.Poster
	storage       auditcommon.CommitmentStorage
	opQueue       *xnsyncutil.SyncQueue
	terminated    *xnsyncutil.OneTimeCond
	done          chan struct{}
	retryInterval time.Duration
}

// NewLog starts the log routine; callbacks are posted to poster
func NewLog(open Opener, poster post.Poster) *Log {
	return newLog(open, poster, consts.AUDIT_RETRY_INTERVAL)
}

func newLog(open Opener, poster post.Poster, retryInterval time.Duration) *Log {
	if poster == nil {
		poster = post.Inline{}
	}
	l := &Log{
		open:          open,
		poster:        poster,
		opQueue:       xnsyncutil.NewSyncQueue(),
		terminated:    xnsyncutil.NewOneTimeCond(),
		done:          make(chan struct{}),
		retryInterval: retryInterval,
	}
	go l.routine()
	return l
}

// Record appends a commitment
func (l *Log) Record(c BatchCommitment, callback ErrorCallback) {
	l.push(&recordRequest{commitment: c, callback: callback})
}

// SetStatus updates the settlement outcome of a recorded commitment
func (l *Log) SetStatus(seq uint64, status Status, ref string, errMsg string, callback ErrorCallback) {
	l.push(&statusRequest{seq: seq, status: status, ref: ref, errMsg: errMsg, callback: callback})
}

// Load reads one commitment
func (l *Log) Load(seq uint64, callback LoadCallback) {
	l.push(&loadRequest{seq: seq, callback: callback})
}

// List reads all recorded sequences
func (l *Log) List(callback ListCallback) {
	l.push(&listRequest{callback: callback})
}

// LastSequence blocks until the highest stored sequence is read, 0 for an empty log
func (l *Log) LastSequence() (uint64, error) {
	req := &lastSequenceRequest{reply: make(chan lastSequenceReply, 1)}
	l.push(req)
	select {
	case r := <-req.reply:
		return r.seq, r.err
	case <-l.done:
		return 0, ErrLogClosed
	}
}

// Shutdown waits for queued operations to finish and closes the storage
func (l *Log) Shutdown() {
	l.opQueue.Close()
	l.terminated.Wait()
}

func (l *Log) push(req interface{}) {
	l.opQueue.Push(req)
	if qlen := l.opQueue.Len(); qlen > 100 && qlen%100 == 0 {
		gwlog.Warnf("audit: operation queue length = %d", qlen)
	}
}

func (l *Log) assureStorageReady() (err error) {
	if l.storage != nil {
		return
	}
	l.storage, err = l.open()
	return
}

// do runs f against the storage, reconnecting on EOF and retrying up to AUDIT_WRITE_RETRIES times
func (l *Log) do(opname string, f func(s auditcommon.CommitmentStorage) error) (err error) {
	for attempt := 0; attempt < consts.AUDIT_WRITE_RETRIES; attempt++ {
		if attempt > 0 {
			time.Sleep(l.retryInterval)
		}
		if err = l.assureStorageReady(); err != nil {
			gwlog.Errorf("audit: storage is not ready: %s", err)
			continue
		}
		if err = f(l.storage); err == nil {
			return nil
		} else if errors.Cause(err) == auditcommon.ErrCommitmentExists {
			return err
		}
		gwlog.Errorf("audit: %s failed: %s", opname, err)
		if l.storage.IsEOF(err) {
			l.storage.Close()
			l.storage = nil
		}
	}
	return
}

func (l *Log) routine() {
	defer func() {
		if l.storage != nil {
			l.storage.Close()
		}
		close(l.done)
		l.terminated.Signal()
	}()

	for {
		req := l.opQueue.Pop()
		if req == nil { // log closed
			break
		}

		var monop *opmon.Operation
		switch r := req.(type) {
		case *recordRequest:
			monop = opmon.StartOperation("audit.record")
			err := l.do("record", func(s auditcommon.CommitmentStorage) error {
				return s.Insert(&r.commitment)
			})
			l.postError(r.callback, err)
		case *statusRequest:
			monop = opmon.StartOperation("audit.status")
			missing := false
			err := l.do("status", func(s auditcommon.CommitmentStorage) error {
				c, err := s.Read(r.seq)
				if err != nil {
					return err
				}
				missing = c == nil
				if missing {
					return nil
				}
				c.Status, c.Reference, c.Error = r.status, r.ref, r.errMsg
				return s.Write(c)
			})
			if err == nil && missing {
				err = errors.Wrapf(ErrUnknownCommitment, "sequence %d", r.seq)
			}
			l.postError(r.callback, err)
		case *loadRequest:
			monop = opmon.StartOperation("audit.load")
			var c *BatchCommitment
			err := l.do("load", func(s auditcommon.CommitmentStorage) (err error) {
				c, err = s.Read(r.seq)
				return
			})
			if r.callback != nil {
				l.poster.Post(func() {
					r.callback(c, err)
				})
			}
		case *listRequest:
			monop = opmon.StartOperation("audit.list")
			var seqs []uint64
			err := l.do("list", func(s auditcommon.CommitmentStorage) (err error) {
				seqs, err = s.List()
				return
			})
			if r.callback != nil {
				l.poster.Post(func() {
					r.callback(seqs, err)
				})
			}
		case *lastSequenceRequest:
			monop = opmon.StartOperation("audit.lastSequence")
			var seqs []uint64
			err := l.do("list", func(s auditcommon.CommitmentStorage) (err error) {
				seqs, err = s.List()
				return
			})
			var last uint64
			if len(seqs) > 0 {
				last = seqs[len(seqs)-1]
			}
			r.reply <- lastSequenceReply{seq: last, err: err}
		default:
			gwlog.Panicf("audit: unknown operation: %v", req)
		}
		monop.Finish(time.Millisecond * 100)
	}
}

func (l *Log) postError(callback ErrorCallback, err error) {
	if callback != nil {
		l.poster.Post(func() {
			callback(err)
		})
	}
}
