package audit

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/fractaldogs/dogworld/engine/audit/audit_common"
	"github.com/fractaldogs/dogworld/engine/audit/backend/memory"
	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/config"
	"github.com/pkg/errors"
)

func memoryOpener() Opener {
	storage := auditmemory.Open()
	return func() (auditcommon.CommitmentStorage, error) {
		return storage, nil
	}
}

func commitment(seq uint64) BatchCommitment {
	var root common.Hash
	root[0] = byte(seq)
	return BatchCommitment{
		Sequence:    seq,
		MerkleRoot:  root,
		DiffCount:   int(seq) * 10,
		SubmittedAt: time.Unix(1700000000, 0).UTC(),
		Status:      StatusPending,
	}
}

func waitErr(t *testing.T, f func(cb ErrorCallback)) error {
	ch := make(chan error, 1)
	f(func(err error) { ch <- err })
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("callback not called")
	}
	return nil
}

func load(t *testing.T, l *Log, seq uint64) *BatchCommitment {
	ch := make(chan *BatchCommitment, 1)
	l.Load(seq, func(c *BatchCommitment, err error) {
		assert.Equal(t, nil, err)
		ch <- c
	})
	return <-ch
}

func TestRecordAndStatus(t *testing.T) {
	l := NewLog(memoryOpener(), nil)
	defer l.Shutdown()

	for seq := uint64(1); seq <= 3; seq++ {
		c := commitment(seq)
		assert.Equal(t, nil, waitErr(t, func(cb ErrorCallback) { l.Record(c, cb) }))
	}

	err := waitErr(t, func(cb ErrorCallback) { l.SetStatus(2, StatusSubmitted, "ref-2", "", cb) })
	assert.Equal(t, nil, err)
	err = waitErr(t, func(cb ErrorCallback) { l.SetStatus(3, StatusFailed, "", "signer down", cb) })
	assert.Equal(t, nil, err)
	err = waitErr(t, func(cb ErrorCallback) { l.SetStatus(9, StatusFailed, "", "", cb) })
	assert.Equal(t, ErrUnknownCommitment, errors.Cause(err))

	c1 := load(t, l, 1)
	expected := commitment(1)
	assert.Equal(t, &expected, c1)
	c2 := load(t, l, 2)
	assert.Equal(t, StatusSubmitted, c2.Status)
	assert.Equal(t, "ref-2", c2.Reference)
	c3 := load(t, l, 3)
	assert.Equal(t, StatusFailed, c3.Status)
	assert.Equal(t, "signer down", c3.Error)
	assert.T(t, load(t, l, 4) == nil)

	ch := make(chan []uint64, 1)
	l.List(func(seqs []uint64, err error) {
		assert.Equal(t, nil, err)
		ch <- seqs
	})
	assert.Equal(t, []uint64{1, 2, 3}, <-ch)
}

type flakyStorage struct {
	auditcommon.CommitmentStorage
	failures int
}

func (fs *flakyStorage) Insert(c *auditcommon.BatchCommitment) error {
	if fs.failures > 0 {
		fs.failures--
		return io.EOF
	}
	return fs.CommitmentStorage.Insert(c)
}

func (fs *flakyStorage) IsEOF(err error) bool {
	return err == io.EOF
}

func TestReconnectOnEOF(t *testing.T) {
	var lock sync.Mutex
	opens := 0
	flaky := &flakyStorage{CommitmentStorage: auditmemory.Open(), failures: 2}
	l := newLog(func() (auditcommon.CommitmentStorage, error) {
		lock.Lock()
		opens++
		lock.Unlock()
		return flaky, nil
	}, nil, time.Millisecond)

	assert.Equal(t, nil, waitErr(t, func(cb ErrorCallback) { l.Record(commitment(1), cb) }))
	assert.T(t, load(t, l, 1) != nil)
	l.Shutdown()

	lock.Lock()
	assert.Equal(t, 3, opens)
	lock.Unlock()
}

func TestGiveUpAfterRetries(t *testing.T) {
	flaky := &flakyStorage{CommitmentStorage: auditmemory.Open(), failures: 100}
	l := newLog(func() (auditcommon.CommitmentStorage, error) {
		return flaky, nil
	}, nil, time.Millisecond)
	defer l.Shutdown()

	err := waitErr(t, func(cb ErrorCallback) { l.Record(commitment(1), cb) })
	assert.Equal(t, io.EOF, err)
}

func TestRecordNeverOverwrites(t *testing.T) {
	l := NewLog(memoryOpener(), nil)
	defer l.Shutdown()

	assert.Equal(t, nil, waitErr(t, func(cb ErrorCallback) { l.Record(commitment(1), cb) }))
	again := commitment(1)
	again.DiffCount = 99
	err := waitErr(t, func(cb ErrorCallback) { l.Record(again, cb) })
	assert.Equal(t, ErrCommitmentExists, errors.Cause(err))
	assert.Equal(t, 10, load(t, l, 1).DiffCount)
}

func TestLastSequenceSurvivesRestart(t *testing.T) {
	cfg := config.Default().Audit
	cfg.Type = "filesystem"
	cfg.Directory = t.TempDir()

	l := NewLog(ConfigOpener(&cfg), nil)
	seq, err := l.LastSequence()
	assert.Equal(t, nil, err)
	assert.Equal(t, uint64(0), seq)
	for _, seq := range []uint64{1, 2, 3} {
		c := commitment(seq)
		assert.Equal(t, nil, waitErr(t, func(cb ErrorCallback) { l.Record(c, cb) }))
	}
	l.Shutdown()
	_, err = l.LastSequence()
	assert.Equal(t, ErrLogClosed, err)

	l = NewLog(ConfigOpener(&cfg), nil)
	defer l.Shutdown()
	seq, err = l.LastSequence()
	assert.Equal(t, nil, err)
	assert.Equal(t, uint64(3), seq)
	err = waitErr(t, func(cb ErrorCallback) { l.Record(commitment(3), cb) })
	assert.Equal(t, ErrCommitmentExists, errors.Cause(err))
}

func TestConfigOpener(t *testing.T) {
	cfg := config.Default().Audit
	cfg.Type = "filesystem"
	cfg.Directory = t.TempDir()

	l := NewLog(ConfigOpener(&cfg), nil)
	assert.Equal(t, nil, waitErr(t, func(cb ErrorCallback) { l.Record(commitment(7), cb) }))
	l.Shutdown()

	// a fresh log sees what the first one wrote
	l = NewLog(ConfigOpener(&cfg), nil)
	defer l.Shutdown()
	c := load(t, l, 7)
	assert.Equal(t, 70, c.DiffCount)

	cfg.Type = "tape"
	_, err := ConfigOpener(&cfg)()
	assert.NotEqual(t, nil, err)
}
