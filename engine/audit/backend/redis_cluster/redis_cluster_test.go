package auditrediscluster

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/bmizerany/assert"
	rediscluster "github.com/chasex/redis-go-cluster"
	"github.com/fractaldogs/dogworld/engine/audit/audit_common"
	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/pkg/errors"
)

// fakeCluster answers the handful of commands the storage sends
type fakeCluster struct {
	rediscluster.Cluster

	sync.Mutex
	values map[string][]byte
	index  map[uint64]struct{}
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{values: map[string][]byte{}, index: map[uint64]struct{}{}}
}

func (fc *fakeCluster) Do(cmd string, args ...interface{}) (interface{}, error) {
	fc.Lock()
	defer fc.Unlock()

	switch cmd {
	case "SET":
		key := args[0].(string)
		if len(args) > 2 && args[2] == "NX" {
			if _, ok := fc.values[key]; ok {
				return nil, nil
			}
		}
		fc.values[key] = append([]byte(nil), args[1].([]byte)...)
		return "OK", nil
	case "GET":
		v, ok := fc.values[args[0].(string)]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "ZADD":
		fc.index[args[2].(uint64)] = struct{}{}
		return int64(1), nil
	case "ZRANGE":
		seqs := make([]uint64, 0, len(fc.index))
		for seq := range fc.index {
			seqs = append(seqs, seq)
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
		members := make([]interface{}, len(seqs))
		for i, seq := range seqs {
			members[i] = []byte(fmt.Sprint(seq))
		}
		return members, nil
	}
	return nil, errors.Errorf("unsupported command %s", cmd)
}

func TestRedisClusterCommitmentStorage(t *testing.T) {
	var cs auditcommon.CommitmentStorage = &redisClusterCommitmentStorage{c: newFakeCluster()}

	c, err := cs.Read(1)
	assert.Equal(t, nil, err)
	assert.T(t, c == nil)

	first := &auditcommon.BatchCommitment{Sequence: 1, MerkleRoot: common.Hash{1}, DiffCount: 3, Status: auditcommon.StatusPending}
	assert.Equal(t, nil, cs.Insert(first))
	assert.Equal(t, nil, cs.Insert(&auditcommon.BatchCommitment{Sequence: 2, DiffCount: 1}))

	err = cs.Insert(&auditcommon.BatchCommitment{Sequence: 1, DiffCount: 9})
	assert.Equal(t, auditcommon.ErrCommitmentExists, errors.Cause(err))
	c, err = cs.Read(1)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, c.DiffCount)

	first.Status = auditcommon.StatusSubmitted
	assert.Equal(t, nil, cs.Write(first))
	c, _ = cs.Read(1)
	assert.Equal(t, auditcommon.StatusSubmitted, c.Status)

	seqs, err := cs.List()
	assert.Equal(t, nil, err)
	assert.Equal(t, []uint64{1, 2}, seqs)

	// the cluster client has nothing to close, so Close must not touch it
	cs.Close()
	cs.Close()
}
