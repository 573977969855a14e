package auditrediscluster

import (
	"io"
	"strconv"
	"time"

	rediscluster "github.com/chasex/redis-go-cluster"
	"github.com/fractaldogs/dogworld/engine/audit/audit_common"
	"github.com/fractaldogs/dogworld/engine/netutil"
	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
)

const (
	_KEY_PREFIX = "dogworld:commitment:"
	// SCAN does not span cluster nodes, so sequences are also kept in one sorted set
	_INDEX_KEY = "dogworld:commitments"
)

var (
	dataPacker = netutil.MessagePackMsgPacker{}
)

type redisClusterCommitmentStorage struct {
	c rediscluster.Cluster
}

// OpenRedisCluster opens redis cluster as commitment storage
func OpenRedisCluster(startNodes []string) (auditcommon.CommitmentStorage, error) {
	c, err := rediscluster.NewCluster(&rediscluster.Options{
		StartNodes:   startNodes,
		ConnTimeout:  10 * time.Second, // Connection timeout
		ReadTimeout:  60 * time.Second, // Read timeout
		WriteTimeout: 60 * time.Second, // Write timeout
		KeepAlive:    1,                // Maximum keep alive connecion in each node
		AliveTime:    10 * time.Minute, // Keep alive timeout
	})

	if err != nil {
		return nil, errors.Wrap(err, "connect redis cluster failed")
	}

	return &redisClusterCommitmentStorage{
		c: c,
	}, nil
}

func commitmentKey(seq uint64) string {
	return _KEY_PREFIX + strconv.FormatUint(seq, 10)
}

func (rs *redisClusterCommitmentStorage) Insert(c *auditcommon.BatchCommitment) error {
	b, err := dataPacker.PackMsg(c, nil)
	if err != nil {
		return err
	}

	reply, err := rs.c.Do("SET", commitmentKey(c.Sequence), b, "NX")
	if err != nil {
		return err
	} else if reply == nil {
		return errors.Wrapf(auditcommon.ErrCommitmentExists, "sequence %d", c.Sequence)
	}
	_, err = rs.c.Do("ZADD", _INDEX_KEY, c.Sequence, c.Sequence)
	return err
}

func (rs *redisClusterCommitmentStorage) Write(c *auditcommon.BatchCommitment) error {
	b, err := dataPacker.PackMsg(c, nil)
	if err != nil {
		return err
	}

	if _, err = rs.c.Do("SET", commitmentKey(c.Sequence), b); err != nil {
		return err
	}
	_, err = rs.c.Do("ZADD", _INDEX_KEY, c.Sequence, c.Sequence)
	return err
}

func (rs *redisClusterCommitmentStorage) Read(seq uint64) (*auditcommon.BatchCommitment, error) {
	b, err := redis.Bytes(rs.c.Do("GET", commitmentKey(seq)))
	if err == redis.ErrNil {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var c auditcommon.BatchCommitment
	if err = dataPacker.UnpackMsg(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (rs *redisClusterCommitmentStorage) List() ([]uint64, error) {
	members, err := redis.Strings(rs.c.Do("ZRANGE", _INDEX_KEY, 0, -1))
	if err != nil {
		return nil, err
	}
	seqs := make([]uint64, 0, len(members))
	for _, m := range members {
		seq, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid member %s of %s", m, _INDEX_KEY)
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

// Close does nothing: the cluster client has no Close and keeps its pooled connections
func (rs *redisClusterCommitmentStorage) Close() {
}

func (rs *redisClusterCommitmentStorage) IsEOF(err error) bool {
	err = errors.Cause(err)
	return err == io.EOF || err == io.ErrUnexpectedEOF
}
