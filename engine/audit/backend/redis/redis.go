package auditredis

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fractaldogs/dogworld/engine/audit/audit_common"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/netutil"
	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
)

const (
	_KEY_PREFIX = "dogworld:commitment:"
)

var (
	dataPacker = netutil.MessagePackMsgPacker{}
)

type redisCommitmentStorage struct {
	c redis.Conn
}

// OpenRedis opens redis as commitment storage
func OpenRedis(host string, dbindex int) (auditcommon.CommitmentStorage, error) {
	c, err := redis.Dial("tcp", host)
	if err != nil {
		return nil, errors.Wrap(err, "redis dail failed")
	}

	if _, err := c.Do("SELECT", dbindex); err != nil {
		c.Close()
		return nil, errors.Wrap(err, "redis select db failed")
	}

	return &redisCommitmentStorage{
		c: c,
	}, nil
}

func commitmentKey(seq uint64) string {
	return _KEY_PREFIX + strconv.FormatUint(seq, 10)
}

func (rs *redisCommitmentStorage) Insert(c *auditcommon.BatchCommitment) error {
	b, err := dataPacker.PackMsg(c, nil)
	if err != nil {
		return err
	}

	_, err = redis.String(rs.c.Do("SET", commitmentKey(c.Sequence), b, "NX"))
	if err == redis.ErrNil {
		return errors.Wrapf(auditcommon.ErrCommitmentExists, "sequence %d", c.Sequence)
	}
	return err
}

func (rs *redisCommitmentStorage) Write(c *auditcommon.BatchCommitment) error {
	b, err := dataPacker.PackMsg(c, nil)
	if err != nil {
		return err
	}

	_, err = rs.c.Do("SET", commitmentKey(c.Sequence), b)
	return err
}

func (rs *redisCommitmentStorage) Read(seq uint64) (*auditcommon.BatchCommitment, error) {
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

func (rs *redisCommitmentStorage) List() ([]uint64, error) {
	keyMatch := _KEY_PREFIX + "*"
	var seqs []uint64
	cursor := "0"
	for {
		r, err := redis.Values(rs.c.Do("SCAN", cursor, "MATCH", keyMatch, "COUNT", 10000))
		if err != nil {
			return nil, err
		}
		keys, err := redis.Strings(r[1], nil)
		if err != nil {
			return nil, err
		}

		for _, key := range keys {
			seq, err := strconv.ParseUint(strings.TrimPrefix(key, _KEY_PREFIX), 10, 64)
			if err != nil {
				gwlog.Errorf("audit: invalid redis key %s", key)
				continue
			}
			seqs = append(seqs, seq)
		}

		cursor, err = redis.String(r[0], nil)
		if err != nil {
			return nil, err
		}
		if cursor == "0" {
			break
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}


func (rs *redisCommitmentStorage) Close() {
	rs.c.Close()
}

func (rs *redisCommitmentStorage) IsEOF(err error) bool {
	err = errors.Cause(err)
	return err == io.EOF || err == io.ErrUnexpectedEOF
}
