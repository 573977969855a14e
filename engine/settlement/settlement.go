// Package settlement submits committed batches to the external settlement layer.
//
// Clients are called from a single async worker and may block; the batch
// aggregator never waits on them.
package settlement

import (
	"io"
	"sync"
	"time"

	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/config"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/netutil"
	"github.com/garyburd/redigo/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Client submits a batch and returns the collaborator's reference for it
type Client interface {
	SubmitBatch(root common.Hash, diffs []byte) (ref string, err error)
	Close() error
}

// New creates the configured client
func New(cfg *config.SettlementConfig) (Client, error) {
	switch cfg.Type {
	case "log":
		return LogClient{}, nil
	case "redis":
		return NewRedisQueueClient(cfg.Url, cfg.DB, cfg.Queue), nil
	}
	return nil, errors.Errorf("unknown settlement type: %s", cfg.Type)
}

// LogClient only logs batches, for development without a signer
type LogClient struct{}

// SubmitBatch implements Client
func (LogClient) SubmitBatch(root common.Hash, diffs []byte) (string, error) {
	ref := uuid.NewString()
	gwlog.Infof("settlement: batch %s root=%s size=%d", ref, root, len(diffs))
	return ref, nil
}

// Close implements Client
func (LogClient) Close() error {
	return nil
}

// Envelope is what RedisQueueClient pushes for the external signer
type Envelope struct {
	Ref         string `msgpack:"ref"`
	Root        []byte `msgpack:"root"`
	Diffs       []byte `msgpack:"diffs"`
	SubmittedAt int64  `msgpack:"submitted_at"` // unix milliseconds
}

// RedisQueueClient LPUSHes batch envelopes onto a redis list consumed by the signer
type RedisQueueClient struct {
	host    string
	dbindex int
	queue   string

	lock sync.Mutex
	c    redis.Conn
}

// NewRedisQueueClient creates the client; the connection is made on first submit
func NewRedisQueueClient(host string, dbindex int, queue string) *RedisQueueClient {
	return &RedisQueueClient{
		host:    host,
		dbindex: dbindex,
		queue:   queue,
	}
}

func (rc *RedisQueueClient) assureConnected() error {
	if rc.c != nil {
		return nil
	}
	c, err := redis.Dial("tcp", rc.host, redis.DialConnectTimeout(5*time.Second))
	if err != nil {
		return errors.Wrap(err, "redis dail failed")
	}
	if _, err := c.Do("SELECT", rc.dbindex); err != nil {
		c.Close()
		return errors.Wrap(err, "redis select db failed")
	}
	rc.c = c
	return nil
}

// SubmitBatch implements Client
func (rc *RedisQueueClient) SubmitBatch(root common.Hash, diffs []byte) (string, error) {
	env := Envelope{
		Ref:         uuid.NewString(),
		Root:        root[:],
		Diffs:       diffs,
		SubmittedAt: time.Now().UnixMilli(),
	}
	data, err := netutil.MSG_PACKER.PackMsg(&env, nil)
	if err != nil {
		return "", err
	}

	rc.lock.Lock()
	defer rc.lock.Unlock()
	if err := rc.assureConnected(); err != nil {
		return "", err
	}
	if _, err := rc.c.Do("LPUSH", rc.queue, data); err != nil {
		if cause := errors.Cause(err); cause == io.EOF || cause == io.ErrUnexpectedEOF || rc.c.Err() != nil {
			rc.c.Close()
			rc.c = nil
		}
		return "", errors.Wrapf(err, "push batch %s", env.Ref)
	}
	return env.Ref, nil
}

// Close implements Client
func (rc *RedisQueueClient) Close() error {
	rc.lock.Lock()
	defer rc.lock.Unlock()
	if rc.c == nil {
		return nil
	}
	err := rc.c.Close()
	rc.c = nil
	return err
}
