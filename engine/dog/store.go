package dog

import (
	"context"
	"time"

	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/gwutils"
	"github.com/fractaldogs/dogworld/engine/logvalue"
	"github.com/fractaldogs/dogworld/engine/opmon"
	"github.com/petar/GoLLRB/llrb"
	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
)

// Config holds the thresholds of the dog store
type Config struct {
	MaxLevel          int
	PrestigeThreshold int
	StartingLogTreats logvalue.Value
	MergeBonus        logvalue.Value
}

// Stats describes the size of the store
type Stats struct {
	Live     int
	Retired  uint64
	NextID   common.DogID
	Sequence uint64
}

type opKind int

const (
	opMint opKind = iota
	opMerge
	opPrestige
	opGet
	opListOwner
	opStats
)

var opNames = [...]string{
	opMint:      "dog.mint",
	opMerge:     "dog.merge",
	opPrestige:  "dog.prestige",
	opGet:       "dog.get",
	opListOwner: "dog.listOwner",
	opStats:     "dog.stats",
}

type request struct {
	kind  opKind
	owner string
	id1   common.DogID
	id2   common.DogID
	reply chan reply
}

type reply struct {
	dog   Dog
	dogs  []Dog
	stats Stats
	err   error
}

// ownerKey orders the owner index by (owner, id)
type ownerKey struct {
	owner string
	id    common.DogID
}

func (k ownerKey) Less(than llrb.Item) bool {
	o := than.(ownerKey)
	if k.owner != o.owner {
		return k.owner < o.owner
	}
	return k.id < o.id
}

// Store is the single writer of all dog state
//
// Every operation is a message to the store routine, so operations never interleave.
type Store struct {
	cfg  Config
	sink DiffSink

	opQueue *xnsyncutil.SyncQueue
	closed  xnsyncutil.AtomicBool
	failed  xnsyncutil.AtomicBool
	done    chan struct{}

	// owned by the store routine
	dogs     map[common.DogID]*Dog
	index    *llrb.LLRB
	nextID   common.DogID
	sequence uint64
	retired  uint64
}

// NewStore creates the store and starts its routine; diffs of every mutation are pushed to sink
func NewStore(cfg Config, sink DiffSink) *Store {
	s := &Store{
		cfg:     cfg,
		sink:    sink,
		opQueue: xnsyncutil.NewSyncQueue(),
		done:    make(chan struct{}),
		dogs:    map[common.DogID]*Dog{},
		index:   llrb.New(),
		nextID:  1,
	}
	go s.routine()
	return s
}

// Mint creates a starter dog for owner
func (s *Store) Mint(ctx context.Context, owner string) (Dog, error) {
	r, err := s.call(ctx, &request{kind: opMint, owner: owner})
	return r.dog, err
}

// Merge retires two dogs of the same level and owner and returns their child
func (s *Store) Merge(ctx context.Context, owner string, id1, id2 common.DogID) (Dog, error) {
	r, err := s.call(ctx, &request{kind: opMerge, owner: owner, id1: id1, id2: id2})
	return r.dog, err
}

// PrestigeReset resets a high level dog to level 1 with bonus treats, keeping its id
func (s *Store) PrestigeReset(ctx context.Context, owner string, id common.DogID) (Dog, error) {
	r, err := s.call(ctx, &request{kind: opPrestige, owner: owner, id1: id})
	return r.dog, err
}

// GetDog returns the current snapshot of a dog
func (s *Store) GetDog(ctx context.Context, id common.DogID) (Dog, error) {
	r, err := s.call(ctx, &request{kind: opGet, id1: id})
	return r.dog, err
}

// GetDogsByOwner returns all live dogs of owner ordered by id
func (s *Store) GetDogsByOwner(ctx context.Context, owner string) ([]Dog, error) {
	r, err := s.call(ctx, &request{kind: opListOwner, owner: owner})
	return r.dogs, err
}

// Stats returns counters of the store
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	r, err := s.call(ctx, &request{kind: opStats})
	return r.stats, err
}

// Shutdown stops the store routine after queued operations are handled
func (s *Store) Shutdown() {
	if !s.closed.Load() {
		s.closed.Store(true)
		s.opQueue.Close()
	}
	<-s.done
}

func (s *Store) call(ctx context.Context, req *request) (reply, error) {
	if s.closed.Load() {
		return reply{}, ErrStoreClosed
	}
	if s.failed.Load() {
		return reply{}, ErrStoreFailed
	}

	req.reply = make(chan reply, 1)
	s.opQueue.Push(req)
	select {
	case r := <-req.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, errors.Wrapf(ctx.Err(), "%s", opNames[req.kind])
	case <-s.done:
		return reply{}, ErrStoreClosed
	}
}

func (s *Store) routine() {
	defer close(s.done)

	for {
		item := s.opQueue.Pop()
		if item == nil { // queue closed
			break
		}
		req := item.(*request)
		if s.failed.Load() {
			req.reply <- reply{err: ErrStoreFailed}
			continue
		}

		op := opmon.StartOperation(opNames[req.kind])
		var r reply
		if err := gwutils.CatchPanic(func() {
			r = s.handle(req)
		}); err != nil {
			gwlog.Errorf("dog store: %s failed on invariant violation: %v, refusing further requests", opNames[req.kind], err)
			s.failed.Store(true)
			r = reply{err: ErrStoreFailed}
		}
		op.Finish(time.Millisecond * 100)
		req.reply <- r
	}
	gwlog.Infof("dog store: routine quit, %d live dogs", len(s.dogs))
}

func (s *Store) handle(req *request) reply {
	switch req.kind {
	case opMint:
		return s.handleMint(req.owner)
	case opMerge:
		return s.handleMerge(req.owner, req.id1, req.id2)
	case opPrestige:
		return s.handlePrestige(req.owner, req.id1)
	case opGet:
		d, ok := s.dogs[req.id1]
		if !ok {
			return reply{err: ErrNotFound}
		}
		return reply{dog: *d}
	case opListOwner:
		return reply{dogs: s.dogsOf(req.owner)}
	case opStats:
		return reply{stats: Stats{
			Live:     len(s.dogs),
			Retired:  s.retired,
			NextID:   s.nextID,
			Sequence: s.sequence,
		}}
	}
	gwlog.Panicf("dog store: unknown operation %d", req.kind)
	return reply{}
}

func (s *Store) nextSequence() uint64 {
	s.sequence++
	return s.sequence
}

func (s *Store) install(d *Dog) {
	s.dogs[d.ID] = d
	s.index.ReplaceOrInsert(ownerKey{d.Owner, d.ID})
}

func (s *Store) retire(d *Dog) {
	if s.index.Delete(ownerKey{d.Owner, d.ID}) == nil {
		gwlog.Panicf("dog store: %s missing from owner index", d)
	}
	delete(s.dogs, d.ID)
	s.retired++
}

func (s *Store) dogsOf(owner string) []Dog {
	var dogs []Dog
	s.index.AscendGreaterOrEqual(ownerKey{owner, 0}, func(i llrb.Item) bool {
		key := i.(ownerKey)
		if key.owner != owner {
			return false
		}
		d, ok := s.dogs[key.id]
		if !ok {
			gwlog.Panicf("dog store: %s indexed for %s but not stored", key.id, owner)
		}
		dogs = append(dogs, *d)
		return true
	})
	return dogs
}

func (s *Store) handleMint(owner string) reply {
	seq := s.nextSequence()
	id := s.nextID
	s.nextID++

	d := &Dog{
		ID:                 id,
		Owner:              owner,
		Level:              1,
		LogTreats:          s.cfg.StartingLogTreats,
		LogMergeCount:      logvalue.ToLog(1),
		FractalSeed:        mintSeed(id, owner, seq),
		BirthSequence:      seq,
		LastUpdateSequence: seq,
	}
	s.install(d)

	seed := d.FractalSeed
	s.emit(Diff{DogID: id, DeltaLevel: 1, DeltaLogValue: int64(d.LogTreats), NewSeed: &seed})
	return reply{dog: *d}
}

func (s *Store) lookupOwned(owner string, id common.DogID) (*Dog, error) {
	d, ok := s.dogs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Owner != owner {
		return nil, ErrNotOwner
	}
	return d, nil
}

func (s *Store) handleMerge(owner string, id1, id2 common.DogID) reply {
	if id1 == id2 {
		if _, err := s.lookupOwned(owner, id1); err != nil {
			return reply{err: err}
		}
		return reply{err: ErrSameDog}
	}
	// both lookups complete before any ownership check, so NotFound wins over NotOwner
	p1, ok1 := s.dogs[id1]
	p2, ok2 := s.dogs[id2]
	if !ok1 || !ok2 {
		return reply{err: ErrNotFound}
	}
	if p1.Owner != owner || p2.Owner != owner {
		return reply{err: ErrNotOwner}
	}
	if p1.Level != p2.Level {
		return reply{err: ErrLevelMismatch}
	}
	if p1.Level >= s.cfg.MaxLevel {
		return reply{err: ErrMaxLevel}
	}

	seq := s.nextSequence()
	id := s.nextID
	s.nextID++
	child := &Dog{
		ID:                 id,
		Owner:              owner,
		Level:              p1.Level + 1,
		LogTreats:          logvalue.Mul(logvalue.Add(p1.LogTreats, p2.LogTreats), s.cfg.MergeBonus),
		LogMergeCount:      logvalue.Add(logvalue.Add(p1.LogMergeCount, p2.LogMergeCount), logvalue.ToLog(1)),
		FractalSeed:        mergeSeed(p1.FractalSeed, p2.FractalSeed, seq),
		BirthSequence:      seq,
		LastUpdateSequence: seq,
	}

	s.retire(p1)
	s.retire(p2)
	s.install(child)

	seed := child.FractalSeed
	s.emit(
		Diff{DogID: p1.ID, DeltaLevel: -int32(p1.Level), DeltaLogValue: -int64(p1.LogTreats)},
		Diff{DogID: p2.ID, DeltaLevel: -int32(p2.Level), DeltaLogValue: -int64(p2.LogTreats)},
		Diff{DogID: id, DeltaLevel: int32(child.Level), DeltaLogValue: int64(child.LogTreats), NewSeed: &seed},
	)
	return reply{dog: *child}
}

// PrestigeBonus is the treats bonus of prestiging a dog at level, a tenth of the level in log units
func PrestigeBonus(level int) logvalue.Value {
	return logvalue.Value(int64(level) * logvalue.Precision / 10)
}

func (s *Store) handlePrestige(owner string, id common.DogID) reply {
	old, err := s.lookupOwned(owner, id)
	if err != nil {
		return reply{err: err}
	}
	if old.Level < s.cfg.PrestigeThreshold {
		return reply{err: ErrLevelTooLow}
	}

	seq := s.nextSequence()
	d := *old
	d.Level = 1
	d.LogTreats = s.cfg.StartingLogTreats + PrestigeBonus(old.Level)
	d.FractalSeed = prestigeSeed(old.FractalSeed, id, seq)
	d.LastUpdateSequence = seq
	s.dogs[id] = &d // replace, never write the old snapshot

	seed := d.FractalSeed
	s.emit(Diff{
		DogID:         id,
		DeltaLevel:    int32(1 - old.Level),
		DeltaLogValue: int64(d.LogTreats - old.LogTreats),
		NewSeed:       &seed,
	})
	return reply{dog: d}
}

func (s *Store) emit(diffs ...Diff) {
	if s.sink != nil {
		s.sink.Record(diffs...)
	}
}
