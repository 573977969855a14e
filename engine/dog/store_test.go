package dog

import (
	"context"
	"sync"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/logvalue"
)

type recordingSink struct {
	sync.Mutex
	diffs []Diff
}

func (rs *recordingSink) Record(diffs ...Diff) {
	rs.Lock()
	rs.diffs = append(rs.diffs, diffs...)
	rs.Unlock()
}

func (rs *recordingSink) get() []Diff {
	rs.Lock()
	defer rs.Unlock()
	return append([]Diff(nil), rs.diffs...)
}

func testConfig() Config {
	return Config{
		MaxLevel:          100,
		PrestigeThreshold: 50,
		StartingLogTreats: logvalue.ToLog(100),
		MergeBonus:        logvalue.FromFloat(1.1),
	}
}

func newTestStore(t *testing.T, cfg Config) (*Store, *recordingSink) {
	sink := &recordingSink{}
	s := NewStore(cfg, sink)
	t.Cleanup(s.Shutdown)
	return s, sink
}

func mustMint(t *testing.T, s *Store, owner string) Dog {
	d, err := s.Mint(context.Background(), owner)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	return d
}

func TestMint(t *testing.T) {
	ctx := context.Background()
	s, sink := newTestStore(t, testConfig())

	d1 := mustMint(t, s, "A")
	d2 := mustMint(t, s, "A")
	assert.Equal(t, common.DogID(1), d1.ID)
	assert.Equal(t, common.DogID(2), d2.ID)
	assert.Equal(t, 1, d1.Level)
	assert.Equal(t, logvalue.ToLog(100), d1.LogTreats)
	assert.Equal(t, logvalue.Zero, d1.LogMergeCount)
	assert.Equal(t, "A", d1.Owner)
	assert.NotEqual(t, d1.FractalSeed, d2.FractalSeed)
	assert.T(t, d2.BirthSequence > d1.BirthSequence)

	got, err := s.GetDog(ctx, d1.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, d1, got)

	diffs := sink.get()
	assert.Equal(t, 2, len(diffs))
	assert.Equal(t, d1.ID, diffs[0].DogID)
	assert.Equal(t, int32(1), diffs[0].DeltaLevel)
	assert.Equal(t, int64(d1.LogTreats), diffs[0].DeltaLogValue)
	assert.Equal(t, d1.FractalSeed, *diffs[0].NewSeed)
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	s, sink := newTestStore(t, cfg)

	d1 := mustMint(t, s, "A")
	d2 := mustMint(t, s, "A")
	child, err := s.Merge(ctx, "A", d1.ID, d2.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, child.Level)
	assert.Equal(t, "A", child.Owner)
	assert.Equal(t, logvalue.Mul(logvalue.Add(d1.LogTreats, d2.LogTreats), cfg.MergeBonus), child.LogTreats)
	// 1 + 1 + 1 under the approximate add
	assert.Equal(t, 2*logvalue.Ln2, child.LogMergeCount)
	assert.NotEqual(t, d1.ID, child.ID)
	assert.NotEqual(t, d2.ID, child.ID)

	_, err = s.GetDog(ctx, d1.ID)
	assert.Equal(t, ErrNotFound, err)
	_, err = s.GetDog(ctx, d2.ID)
	assert.Equal(t, ErrNotFound, err)

	dogs, err := s.GetDogsByOwner(ctx, "A")
	assert.Equal(t, nil, err)
	assert.Equal(t, []Dog{child}, dogs)

	stats, _ := s.Stats(ctx)
	assert.Equal(t, 1, stats.Live)
	assert.Equal(t, uint64(2), stats.Retired)

	diffs := sink.get()
	assert.Equal(t, 5, len(diffs))
	assert.Equal(t, Diff{DogID: d1.ID, DeltaLevel: -1, DeltaLogValue: -int64(d1.LogTreats)}, diffs[2])
	assert.Equal(t, Diff{DogID: d2.ID, DeltaLevel: -1, DeltaLogValue: -int64(d2.LogTreats)}, diffs[3])
	assert.Equal(t, child.ID, diffs[4].DogID)
	assert.Equal(t, int32(2), diffs[4].DeltaLevel)
	assert.Equal(t, child.FractalSeed, *diffs[4].NewSeed)
}

func TestMergeNotOwner(t *testing.T) {
	ctx := context.Background()
	s, sink := newTestStore(t, testConfig())

	a := mustMint(t, s, "A")
	b := mustMint(t, s, "B")
	before, _ := s.Stats(ctx)

	_, err := s.Merge(ctx, "A", a.ID, b.ID)
	assert.Equal(t, ErrNotOwner, err)
	_, err = s.Merge(ctx, "B", a.ID, b.ID)
	assert.Equal(t, ErrNotOwner, err)
	_, err = s.Merge(ctx, "C", a.ID, b.ID)
	assert.Equal(t, ErrNotOwner, err)

	after, _ := s.Stats(ctx)
	assert.Equal(t, before, after)
	got, _ := s.GetDog(ctx, a.ID)
	assert.Equal(t, a, got)
	got, _ = s.GetDog(ctx, b.ID)
	assert.Equal(t, b, got)
	assert.Equal(t, 2, len(sink.get()))
}

func TestMergeErrors(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxLevel = 2
	s, _ := newTestStore(t, cfg)

	var level1 []Dog
	for i := 0; i < 5; i++ {
		level1 = append(level1, mustMint(t, s, "A"))
	}

	_, err := s.Merge(ctx, "A", level1[0].ID, level1[0].ID)
	assert.Equal(t, ErrSameDog, err)
	_, err = s.Merge(ctx, "A", level1[0].ID, 999)
	assert.Equal(t, ErrNotFound, err)

	c1, err := s.Merge(ctx, "A", level1[0].ID, level1[1].ID)
	assert.Equal(t, nil, err)
	c2, err := s.Merge(ctx, "A", level1[2].ID, level1[3].ID)
	assert.Equal(t, nil, err)

	_, err = s.Merge(ctx, "A", c1.ID, level1[4].ID)
	assert.Equal(t, ErrLevelMismatch, err)
	_, err = s.Merge(ctx, "A", c1.ID, c2.ID)
	assert.Equal(t, ErrMaxLevel, err)
	// retired parents stay retired
	_, err = s.Merge(ctx, "A", level1[0].ID, level1[4].ID)
	assert.Equal(t, ErrNotFound, err)
	assert.T(t, IsDomainError(err))
}

// mergeUp builds a dog of the given level for owner from fresh mints
func mergeUp(t *testing.T, s *Store, owner string, level int) Dog {
	if level == 1 {
		return mustMint(t, s, owner)
	}
	a := mergeUp(t, s, owner, level-1)
	b := mergeUp(t, s, owner, level-1)
	c, err := s.Merge(context.Background(), owner, a.ID, b.ID)
	assert.Equal(t, nil, err)
	return c
}

func TestPrestigeAtThreshold(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.PrestigeThreshold = 4
	s, sink := newTestStore(t, cfg)

	starter := mustMint(t, s, "A")
	_, err := s.PrestigeReset(ctx, "A", starter.ID)
	assert.Equal(t, ErrLevelTooLow, err)

	below := mergeUp(t, s, "A", 3)
	_, err = s.PrestigeReset(ctx, "A", below.ID)
	assert.Equal(t, ErrLevelTooLow, err)

	top := mergeUp(t, s, "A", 4)
	assert.Equal(t, 4, top.Level)
	// 1 starter, 7 dogs for level 3, 15 for level 4
	assert.Equal(t, common.DogID(23), top.ID)

	_, err = s.PrestigeReset(ctx, "B", top.ID)
	assert.Equal(t, ErrNotOwner, err)

	n := len(sink.get())
	reset, err := s.PrestigeReset(ctx, "A", top.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, top.ID, reset.ID)
	assert.Equal(t, 1, reset.Level)
	assert.Equal(t, cfg.StartingLogTreats+PrestigeBonus(4), reset.LogTreats)
	assert.NotEqual(t, top.FractalSeed, reset.FractalSeed)
	assert.Equal(t, top.BirthSequence, reset.BirthSequence)
	assert.T(t, reset.LastUpdateSequence > top.LastUpdateSequence)

	diffs := sink.get()
	assert.Equal(t, n+1, len(diffs))
	assert.Equal(t, int32(-3), diffs[n].DeltaLevel)
	assert.Equal(t, int64(reset.LogTreats-top.LogTreats), diffs[n].DeltaLogValue)

	got, _ := s.GetDog(ctx, top.ID)
	assert.Equal(t, reset, got)
}

func TestRetiredIDsNeverReused(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, testConfig())

	a := mustMint(t, s, "A")
	b := mustMint(t, s, "A")
	c, err := s.Merge(ctx, "A", a.ID, b.ID)
	assert.Equal(t, nil, err)
	assert.T(t, c.ID > b.ID)

	for i := 0; i < 10; i++ {
		d := mustMint(t, s, "A")
		assert.T(t, d.ID != a.ID && d.ID != b.ID)
	}
	for _, id := range []common.DogID{a.ID, b.ID} {
		_, err = s.GetDog(ctx, id)
		assert.Equal(t, ErrNotFound, err)
	}
	stats, _ := s.Stats(ctx)
	assert.Equal(t, uint64(2), stats.Retired)
	assert.Equal(t, common.DogID(14), stats.NextID)
}

func TestGetDogsByOwnerOrdered(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, testConfig())

	owners := []string{"B", "A", "AB", "A", "B", "A"}
	for _, o := range owners {
		mustMint(t, s, o)
	}
	dogs, err := s.GetDogsByOwner(ctx, "A")
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(dogs))
	assert.Equal(t, common.DogID(2), dogs[0].ID)
	assert.Equal(t, common.DogID(4), dogs[1].ID)
	assert.Equal(t, common.DogID(6), dogs[2].ID)

	dogs, _ = s.GetDogsByOwner(ctx, "AB")
	assert.Equal(t, 1, len(dogs))
	dogs, _ = s.GetDogsByOwner(ctx, "nobody")
	assert.Equal(t, 0, len(dogs))
}

func TestConcurrentMints(t *testing.T) {
	ctx := context.Background()
	s, sink := newTestStore(t, testConfig())

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := s.Mint(ctx, "A"); err != nil {
					t.Errorf("mint failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	dogs, _ := s.GetDogsByOwner(ctx, "A")
	assert.Equal(t, 500, len(dogs))
	for i, d := range dogs {
		assert.Equal(t, common.DogID(i+1), d.ID)
	}
	assert.Equal(t, 500, len(sink.get()))
}

func TestInvariantViolationFailsStore(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, testConfig())

	d1 := mustMint(t, s, "A")
	d2 := mustMint(t, s, "A")
	// the store routine is idle between replies
	s.index.Delete(ownerKey{"A", d1.ID})

	_, err := s.Merge(ctx, "A", d1.ID, d2.ID)
	assert.Equal(t, ErrStoreFailed, err)
	_, err = s.Mint(ctx, "A")
	assert.Equal(t, ErrStoreFailed, err)
}

func TestShutdown(t *testing.T) {
	s := NewStore(testConfig(), nil)
	mustMint(t, s, "A")
	s.Shutdown()
	_, err := s.Mint(context.Background(), "A")
	assert.Equal(t, ErrStoreClosed, err)
	s.Shutdown()
}
