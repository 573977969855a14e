package dog

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/logvalue"
	"golang.org/x/crypto/sha3"
)

// SeedLength is the byte length of a fractal seed
const SeedLength = 32

// Seed is the opaque fractal seed of a dog, derived from its ancestry
type Seed [SeedLength]byte

func (s Seed) String() string {
	return hex.EncodeToString(s[:])
}

// Dog is an immutable snapshot of one dog
type Dog struct {
	ID                 common.DogID
	Owner              string
	Level              int
	LogTreats          logvalue.Value
	LogMergeCount      logvalue.Value
	FractalSeed        Seed
	BirthSequence      uint64
	LastUpdateSequence uint64
}

func (d Dog) String() string {
	return fmt.Sprintf("%s<owner=%s, level=%d, treats=%s>", d.ID, d.Owner, d.Level, d.LogTreats)
}

// Diff is a state delta of one dog, queued for batch commitment
type Diff struct {
	DogID         common.DogID
	DeltaLevel    int32
	DeltaLogValue int64
	NewSeed       *Seed
}

func (d Diff) String() string {
	if d.NewSeed != nil {
		return fmt.Sprintf("Diff<%s, level%+d, log%+d, seed=%s>", d.DogID, d.DeltaLevel, d.DeltaLogValue, d.NewSeed.String()[:8])
	}
	return fmt.Sprintf("Diff<%s, level%+d, log%+d>", d.DogID, d.DeltaLevel, d.DeltaLogValue)
}

// DiffSink receives diffs in the order their mutations completed
type DiffSink interface {
	Record(diffs ...Diff)
}

type seedHasher struct {
	buf []byte
}

func newSeedHasher(tag string) *seedHasher {
	return &seedHasher{buf: append(make([]byte, 0, 96), tag...)}
}

func (h *seedHasher) uint64(v uint64) *seedHasher {
	h.buf = binary.BigEndian.AppendUint64(h.buf, v)
	return h
}

func (h *seedHasher) string(s string) *seedHasher {
	h.buf = binary.BigEndian.AppendUint32(h.buf, uint32(len(s)))
	h.buf = append(h.buf, s...)
	return h
}

func (h *seedHasher) seed(s Seed) *seedHasher {
	h.buf = append(h.buf, s[:]...)
	return h
}

func (h *seedHasher) sum() (s Seed) {
	k := sha3.NewLegacyKeccak256()
	k.Write(h.buf)
	k.Sum(s[:0])
	return
}

func mintSeed(id common.DogID, owner string, seq uint64) Seed {
	return newSeedHasher("mint").uint64(uint64(id)).string(owner).uint64(seq).sum()
}

func mergeSeed(s1, s2 Seed, seq uint64) Seed {
	return newSeedHasher("merge").seed(s1).seed(s2).uint64(seq).sum()
}

func prestigeSeed(old Seed, id common.DogID, seq uint64) Seed {
	return newSeedHasher("prestige").seed(old).uint64(uint64(id)).uint64(seq).sum()
}
