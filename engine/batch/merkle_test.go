package batch

import (
	"encoding/hex"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/dog"
	"github.com/pkg/errors"
)

var sampleDiffs = []dog.Diff{
	{DogID: 1, DeltaLevel: 1, DeltaLogValue: 4605170},
	{DogID: 2, DeltaLevel: -1, DeltaLogValue: -4605170},
	{DogID: 3, DeltaLevel: 2, DeltaLogValue: 9999999},
}

func mustHash(s string) common.Hash {
	h, err := common.ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

func TestKeccak(t *testing.T) {
	assert.Equal(t, mustHash("c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"), keccak())
}

func TestEncodeDiff(t *testing.T) {
	rec := EncodeDiff(sampleDiffs[0])
	assert.Equal(t, "00000000000000010000000100000000004644f2", hex.EncodeToString(rec[:]))
	rec = EncodeDiff(sampleDiffs[1])
	assert.Equal(t, "0000000000000002ffffffffffffffffffb9bb0e", hex.EncodeToString(rec[:]))

	// the seed does not change the record
	seed := dog.Seed{1}
	withSeed := sampleDiffs[0]
	withSeed.NewSeed = &seed
	assert.Equal(t, LeafHash(sampleDiffs[0]), LeafHash(withSeed))
}

func TestMerkleRootEmpty(t *testing.T) {
	_, ok := RootOf(nil)
	assert.T(t, !ok)
	assert.T(t, !VerifyRoot(nil, common.Hash{}))
}

func TestMerkleRootOneLeaf(t *testing.T) {
	root, ok := RootOf(sampleDiffs[:1])
	assert.T(t, ok)
	assert.Equal(t, LeafHash(sampleDiffs[0]), root)
	assert.Equal(t, mustHash("c4b692973dee5a3d42e59b37e6bb809189b5bf049eb92783bedd1f8ce8c1b292"), root)
}

func TestMerkleRootThreeLeaves(t *testing.T) {
	l0 := mustHash("c4b692973dee5a3d42e59b37e6bb809189b5bf049eb92783bedd1f8ce8c1b292")
	l1 := mustHash("1c8b14938c1b9ffadb131580cf6b53fe8259b89dc23320fd22236caca5ca5a5f")
	l2 := mustHash("ea29e1a8889c7fb9b5a49bb521dc2a98608e393914c26facb535fdb4cd823d38")
	assert.Equal(t, l0, LeafHash(sampleDiffs[0]))
	assert.Equal(t, l1, LeafHash(sampleDiffs[1]))
	assert.Equal(t, l2, LeafHash(sampleDiffs[2]))

	// the odd leaf is paired with itself
	expected := keccak(
		hashPair(l0, l1),
		hashPair(l2, l2),
	)
	root, ok := RootOf(sampleDiffs)
	assert.T(t, ok)
	assert.Equal(t, expected, root)
	assert.Equal(t, mustHash("bd88ef3f8b19d00abb4dd99cd73c631299ab6e97eb69f0c53683adcd0f80d513"), root)
}

func hashPair(a, b common.Hash) []byte {
	h := keccak(a[:], b[:])
	return h[:]
}

func TestMerkleRootDeterministic(t *testing.T) {
	var diffs []dog.Diff
	for i := 0; i < 37; i++ {
		diffs = append(diffs, dog.Diff{DogID: common.DogID(i), DeltaLevel: int32(i % 3), DeltaLogValue: int64(i * 1000)})
	}
	r1, _ := RootOf(diffs)
	r2, _ := RootOf(append([]dog.Diff(nil), diffs...))
	assert.Equal(t, r1, r2)
	assert.T(t, VerifyRoot(diffs, r1))

	diffs[3], diffs[4] = diffs[4], diffs[3]
	r3, _ := RootOf(diffs)
	assert.NotEqual(t, r1, r3)
}

func TestSerialize(t *testing.T) {
	data := Serialize(sampleDiffs)
	assert.Equal(t, 4+3*DiffRecordSize, len(data))
	assert.Equal(t, "00000003", hex.EncodeToString(data[:4]))

	decoded, err := DecodeDiffs(data)
	assert.Equal(t, nil, err)
	assert.Equal(t, sampleDiffs, decoded)

	empty := Serialize(nil)
	assert.Equal(t, []byte{0, 0, 0, 0}, empty)

	_, err = DecodeDiffs(data[:len(data)-1])
	assert.Equal(t, ErrMalformedBatch, errors.Cause(err))
	_, err = DecodeDiffs([]byte{0})
	assert.Equal(t, ErrMalformedBatch, errors.Cause(err))
}
