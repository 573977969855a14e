package batch

import (
	"encoding/binary"

	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/dog"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

const (
	// DiffRecordSize is the encoded size of one diff: id u64 | delta level i32 | delta log i64, big endian
	DiffRecordSize = 8 + 4 + 8
	countSize      = 4
)

// ErrMalformedBatch is returned by DecodeDiffs for truncated or inconsistent input
var ErrMalformedBatch = errors.New("malformed batch")

func keccak(parts ...[]byte) (h common.Hash) {
	k := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		k.Write(p)
	}
	k.Sum(h[:0])
	return
}

// EncodeDiff encodes the fixed-width record of d; the seed is not part of it
func EncodeDiff(d dog.Diff) (rec [DiffRecordSize]byte) {
	binary.BigEndian.PutUint64(rec[0:8], uint64(d.DogID))
	binary.BigEndian.PutUint32(rec[8:12], uint32(d.DeltaLevel))
	binary.BigEndian.PutUint64(rec[12:20], uint64(d.DeltaLogValue))
	return
}

// LeafHash is keccak256 of the encoded diff
func LeafHash(d dog.Diff) common.Hash {
	rec := EncodeDiff(d)
	return keccak(rec[:])
}

// MerkleRoot folds leaves pairwise; an odd last node is paired with itself.
// ok is false for no leaves.
func MerkleRoot(leaves []common.Hash) (root common.Hash, ok bool) {
	if len(leaves) == 0 {
		return
	}
	level := append([]common.Hash(nil), leaves...)
	for len(level) > 1 {
		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, keccak(left[:], right[:]))
		}
		level = next
	}
	return level[0], true
}

// RootOf computes the merkle root over diffs in order
func RootOf(diffs []dog.Diff) (common.Hash, bool) {
	leaves := make([]common.Hash, len(diffs))
	for i, d := range diffs {
		leaves[i] = LeafHash(d)
	}
	return MerkleRoot(leaves)
}

// VerifyRoot reports whether diffs hash to root
func VerifyRoot(diffs []dog.Diff, root common.Hash) bool {
	r, ok := RootOf(diffs)
	return ok && r == root
}

// Serialize encodes diffs as u32 count followed by fixed-width records
func Serialize(diffs []dog.Diff) []byte {
	buf := make([]byte, countSize, countSize+len(diffs)*DiffRecordSize)
	binary.BigEndian.PutUint32(buf, uint32(len(diffs)))
	for _, d := range diffs {
		rec := EncodeDiff(d)
		buf = append(buf, rec[:]...)
	}
	return buf
}

// DecodeDiffs parses the output of Serialize; seeds are not recovered
func DecodeDiffs(data []byte) ([]dog.Diff, error) {
	if len(data) < countSize {
		return nil, errors.Wrap(ErrMalformedBatch, "missing count")
	}
	n := binary.BigEndian.Uint32(data)
	data = data[countSize:]
	if uint64(len(data)) != uint64(n)*DiffRecordSize {
		return nil, errors.Wrapf(ErrMalformedBatch, "count %d does not match %d bytes", n, len(data))
	}
	diffs := make([]dog.Diff, n)
	for i := range diffs {
		rec := data[i*DiffRecordSize:]
		diffs[i] = dog.Diff{
			DogID:         common.DogID(binary.BigEndian.Uint64(rec[0:8])),
			DeltaLevel:    int32(binary.BigEndian.Uint32(rec[8:12])),
			DeltaLogValue: int64(binary.BigEndian.Uint64(rec[12:20])),
		}
	}
	return diffs, nil
}
