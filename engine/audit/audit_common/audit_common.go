package auditcommon

import (
	"fmt"
	"time"

	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/pkg/errors"
)

// ErrCommitmentExists is returned by Insert when the sequence is already stored
var ErrCommitmentExists = errors.New("commitment already exists")

// Status is the settlement status of a commitment
type Status string

const (
	// StatusPending means the commitment is recorded and submission has not reported back
	StatusPending Status = "pending"
	// StatusSubmitted means the settlement collaborator accepted the batch
	StatusSubmitted Status = "submitted"
	// StatusFailed means submission failed; the diffs are not resubmitted by this process
	StatusFailed Status = "failed"
)

// BatchCommitment records what was sent to settlement
type BatchCommitment struct {
	Sequence    uint64      `msgpack:"seq"`
	MerkleRoot  common.Hash `msgpack:"root"`
	DiffCount   int         `msgpack:"count"`
	SubmittedAt time.Time   `msgpack:"at"`
	Status      Status      `msgpack:"status"`
	Reference   string      `msgpack:"ref"`
	Error       string      `msgpack:"err"`
}

func (c *BatchCommitment) String() string {
	return fmt.Sprintf("Commitment<%d, root=%s, count=%d, %s>", c.Sequence, c.MerkleRoot, c.DiffCount, c.Status)
}

// CommitmentStorage defines the interface of commitment storage backends
type CommitmentStorage interface {
	// Insert stores a new commitment, failing with ErrCommitmentExists if c.Sequence is taken
	Insert(c *BatchCommitment) error
	// Write replaces the stored commitment of c.Sequence
	Write(c *BatchCommitment) error
	// Read returns nil without error if the sequence is absent
	Read(seq uint64) (*BatchCommitment, error)
	// List returns all stored sequences in increasing order
	List() ([]uint64, error)
	Close()
	IsEOF(err error) bool
}
