package auditmemory

import (
	"sort"
	"sync"

	"github.com/fractaldogs/dogworld/engine/audit/audit_common"
)

type memoryCommitmentStorage struct {
	sync.Mutex
	commitments map[uint64]auditcommon.BatchCommitment
}

// Open creates an in-process commitment storage, lost on exit
func Open() auditcommon.CommitmentStorage {
	return &memoryCommitmentStorage{
		commitments: map[uint64]auditcommon.BatchCommitment{},
	}
}

func (ms *memoryCommitmentStorage) Insert(c *auditcommon.BatchCommitment) error {
	ms.Lock()
	defer ms.Unlock()
	if _, ok := ms.commitments[c.Sequence]; ok {
		return auditcommon.ErrCommitmentExists
	}
	ms.commitments[c.Sequence] = *c
	return nil
}

func (ms *memoryCommitmentStorage) Write(c *auditcommon.BatchCommitment) error {
	ms.Lock()
	ms.commitments[c.Sequence] = *c
	ms.Unlock()
	return nil
}

func (ms *memoryCommitmentStorage) Read(seq uint64) (*auditcommon.BatchCommitment, error) {
	ms.Lock()
	defer ms.Unlock()
	c, ok := ms.commitments[seq]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (ms *memoryCommitmentStorage) List() ([]uint64, error) {
	ms.Lock()
	seqs := make([]uint64, 0, len(ms.commitments))
	for seq := range ms.commitments {
		seqs = append(seqs, seq)
	}
	ms.Unlock()
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (ms *memoryCommitmentStorage) Close() {
}

func (ms *memoryCommitmentStorage) IsEOF(err error) bool {
	return false
}
