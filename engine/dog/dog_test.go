package dog

import (
	"testing"

	"github.com/bmizerany/assert"
)

func TestSeedsDeterministic(t *testing.T) {
	assert.Equal(t, mintSeed(1, "A", 1), mintSeed(1, "A", 1))
	assert.NotEqual(t, mintSeed(1, "A", 1), mintSeed(1, "A", 2))
	assert.NotEqual(t, mintSeed(1, "A", 1), mintSeed(2, "A", 1))
	// owner is length prefixed, so the owner/sequence boundary cannot shift
	assert.NotEqual(t, mintSeed(1, "A", 1), mintSeed(1, "A\x00", 1))

	s1, s2 := mintSeed(1, "A", 1), mintSeed(2, "A", 2)
	assert.Equal(t, mergeSeed(s1, s2, 3), mergeSeed(s1, s2, 3))
	assert.NotEqual(t, mergeSeed(s1, s2, 3), mergeSeed(s2, s1, 3))
	assert.NotEqual(t, prestigeSeed(s1, 1, 4), s1)
	assert.Equal(t, 64, len(s1.String()))
}

func TestDomainError(t *testing.T) {
	assert.Equal(t, "not_owner: dog is owned by someone else", ErrNotOwner.Error())
	assert.T(t, IsDomainError(ErrLevelMismatch))
	assert.T(t, !IsDomainError(ErrStoreFailed))
}
