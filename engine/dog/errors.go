package dog

import "github.com/pkg/errors"

// DomainError is an expected, user-visible failure of a store operation
type DomainError struct {
	Code   string
	Reason string
}

func (e *DomainError) Error() string {
	return e.Code + ": " + e.Reason
}

var (
	// ErrNotFound is returned when a dog id does not exist or was retired
	ErrNotFound = &DomainError{"not_found", "dog does not exist"}
	// ErrNotOwner is returned when the caller does not own the dog
	ErrNotOwner = &DomainError{"not_owner", "dog is owned by someone else"}
	// ErrLevelMismatch is returned when merging dogs of different levels
	ErrLevelMismatch = &DomainError{"level_mismatch", "dogs must have the same level to merge"}
	// ErrMaxLevel is returned when merging dogs already at the level ceiling
	ErrMaxLevel = &DomainError{"max_level", "dog is already at max level"}
	// ErrLevelTooLow is returned when prestiging a dog below the threshold
	ErrLevelTooLow = &DomainError{"level_too_low", "dog level is below the prestige threshold"}
	// ErrSameDog is returned when merging a dog with itself
	ErrSameDog = &DomainError{"same_dog", "cannot merge a dog with itself"}

	// ErrStoreFailed is returned once the store has hit an internal invariant violation
	ErrStoreFailed = errors.New("dog store failed")
	// ErrStoreClosed is returned after Shutdown
	ErrStoreClosed = errors.New("dog store closed")
)

// IsDomainError reports whether err is an expected domain outcome
func IsDomainError(err error) bool {
	_, ok := errors.Cause(err).(*DomainError)
	return ok
}
