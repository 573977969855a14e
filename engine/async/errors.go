package async

import "github.com/pkg/errors"

var errJobPanic = errors.New("async job panicked")

// IsJobPanic reports whether err was produced by a panicking routine
func IsJobPanic(err error) bool {
	return errors.Cause(err) == errJobPanic
}
