package netutil

import (
	"io"
	"net"

	"github.com/pkg/errors"
)

// IsConnectionError reports whether err means the peer is gone: EOF or a non-timeout net.Error
func IsConnectionError(_err interface{}) bool {
	err, ok := _err.(error)
	if !ok {
		return false
	}

	err = errors.Cause(err)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return true
	}
	neterr, ok := err.(net.Error)
	return ok && !neterr.Timeout()
}

// IsTimeoutError reports whether the cause of err is a timeout
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	te, ok := errors.Cause(err).(interface{ Timeout() bool })
	return ok && te.Timeout()
}
