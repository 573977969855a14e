package proto

import (
	"github.com/fractaldogs/dogworld/engine/anticheat"
	"github.com/fractaldogs/dogworld/engine/dog"
	"github.com/fractaldogs/dogworld/engine/netutil"
	"github.com/pkg/errors"
)

// ResponseKind is the kind of server to client messages
type ResponseKind string

const (
	RESP_OK       ResponseKind = "ok"
	RESP_ERROR    ResponseKind = "error"
	RESP_DOG      ResponseKind = "dog"
	RESP_DOGS     ResponseKind = "dogs"
	RESP_REPLACED ResponseKind = "replaced"
	RESP_TIMEOUT  ResponseKind = "timeout"
	RESP_SHUTDOWN ResponseKind = "shutdown"
)

// Error codes not coming from the dog store
const (
	CODE_INTERNAL          = "internal"
	CODE_NOT_AUTHENTICATED = "not_authenticated"
	CODE_BAD_COMMAND       = "bad_command"
	CODE_THROTTLED         = "throttled"
	CODE_UNAVAILABLE       = "unavailable"
)

// DogInfo is the client view of a dog
type DogInfo struct {
	ID                 uint64 `msgpack:"id"`
	Owner              string `msgpack:"owner"`
	Level              int    `msgpack:"level"`
	LogTreats          int64  `msgpack:"log_treats"`
	LogMergeCount      int64  `msgpack:"log_merge_count"`
	FractalSeed        string `msgpack:"fractal_seed"`
	BirthSequence      uint64 `msgpack:"birth_sequence"`
	LastUpdateSequence uint64 `msgpack:"last_update_sequence"`
}

// NewDogInfo converts a store snapshot to its client view
func NewDogInfo(d dog.Dog) DogInfo {
	return DogInfo{
		ID:                 uint64(d.ID),
		Owner:              d.Owner,
		Level:              d.Level,
		LogTreats:          int64(d.LogTreats),
		LogMergeCount:      int64(d.LogMergeCount),
		FractalSeed:        d.FractalSeed.String(),
		BirthSequence:      d.BirthSequence,
		LastUpdateSequence: d.LastUpdateSequence,
	}
}

// Response is a message from server to client
type Response struct {
	Kind   ResponseKind `msgpack:"kind"`
	Code   string       `msgpack:"code,omitempty"`
	Reason string       `msgpack:"reason,omitempty"`
	Dog    *DogInfo     `msgpack:"dog,omitempty"`
	Dogs   []DogInfo    `msgpack:"dogs,omitempty"`
}

// OKResponse acknowledges a command without payload
func OKResponse() *Response {
	return &Response{Kind: RESP_OK}
}

// DogResponse carries one dog
func DogResponse(d dog.Dog) *Response {
	info := NewDogInfo(d)
	return &Response{Kind: RESP_DOG, Dog: &info}
}

// DogsResponse carries a list of dogs, never nil on the wire
func DogsResponse(dogs []dog.Dog) *Response {
	infos := make([]DogInfo, len(dogs))
	for i, d := range dogs {
		infos[i] = NewDogInfo(d)
	}
	return &Response{Kind: RESP_DOGS, Dogs: infos}
}

// ErrorResponse builds an error with explicit code and reason
func ErrorResponse(code, reason string) *Response {
	return &Response{Kind: RESP_ERROR, Code: code, Reason: reason}
}

// DeniedResponse reports an anti-automation denial
func DeniedResponse(d anticheat.Decision) *Response {
	return ErrorResponse(string(d.Reason), d.Detail)
}

// ErrorToResponse maps domain errors to their code and reason; anything else is internal
func ErrorToResponse(err error) *Response {
	cause := errors.Cause(err)
	switch e := cause.(type) {
	case *dog.DomainError:
		return ErrorResponse(e.Code, e.Reason)
	}
	switch cause {
	case ErrMalformedCommand, ErrUnrecognizedCommand:
		return ErrorResponse(CODE_BAD_COMMAND, err.Error())
	}
	return ErrorResponse(CODE_INTERNAL, "internal error")
}

// ReplacedNotice is sent to a connection whose identity authenticated elsewhere
func ReplacedNotice() *Response {
	return &Response{Kind: RESP_REPLACED, Reason: "identity authenticated on another connection"}
}

// TimeoutNotice is sent to connections that never authenticated in time
func TimeoutNotice() *Response {
	return &Response{Kind: RESP_TIMEOUT, Reason: "authentication timeout"}
}

// ShutdownNotice is broadcast when the server stops
func ShutdownNotice() *Response {
	return &Response{Kind: RESP_SHUTDOWN, Reason: "server shutting down"}
}

// EncodeResponse packs a response payload
func EncodeResponse(resp *Response) ([]byte, error) {
	return netutil.MSG_PACKER.PackMsg(resp, nil)
}

// DecodeResponse unpacks a response payload
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := netutil.MSG_PACKER.UnpackMsg(data, &resp); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return &resp, nil
}
