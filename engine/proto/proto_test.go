package proto

import (
	"testing"

	"github.com/bmizerany/assert"
	"github.com/fractaldogs/dogworld/engine/anticheat"
	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/dog"
	"github.com/fractaldogs/dogworld/engine/netutil"
	"github.com/pkg/errors"
)

func TestParseCommand(t *testing.T) {
	for _, cmd := range []Command{
		{Type: CMD_AUTHENTICATE, Identity: "alice"},
		{Type: CMD_MINT},
		{Type: CMD_MERGE, DogID1: 3, DogID2: 7},
		{Type: CMD_PRESTIGE_RESET, DogID1: 9},
		{Type: CMD_GET_DOGS},
	} {
		data, err := EncodeCommand(cmd)
		assert.Equal(t, nil, err)
		parsed, err := ParseCommand(data)
		assert.Equal(t, nil, err)
		assert.Equal(t, cmd, parsed)
	}
}

func TestParseCommandIgnoresIrrelevantFields(t *testing.T) {
	data, _ := netutil.MSG_PACKER.PackMsg(map[string]interface{}{
		"type":     "mint",
		"identity": "mallory",
		"dog_id1":  5,
		"extra":    true,
	}, nil)
	cmd, err := ParseCommand(data)
	assert.Equal(t, nil, err)
	assert.Equal(t, Command{Type: CMD_MINT}, cmd)
}

func TestParseCommandErrors(t *testing.T) {
	unknown, _ := netutil.MSG_PACKER.PackMsg(map[string]interface{}{"type": "burn"}, nil)
	_, err := ParseCommand(unknown)
	assert.Equal(t, ErrUnrecognizedCommand, errors.Cause(err))

	for _, payload := range []map[string]interface{}{
		{"type": "authenticate"},
		{"type": "merge", "dog_id1": 1},
		{"type": "prestige_reset"},
	} {
		data, _ := netutil.MSG_PACKER.PackMsg(payload, nil)
		_, err := ParseCommand(data)
		assert.Equal(t, ErrMalformedCommand, errors.Cause(err), payload)
	}

	_, err = ParseCommand([]byte{0xc1})
	assert.Equal(t, ErrMalformedCommand, errors.Cause(err))

	_, err = EncodeCommand(Command{})
	assert.Equal(t, ErrUnrecognizedCommand, errors.Cause(err))
}

func TestCommandType(t *testing.T) {
	assert.Equal(t, "prestige_reset", CMD_PRESTIGE_RESET.String())
	assert.Equal(t, "invalid", CommandType(200).String())
	assert.T(t, CMD_MERGE.IsMutation())
	assert.T(t, !CMD_GET_DOGS.IsMutation())
	assert.T(t, !CMD_AUTHENTICATE.IsMutation())
	assert.Equal(t, "merge<Dog<1>, Dog<2>>", Command{Type: CMD_MERGE, DogID1: 1, DogID2: 2}.String())
}

func TestErrorToResponse(t *testing.T) {
	resp := ErrorToResponse(errors.Wrap(dog.ErrNotOwner, "merge"))
	assert.Equal(t, RESP_ERROR, resp.Kind)
	assert.Equal(t, "not_owner", resp.Code)
	assert.Equal(t, dog.ErrNotOwner.Reason, resp.Reason)

	resp = ErrorToResponse(dog.ErrStoreFailed)
	assert.Equal(t, CODE_INTERNAL, resp.Code)
	assert.Equal(t, "internal error", resp.Reason)

	resp = ErrorToResponse(errors.Wrap(ErrUnrecognizedCommand, "type \"x\""))
	assert.Equal(t, CODE_BAD_COMMAND, resp.Code)

	resp = DeniedResponse(anticheat.Decision{Reason: anticheat.ReasonRateLimited, Detail: "too many merges"})
	assert.Equal(t, "rate_limited", resp.Code)
	assert.Equal(t, "too many merges", resp.Reason)
}

func TestResponseRoundTrip(t *testing.T) {
	d := dog.Dog{ID: common.DogID(4), Owner: "bob", Level: 2, LogTreats: 4605170, BirthSequence: 7, LastUpdateSequence: 7}
	d.FractalSeed[0] = 0xab

	data, err := EncodeResponse(DogResponse(d))
	assert.Equal(t, nil, err)
	resp, err := DecodeResponse(data)
	assert.Equal(t, nil, err)
	assert.Equal(t, RESP_DOG, resp.Kind)
	assert.Equal(t, uint64(4), resp.Dog.ID)
	assert.Equal(t, int64(4605170), resp.Dog.LogTreats)
	assert.Equal(t, "ab", resp.Dog.FractalSeed[:2])

	data, _ = EncodeResponse(DogsResponse(nil))
	resp, _ = DecodeResponse(data)
	assert.Equal(t, RESP_DOGS, resp.Kind)
	assert.Equal(t, 0, len(resp.Dogs))

	data, _ = EncodeResponse(ReplacedNotice())
	resp, _ = DecodeResponse(data)
	assert.Equal(t, RESP_REPLACED, resp.Kind)
}
