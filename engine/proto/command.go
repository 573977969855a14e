package proto

import (
	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/netutil"
	"github.com/pkg/errors"
)

// CommandType is the type of client commands
type CommandType uint8

const (
	// CMD_INVALID is the zero command type
	CMD_INVALID CommandType = iota
	// CMD_AUTHENTICATE binds the connection to an identity
	CMD_AUTHENTICATE
	// CMD_MINT creates a level 1 dog
	CMD_MINT
	// CMD_MERGE merges two dogs of the same level
	CMD_MERGE
	// CMD_PRESTIGE_RESET resets a high level dog to level 1 with bonus treats
	CMD_PRESTIGE_RESET
	// CMD_GET_DOGS lists the dogs of the authenticated identity
	CMD_GET_DOGS
)

var commandNames = map[CommandType]string{
	CMD_AUTHENTICATE:   "authenticate",
	CMD_MINT:           "mint",
	CMD_MERGE:          "merge",
	CMD_PRESTIGE_RESET: "prestige_reset",
	CMD_GET_DOGS:       "get_dogs",
}

func (t CommandType) String() string {
	if name, ok := commandNames[t]; ok {
		return name
	}
	return "invalid"
}

// IsMutation reports whether the command changes dog state
func (t CommandType) IsMutation() bool {
	return t == CMD_MINT || t == CMD_MERGE || t == CMD_PRESTIGE_RESET
}

var (
	// ErrUnrecognizedCommand is returned for commands with an unknown type
	ErrUnrecognizedCommand = errors.New("unrecognized command")
	// ErrMalformedCommand is returned when a command can not be decoded or misses fields
	ErrMalformedCommand = errors.New("malformed command")
)

// Command is a decoded client command
type Command struct {
	Type     CommandType
	Identity string
	DogID1   common.DogID
	DogID2   common.DogID
}

func (c Command) String() string {
	switch c.Type {
	case CMD_AUTHENTICATE:
		return "authenticate<" + c.Identity + ">"
	case CMD_MERGE:
		return "merge<" + c.DogID1.String() + ", " + c.DogID2.String() + ">"
	case CMD_PRESTIGE_RESET:
		return "prestige_reset<" + c.DogID1.String() + ">"
	}
	return c.Type.String()
}

// wireCommand is the msgpack form of Command
type wireCommand struct {
	Type     string `msgpack:"type"`
	Identity string `msgpack:"identity,omitempty"`
	DogID1   uint64 `msgpack:"dog_id1,omitempty"`
	DogID2   uint64 `msgpack:"dog_id2,omitempty"`
}

// ParseCommand decodes and validates one command payload
func ParseCommand(data []byte) (cmd Command, err error) {
	var wc wireCommand
	if err = netutil.MSG_PACKER.UnpackMsg(data, &wc); err != nil {
		err = errors.Wrap(ErrMalformedCommand, err.Error())
		return
	}

	switch wc.Type {
	case "authenticate":
		if wc.Identity == "" {
			return cmd, errors.Wrap(ErrMalformedCommand, "authenticate: identity is required")
		}
		cmd = Command{Type: CMD_AUTHENTICATE, Identity: wc.Identity}
	case "mint":
		cmd = Command{Type: CMD_MINT}
	case "merge":
		if wc.DogID1 == 0 || wc.DogID2 == 0 {
			return cmd, errors.Wrap(ErrMalformedCommand, "merge: dog_id1 and dog_id2 are required")
		}
		cmd = Command{Type: CMD_MERGE, DogID1: common.DogID(wc.DogID1), DogID2: common.DogID(wc.DogID2)}
	case "prestige_reset":
		if wc.DogID1 == 0 {
			return cmd, errors.Wrap(ErrMalformedCommand, "prestige_reset: dog_id1 is required")
		}
		cmd = Command{Type: CMD_PRESTIGE_RESET, DogID1: common.DogID(wc.DogID1)}
	case "get_dogs":
		cmd = Command{Type: CMD_GET_DOGS}
	default:
		err = errors.Wrapf(ErrUnrecognizedCommand, "type %q", wc.Type)
	}
	return
}

// EncodeCommand is the inverse of ParseCommand, used by clients and tools
func EncodeCommand(cmd Command) ([]byte, error) {
	name, ok := commandNames[cmd.Type]
	if !ok {
		return nil, errors.Wrapf(ErrUnrecognizedCommand, "type %d", cmd.Type)
	}
	return netutil.MSG_PACKER.PackMsg(&wireCommand{
		Type:     name,
		Identity: cmd.Identity,
		DogID1:   uint64(cmd.DogID1),
		DogID2:   uint64(cmd.DogID2),
	}, nil)
}
