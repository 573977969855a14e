package common

import (
	"encoding/hex"
	"strconv"

	"github.com/pkg/errors"
)

// DogID is the type of dog identifiers, assigned monotonically and never reused
type DogID uint64

func (id DogID) String() string {
	return "Dog<" + strconv.FormatUint(uint64(id), 10) + ">"
}

// ConnectionID identifies a client connection for the lifetime of the process
type ConnectionID uint64

func (id ConnectionID) String() string {
	return "Conn<" + strconv.FormatUint(uint64(id), 10) + ">"
}

// HashLength is the byte length of a Hash
const HashLength = 32

// Hash is a keccak256 digest
type Hash [HashLength]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash parses a hex encoded Hash
func ParseHash(s string) (h Hash, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return
	}
	if len(b) != HashLength {
		err = errors.Errorf("hash must be %d bytes, got %d", HashLength, len(b))
		return
	}
	copy(h[:], b)
	return
}
