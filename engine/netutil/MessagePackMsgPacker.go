package netutil

import (
	"bytes"

	"github.com/vmihailenco/msgpack"
)

// MessagePackMsgPacker encodes messages as MessagePack, honoring msgpack struct tags
type MessagePackMsgPacker struct{}

// PackMsg appends the encoding of msg to buf
func (MessagePackMsgPacker) PackMsg(msg interface{}, buf []byte) ([]byte, error) {
	out := bytes.NewBuffer(buf)
	if err := msgpack.NewEncoder(out).Encode(msg); err != nil {
		return buf, err
	}
	return out.Bytes(), nil
}

// UnpackMsg decodes data into msg, which must be a pointer
func (MessagePackMsgPacker) UnpackMsg(data []byte, msg interface{}) error {
	return msgpack.Unmarshal(data, msg)
}
