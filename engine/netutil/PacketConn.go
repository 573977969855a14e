package netutil

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/fractaldogs/dogworld/engine/consts"
	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/pktconn"
)

var (
	// ErrPacketTooLarge is returned for payloads over MAX_PACKET_PAYLOAD_LEN
	ErrPacketTooLarge = errors.New("packet payload too large")
	// ErrConnClosed is returned by SendPacket after Close
	ErrConnClosed = errors.New("packet connection closed")
)

// PacketConn sends and receives framed packets over a stream connection.
//
// RecvPacket must be called from one goroutine; SendPacket may be called concurrently.
type PacketConn struct {
	conn     *pktconn.PacketConn
	recvChan chan *pktconn.Packet
	recvDone chan struct{}
	recvErr  error

	closeOnce sync.Once
	closed    xnsyncutil.AtomicBool
}

// NewPacketConn starts receiving packets from conn
func NewPacketConn(conn net.Conn) *PacketConn {
	config := pktconn.DefaultConfig()
	config.Tag = conn.RemoteAddr()
	pc := &PacketConn{
		conn:     pktconn.NewPacketConnWithConfig(context.TODO(), conn, config),
		recvChan: make(chan *pktconn.Packet, consts.PACKET_RECV_QUEUE_SIZE),
		recvDone: make(chan struct{}),
	}
	go pc.recvRoutine()
	return pc
}

func (pc *PacketConn) recvRoutine() {
	pc.recvErr = pc.conn.RecvChan(pc.recvChan)
	if pc.recvErr == nil {
		pc.recvErr = ErrConnClosed
	}
	close(pc.recvDone)
}

// RecvPacket returns the next packet payload, or the receive error once every queued packet is consumed
func (pc *PacketConn) RecvPacket() ([]byte, error) {
	select {
	case packet := <-pc.recvChan:
		return takePayload(packet)
	case <-pc.recvDone:
		select {
		case packet := <-pc.recvChan:
			return takePayload(packet)
		default:
			return nil, pc.recvErr
		}
	}
}

func takePayload(packet *pktconn.Packet) ([]byte, error) {
	defer packet.Release()
	if len(packet.Payload()) > consts.MAX_PACKET_PAYLOAD_LEN {
		return nil, errors.Wrapf(ErrPacketTooLarge, "recv %d bytes", len(packet.Payload()))
	}
	return append([]byte(nil), packet.Payload()...), nil
}

// SendPacket queues one packet for sending
func (pc *PacketConn) SendPacket(payload []byte) error {
	if len(payload) > consts.MAX_PACKET_PAYLOAD_LEN {
		return errors.Wrapf(ErrPacketTooLarge, "send %d bytes", len(payload))
	}
	if pc.closed.Load() {
		return ErrConnClosed
	}
	select {
	case <-pc.recvDone:
		return pc.recvErr
	default:
	}

	packet := pktconn.NewPacket()
	packet.WriteBytes(payload)
	pc.conn.Send(packet)
	packet.Release()
	return nil
}

// Close the connection
func (pc *PacketConn) Close() (err error) {
	pc.closeOnce.Do(func() {
		pc.closed.Store(true)
		err = pc.conn.Close()
	})
	return
}

// RemoteAddr returns the remote address as string
func (pc *PacketConn) RemoteAddr() string {
	return pc.conn.RemoteAddr().String()
}

func (pc *PacketConn) String() string {
	return fmt.Sprintf("[%s >>> %s]", pc.conn.LocalAddr(), pc.conn.RemoteAddr())
}
