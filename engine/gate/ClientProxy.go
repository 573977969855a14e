package gate

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/consts"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/netutil"
	"github.com/fractaldogs/dogworld/engine/proto"
	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/netconnutil"
	"golang.org/x/time/rate"
)

var (
	// ErrProxyClosed is returned by Send after Close
	ErrProxyClosed = errors.New("client proxy closed")
	// ErrSendQueueFull is returned when a client does not read its responses fast enough
	ErrSendQueueFull = errors.New("client proxy send queue full")
)

const closeFlushTimeout = time.Second

// ClientCommand is a decoded command together with the connection it came from
type ClientCommand struct {
	ConnID     common.ConnectionID
	Cmd        proto.Command
	ReceivedAt time.Time
}

// ClientProxy is a client connection managed by the gate
type ClientProxy struct {
	id      common.ConnectionID
	pc      *netutil.PacketConn
	limiter *rate.Limiter

	sendQueue chan *proto.Response
	closing   chan struct{}
	closeOnce sync.Once
	closed    xnsyncutil.AtomicBool
}

func newClientProxy(_conn net.Conn, rateLimit float64, rateBurst int) *ClientProxy {
	conn := netconnutil.NewNoTempErrorConn(_conn)
	limit := rate.Inf
	if rateLimit > 0 {
		limit = rate.Limit(rateLimit)
	}
	return &ClientProxy{
		pc:        netutil.NewPacketConn(conn),
		limiter:   rate.NewLimiter(limit, rateBurst),
		sendQueue: make(chan *proto.Response, consts.CLIENT_PROXY_SEND_QUEUE_SIZE),
		closing:   make(chan struct{}),
	}
}

func (cp *ClientProxy) String() string {
	return fmt.Sprintf("ClientProxy<%s@%s>", cp.id, cp.pc.RemoteAddr())
}

// Send queues resp for the send routine
func (cp *ClientProxy) Send(resp *proto.Response) error {
	if cp.closed.Load() {
		return ErrProxyClosed
	}
	select {
	case cp.sendQueue <- resp:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops the proxy after responses already queued are written
func (cp *ClientProxy) Close() error {
	cp.closeOnce.Do(func() {
		cp.closed.Store(true)
		close(cp.closing)
		time.AfterFunc(closeFlushTimeout, func() {
			cp.pc.Close()
		})
	})
	return nil
}

// RemoteAddr returns the client address
func (cp *ClientProxy) RemoteAddr() string {
	return cp.pc.RemoteAddr()
}

// sendRoutine writes queued responses; after Close it drains the queue and leaves
// closing the connection to Close so the last packets get flushed
func (cp *ClientProxy) sendRoutine() {
	for {
		select {
		case resp := <-cp.sendQueue:
			if !cp.write(resp) {
				cp.Close()
				cp.pc.Close()
				return
			}
		case <-cp.closing:
			for {
				select {
				case resp := <-cp.sendQueue:
					if !cp.write(resp) {
						cp.pc.Close()
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (cp *ClientProxy) write(resp *proto.Response) bool {
	data, err := proto.EncodeResponse(resp)
	if err != nil {
		gwlog.Errorf("%s: encode %s response failed: %s", cp, resp.Kind, err)
		return true
	}
	if consts.DEBUG_PACKETS {
		gwlog.Debugf("%s: send %s (%d bytes)", cp, resp.Kind, len(data))
	}
	if err := cp.pc.SendPacket(data); err != nil {
		if !netutil.IsConnectionError(err) {
			gwlog.Warnf("%s: send failed: %s", cp, err)
		}
		return false
	}
	return true
}

// serve reads commands until the connection fails, forwarding accepted ones through forward
func (cp *ClientProxy) serve(forward func(ClientCommand) bool) {
	for {
		payload, err := cp.pc.RecvPacket()
		if err != nil {
			if cp.closed.Load() || netutil.IsConnectionError(err) {
				gwlog.Debugf("%s disconnected", cp)
			} else {
				gwlog.Warnf("%s: recv failed: %s", cp, err)
			}
			return
		}

		cmd, err := proto.ParseCommand(payload)
		if err != nil {
			if consts.DEBUG_PACKETS {
				gwlog.Debugf("%s: bad command: %s", cp, err)
			}
			cp.Send(proto.ErrorToResponse(err))
			continue
		}
		if !cp.limiter.Allow() {
			cp.Send(proto.ErrorResponse(proto.CODE_THROTTLED, "too many commands"))
			continue
		}
		if !forward(ClientCommand{ConnID: cp.id, Cmd: cmd, ReceivedAt: time.Now()}) {
			cp.Send(proto.ErrorResponse(proto.CODE_UNAVAILABLE, "server is shutting down"))
			return
		}
	}
}
