package gate

import (
	"fmt"
	"time"

	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/consts"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/opmon"
	"github.com/fractaldogs/dogworld/engine/proto"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
)

// Handle is a live client connection as seen by the registry
//
// Send must not block; Close may be called more than once.
type Handle interface {
	Send(resp *proto.Response) error
	Close() error
	RemoteAddr() string
}

type connEntry struct {
	id              common.ConnectionID
	handle          Handle
	identity        string
	connectedAt     time.Time
	authenticatedAt time.Time
}

func (ce *connEntry) String() string {
	if ce.identity == "" {
		return fmt.Sprintf("%s@%s", ce.id, ce.handle.RemoteAddr())
	}
	return fmt.Sprintf("%s@%s<%s>", ce.id, ce.handle.RemoteAddr(), ce.identity)
}

type registerReq struct {
	handle Handle
	reply  chan common.ConnectionID
}

type authenticateReq struct {
	id       common.ConnectionID
	identity string
	reply    chan bool
}

type unregisterReq struct {
	id common.ConnectionID
}

type sendToReq struct {
	identity string
	id       common.ConnectionID
	msg      *proto.Response
	reply    chan bool
}

type broadcastReq struct {
	msg               *proto.Response
	onlyAuthenticated bool
	reply             chan int
}

type reapReq struct {
	now   time.Time
	reply chan int
}

type identityReq struct {
	id    common.ConnectionID
	reply chan identityReply
}

type identityReply struct {
	identity        string
	authenticatedAt time.Time
}

type countReq struct {
	reply chan int
}

type closeAllReq struct {
	reply chan int
}

// Registry tracks live connections and their authenticated identities
//
// An identity is bound to at most one connection; all state is owned by the registry routine.
type Registry struct {
	timeout time.Duration
	now     func() time.Time

	opQueue *xnsyncutil.SyncQueue
	closed  xnsyncutil.AtomicBool
	done    chan struct{}

	nextID     common.ConnectionID
	conns      map[common.ConnectionID]*connEntry
	byIdentity map[string]*connEntry
}

// NewRegistry starts a registry reaping unauthenticated connections older than timeout
func NewRegistry(timeout time.Duration) *Registry {
	return newRegistry(timeout, time.Now)
}

func newRegistry(timeout time.Duration, now func() time.Time) *Registry {
	r := &Registry{
		timeout:    timeout,
		now:        now,
		opQueue:    xnsyncutil.NewSyncQueue(),
		done:       make(chan struct{}),
		conns:      map[common.ConnectionID]*connEntry{},
		byIdentity: map[string]*connEntry{},
	}
	go r.routine()
	return r
}

func (r *Registry) call(req interface{}) bool {
	if r.closed.Load() {
		return false
	}
	r.opQueue.Push(req)
	return true
}

// Register assigns a fresh connection id to h; 0 if the registry is closed
func (r *Registry) Register(h Handle) common.ConnectionID {
	reply := make(chan common.ConnectionID, 1)
	if !r.call(&registerReq{handle: h, reply: reply}) {
		return 0
	}
	select {
	case id := <-reply:
		return id
	case <-r.done:
		return 0
	}
}

// Authenticate binds identity to the connection, replacing any other connection bound to it
func (r *Registry) Authenticate(id common.ConnectionID, identity string) bool {
	reply := make(chan bool, 1)
	if !r.call(&authenticateReq{id: id, identity: identity, reply: reply}) {
		return false
	}
	return r.waitBool(reply)
}

// Unregister removes the connection; unknown ids are ignored
func (r *Registry) Unregister(id common.ConnectionID) {
	r.call(&unregisterReq{id: id})
}

// SendTo sends msg to the connection bound to identity
func (r *Registry) SendTo(identity string, msg *proto.Response) bool {
	reply := make(chan bool, 1)
	if !r.call(&sendToReq{identity: identity, msg: msg, reply: reply}) {
		return false
	}
	return r.waitBool(reply)
}

// SendToConnection sends msg to one connection
func (r *Registry) SendToConnection(id common.ConnectionID, msg *proto.Response) bool {
	reply := make(chan bool, 1)
	if !r.call(&sendToReq{id: id, msg: msg, reply: reply}) {
		return false
	}
	return r.waitBool(reply)
}

// Broadcast sends msg to every connection and returns how many accepted it
func (r *Registry) Broadcast(msg *proto.Response, onlyAuthenticated bool) int {
	reply := make(chan int, 1)
	if !r.call(&broadcastReq{msg: msg, onlyAuthenticated: onlyAuthenticated, reply: reply}) {
		return 0
	}
	return r.waitInt(reply)
}

// ReapStale closes unauthenticated connections registered longer than the timeout before now
func (r *Registry) ReapStale(now time.Time) int {
	reply := make(chan int, 1)
	if !r.call(&reapReq{now: now, reply: reply}) {
		return 0
	}
	return r.waitInt(reply)
}

// Identity returns the identity bound to the connection, "" if unauthenticated or unknown
func (r *Registry) Identity(id common.ConnectionID) string {
	return r.lookupIdentity(id).identity
}

// AuthenticatedAt returns when the connection bound its current identity, zero if unauthenticated or unknown
func (r *Registry) AuthenticatedAt(id common.ConnectionID) time.Time {
	return r.lookupIdentity(id).authenticatedAt
}

func (r *Registry) lookupIdentity(id common.ConnectionID) identityReply {
	reply := make(chan identityReply, 1)
	if !r.call(&identityReq{id: id, reply: reply}) {
		return identityReply{}
	}
	select {
	case ir := <-reply:
		return ir
	case <-r.done:
		return identityReply{}
	}
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	reply := make(chan int, 1)
	if !r.call(&countReq{reply: reply}) {
		return 0
	}
	return r.waitInt(reply)
}

// Close closes all connections and stops the registry
func (r *Registry) Close() {
	reply := make(chan int, 1)
	if r.call(&closeAllReq{reply: reply}) {
		n := r.waitInt(reply)
		gwlog.Infof("gate: registry closed %d connections", n)
		r.closed.Store(true)
		r.opQueue.Close()
	}
	<-r.done
}

func (r *Registry) waitBool(reply chan bool) bool {
	select {
	case ok := <-reply:
		return ok
	case <-r.done:
		return false
	}
}

func (r *Registry) waitInt(reply chan int) int {
	select {
	case n := <-reply:
		return n
	case <-r.done:
		return 0
	}
}

func (r *Registry) routine() {
	defer close(r.done)

	for {
		req := r.opQueue.Pop()
		if req == nil {
			break
		}

		var op *opmon.Operation
		switch m := req.(type) {
		case *registerReq:
			op = opmon.StartOperation("gate.register")
			m.reply <- r.register(m.handle)
		case *authenticateReq:
			op = opmon.StartOperation("gate.authenticate")
			m.reply <- r.authenticate(m.id, m.identity)
		case *unregisterReq:
			op = opmon.StartOperation("gate.unregister")
			r.unregister(m.id)
		case *sendToReq:
			op = opmon.StartOperation("gate.send")
			var ce *connEntry
			if m.identity != "" {
				ce = r.byIdentity[m.identity]
			} else {
				ce = r.conns[m.id]
			}
			m.reply <- ce != nil && r.send(ce, m.msg)
		case *broadcastReq:
			op = opmon.StartOperation("gate.broadcast")
			n := 0
			for _, ce := range r.conns {
				if m.onlyAuthenticated && ce.identity == "" {
					continue
				}
				if r.send(ce, m.msg) {
					n++
				}
			}
			m.reply <- n
		case *reapReq:
			op = opmon.StartOperation("gate.reap")
			m.reply <- r.reapStale(m.now)
		case *identityReq:
			op = opmon.StartOperation("gate.identity")
			var ir identityReply
			if ce := r.conns[m.id]; ce != nil {
				ir = identityReply{ce.identity, ce.authenticatedAt}
			}
			m.reply <- ir
		case *countReq:
			op = opmon.StartOperation("gate.count")
			m.reply <- len(r.conns)
		case *closeAllReq:
			op = opmon.StartOperation("gate.close")
			n := len(r.conns)
			for id, ce := range r.conns {
				ce.handle.Close()
				delete(r.conns, id)
			}
			r.byIdentity = map[string]*connEntry{}
			m.reply <- n
		default:
			gwlog.Panicf("gate: unknown registry request %T", req)
		}
		op.Finish(time.Millisecond * 10)
	}
}

func (r *Registry) register(h Handle) common.ConnectionID {
	r.nextID++
	ce := &connEntry{id: r.nextID, handle: h, connectedAt: r.now()}
	r.conns[ce.id] = ce
	if consts.DEBUG_CLIENTS {
		gwlog.Debugf("gate: %s registered", ce)
	}
	return ce.id
}

func (r *Registry) authenticate(id common.ConnectionID, identity string) bool {
	ce := r.conns[id]
	if ce == nil || identity == "" {
		return false
	}
	if ce.identity == identity {
		return true
	}

	if old := r.byIdentity[identity]; old != nil {
		gwlog.Infof("gate: %s replaced by %s", old, ce)
		r.send(old, proto.ReplacedNotice())
		old.handle.Close()
		delete(r.conns, old.id)
	}
	if ce.identity != "" {
		delete(r.byIdentity, ce.identity)
	}
	ce.identity = identity
	ce.authenticatedAt = r.now()
	r.byIdentity[identity] = ce
	return true
}

func (r *Registry) unregister(id common.ConnectionID) {
	ce := r.conns[id]
	if ce == nil {
		return
	}
	delete(r.conns, id)
	if ce.identity != "" && r.byIdentity[ce.identity] == ce {
		delete(r.byIdentity, ce.identity)
	}
	if consts.DEBUG_CLIENTS {
		if ce.identity != "" {
			gwlog.Debugf("gate: %s unregistered, authenticated for %s", ce, r.now().Sub(ce.authenticatedAt))
		} else {
			gwlog.Debugf("gate: %s unregistered", ce)
		}
	}
}

func (r *Registry) reapStale(now time.Time) int {
	n := 0
	for id, ce := range r.conns {
		if ce.identity != "" || now.Sub(ce.connectedAt) <= r.timeout {
			continue
		}
		r.send(ce, proto.TimeoutNotice())
		ce.handle.Close()
		delete(r.conns, id)
		n++
	}
	if n > 0 {
		gwlog.Infof("gate: reaped %d unauthenticated connections", n)
	}
	return n
}

func (r *Registry) send(ce *connEntry, msg *proto.Response) bool {
	if err := ce.handle.Send(msg); err != nil {
		if consts.DEBUG_CLIENTS {
			gwlog.Debugf("gate: send to %s failed: %s", ce, err)
		}
		return false
	}
	return true
}
