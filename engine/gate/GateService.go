package gate

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/fractaldogs/dogworld/engine/config"
	"github.com/fractaldogs/dogworld/engine/consts"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/gwutils"
	"github.com/fractaldogs/dogworld/engine/netutil"
	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xtaci/kcp-go"
	"golang.org/x/net/websocket"
)

// GateService accepts client connections and forwards their commands to the game service
type GateService struct {
	cfg      *config.GateConfig
	registry *Registry
	commands chan<- ClientCommand

	listenAddr  string
	tcpAddr     net.Addr
	listeners   []io.Closer
	lock        sync.Mutex
	terminating xnsyncutil.AtomicBool
	stopped     chan struct{}
}

// NewGateService creates a gate registering connections in registry and forwarding commands into commands
func NewGateService(cfg *config.GateConfig, registry *Registry, commands chan<- ClientCommand) *GateService {
	return &GateService{
		cfg:        cfg,
		registry:   registry,
		commands:   commands,
		listenAddr: fmt.Sprintf("%s:%d", cfg.Ip, cfg.Port),
		stopped:    make(chan struct{}),
	}
}

func (gs *GateService) String() string {
	return fmt.Sprintf("GateService<%s>", gs.listenAddr)
}

// Start listens on TCP, and on KCP if enabled
func (gs *GateService) Start() error {
	ln, err := net.Listen("tcp", gs.listenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen tcp %s", gs.listenAddr)
	}
	gs.lock.Lock()
	gs.tcpAddr = ln.Addr()
	gs.listeners = append(gs.listeners, ln)
	gs.lock.Unlock()
	gwlog.Infof("%s: listening on TCP %s ...", gs, ln.Addr())
	go func() {
		err := netutil.ServeListener(ln, gs)
		if !gs.terminating.Load() {
			gwlog.Errorf("%s: tcp server quit: %s", gs, err)
		}
	}()

	if gs.cfg.EnableKCP {
		kcpListener, err := kcp.ListenWithOptions(gs.listenAddr, nil, 10, 3)
		if err != nil {
			return errors.Wrapf(err, "listen kcp %s", gs.listenAddr)
		}
		gs.lock.Lock()
		gs.listeners = append(gs.listeners, kcpListener)
		gs.lock.Unlock()
		gwlog.Infof("%s: listening on KCP %s ...", gs, kcpListener.Addr())
		go gs.serveKCP(kcpListener)
	}
	return nil
}

// TCPAddr returns the bound TCP address after Start
func (gs *GateService) TCPAddr() net.Addr {
	gs.lock.Lock()
	defer gs.lock.Unlock()
	return gs.tcpAddr
}

// ServeTCPConnection handles TCP connections from clients
func (gs *GateService) ServeTCPConnection(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(consts.CLIENT_PROXY_SET_TCP_NO_DELAY)
	}
	gs.handleClientConnection(conn)
}

func (gs *GateService) serveKCP(kcpListener *kcp.Listener) {
	gwutils.RepeatUntilPanicless(func() {
		for {
			conn, err := kcpListener.AcceptKCP()
			if err != nil {
				if gs.terminating.Load() {
					return
				}
				gwlog.Panic(err)
			}
			go gs.handleKCPConn(conn)
		}
	})
}

func (gs *GateService) handleKCPConn(conn *kcp.UDPSession) {
	gwlog.Debugf("%s: KCP connection from %s", gs, conn.RemoteAddr())
	// turbo mode, see https://github.com/skywind3000/kcp/blob/master/README.en.md#protocol-configuration
	conn.SetStreamMode(true)
	conn.SetWriteDelay(true)
	conn.SetNoDelay(1, 10, 2, 1)
	gs.handleClientConnection(conn)
}

// HandleWebSocketConn handles WebSocket connections accepted by the HTTP server
func (gs *GateService) HandleWebSocketConn(wsConn *websocket.Conn) {
	gwlog.Debugf("%s: WebSocket connection from %s", gs, wsConn.RemoteAddr())
	wsConn.PayloadType = websocket.BinaryFrame
	gs.handleClientConnection(wsConn)
}

func (gs *GateService) handleClientConnection(netconn net.Conn) {
	if gs.terminating.Load() {
		netconn.Close()
		return
	}

	cp := newClientProxy(netconn, gs.cfg.RateLimit, gs.cfg.RateBurst)
	cp.id = gs.registry.Register(cp)
	if cp.id == 0 {
		cp.pc.Close()
		return
	}
	if consts.DEBUG_CLIENTS {
		gwlog.Debugf("%s: client %s connected", gs, cp)
	}

	go cp.sendRoutine()
	cp.serve(gs.forward)

	cp.Close()
	gs.registry.Unregister(cp.id)
	if consts.DEBUG_CLIENTS {
		gwlog.Debugf("%s: client %s disconnected", gs, cp)
	}
}

func (gs *GateService) forward(cc ClientCommand) bool {
	select {
	case gs.commands <- cc:
		return true
	case <-gs.stopped:
		return false
	}
}

// Stop closes the listeners; connected clients stay until the registry closes them
func (gs *GateService) Stop() {
	if gs.terminating.Load() {
		return
	}
	gs.terminating.Store(true)
	close(gs.stopped)

	gs.lock.Lock()
	listeners := gs.listeners
	gs.listeners = nil
	gs.lock.Unlock()
	for _, ln := range listeners {
		ln.Close()
	}
	gwlog.Infof("%s: stopped accepting connections", gs)
}
