package netutil

import (
	"net"

	"github.com/fractaldogs/dogworld/engine/gwlog"
)

// TCPServerDelegate handles the connections accepted by ServeListener
type TCPServerDelegate interface {
	ServeTCPConnection(net.Conn)
}

// ServeListener accepts connections from ln until it is closed, handing each to its own goroutine
func ServeListener(ln net.Listener, delegate TCPServerDelegate) error {
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if IsTimeoutError(err) {
				continue
			}
			return err
		}

		gwlog.Debugf("accepted %s on %s", conn.RemoteAddr(), ln.Addr())
		go delegate.ServeTCPConnection(conn)
	}
}
