package binutil

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/natefinch/lumberjack"
	"github.com/pkg/errors"
	"golang.org/x/net/websocket"
)

// HTTPHandlers are the optional endpoints of the HTTP server
type HTTPHandlers struct {
	WebSocket func(ws *websocket.Conn) // mounted at /ws
	Metrics   http.Handler             // mounted at /metrics
}

// NewServeMux builds the mux serving pprof and the given handlers
func NewServeMux(handlers HTTPHandlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	if handlers.WebSocket != nil {
		mux.Handle("/ws", websocket.Handler(handlers.WebSocket))
	}
	if handlers.Metrics != nil {
		mux.Handle("/metrics", handlers.Metrics)
	}
	return mux
}

// SetupHTTPServer starts the HTTP server for go tool pprof, metrics and websockets
//
// It returns nil without error when port is 0.
func SetupHTTPServer(ip string, port int, handlers HTTPHandlers) (*http.Server, error) {
	if port == 0 {
		gwlog.Infof("http server not enabled")
		return nil, nil
	}

	httpHost := fmt.Sprintf("%s:%d", ip, port)
	ln, err := net.Listen("tcp", httpHost)
	if err != nil {
		return nil, errors.Wrapf(err, "listen http %s", httpHost)
	}
	gwlog.Infof("http server listening on %s", httpHost)
	gwlog.Infof("pprof http://%s/debug/pprof/ ... available commands: ", httpHost)
	gwlog.Infof("    go tool pprof http://%s/debug/pprof/heap", httpHost)
	gwlog.Infof("    go tool pprof http://%s/debug/pprof/profile", httpHost)

	server := &http.Server{Handler: NewServeMux(handlers)}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			gwlog.Errorf("http server quit: %s", err)
		}
	}()
	return server, nil
}

// SetupGWLog sets up the log system: rotating file and/or stderr
func SetupGWLog(component string, logLevel string, logFile string, logStderr bool) {
	gwlog.SetSource(component)
	gwlog.Infof("Set log level to %s", logLevel)
	gwlog.SetLevel(gwlog.ParseLevel(logLevel))

	outputWriters := make([]io.Writer, 0, 2)
	if logFile != "" {
		logFileWriter := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 100,
			MaxAge:     30, //days
			Compress:   true,
		}

		logFileWriter.Rotate() // rotate immediately
		outputWriters = append(outputWriters, logFileWriter)
	}

	if logStderr {
		outputWriters = append(outputWriters, os.Stderr)
	}

	switch len(outputWriters) {
	case 0:
		gwlog.SetOutput(io.Discard)
	case 1:
		gwlog.SetOutput(outputWriters[0])
	default:
		gwlog.SetOutput(io.MultiWriter(outputWriters...))
	}
}
