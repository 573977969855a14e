// Command dogworld runs the game server: client gate, dog store, anti-automation engine and batch commitment.
package main

import (
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fractaldogs/dogworld/engine/binutil"
	"github.com/fractaldogs/dogworld/engine/config"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/service"
	"github.com/fractaldogs/dogworld/engine/settlement"
	"github.com/pkg/errors"
	"golang.org/x/net/websocket"
)

var (
	args struct {
		configFile      string
		logLevel        string
		runInDaemonMode bool
	}
	signalChan = make(chan os.Signal, 1)
)

func parseArgs() {
	flag.StringVar(&args.configFile, "configfile", "dogworld.ini", "set config file path")
	flag.StringVar(&args.logLevel, "log", "", "set log level, will override log level in config")
	flag.BoolVar(&args.runInDaemonMode, "d", false, "run in daemon mode")
	flag.Parse()
}

func loadConfig() *config.DogWorldConfig {
	cfg, err := config.Load(args.configFile)
	if os.IsNotExist(errors.Cause(err)) {
		gwlog.Warnf("config file %s not found, using defaults", args.configFile)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		gwlog.Panicf("load config %s failed: %+v", args.configFile, err)
	}
	if err := config.Validate(cfg); err != nil {
		gwlog.Panicf("invalid config %s: %s", args.configFile, err)
	}
	return cfg
}

func main() {
	rand.Seed(time.Now().UnixNano())
	parseArgs()

	if args.runInDaemonMode {
		daemoncontext := binutil.Daemonize()
		defer daemoncontext.Release()
	}

	cfg := loadConfig()
	if cfg.Core.GoMaxProcs > 0 {
		gwlog.Infof("SET GOMAXPROCS = %d", cfg.Core.GoMaxProcs)
		runtime.GOMAXPROCS(cfg.Core.GoMaxProcs)
	}
	logLevel := args.logLevel
	if logLevel == "" {
		logLevel = cfg.Core.LogLevel
	}
	binutil.SetupGWLog("dogworld", logLevel, cfg.Core.LogFile, cfg.Core.LogStderr)

	settle, err := settlement.New(&cfg.Settlement)
	if err != nil {
		gwlog.Fatalf("create settlement client failed: %s", err)
	}
	gameService, err := service.New(cfg, service.Deps{Settlement: settle})
	if err != nil {
		gwlog.Fatalf("create game service failed: %s", err)
	}

	handlers := binutil.HTTPHandlers{Metrics: gameService.Metrics().Handler()}
	if cfg.Gate.EnableWebSocket {
		handlers.WebSocket = func(ws *websocket.Conn) {
			gameService.Gate().HandleWebSocketConn(ws)
		}
	}
	httpServer, err := binutil.SetupHTTPServer(cfg.Core.HTTPIp, cfg.Core.HTTPPort, handlers)
	if err != nil {
		gwlog.Fatalf("setup http server failed: %s", err)
	}

	setupSignals(gameService)
	if err := gameService.Run(); err != nil {
		gwlog.Fatalf("game service failed: %s", err)
	}
	if httpServer != nil {
		httpServer.Close()
	}
	gwlog.Infof("dogworld terminated gracefully.")
	gwlog.Sync()
}

func setupSignals(gameService *service.GameService) {
	gwlog.Infof("Setup signals ...")
	signal.Ignore(syscall.SIGPIPE, syscall.SIGHUP)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			sig := <-signalChan
			if sig == syscall.SIGINT || sig == syscall.SIGTERM {
				gwlog.Infof("Terminating game service ...")
				gameService.Terminate()
			} else {
				gwlog.Errorf("unexpected signal: %s", sig)
			}
		}
	}()
}
