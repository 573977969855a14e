package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fractaldogs/dogworld/engine/anticheat"
	"github.com/fractaldogs/dogworld/engine/async"
	"github.com/fractaldogs/dogworld/engine/audit"
	"github.com/fractaldogs/dogworld/engine/batch"
	"github.com/fractaldogs/dogworld/engine/config"
	"github.com/fractaldogs/dogworld/engine/consts"
	"github.com/fractaldogs/dogworld/engine/crontab"
	"github.com/fractaldogs/dogworld/engine/dog"
	"github.com/fractaldogs/dogworld/engine/gate"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/metrics"
	"github.com/fractaldogs/dogworld/engine/opmon"
	"github.com/fractaldogs/dogworld/engine/post"
	"github.com/fractaldogs/dogworld/engine/settlement"
	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/goTimer"
)

const (
	rsNotRunning = iota
	rsRunning
	rsTerminating
	rsTerminated
)

// Deps are the collaborators living outside the game process
type Deps struct {
	Settlement settlement.Client // nil logs batches only
	Audit      audit.Opener      // nil opens the configured audit storage
	Scorer     anticheat.Scorer // nil uses the configured CV scorer
}

// GameService owns every component of the game and runs the main loop
//
// Client commands, timers and posted callbacks all run on the main loop;
// store calls run on per-identity async workers.
type GameService struct {
	cfg *config.DogWorldConfig

	store      *dog.Store
	anticheat  *anticheat.Engine
	aggregator *batch.Aggregator
	registry   *gate.Registry
	gate       *gate.GateService
	metrics    *metrics.Sink
	auditLog   *audit.Log
	settle     settlement.Client

	jobs       *async.Pool // player mutations
	settleJobs *async.Pool // settlement submissions
	postQueue  *post.Queue
	crontab    *crontab.Table
	timers     []*timer.Timer

	packetQueue chan gate.ClientCommand
	runState    xnsyncutil.AtomicInt
	terminated  *xnsyncutil.OneTimeCond
	ctx         context.Context
	cancel      context.CancelFunc
}

// New wires all components from cfg; nothing runs until Run
func New(cfg *config.DogWorldConfig, deps Deps) (*GameService, error) {
	if deps.Settlement == nil {
		deps.Settlement = settlement.LogClient{}
	}
	if deps.Audit == nil {
		deps.Audit = audit.ConfigOpener(&cfg.Audit)
	}
	scorer := deps.Scorer
	if scorer == nil {
		scorer = &anticheat.CVScorer{
			MinSamples: consts.MIN_INTERVAL_SAMPLES,
			Cutoffs:    cfg.AntiCheat.CVCutoffs,
			Scores:     cfg.AntiCheat.CVScores,
		}
	}

	gs := &GameService{
		cfg:         cfg,
		settle:      deps.Settlement,
		postQueue:   post.NewQueue(),
		crontab:     crontab.NewTable(),
		packetQueue: make(chan gate.ClientCommand, consts.GAME_SERVICE_PACKET_QUEUE_SIZE),
		terminated:  xnsyncutil.NewOneTimeCond(),
	}
	gs.ctx, gs.cancel = context.WithCancel(context.Background())
	gs.metrics = metrics.NewSink(cfg.Metrics.LatencySamples)
	gs.jobs = async.NewPool(gs.postQueue)
	gs.settleJobs = async.NewPool(gs.postQueue)
	gs.auditLog = audit.NewLog(deps.Audit, gs.postQueue)
	lastSeq, err := gs.auditLog.LastSequence()
	if err != nil {
		gs.settleJobs.Shutdown()
		gs.jobs.Shutdown()
		gs.auditLog.Shutdown()
		gs.cancel()
		return nil, errors.Wrap(err, "read last audit sequence")
	}
	gwlog.Infof("%s: audit log continues after sequence %d", gs, lastSeq)
	gs.aggregator = batch.NewAggregator(batch.Config{
		BatchSize:     cfg.Batch.BatchSize,
		BatchInterval: cfg.Batch.BatchInterval,
		LastSequence:  lastSeq,
	}, gs.auditLog, gs.settle, gs.settleJobs, gs.metrics)
	gs.store = dog.NewStore(dog.Config{
		MaxLevel:          cfg.Store.MaxLevel,
		PrestigeThreshold: cfg.Store.PrestigeThreshold,
		StartingLogTreats: cfg.Store.StartingLogTreats,
		MergeBonus:        cfg.Store.MergeBonus,
	}, gs.aggregator)
	gs.anticheat = anticheat.NewEngine(anticheat.Config{
		MaxMergesPerHour:   cfg.AntiCheat.MaxMergesPerHour,
		MaxMintsPerHour:    cfg.AntiCheat.MaxMintsPerHour,
		PrestigeCooldown:   cfg.AntiCheat.PrestigeCooldown,
		SuspicionThreshold: cfg.AntiCheat.SuspicionThreshold,
	}, scorer)
	gs.registry = gate.NewRegistry(cfg.Gate.ConnectionTimeout)
	gs.gate = gate.NewGateService(&cfg.Gate, gs.registry, gs.packetQueue)
	return gs, nil
}

func (gs *GameService) String() string {
	return fmt.Sprintf("GameService<%s:%d>", gs.cfg.Gate.Ip, gs.cfg.Gate.Port)
}

// Gate returns the client gate, for mounting the WebSocket handler
func (gs *GameService) Gate() *gate.GateService {
	return gs.gate
}

// Metrics returns the metrics sink, for mounting /metrics
func (gs *GameService) Metrics() *metrics.Sink {
	return gs.metrics
}

// Store returns the dog store, for admin tooling
func (gs *GameService) Store() *dog.Store {
	return gs.store
}

// Run starts the gate and runs the main loop until the service is terminated
func (gs *GameService) Run() error {
	if err := gs.gate.Start(); err != nil {
		gs.gate.Stop()
		gs.shutdownComponents()
		gs.terminated.Signal()
		return err
	}
	if gs.cfg.Metrics.CPUSampleInterval > 0 {
		if err := gs.metrics.StartCPUSampler(gs.ctx, gs.cfg.Metrics.CPUSampleInterval); err != nil {
			gwlog.Warnf("%s: cpu sampler not started: %s", gs, err)
		}
	}

	gs.runState.Store(rsRunning)
	gwlog.Infof("%s: running with config:\n%s", gs, config.DumpPretty(gs.cfg))
	gs.setupTimers()
	gs.serveRoutine()
	return nil
}

func (gs *GameService) setupTimers() {
	gs.timers = append(gs.timers,
		timer.AddTimer(gs.cfg.Batch.FlushCheckInterval, func() {
			gs.aggregator.CheckFlush(time.Now())
		}),
		timer.AddTimer(gs.cfg.Gate.ReapInterval, func() {
			gs.registry.ReapStale(time.Now())
		}),
	)
	gs.crontab.Register(-gs.cfg.Metrics.DumpMinutes, -1, gs.dumpStats)
	gs.crontab.Start()
}

func (gs *GameService) serveRoutine() {
	ticker := time.NewTicker(consts.GAME_SERVICE_TICK_INTERVAL)
	defer ticker.Stop()

	// here begins the main loop of the game
	for {
		select {
		case cc := <-gs.packetQueue:
			op := opmon.StartOperation("game.handleCommand")
			gs.handleClientCommand(cc)
			op.Finish(time.Millisecond * 100)
		case <-ticker.C:
			if gs.runState.Load() == rsTerminating {
				gs.doTerminate()
				return
			}
			timer.Tick()
		}

		// after handling packets or firing timers, check the posted functions
		gs.postQueue.Tick()
	}
}

// Terminate asks the main loop to shut down; it returns immediately
func (gs *GameService) Terminate() {
	if gs.runState.Load() == rsRunning {
		gs.runState.Store(rsTerminating)
	}
}

// Wait blocks until the service has terminated
func (gs *GameService) Wait() {
	gs.terminated.Wait()
}

// doTerminate stops in an order that commits every diff produced before shutdown:
// no new commands, pending mutations finish, clients are told, the last batch is flushed and settled.
func (gs *GameService) doTerminate() {
	gwlog.Infof("%s: terminating ...", gs)
	for _, t := range gs.timers {
		t.Cancel()
	}
	gs.timers = nil
	gs.crontab.Stop()

	gs.gate.Stop()
	gs.drainPacketQueue()
	gs.jobs.Shutdown()
	gs.postQueue.Tick()

	n := gs.registry.Broadcast(shutdownNotice, false)
	gwlog.Infof("%s: shutdown notice sent to %d clients", gs, n)

	c, err := gs.aggregator.Flush(gs.ctx, "shutdown")
	if err != nil {
		gwlog.Errorf("%s: final flush failed: %s", gs, err)
	} else if c != nil {
		gwlog.Infof("%s: final batch %s", gs, c)
	}
	gs.shutdownComponents()

	gs.dumpStats()
	gs.runState.Store(rsTerminated)
	gwlog.Infof("%s: terminated", gs)
	gs.terminated.Signal()
}

func (gs *GameService) drainPacketQueue() {
	for {
		select {
		case cc := <-gs.packetQueue:
			gs.handleClientCommand(cc)
		default:
			return
		}
	}
}

func (gs *GameService) shutdownComponents() {
	gs.jobs.Shutdown()
	gs.settleJobs.Shutdown()
	gs.postQueue.Tick()
	gs.aggregator.Shutdown()
	gs.auditLog.Shutdown()
	gs.registry.Close()
	gs.store.Shutdown()
	gs.cancel()
	if err := gs.settle.Close(); err != nil {
		gwlog.Warnf("%s: close settlement client: %s", gs, err)
	}
}

func (gs *GameService) dumpStats() {
	gwlog.Infof("%s: %s", gs, gs.metrics.Snapshot())
	gwlog.Infof("%s: %d connections, %d anti-cheat sessions", gs, gs.registry.Count(), gs.anticheat.SessionCount())
	if stats, err := gs.store.Stats(gs.ctx); err == nil {
		gwlog.Infof("%s: dogs live=%d retired=%d next=%d", gs, stats.Live, stats.Retired, stats.NextID)
	}
	opmon.Dump()
}
