// Command dogbot drives simulated players against a dogworld gate, for load and soak testing.
package main

import (
	"flag"
	"math/rand"
	"sync"
	"time"

	"github.com/fractaldogs/dogworld/engine/binutil"
	"github.com/fractaldogs/dogworld/engine/opmon"
)

var (
	args struct {
		addr          string
		useKCP        bool
		bots          int
		actions       int
		delay         time.Duration
		prestigeLevel int
		logLevel      string
	}
)

func parseArgs() {
	flag.StringVar(&args.addr, "addr", "127.0.0.1:14000", "gate address")
	flag.BoolVar(&args.useKCP, "kcp", false, "connect with KCP instead of TCP")
	flag.IntVar(&args.bots, "n", 10, "number of bots")
	flag.IntVar(&args.actions, "actions", 100, "commands sent by each bot")
	flag.DurationVar(&args.delay, "delay", 200*time.Millisecond, "mean think time between commands")
	flag.IntVar(&args.prestigeLevel, "prestige", 50, "level at which bots prestige their dogs")
	flag.StringVar(&args.logLevel, "log", "info", "log level")
	flag.Parse()
}

func main() {
	rand.Seed(time.Now().UnixNano())
	parseArgs()
	binutil.SetupGWLog("dogbot", args.logLevel, "", true)

	var wait sync.WaitGroup
	wait.Add(args.bots)
	for i := 0; i < args.bots; i++ {
		bot := newBot(i+1, args.prestigeLevel)
		go func() {
			defer wait.Done()
			bot.run(args.addr, args.useKCP, args.actions, args.delay)
		}()
	}
	wait.Wait()
	opmon.Dump()
}
