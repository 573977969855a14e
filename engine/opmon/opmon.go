package opmon

import (
	"sort"
	"sync"
	"time"

	"github.com/fractaldogs/dogworld/engine/gwlog"
)

var (
	operationAllocPool = sync.Pool{
		New: func() interface{} {
			return &Operation{}
		},
	}

	monitor = newMonitor()
)

type _OpInfo struct {
	count         uint64
	totalDuration time.Duration
	maxDuration   time.Duration
}

// OpStat is the accumulated timing of one operation name since the last dump
type OpStat struct {
	Name  string
	Count uint64
	Avg   time.Duration
	Max   time.Duration
}

type _Monitor struct {
	sync.Mutex
	opInfos map[string]*_OpInfo
}

func newMonitor() *_Monitor {
	m := &_Monitor{
		opInfos: map[string]*_OpInfo{},
	}
	return m
}

func (monitor *_Monitor) record(opname string, duration time.Duration) {
	monitor.Lock()
	info := monitor.opInfos[opname]
	if info == nil {
		info = &_OpInfo{}
		monitor.opInfos[opname] = info
	}
	info.count += 1
	info.totalDuration += duration
	if duration > info.maxDuration {
		info.maxDuration = duration
	}
	monitor.Unlock()
}

func (monitor *_Monitor) collect() []OpStat {
	monitor.Lock()
	opInfos := monitor.opInfos
	monitor.opInfos = map[string]*_OpInfo{} // clear to be empty
	monitor.Unlock()

	stats := make([]OpStat, 0, len(opInfos))
	for name, info := range opInfos {
		stats = append(stats, OpStat{
			Name:  name,
			Count: info.count,
			Avg:   info.totalDuration / time.Duration(info.count),
			Max:   info.maxDuration,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Name < stats[j].Name
	})
	return stats
}

// Collect returns the operation stats recorded since the last Collect or Dump and resets them
func Collect() []OpStat {
	return monitor.collect()
}

// Dump logs the operation stats recorded since the last dump
func Dump() {
	stats := monitor.collect()
	if len(stats) == 0 {
		return
	}
	gwlog.Infof("=====================================================================================")
	for _, s := range stats {
		gwlog.Infof("%-30sx%-10d AVG %-10s MAX %-10s", s.Name, s.Count, s.Avg, s.Max)
	}
}

// Operation is the type of operation to be monitored
type Operation struct {
	name      string
	startTime time.Time
}

// StartOperation creates a new operation
func StartOperation(operationName string) *Operation {
	op := operationAllocPool.Get().(*Operation)
	op.name = operationName
	op.startTime = time.Now()
	return op
}

// Finish finishes the operation and records the duration of operation
func (op *Operation) Finish(warnThreshold time.Duration) time.Duration {
	takeTime := time.Since(op.startTime)
	monitor.record(op.name, takeTime)
	if takeTime >= warnThreshold {
		gwlog.Warnf("opmon: operation %s takes %s > %s", op.name, takeTime, warnThreshold)
	}
	operationAllocPool.Put(op)
	return takeTime
}
