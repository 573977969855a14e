package metrics

import (
	"context"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/process"
)

// CPUPercent returns the last sampled CPU percent of this process
func (s *Sink) CPUPercent() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.cpuPercent))
}

func (s *Sink) setCPUPercent(pcnt float64) {
	atomic.StoreUint64(&s.cpuPercent, math.Float64bits(pcnt))
}

// StartCPUSampler samples the process CPU percent every interval until ctx is done
func (s *Sink) StartCPUSampler(ctx context.Context, interval time.Duration) error {
	pid := os.Getpid()
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return errors.Wrapf(err, "find game process %d", pid)
	}
	gwlog.Infof("metrics: sampling cpu of process %d every %s", pid, interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			pcnt, err := p.CPUPercentWithContext(ctx)
			if err != nil {
				if ctx.Err() == nil {
					gwlog.Warnf("metrics: get process cpu percent failed: %s", err)
				}
				continue
			}
			s.setCPUPercent(pcnt)
		}
	}()
	return nil
}
