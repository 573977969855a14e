package metrics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink collects the service counters and request latencies
//
// Counters are plain atomics so any goroutine may bump them; the same values are exported
// through a dedicated prometheus registry.
type Sink struct {
	requests   uint64
	created    uint64
	merged     uint64
	prestiged  uint64
	submitted  uint64
	failures   uint64
	blocks     uint64
	cpuPercent uint64 // math.Float64bits

	samplesLock sync.Mutex
	samples     []time.Duration
	next        int
	full        bool

	registry *prometheus.Registry
	latency  prometheus.Histogram
}

// Percentiles of the sampled request latencies
type Percentiles struct {
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// Snapshot is a point-in-time copy of all counters
type Snapshot struct {
	RequestsTotal      uint64
	DogsCreated        uint64
	DogsMerged         uint64
	DogsPrestiged      uint64
	BatchesSubmitted   uint64
	SettlementFailures uint64
	AntiCheatBlocks    uint64
	LatencySamples     int
	Latency            Percentiles
	CPUPercent         float64
}

func (s Snapshot) String() string {
	return fmt.Sprintf("requests=%d created=%d merged=%d prestiged=%d batches=%d settlement_failures=%d blocks=%d latency(n=%d p50=%s p95=%s p99=%s) cpu=%.1f%%",
		s.RequestsTotal, s.DogsCreated, s.DogsMerged, s.DogsPrestiged, s.BatchesSubmitted, s.SettlementFailures, s.AntiCheatBlocks,
		s.LatencySamples, s.Latency.P50, s.Latency.P95, s.Latency.P99, s.CPUPercent)
}

// NewSink creates a sink keeping at most latencySamples latencies
func NewSink(latencySamples int) *Sink {
	if latencySamples <= 0 {
		latencySamples = 1
	}
	s := &Sink{
		samples:  make([]time.Duration, latencySamples),
		registry: prometheus.NewRegistry(),
	}
	s.register()
	return s
}

func (s *Sink) RequestReceived()  { atomic.AddUint64(&s.requests, 1) }
func (s *Sink) DogCreated()       { atomic.AddUint64(&s.created, 1) }
func (s *Sink) DogMerged()        { atomic.AddUint64(&s.merged, 1) }
func (s *Sink) DogPrestiged()     { atomic.AddUint64(&s.prestiged, 1) }
func (s *Sink) BatchSubmitted()   { atomic.AddUint64(&s.submitted, 1) }
func (s *Sink) SettlementFailed() { atomic.AddUint64(&s.failures, 1) }
func (s *Sink) AntiCheatBlocked() { atomic.AddUint64(&s.blocks, 1) }

// ObserveLatency records the handling time of one request, dropping the oldest sample when full
func (s *Sink) ObserveLatency(d time.Duration) {
	s.samplesLock.Lock()
	s.samples[s.next] = d
	s.next++
	if s.next == len(s.samples) {
		s.next = 0
		s.full = true
	}
	s.samplesLock.Unlock()
	s.latency.Observe(d.Seconds())
}

func (s *Sink) sampled() []time.Duration {
	s.samplesLock.Lock()
	defer s.samplesLock.Unlock()
	n := s.next
	if s.full {
		n = len(s.samples)
	}
	return append([]time.Duration(nil), s.samples[:n]...)
}

// Percentiles computes p50/p95/p99 by nearest rank; all zero without samples
func (s *Sink) Percentiles() Percentiles {
	sorted := s.sampled()
	if len(sorted) == 0 {
		return Percentiles{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return Percentiles{
		P50: nearestRank(sorted, 50),
		P95: nearestRank(sorted, 95),
		P99: nearestRank(sorted, 99),
	}
}

func nearestRank(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100 // ceil(p/100 * n)
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// Snapshot copies all counters
func (s *Sink) Snapshot() Snapshot {
	samples := s.sampled()
	return Snapshot{
		RequestsTotal:      atomic.LoadUint64(&s.requests),
		DogsCreated:        atomic.LoadUint64(&s.created),
		DogsMerged:         atomic.LoadUint64(&s.merged),
		DogsPrestiged:      atomic.LoadUint64(&s.prestiged),
		BatchesSubmitted:   atomic.LoadUint64(&s.submitted),
		SettlementFailures: atomic.LoadUint64(&s.failures),
		AntiCheatBlocks:    atomic.LoadUint64(&s.blocks),
		LatencySamples:     len(samples),
		Latency:            s.Percentiles(),
		CPUPercent:         s.CPUPercent(),
	}
}
