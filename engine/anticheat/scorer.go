package anticheat

import (
	"math"
	"time"

	"github.com/fractaldogs/dogworld/engine/consts"
)

// Scorer turns an identity's recent inter-action intervals into a suspicion score in 0..1
type Scorer interface {
	Score(intervals []time.Duration) float64
}

// CVScorer scores by the coefficient of variation of intervals: the more regular, the more suspicious.
// It is a heuristic for scripted clients, not proof of abuse.
type CVScorer struct {
	MinSamples int
	Cutoffs    []float64 // increasing CV cutoffs
	Scores     []float64 // score when CV is below the matching cutoff
}

// DefaultScorer returns the CVScorer with the stock cutoffs
func DefaultScorer() *CVScorer {
	return &CVScorer{
		MinSamples: consts.MIN_INTERVAL_SAMPLES,
		Cutoffs:    []float64{0.1, 0.2, 0.3},
		Scores:     []float64{0.9, 0.6, 0.3},
	}
}

// Score implements Scorer
func (s *CVScorer) Score(intervals []time.Duration) float64 {
	if len(intervals) < s.MinSamples || len(intervals) == 0 {
		return 0
	}
	cv := CoefficientOfVariation(intervals)
	for i, cutoff := range s.Cutoffs {
		if cv < cutoff {
			return s.Scores[i]
		}
	}
	return 0
}

// CoefficientOfVariation returns stddev/mean of intervals, 0 if the mean is 0
func CoefficientOfVariation(intervals []time.Duration) float64 {
	var sum float64
	for _, d := range intervals {
		sum += d.Seconds()
	}
	mean := sum / float64(len(intervals))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, d := range intervals {
		diff := d.Seconds() - mean
		variance += diff * diff
	}
	variance /= float64(len(intervals))
	return math.Sqrt(variance) / mean
}
