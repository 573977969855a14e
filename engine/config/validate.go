package config

import (
	"strconv"

	"github.com/fractaldogs/dogworld/engine/logvalue"
	"github.com/pkg/errors"
)

// Validate checks thresholds for consistency
func Validate(config *DogWorldConfig) error {
	if config.Core.Precision != logvalue.Precision {
		// every node and the settlement program must agree on the fixed-point scale
		return errors.Errorf("precision must be %d, got %d", logvalue.Precision, config.Core.Precision)
	}
	if config.Core.AsyncWorkers <= 0 {
		return errors.Errorf("async_workers must be positive")
	}

	sc := &config.Store
	if sc.MaxLevel < 2 {
		return errors.Errorf("max_level must be at least 2")
	}
	if sc.PrestigeThreshold < 1 || sc.PrestigeThreshold > sc.MaxLevel {
		return errors.Errorf("prestige_threshold must be within 1..%d", sc.MaxLevel)
	}

	ac := &config.AntiCheat
	if ac.MaxMergesPerHour <= 0 || ac.MaxMintsPerHour <= 0 {
		return errors.Errorf("anticheat rate limits must be positive")
	}
	if ac.PrestigeCooldown < 0 {
		return errors.Errorf("prestige_cooldown must not be negative")
	}
	if len(ac.CVCutoffs) != len(ac.CVScores) {
		return errors.Errorf("cv_cutoffs and cv_scores must have the same length")
	}
	for i := range ac.CVCutoffs {
		if i > 0 && ac.CVCutoffs[i] <= ac.CVCutoffs[i-1] {
			return errors.Errorf("cv_cutoffs must be increasing")
		}
		if ac.CVScores[i] < 0 || ac.CVScores[i] > 1 {
			return errors.Errorf("cv_scores must be within 0..1")
		}
	}

	bc := &config.Batch
	if bc.BatchSize <= 0 {
		return errors.Errorf("batch_size must be positive")
	}
	if bc.BatchInterval <= 0 || bc.FlushCheckInterval <= 0 {
		return errors.Errorf("batch_interval and flush_check_interval must be positive")
	}

	gc := &config.Gate
	if gc.ConnectionTimeout <= 0 || gc.ReapInterval <= 0 {
		return errors.Errorf("connection_timeout and reap_interval must be positive")
	}
	if gc.RateLimit <= 0 || gc.RateBurst <= 0 {
		return errors.Errorf("rate_limit and rate_burst must be positive")
	}

	switch config.Settlement.Type {
	case "log":
	case "redis":
		if config.Settlement.Url == "" {
			return errors.Errorf("settlement redis url is not set")
		}
		if config.Settlement.Queue == "" {
			return errors.Errorf("settlement redis queue is not set")
		}
	default:
		return errors.Errorf("unknown settlement type: %s", config.Settlement.Type)
	}

	if err := validateAuditConfig(&config.Audit); err != nil {
		return err
	}

	if config.Metrics.LatencySamples <= 0 {
		return errors.Errorf("latency_samples must be positive")
	}
	if config.Metrics.DumpMinutes < 1 || config.Metrics.DumpMinutes > 60 {
		return errors.Errorf("dump_minutes must be in 1..60, got %d", config.Metrics.DumpMinutes)
	}
	return nil
}

func validateAuditConfig(config *AuditConfig) error {
	switch config.Type {
	case "memory":
	case "filesystem":
		if config.Directory == "" {
			return errors.Errorf("audit directory is not set")
		}
	case "mongodb":
		if config.Url == "" {
			return errors.Errorf("mongodb url is not set")
		}
		if config.Collection == "" {
			return errors.Errorf("mongodb collection is not set")
		}
	case "redis":
		if config.Url == "" {
			return errors.Errorf("redis host is not set")
		}
		if _, err := strconv.Atoi(config.DB); err != nil {
			return errors.Wrap(err, "redis db must be integer")
		}
	case "redis_cluster":
		if len(config.StartNodes) == 0 {
			return errors.Errorf("must have at least 1 start_nodes for [audit].redis_cluster")
		}
	default:
		return errors.Errorf("unknown audit type: %s", config.Type)
	}
	return nil
}
