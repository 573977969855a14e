package config

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/logvalue"
	"github.com/go-ini/ini"
	"github.com/pkg/errors"
)

const (
	_DEFAULT_CONFIG_FILE  = "dogworld.ini"
	_DEFAULT_LOCALHOST_IP = "127.0.0.1"
	_DEFAULT_LOG_LEVEL    = "debug"
	_DEFAULT_AUDIT_DB     = "dogworld"
)

// CoreConfig defines process-wide fields
type CoreConfig struct {
	Precision    int
	AsyncWorkers int
	LogFile      string
	LogStderr    bool
	LogLevel     string
	HTTPIp       string
	HTTPPort     int
	GoMaxProcs   int
}

// StoreConfig defines fields of the dog store
type StoreConfig struct {
	MaxLevel          int
	PrestigeThreshold int
	StartingLogTreats logvalue.Value
	MergeBonus        logvalue.Value
}

// AntiCheatConfig defines fields of the anti-automation engine
type AntiCheatConfig struct {
	MaxMergesPerHour   int
	MaxMintsPerHour    int
	PrestigeCooldown   time.Duration
	SuspicionThreshold float64
	CVCutoffs          []float64
	CVScores           []float64
}

// BatchConfig defines fields of the batch aggregator
type BatchConfig struct {
	BatchSize          int
	BatchInterval      time.Duration
	FlushCheckInterval time.Duration
}

// GateConfig defines fields of the client gate
type GateConfig struct {
	Ip                string
	Port              int
	EnableKCP         bool
	EnableWebSocket   bool
	ConnectionTimeout time.Duration
	ReapInterval      time.Duration
	RateLimit         float64
	RateBurst         int
}

// SettlementConfig defines fields of the settlement client
type SettlementConfig struct {
	Type  string // log, redis
	Url   string // redis
	DB    int    // redis
	Queue string // redis
}

// AuditConfig defines fields of the commitment audit storage
type AuditConfig struct {
	Type       string // memory, filesystem, redis, redis_cluster, mongodb
	Directory  string // filesystem
	Url        string // redis, mongodb
	DB         string // redis (index), mongodb (database)
	Collection string // mongodb
	StartNodes common.StringSet
}

// MetricsConfig defines fields of the metrics sink
type MetricsConfig struct {
	LatencySamples    int
	CPUSampleInterval time.Duration
	DumpMinutes       int
}

// DogWorldConfig defines the total config file structure
type DogWorldConfig struct {
	Core       CoreConfig
	Store      StoreConfig
	AntiCheat  AntiCheatConfig
	Batch      BatchConfig
	Gate       GateConfig
	Settlement SettlementConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

// Default returns the config used when no file overrides anything
func Default() *DogWorldConfig {
	return &DogWorldConfig{
		Core: CoreConfig{
			Precision:    logvalue.Precision,
			AsyncWorkers: 64,
			LogFile:      "dogworld.log",
			LogStderr:    true,
			LogLevel:     _DEFAULT_LOG_LEVEL,
			HTTPIp:       _DEFAULT_LOCALHOST_IP,
			HTTPPort:     0, // pprof & metrics not enabled by default
		},
		Store: StoreConfig{
			MaxLevel:          100,
			PrestigeThreshold: 50,
			StartingLogTreats: logvalue.ToLog(100),
			MergeBonus:        logvalue.FromFloat(1.1),
		},
		AntiCheat: AntiCheatConfig{
			MaxMergesPerHour:   500,
			MaxMintsPerHour:    100,
			PrestigeCooldown:   time.Hour,
			SuspicionThreshold: 0.9,
			CVCutoffs:          []float64{0.1, 0.2, 0.3},
			CVScores:           []float64{0.9, 0.6, 0.3},
		},
		Batch: BatchConfig{
			BatchSize:          100,
			BatchInterval:      time.Minute,
			FlushCheckInterval: time.Second,
		},
		Gate: GateConfig{
			Ip:                "0.0.0.0",
			Port:              14000,
			EnableKCP:         true,
			EnableWebSocket:   true,
			ConnectionTimeout: 30 * time.Second,
			ReapInterval:      5 * time.Second,
			RateLimit:         20,
			RateBurst:         40,
		},
		Settlement: SettlementConfig{
			Type:  "log",
			Queue: "dogworld:settlement",
		},
		Audit: AuditConfig{
			Type:       "memory",
			Directory:  "_audit",
			DB:         _DEFAULT_AUDIT_DB,
			Collection: "commitments",
			StartNodes: common.StringSet{},
		},
		Metrics: MetricsConfig{
			LatencySamples:    1000,
			CPUSampleInterval: 10 * time.Second,
			DumpMinutes:       1,
		},
	}
}

// Load reads the config file, applying its values over Default
func Load(configFilePath string) (*DogWorldConfig, error) {
	if configFilePath == "" {
		configFilePath = _DEFAULT_CONFIG_FILE
	}
	gwlog.Infof("Using config file: %s", configFilePath)
	iniFile, err := ini.Load(configFilePath)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s failed", configFilePath)
	}
	return parse(iniFile)
}

// LoadBytes parses config from in-memory ini content
func LoadBytes(data []byte) (*DogWorldConfig, error) {
	iniFile, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse config failed")
	}
	return parse(iniFile)
}

func parse(iniFile *ini.File) (*DogWorldConfig, error) {
	config := Default()
	for _, sec := range iniFile.Sections() {
		secName := strings.ToLower(sec.Name())
		if secName == "default" {
			if len(sec.Keys()) > 0 {
				return nil, errors.Errorf("keys outside of any section: %v", sec.KeyStrings())
			}
			continue
		}

		var err error
		switch secName {
		case "core":
			err = readCoreConfig(sec, &config.Core)
		case "store":
			err = readStoreConfig(sec, &config.Store)
		case "anticheat":
			err = readAntiCheatConfig(sec, &config.AntiCheat)
		case "batch":
			err = readBatchConfig(sec, &config.Batch)
		case "gate":
			err = readGateConfig(sec, &config.Gate)
		case "settlement":
			err = readSettlementConfig(sec, &config.Settlement)
		case "audit":
			err = readAuditConfig(sec, &config.Audit)
		case "metrics":
			err = readMetricsConfig(sec, &config.Metrics)
		default:
			err = errors.Errorf("unknown section: %s", secName)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func unknownKey(sec *ini.Section, key *ini.Key) error {
	return errors.Errorf("section %s has unknown key: %s", sec.Name(), key.Name())
}

func seconds(key *ini.Key, def time.Duration) time.Duration {
	return time.Duration(key.MustFloat64(def.Seconds()) * float64(time.Second))
}

func readCoreConfig(sec *ini.Section, cc *CoreConfig) error {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "precision" {
			cc.Precision = key.MustInt(cc.Precision)
		} else if name == "async_workers" {
			cc.AsyncWorkers = key.MustInt(cc.AsyncWorkers)
		} else if name == "log_file" {
			cc.LogFile = key.MustString(cc.LogFile)
		} else if name == "log_stderr" {
			cc.LogStderr = key.MustBool(cc.LogStderr)
		} else if name == "log_level" {
			cc.LogLevel = key.MustString(cc.LogLevel)
		} else if name == "http_ip" {
			cc.HTTPIp = key.MustString(cc.HTTPIp)
		} else if name == "http_port" {
			cc.HTTPPort = key.MustInt(cc.HTTPPort)
		} else if name == "gomaxprocs" {
			cc.GoMaxProcs = key.MustInt(cc.GoMaxProcs)
		} else {
			return unknownKey(sec, key)
		}
	}
	return nil
}

func readStoreConfig(sec *ini.Section, sc *StoreConfig) error {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "max_level" {
			sc.MaxLevel = key.MustInt(sc.MaxLevel)
		} else if name == "prestige_threshold" {
			sc.PrestigeThreshold = key.MustInt(sc.PrestigeThreshold)
		} else if name == "starting_treats" {
			v, err := key.Float64()
			if err != nil || v <= 0 {
				return errors.Errorf("starting_treats must be a positive number: %s", key.String())
			}
			sc.StartingLogTreats = logvalue.FromFloat(v)
		} else if name == "merge_bonus" {
			v, err := key.Float64()
			if err != nil || v < 1 {
				return errors.Errorf("merge_bonus must be a multiplier >= 1: %s", key.String())
			}
			sc.MergeBonus = logvalue.FromFloat(v)
		} else {
			return unknownKey(sec, key)
		}
	}
	return nil
}

func readAntiCheatConfig(sec *ini.Section, ac *AntiCheatConfig) error {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "max_merges_per_hour" {
			ac.MaxMergesPerHour = key.MustInt(ac.MaxMergesPerHour)
		} else if name == "max_mints_per_hour" {
			ac.MaxMintsPerHour = key.MustInt(ac.MaxMintsPerHour)
		} else if name == "prestige_cooldown" {
			ac.PrestigeCooldown = seconds(key, ac.PrestigeCooldown)
		} else if name == "suspicion_threshold" {
			ac.SuspicionThreshold = key.MustFloat64(ac.SuspicionThreshold)
		} else if name == "cv_cutoffs" {
			vals, err := parseFloats(key.String())
			if err != nil {
				return errors.Wrap(err, "cv_cutoffs")
			}
			ac.CVCutoffs = vals
		} else if name == "cv_scores" {
			vals, err := parseFloats(key.String())
			if err != nil {
				return errors.Wrap(err, "cv_scores")
			}
			ac.CVScores = vals
		} else {
			return unknownKey(sec, key)
		}
	}
	return nil
}

func parseFloats(s string) ([]float64, error) {
	var res []float64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

func readBatchConfig(sec *ini.Section, bc *BatchConfig) error {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "batch_size" {
			bc.BatchSize = key.MustInt(bc.BatchSize)
		} else if name == "batch_interval" {
			bc.BatchInterval = seconds(key, bc.BatchInterval)
		} else if name == "flush_check_interval" {
			bc.FlushCheckInterval = seconds(key, bc.FlushCheckInterval)
		} else {
			return unknownKey(sec, key)
		}
	}
	return nil
}

func readGateConfig(sec *ini.Section, gc *GateConfig) error {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "ip" {
			gc.Ip = key.MustString(gc.Ip)
		} else if name == "port" {
			gc.Port = key.MustInt(gc.Port)
		} else if name == "kcp" {
			gc.EnableKCP = key.MustBool(gc.EnableKCP)
		} else if name == "websocket" {
			gc.EnableWebSocket = key.MustBool(gc.EnableWebSocket)
		} else if name == "connection_timeout" {
			gc.ConnectionTimeout = seconds(key, gc.ConnectionTimeout)
		} else if name == "reap_interval" {
			gc.ReapInterval = seconds(key, gc.ReapInterval)
		} else if name == "rate_limit" {
			gc.RateLimit = key.MustFloat64(gc.RateLimit)
		} else if name == "rate_burst" {
			gc.RateBurst = key.MustInt(gc.RateBurst)
		} else {
			return unknownKey(sec, key)
		}
	}
	return nil
}

func readSettlementConfig(sec *ini.Section, sc *SettlementConfig) error {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "type" {
			sc.Type = key.MustString(sc.Type)
		} else if name == "url" {
			sc.Url = key.MustString(sc.Url)
		} else if name == "db" {
			sc.DB = key.MustInt(sc.DB)
		} else if name == "queue" {
			sc.Queue = key.MustString(sc.Queue)
		} else {
			return unknownKey(sec, key)
		}
	}
	return nil
}

func readAuditConfig(sec *ini.Section, ac *AuditConfig) error {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "type" {
			ac.Type = key.MustString(ac.Type)
		} else if name == "directory" {
			ac.Directory = key.MustString(ac.Directory)
		} else if name == "url" {
			ac.Url = key.MustString(ac.Url)
		} else if name == "db" {
			ac.DB = key.MustString(ac.DB)
		} else if name == "collection" {
			ac.Collection = key.MustString(ac.Collection)
		} else if name == "start_nodes" {
			ac.StartNodes = common.StringSet{}
			for _, node := range strings.Split(key.String(), ",") {
				node = strings.TrimSpace(node)
				if node != "" {
					ac.StartNodes.Add(node)
				}
			}
		} else {
			return unknownKey(sec, key)
		}
	}
	return nil
}

func readMetricsConfig(sec *ini.Section, mc *MetricsConfig) error {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "latency_samples" {
			mc.LatencySamples = key.MustInt(mc.LatencySamples)
		} else if name == "cpu_sample_interval" {
			mc.CPUSampleInterval = seconds(key, mc.CPUSampleInterval)
		} else if name == "dump_minutes" {
			mc.DumpMinutes = key.MustInt(mc.DumpMinutes)
		} else {
			return unknownKey(sec, key)
		}
	}
	return nil
}

// DumpPretty format config to string in pretty format
func DumpPretty(cfg interface{}) string {
	s, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err.Error()
	}
	return string(s)
}
