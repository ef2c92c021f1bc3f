// Package config loads txgraphd's layered configuration: defaults, then
// an optional YAML file, then environment variable overrides, in that
// order. Grounded on internal/agents/config.go's direct os.ReadFile +
// yaml.Unmarshal pattern (the teacher's only existing config loader) and
// on the env-var override style of internal/bootstrap/phonehome.go
// (os.Getenv for a single override value); the three-tier precedence
// itself is adapted from the CodeForge ConfigHolder example
// ("defaults < YAML < env < CLI flags"), simplified here to defaults <
// YAML < env since this repo has no hot-reload requirement.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Retrieval carries the weighted relevance-scoring and diversification
// knobs from §4.5.
type Retrieval struct {
	WeightRRF       float64 `yaml:"weight_rrf"`
	WeightRecency   float64 `yaml:"weight_recency"`
	WeightOutcome   float64 `yaml:"weight_outcome"`
	WeightFeedback  float64 `yaml:"weight_feedback"`
	RRFK            float64 `yaml:"rrf_k"`
	MMRLambda       float64 `yaml:"mmr_lambda"`
	CategoryCap     int     `yaml:"category_cap"`
	RecencyHalfLife float64 `yaml:"recency_half_life_days"`
	DefaultLimit    int     `yaml:"default_limit"`
}

// Claims carries worker pool and liveness thresholds for C5.
type Claims struct {
	PoolCapacity      int           `yaml:"pool_capacity"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MissedThreshold   int           `yaml:"missed_threshold"`
}

// Reaper carries the staleness thresholds for C6.
type Reaper struct {
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	HeartbeatLag     time.Duration `yaml:"heartbeat_lag"`
	KillGracePeriod  time.Duration `yaml:"kill_grace_period"`
	TickInterval     time.Duration `yaml:"tick_interval"`
}

// Anchors carries anchor subsystem thresholds for C9.
type Anchors struct {
	StaleTTL      time.Duration `yaml:"stale_ttl"`
	PruneAge      time.Duration `yaml:"prune_age"`
	SelfHealJaccard float64     `yaml:"self_heal_jaccard"`
}

// RateLimit carries the sliding-window limiter's knobs.
type RateLimit struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
	TrustProxyHeader  bool          `yaml:"trust_proxy_header"`
}

// Server carries HTTP listener configuration.
type Server struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRequestSize int64         `yaml:"max_request_size"`
}

// NATS carries the notify-bus connection string.
type NATS struct {
	URL string `yaml:"url"`
}

// Config is the full process configuration for txgraphd.
type Config struct {
	DBPath    string    `yaml:"db_path"`
	Server    Server    `yaml:"server"`
	Claims    Claims    `yaml:"claims"`
	Reaper    Reaper    `yaml:"reaper"`
	Retrieval Retrieval `yaml:"retrieval"`
	Anchors   Anchors   `yaml:"anchors"`
	RateLimit RateLimit `yaml:"rate_limit"`
	NATS      NATS      `yaml:"nats"`
}

// Defaults returns the documented default configuration.
func Defaults() Config {
	return Config{
		DBPath: "txgraph.db",
		Server: Server{
			Addr:           ":8080",
			RequestTimeout: 30 * time.Second,
			MaxRequestSize: 1 << 20,
		},
		Claims: Claims{
			PoolCapacity:      10,
			HeartbeatInterval: 15 * time.Second,
			MissedThreshold:   3,
		},
		Reaper: Reaper{
			IdleTimeout:     120 * time.Second,
			HeartbeatLag:    60 * time.Second,
			KillGracePeriod: 10 * time.Second,
			TickInterval:    30 * time.Second,
		},
		Retrieval: Retrieval{
			WeightRRF:       0.60,
			WeightRecency:   0.20,
			WeightOutcome:   0.05,
			WeightFeedback:  0.15,
			RRFK:            60,
			MMRLambda:       0.7,
			CategoryCap:     2,
			RecencyHalfLife: 14,
			DefaultLimit:    10,
		},
		Anchors: Anchors{
			StaleTTL:        3600 * time.Second,
			PruneAge:        90 * 24 * time.Hour,
			SelfHealJaccard: 0.8,
		},
		RateLimit: RateLimit{
			Enabled:           true,
			RequestsPerWindow: 100,
			Window:            time.Minute,
			TrustProxyHeader:  false,
		},
		NATS: NATS{URL: "nats://localhost:4222"},
	}
}

// Load reads defaults, overlays an optional YAML file at path (skipped if
// path is empty or the file does not exist), then overlays recognized
// TXGRAPH_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			log.Printf("[CONFIG] no config file at %s, using defaults", path)
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TXGRAPH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TXGRAPH_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TXGRAPH_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("TXGRAPH_CLAIMS_POOL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Claims.PoolCapacity = n
		} else {
			log.Printf("[CONFIG] ignoring invalid TXGRAPH_CLAIMS_POOL_CAPACITY=%q", v)
		}
	}
	if v := os.Getenv("TXGRAPH_RATE_LIMIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RateLimit.Enabled = b
		} else {
			log.Printf("[CONFIG] ignoring invalid TXGRAPH_RATE_LIMIT_ENABLED=%q", v)
		}
	}
}
