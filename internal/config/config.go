package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv   = "CONCERT_TRACKER_CONFIG"
	databaseDSNEnv  = "DATABASE_DSN"
	searchAPIURLEnv = "SEARCH_API_URL"
	searchTokenEnv  = "SEARCH_API_TOKEN"
	serverAddrEnv   = "SERVER_ADDR"
	logLevelEnv     = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	SearchAPI SearchAPIConfig `yaml:"searchApi"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Sources   []string        `yaml:"sources"`
	Entities  []EntityConfig  `yaml:"entities"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN runs
// the pipeline entirely on the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig describes the operator HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SearchAPIConfig wires the external announcement search API.
type SearchAPIConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"token"`
}

// RateLimitConfig bounds outbound search calls per rolling window.
type RateLimitConfig struct {
	MaxRequests int    `yaml:"maxRequests"`
	Window      string `yaml:"window"`
}

// WindowDuration resolves the configured window, falling back to 15 minutes.
func (r RateLimitConfig) WindowDuration() time.Duration {
	return parseDuration(r.Window, 15*time.Minute)
}

// FetchConfig controls fetch retry behavior and page size.
type FetchConfig struct {
	MaxRetries  int    `yaml:"maxRetries"`
	BackoffBase string `yaml:"backoffBase"`
	PageSize    int    `yaml:"pageSize"`
}

// BackoffBaseDuration resolves the retry backoff base, falling back to 2 seconds.
func (f FetchConfig) BackoffBaseDuration() time.Duration {
	return parseDuration(f.BackoffBase, 2*time.Second)
}

// PipelineConfig controls cycle scheduling and concurrency.
type PipelineConfig struct {
	Interval      string `yaml:"interval"`
	Workers       int    `yaml:"workers"`
	MaxBudgetWait string `yaml:"maxBudgetWait"`
}

// IntervalDuration resolves the cycle interval, falling back to 30 minutes.
func (p PipelineConfig) IntervalDuration() time.Duration {
	return parseDuration(p.Interval, 30*time.Minute)
}

// MaxBudgetWaitDuration resolves the budget wait cap, falling back to 30 seconds.
func (p PipelineConfig) MaxBudgetWaitDuration() time.Duration {
	return parseDuration(p.MaxBudgetWait, 30*time.Second)
}

// EntityConfig seeds one tracked artist at startup.
type EntityConfig struct {
	Name            string   `yaml:"name"`
	NativeName      string   `yaml:"nativeName"`
	Handle          string   `yaml:"handle"`
	OfficialHandles []string `yaml:"officialHandles"`
	Aliases         []string `yaml:"aliases"`
	HomeCountry     string   `yaml:"homeCountry"`
	NoticeURL       string   `yaml:"noticeUrl"`
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("config: invalid duration %q, using %s", raw, fallback)
		return fallback
	}
	return d
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultConfig().Sources
	}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(searchAPIURLEnv); v != "" {
		c.SearchAPI.BaseURL = v
	}

	if v := os.Getenv(searchTokenEnv); v != "" {
		c.SearchAPI.Token = v
	}

	if v := os.Getenv(serverAddrEnv); v != "" {
		c.Server.Addr = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Server.Addr != "" {
		base.Server = override.Server
	}

	if override.SearchAPI.BaseURL != "" {
		base.SearchAPI.BaseURL = override.SearchAPI.BaseURL
	}
	if override.SearchAPI.Token != "" {
		base.SearchAPI.Token = override.SearchAPI.Token
	}

	if override.RateLimit.MaxRequests != 0 {
		base.RateLimit.MaxRequests = override.RateLimit.MaxRequests
	}
	if override.RateLimit.Window != "" {
		base.RateLimit.Window = override.RateLimit.Window
	}

	if override.Fetch.MaxRetries != 0 {
		base.Fetch.MaxRetries = override.Fetch.MaxRetries
	}
	if override.Fetch.BackoffBase != "" {
		base.Fetch.BackoffBase = override.Fetch.BackoffBase
	}
	if override.Fetch.PageSize != 0 {
		base.Fetch.PageSize = override.Fetch.PageSize
	}

	if override.Pipeline.Interval != "" {
		base.Pipeline.Interval = override.Pipeline.Interval
	}
	if override.Pipeline.Workers != 0 {
		base.Pipeline.Workers = override.Pipeline.Workers
	}
	if override.Pipeline.MaxBudgetWait != "" {
		base.Pipeline.MaxBudgetWait = override.Pipeline.MaxBudgetWait
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	if len(override.Entities) > 0 {
		base.Entities = override.Entities
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{DSN: ""},
		Server:   ServerConfig{Addr: ":8080"},
		SearchAPI: SearchAPIConfig{
			BaseURL: "https://api.example.org/v2",
			Token:   "",
		},
		RateLimit: RateLimitConfig{MaxRequests: 450, Window: "15m"},
		Fetch:     FetchConfig{MaxRetries: 3, BackoffBase: "2s", PageSize: 100},
		Pipeline:  PipelineConfig{Interval: "30m", Workers: 4, MaxBudgetWait: "30s"},
		Sources:   []string{"search", "noticeboard"},
	}
}
