// Package config carrega a configuração do rate limit uma vez, no start do
// processo: arquivo TOML opcional, depois variáveis de ambiente por cima.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"quota-coordinator/middleware/ratelimit/domain"

	"github.com/BurntSushi/toml"
)

// Serviços conhecidos e suas cotas padrão (chamadas por minuto).
var defaultServices = map[domain.Service]domain.BucketConfig{
	"apify": {MaxCalls: 30, Period: time.Minute},
	"rss":   {MaxCalls: 60, Period: time.Minute},
	"web":   {MaxCalls: 120, Period: time.Minute},
	"llm":   {MaxCalls: 50, Period: time.Minute},
}

type Redis struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

type Stats struct {
	Backend string // none | memory | redis | otel
	Prefix  string
	TTL     time.Duration
}

type Config struct {
	Services map[domain.Service]domain.BucketConfig
	// MaxInFlight limita chamadas simultâneas por serviço (0 = sem limite).
	MaxInFlight        map[domain.Service]int
	ConcurrencyTimeout time.Duration

	Retry      domain.RetryPolicy
	FailOpen   bool
	AllowReset bool

	Store     string // redis | memory
	StoreMode string // script | cas
	KeyPrefix string

	Redis Redis
	Stats Stats
}

type fileService struct {
	MaxCalls      *int64   `toml:"max_calls"`
	PeriodSeconds *float64 `toml:"period_seconds"`
	MaxInFlight   *int     `toml:"max_in_flight"`
}

type fileConfig struct {
	EnableBackoff         *bool    `toml:"enable_backoff"`
	MaxRetries            *int     `toml:"max_retries"`
	InitialBackoffSeconds *float64 `toml:"initial_backoff_seconds"`
	BackoffMultiplier     *float64 `toml:"backoff_multiplier"`
	MaxBackoffSeconds     *float64 `toml:"max_backoff_seconds"`
	HonorRetryAfter       *bool    `toml:"honor_retry_after"`
	FailOpen              *bool    `toml:"fail_open"`
	AllowReset            *bool    `toml:"allow_reset"`

	Services map[string]fileService `toml:"services"`
}

// Default devolve a configuração sem arquivo nem env.
func Default() Config {
	cfg := Config{
		Services:    make(map[domain.Service]domain.BucketConfig, len(defaultServices)),
		MaxInFlight: make(map[domain.Service]int),
		Retry:       domain.DefaultRetryPolicy(),
		FailOpen:    true,
		Store:       "redis",
		StoreMode:   "script",
		KeyPrefix:   "ratelimit:bucket",
		Redis: Redis{
			Addr:        "localhost:6379",
			DialTimeout: 2 * time.Second,
		},
		Stats: Stats{
			Backend: "none",
			Prefix:  "ratelimit:stats",
			TTL:     24 * time.Hour,
		},
	}
	for svc, bc := range defaultServices {
		cfg.Services[svc] = bc
	}
	return cfg
}

// Load lê RATE_LIMIT_CONFIG_FILE (se houver) e aplica o ambiente por cima.
// Valores de env que não parseiam caem no valor anterior.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(getenvDefault("RATE_LIMIT_CONFIG_FILE", "")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("%w: read %s: %v", domain.ErrInvalidConfig, path, err)
	}

	if fc.EnableBackoff != nil {
		c.Retry.Enabled = *fc.EnableBackoff
	}
	if fc.MaxRetries != nil {
		c.Retry.MaxRetries = *fc.MaxRetries
	}
	if fc.InitialBackoffSeconds != nil {
		c.Retry.InitialBackoff = seconds(*fc.InitialBackoffSeconds)
	}
	if fc.BackoffMultiplier != nil {
		c.Retry.Multiplier = *fc.BackoffMultiplier
	}
	if fc.MaxBackoffSeconds != nil {
		c.Retry.MaxBackoff = seconds(*fc.MaxBackoffSeconds)
	}
	if fc.HonorRetryAfter != nil {
		c.Retry.HonorRetryAfter = *fc.HonorRetryAfter
	}
	if fc.FailOpen != nil {
		c.FailOpen = *fc.FailOpen
	}
	if fc.AllowReset != nil {
		c.AllowReset = *fc.AllowReset
	}

	for name, fs := range fc.Services {
		svc := domain.Service(strings.ToLower(strings.TrimSpace(name)))
		bc := c.Services[svc]
		if fs.MaxCalls != nil {
			bc.MaxCalls = *fs.MaxCalls
		}
		if fs.PeriodSeconds != nil {
			bc.Period = seconds(*fs.PeriodSeconds)
		}
		c.Services[svc] = bc
		if fs.MaxInFlight != nil {
			c.MaxInFlight[svc] = *fs.MaxInFlight
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	for svc, bc := range c.Services {
		bc.MaxCalls = getenvInt64Default(envName(string(svc), "CALLS"), bc.MaxCalls)
		bc.Period = getenvSecondsDefault(envName(string(svc), "PERIOD"), bc.Period)
		c.Services[svc] = bc

		if n := getenvIntDefault(envName(string(svc), "MAX_IN_FLIGHT"), c.MaxInFlight[svc]); n != c.MaxInFlight[svc] {
			c.MaxInFlight[svc] = n
		}
	}
	c.ConcurrencyTimeout = getenvDurationDefault("RATE_LIMIT_CONCURRENCY_TIMEOUT", c.ConcurrencyTimeout)

	c.Retry.Enabled = getenvBoolDefault("RATE_LIMIT_ENABLE_BACKOFF", c.Retry.Enabled)
	c.Retry.MaxRetries = getenvIntDefault("RATE_LIMIT_MAX_RETRIES", c.Retry.MaxRetries)
	c.Retry.InitialBackoff = getenvSecondsDefault("RATE_LIMIT_INITIAL_BACKOFF", c.Retry.InitialBackoff)
	c.Retry.Multiplier = getenvFloatDefault("RATE_LIMIT_BACKOFF_MULTIPLIER", c.Retry.Multiplier)
	c.Retry.MaxBackoff = getenvSecondsDefault("RATE_LIMIT_MAX_BACKOFF", c.Retry.MaxBackoff)
	c.Retry.HonorRetryAfter = getenvBoolDefault("RATE_LIMIT_HONOR_RETRY_AFTER", c.Retry.HonorRetryAfter)

	c.FailOpen = getenvBoolDefault("RATE_LIMIT_FAIL_OPEN", c.FailOpen)
	c.AllowReset = getenvBoolDefault("RATE_LIMIT_ALLOW_RESET", c.AllowReset)

	c.Store = strings.ToLower(getenvDefault("RATE_LIMIT_STORE", c.Store))
	c.StoreMode = strings.ToLower(getenvDefault("RATE_LIMIT_STORE_MODE", c.StoreMode))
	c.KeyPrefix = getenvDefault("RATE_LIMIT_KEY_PREFIX", c.KeyPrefix)

	c.Redis.Addr = getenvDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenvDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getenvIntDefault("REDIS_DB", c.Redis.DB)
	c.Redis.DialTimeout = getenvDurationDefault("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout)

	c.Stats.Backend = strings.ToLower(getenvDefault("RATE_LIMIT_STATS", c.Stats.Backend))
	c.Stats.Prefix = getenvDefault("RATE_LIMIT_STATS_PREFIX", c.Stats.Prefix)
	c.Stats.TTL = getenvDurationDefault("RATE_LIMIT_STATS_TTL", c.Stats.TTL)
}

func (c Config) Validate() error {
	for _, svc := range c.ServiceNames() {
		if svc == "" {
			return fmt.Errorf("%w: empty service name", domain.ErrInvalidConfig)
		}
		if err := c.Services[svc].Validate(); err != nil {
			return fmt.Errorf("service %q: %w", svc, err)
		}
	}
	for svc, n := range c.MaxInFlight {
		if n < 0 {
			return fmt.Errorf("%w: service %q: max in flight must be >= 0, got %d", domain.ErrInvalidConfig, svc, n)
		}
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}

	switch c.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("%w: RATE_LIMIT_STORE must be redis or memory, got %q", domain.ErrInvalidConfig, c.Store)
	}
	switch c.StoreMode {
	case "script", "cas":
	default:
		return fmt.Errorf("%w: RATE_LIMIT_STORE_MODE must be script or cas, got %q", domain.ErrInvalidConfig, c.StoreMode)
	}
	switch c.Stats.Backend {
	case "none", "memory", "redis", "otel":
	default:
		return fmt.Errorf("%w: RATE_LIMIT_STATS must be none, memory, redis or otel, got %q", domain.ErrInvalidConfig, c.Stats.Backend)
	}
	if c.Stats.Backend == "redis" && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("%w: REDIS_ADDR is required when RATE_LIMIT_STATS=redis", domain.ErrInvalidConfig)
	}
	return nil
}

// ServiceNames devolve os serviços em ordem alfabética.
func (c Config) ServiceNames() []domain.Service {
	out := make([]domain.Service, 0, len(c.Services))
	for svc := range c.Services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
