package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout", "noop"
}

// SignalWeights are the aggregation weights of the confidence
// classifier. They must sum to 1.0 so confidence stays in [0,100].
type SignalWeights struct {
	Keyword   float64 `yaml:"keyword"`
	Recency   float64 `yaml:"recency"`
	Frequency float64 `yaml:"frequency"`
	Relevance float64 `yaml:"relevance"`
}

// Sum returns the total weight.
func (w SignalWeights) Sum() float64 {
	return w.Keyword + w.Recency + w.Frequency + w.Relevance
}

// TierBoundary maps a minimum confidence (inclusive) to a tier name.
type TierBoundary struct {
	Min  int    `yaml:"min"`
	Tier string `yaml:"tier"`
}

// TiersConfig holds the per-domain tier tables, highest boundary first.
type TiersConfig struct {
	Dispatch []TierBoundary `yaml:"dispatch"`
	Skill    []TierBoundary `yaml:"skill"`
	Pruning  []TierBoundary `yaml:"pruning"`
}

// BudgetConfig controls the budget allocator.
type BudgetConfig struct {
	TotalTokens   int    `yaml:"total_tokens"`
	MaxFullInject int    `yaml:"max_full_inject"`
	MinimumTokens int    `yaml:"minimum_tokens"` // skip floor per item
	TokenDivisor  int    `yaml:"token_divisor"`  // chars per token for the heuristic counter
	Encoding      string `yaml:"encoding"`       // tiktoken encoding name, e.g. "cl100k_base"
}

// RetryConfig controls the retry decision engine.
type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
	// Alternatives maps an agent id to the agent tried after a rejection.
	Alternatives map[string]string `yaml:"alternatives,omitempty"`
}

// BreakerConfig controls the per-agent dispatch circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// DispatchLimitConfig throttles auto-dispatch instructions.
type DispatchLimitConfig struct {
	PerMinute int `yaml:"per_minute"` // 0 = unlimited
	Burst     int `yaml:"burst"`
}

// CalibrationConfig bounds and decays feedback adjustments.
type CalibrationConfig struct {
	MaxDelta    int     `yaml:"max_delta"`
	FeedbackInc int     `yaml:"feedback_inc"` // applied per accepted/rejected feedback
	DecayFactor float64 `yaml:"decay_factor"` // multiplier applied by the decay job
	DecaySpec   string  `yaml:"decay_spec"`   // cron spec, e.g. "@hourly"
}

// RoutingConfig is the static from-agent routing map and category taxonomy.
type RoutingConfig struct {
	Routes     map[string][]string `yaml:"routes,omitempty"`     // from agent -> to agents
	Categories map[string]string   `yaml:"categories,omitempty"` // agent -> category
}

// PipelineConfig holds trigger filters and the definition directory.
type PipelineConfig struct {
	Dir              string `yaml:"dir"`
	MinTriggerLength int    `yaml:"min_trigger_length"`
	ShortQuestionLen int    `yaml:"short_question_len"`
}

// StoreConfig holds persistence locations.
type StoreConfig struct {
	StateDir string `yaml:"state_dir"` // session + execution JSON files
	DBPath   string `yaml:"db_path"`   // attempts + decision log SQLite database
}

// CatalogConfig holds catalog directories.
type CatalogConfig struct {
	AgentsDir string `yaml:"agents_dir"`
	SkillsDir string `yaml:"skills_dir"`
}

// Config is the top-level application configuration.
type Config struct {
	Catalog       CatalogConfig       `yaml:"catalog"`
	Weights       SignalWeights       `yaml:"weights"`
	Tiers         TiersConfig         `yaml:"tiers"`
	Budget        BudgetConfig        `yaml:"budget"`
	Retry         RetryConfig         `yaml:"retry"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	DispatchLimit DispatchLimitConfig `yaml:"dispatch_limit"`
	Calibration   CalibrationConfig   `yaml:"calibration"`
	Routing       RoutingConfig       `yaml:"routing"`
	Pipelines     PipelineConfig      `yaml:"pipelines"`
	Store         StoreConfig         `yaml:"store"`
	Logger        LoggerConfig        `yaml:"logger"`
	Tracer        TracerConfig        `yaml:"tracer"`
}

// Default returns a Config with the documented defaults applied.
func Default() *Config {
	return &Config{
		Weights: SignalWeights{Keyword: 0.5, Relevance: 0.3, Recency: 0.1, Frequency: 0.1},
		Tiers: TiersConfig{
			Dispatch: []TierBoundary{
				{Min: 85, Tier: "auto-dispatch"},
				{Min: 70, Tier: "strong-recommend"},
				{Min: 50, Tier: "suggest"},
				{Min: 0, Tier: "none"},
			},
			Skill: []TierBoundary{
				{Min: 90, Tier: "silent-inject"},
				{Min: 80, Tier: "notify-inject"},
				{Min: 70, Tier: "suggest"},
				{Min: 50, Tier: "hint"},
				{Min: 0, Tier: "none"},
			},
			Pruning: []TierBoundary{
				{Min: 95, Tier: "critical"},
				{Min: 70, Tier: "advisory"},
				{Min: 0, Tier: "none"},
			},
		},
		Budget: BudgetConfig{
			TotalTokens:   2000,
			MaxFullInject: 2,
			MinimumTokens: 100,
			TokenDivisor:  4,
			Encoding:      "cl100k_base",
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BaseDelayMs: 1000,
			MaxDelayMs:  30000,
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		DispatchLimit: DispatchLimitConfig{PerMinute: 30, Burst: 5},
		Calibration: CalibrationConfig{
			MaxDelta:    15,
			FeedbackInc: 2,
			DecayFactor: 0.9,
			DecaySpec:   "@hourly",
		},
		Pipelines: PipelineConfig{
			MinTriggerLength: 20,
			ShortQuestionLen: 80,
		},
		Store: StoreConfig{
			StateDir: "./data/state",
			DBPath:   "./data/conductor.db",
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
	}
}

// Load reads the YAML file at path (optional), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %v", errConfigRead, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var errConfigRead = fmt.Errorf("read config file")

// applyEnvOverrides applies CONDUCTOR_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONDUCTOR_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CONDUCTOR_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CONDUCTOR_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CONDUCTOR_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("CONDUCTOR_STATE_DIR"); v != "" {
		cfg.Store.StateDir = v
	}
	if v := os.Getenv("CONDUCTOR_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("CONDUCTOR_AGENTS_DIR"); v != "" {
		cfg.Catalog.AgentsDir = v
	}
	if v := os.Getenv("CONDUCTOR_SKILLS_DIR"); v != "" {
		cfg.Catalog.SkillsDir = v
	}
	if v := os.Getenv("CONDUCTOR_PIPELINES_DIR"); v != "" {
		cfg.Pipelines.Dir = v
	}
	if v := os.Getenv("CONDUCTOR_BUDGET_TOTAL_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Budget.TotalTokens = n
		}
	}
	if v := os.Getenv("CONDUCTOR_RETRY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Retry.MaxRetries = n
		}
	}
}

// Validate checks configuration consistency. Invalid configuration must
// be rejected at load time, not crash the decision loop later.
func (c *Config) Validate() error {
	const epsilon = 1e-9
	if sum := c.Weights.Sum(); sum < 1-epsilon || sum > 1+epsilon {
		return fmt.Errorf("signal weights must sum to 1.0, got %.3f", sum)
	}
	if c.Weights.Keyword < 0 || c.Weights.Recency < 0 || c.Weights.Frequency < 0 || c.Weights.Relevance < 0 {
		return fmt.Errorf("signal weights must be non-negative")
	}
	for name, table := range map[string][]TierBoundary{
		"dispatch": c.Tiers.Dispatch,
		"skill":    c.Tiers.Skill,
		"pruning":  c.Tiers.Pruning,
	} {
		if err := validateTierTable(name, table); err != nil {
			return err
		}
	}
	if c.Budget.TotalTokens <= 0 {
		return fmt.Errorf("budget total_tokens must be positive")
	}
	if c.Budget.MaxFullInject <= 0 {
		return fmt.Errorf("budget max_full_inject must be positive")
	}
	if c.Budget.TokenDivisor <= 0 {
		return fmt.Errorf("budget token_divisor must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must be non-negative")
	}
	if c.Retry.BaseDelayMs <= 0 || c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		return fmt.Errorf("retry delays misconfigured: base=%d max=%d", c.Retry.BaseDelayMs, c.Retry.MaxDelayMs)
	}
	if c.Calibration.MaxDelta < 0 {
		return fmt.Errorf("calibration max_delta must be non-negative")
	}
	if c.Calibration.DecayFactor < 0 || c.Calibration.DecayFactor >= 1 {
		return fmt.Errorf("calibration decay_factor must be in [0,1)")
	}
	return nil
}

func validateTierTable(name string, table []TierBoundary) error {
	if len(table) == 0 {
		return fmt.Errorf("tier table %q is empty", name)
	}
	prev := 101
	for i, b := range table {
		if b.Min < 0 || b.Min > 100 {
			return fmt.Errorf("tier table %q: boundary %d out of range: %d", name, i, b.Min)
		}
		if b.Min >= prev {
			return fmt.Errorf("tier table %q: boundaries must strictly descend", name)
		}
		if b.Tier == "" {
			return fmt.Errorf("tier table %q: boundary %d has no tier name", name, i)
		}
		prev = b.Min
	}
	if table[len(table)-1].Min != 0 {
		return fmt.Errorf("tier table %q: last boundary must be 0", name)
	}
	return nil
}
