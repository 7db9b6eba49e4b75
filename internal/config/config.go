// Package config loads the runtime configuration for the diagnostic consensus
// core. The per-condition analyzer weight tables, critical-condition keyword
// tables, diagnosis aliases and counterfactual evidence tables are
// configuration rather than code, so new conditions or analyzers do not
// require recompilation.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Explain   ExplainConfig   `mapstructure:"explain"`
	Review    ReviewConfig    `mapstructure:"review"`
}

// ServerConfig configures the thin REST surface.
type ServerConfig struct {
	Host          string  `mapstructure:"host"`
	Port          int     `mapstructure:"port"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// LedgerConfig configures the audit ledger.
type LedgerConfig struct {
	Dir string `mapstructure:"dir"`
}

// AliasRule maps diagnosis name variants onto one canonical name. A rule
// matches when every term appears (case-insensitive) in the reported name, or
// when Exact is set, when the whole name equals the single term. Rules are
// evaluated in order; the first match wins.
type AliasRule struct {
	Terms     []string `mapstructure:"terms"`
	Canonical string   `mapstructure:"canonical"`
	Exact     bool     `mapstructure:"exact"`
}

// ConsensusConfig holds the fusion parameters and weight tables.
type ConsensusConfig struct {
	// BaseWeights is the per-analyzer fallback weight; analyzers absent from
	// the table weigh 1.0.
	BaseWeights map[string]float64 `mapstructure:"base_weights"`
	// ConditionWeights overrides BaseWeights per canonical condition.
	ConditionWeights map[string]map[string]float64 `mapstructure:"condition_weights"`
	Aliases          []AliasRule                   `mapstructure:"aliases"`

	SupportThreshold  float64 `mapstructure:"support_threshold"`
	AgreementBoost    float64 `mapstructure:"agreement_boost"`
	ProbabilityCap    float64 `mapstructure:"probability_cap"`
	DifferentialFloor float64 `mapstructure:"differential_floor"`
	DifferentialLimit int     `mapstructure:"differential_limit"`
	DefinitiveFloor   float64 `mapstructure:"definitive_floor"`
}

// CriticalCondition is one must-not-miss condition in the safety table.
type CriticalCondition struct {
	Name         string   `mapstructure:"name"`
	Keywords     []string `mapstructure:"keywords"`
	Action       string   `mapstructure:"action"`
	TimeCritical bool     `mapstructure:"time_critical"`
}

// SafetyConfig holds the safety evaluator tables and thresholds.
type SafetyConfig struct {
	CriticalConditions []CriticalCondition `mapstructure:"critical_conditions"`
	// NegationWindow is how many characters before a keyword match are scanned
	// for negation words. Changing it changes clinical semantics; it is a knob,
	// not a constant.
	NegationWindow      int      `mapstructure:"negation_window"`
	NegationPatterns    []string `mapstructure:"negation_patterns"`
	ContradictionMin    float64  `mapstructure:"contradiction_min"`
	ContradictionSpread float64  `mapstructure:"contradiction_spread"`
}

// CounterfactualEvidence lists the evidence that would be required for, and
// that currently contradicts, an alternative diagnosis.
type CounterfactualEvidence struct {
	Required    []string `mapstructure:"required"`
	Contradicts []string `mapstructure:"contradicts"`
}

// ExplainConfig holds the explainability compiler tables.
type ExplainConfig struct {
	// ClinicalOrder fixes the analyzer iteration order of the reasoning chain.
	ClinicalOrder   []string                          `mapstructure:"clinical_order"`
	Counterfactuals map[string]CounterfactualEvidence `mapstructure:"counterfactuals"`
}

// ReviewConfig configures the human-review outcome store.
type ReviewConfig struct {
	Backend     string `mapstructure:"backend"` // sqlite or postgres
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// Load reads configuration from config.yaml (optional), environment variables
// with the MADNX_ prefix, and built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/madnx/")

	v.SetEnvPrefix("MADNX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; defaults and environment variables apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	applyTableDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without touching files or the
// environment. Used by tests and as the zero-setup path.
func Default() *Config {
	cfg := &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080, RatePerSecond: 20, RateBurst: 40},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Ledger:  LedgerConfig{Dir: "audit_logs"},
		Consensus: ConsensusConfig{
			SupportThreshold:  0.3,
			AgreementBoost:    0.2,
			ProbabilityCap:    0.95,
			DifferentialFloor: 0.15,
			DifferentialLimit: 3,
			DefinitiveFloor:   0.95,
		},
		Safety: SafetyConfig{
			NegationWindow:      30,
			ContradictionMin:    0.3,
			ContradictionSpread: 0.4,
		},
		Review: ReviewConfig{Backend: "sqlite", SQLitePath: "data/review.db"},
	}
	applyTableDefaults(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_per_second", 20)
	v.SetDefault("server.rate_burst", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("ledger.dir", "audit_logs")

	v.SetDefault("consensus.support_threshold", 0.3)
	v.SetDefault("consensus.agreement_boost", 0.2)
	v.SetDefault("consensus.probability_cap", 0.95)
	v.SetDefault("consensus.differential_floor", 0.15)
	v.SetDefault("consensus.differential_limit", 3)
	v.SetDefault("consensus.definitive_floor", 0.95)

	v.SetDefault("safety.negation_window", 30)
	v.SetDefault("safety.contradiction_min", 0.3)
	v.SetDefault("safety.contradiction_spread", 0.4)

	v.SetDefault("review.backend", "sqlite")
	v.SetDefault("review.sqlite_path", "data/review.db")
}

// applyTableDefaults fills any table left empty by the config source with the
// built-in clinical tables. A partially configured table replaces the default
// wholesale; the fallback-weight rule (condition table → base weight → 1.0)
// covers the gaps.
func applyTableDefaults(cfg *Config) {
	if cfg.Consensus.BaseWeights == nil {
		cfg.Consensus.BaseWeights = defaultBaseWeights()
	}
	if cfg.Consensus.ConditionWeights == nil {
		cfg.Consensus.ConditionWeights = defaultConditionWeights()
	}
	if cfg.Consensus.Aliases == nil {
		cfg.Consensus.Aliases = defaultAliases()
	}
	if cfg.Safety.CriticalConditions == nil {
		cfg.Safety.CriticalConditions = defaultCriticalConditions()
	}
	if cfg.Safety.NegationPatterns == nil {
		cfg.Safety.NegationPatterns = defaultNegationPatterns()
	}
	if cfg.Explain.ClinicalOrder == nil {
		cfg.Explain.ClinicalOrder = []string{"pulmonologist", "radiologist", "cardiologist", "pathologist"}
	}
	if cfg.Explain.Counterfactuals == nil {
		cfg.Explain.Counterfactuals = defaultCounterfactuals()
	}
}

// Validate checks the configuration for values that would corrupt decisions.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Ledger.Dir == "" {
		return fmt.Errorf("ledger directory is required")
	}
	if c.Consensus.ProbabilityCap <= 0 || c.Consensus.ProbabilityCap > 1 {
		return fmt.Errorf("invalid probability cap: %f", c.Consensus.ProbabilityCap)
	}
	if c.Safety.NegationWindow < 0 {
		return fmt.Errorf("negation window must be non-negative")
	}
	switch strings.ToLower(c.Review.Backend) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid review backend: %s", c.Review.Backend)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}
