package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Review.Backend)
	assert.Equal(t, 30, cfg.Safety.NegationWindow)

	// The clinical tables must never be empty out of the box.
	assert.NotEmpty(t, cfg.Consensus.BaseWeights)
	assert.NotEmpty(t, cfg.Consensus.ConditionWeights)
	assert.NotEmpty(t, cfg.Consensus.Aliases)
	assert.NotEmpty(t, cfg.Safety.CriticalConditions)
	assert.NotEmpty(t, cfg.Safety.NegationPatterns)
	assert.NotEmpty(t, cfg.Explain.ClinicalOrder)
	assert.NotEmpty(t, cfg.Explain.Counterfactuals)
}

func TestDefault_CriticalConditionsWellFormed(t *testing.T) {
	for _, c := range Default().Safety.CriticalConditions {
		assert.NotEmpty(t, c.Name)
		assert.NotEmpty(t, c.Keywords, "condition %s", c.Name)
		assert.NotEmpty(t, c.Action, "condition %s", c.Name)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default is valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, true},
		{"missing ledger dir", func(c *Config) { c.Ledger.Dir = "" }, true},
		{"probability cap zero", func(c *Config) { c.Consensus.ProbabilityCap = 0 }, true},
		{"probability cap above one", func(c *Config) { c.Consensus.ProbabilityCap = 1.5 }, true},
		{"negative negation window", func(c *Config) { c.Safety.NegationWindow = -1 }, true},
		{"unknown review backend", func(c *Config) { c.Review.Backend = "mongodb" }, true},
		{"postgres backend allowed", func(c *Config) { c.Review.Backend = "postgres" }, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyTableDefaults_PreservesConfiguredTables(t *testing.T) {
	cfg := &Config{}
	cfg.Consensus.BaseWeights = map[string]float64{"radiologist": 2.0}

	applyTableDefaults(cfg)

	assert.Equal(t, map[string]float64{"radiologist": 2.0}, cfg.Consensus.BaseWeights, "configured table must not be overwritten")
	assert.NotEmpty(t, cfg.Consensus.Aliases, "unset tables fall back to defaults")
}

func TestAliasRules_PEIsExactOnly(t *testing.T) {
	for _, rule := range defaultAliases() {
		if rule.Canonical == "Pulmonary Embolism" && len(rule.Terms) == 1 && rule.Terms[0] == "pe" {
			assert.True(t, rule.Exact, `"pe" must only match the whole name`)
			return
		}
	}
	t.Fatal(`expected a "pe" alias rule`)
}

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	// No config.yaml in the test working directory; Load must still succeed
	// purely from defaults.
	cfg, err := Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.Safety.CriticalConditions)
}
