package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*Config)
	}{
		{"model.name", func(c *Config) { c.Model.Name = " " }},
		{"model.contextLength", func(c *Config) { c.Model.ContextLength = 0 }},
		{"adapter.rank", func(c *Config) { c.Adapter.Rank = -1 }},
		{"adapter.dropout", func(c *Config) { c.Adapter.Dropout = 1.0 }},
		{"training.learningRate", func(c *Config) { c.Training.LearningRate = 0 }},
		{"training.ewcLambda", func(c *Config) { c.Training.EWCLambda = -0.1 }},
		{"memory.workingCapacity", func(c *Config) { c.Memory.WorkingCapacity = -1 }},
		{"memory.consolidationThreshold", func(c *Config) { c.Memory.ConsolidationThreshold = 0 }},
		{"memory.salienceDecay", func(c *Config) { c.Memory.SalienceDecay = 1.5 }},
		{"safety.maxRegenerations", func(c *Config) { c.Safety.MaxRegenerations = -1 }},
		{"safety.fallbackResponse", func(c *Config) { c.Safety.FallbackResponse = "" }},
		{"telegram.token", func(c *Config) { c.Telegram.Enabled = true }},
	}

	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cerr *ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseModel, cfg.Model.Name)
	assert.Equal(t, DefaultWorkingCapacity, cfg.Memory.WorkingCapacity)
	assert.Equal(t, DefaultEWCLambda, cfg.Training.EWCLambda)
	assert.True(t, cfg.Safety.GatingEnabled)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unclosed"), 0644))

	_, err := Load(path)
	var cerr *ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Model.Name = "custom-model"
	cfg.Memory.WorkingCapacity = 7
	cfg.Safety.BlockedTerms = []string{"alpha", "beta"}
	cfg.Training.EWCLambda = 0.9

	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "custom-model", loaded.Model.Name)
	assert.Equal(t, 7, loaded.Memory.WorkingCapacity)
	assert.Equal(t, []string{"alpha", "beta"}, loaded.Safety.BlockedTerms)
	assert.Equal(t, 0.9, loaded.Training.EWCLambda)
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.Adapter.Rank = 0

	err := Save(cfg, filepath.Join(t.TempDir(), "config.yaml"))
	var cerr *ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ARCCORE_MODEL_NAME", "env-model")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Model.Name)
}
