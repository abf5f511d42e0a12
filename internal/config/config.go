package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultBaseModel       = "gpt2"
	DefaultContextLength   = 1024
	DefaultDevice          = "cpu"
	DefaultLoraRank        = 8
	DefaultLoraAlpha       = 16.0
	DefaultLoraDropout     = 0.05
	DefaultHiddenSize      = 64
	DefaultLearningRate    = 1e-4
	DefaultMaxSteps        = 100
	DefaultEarlyStop       = 10
	DefaultEWCLambda       = 0.4
	DefaultFisherSamples   = 16
	DefaultWorkingCapacity = 10
	DefaultEpisodicCap     = 1000
	DefaultConsolidation   = 3
	DefaultSweepSchedule   = "@every 10m"
	DefaultSweepEvery      = 50
	DefaultSalienceDecay   = 0.98
	DefaultSimilarity      = 0.35
	DefaultGatingThreshold = 0.2
	DefaultGatingWeight    = 1.0
	DefaultCoherence       = 0.4
	DefaultMaxRegens       = 2
	DefaultFallback        = "I can't help with that."
)

// ConfigurationError is a fatal config problem: malformed or out-of-range
// field. Nothing starts when one is returned.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config field %q: %s", e.Field, e.Reason)
}

type Config struct {
	Model    ModelConfig    `mapstructure:"model"`
	Provider ProviderConfig `mapstructure:"provider"`
	Adapter  AdapterConfig  `mapstructure:"adapter"`
	Training TrainingConfig `mapstructure:"training"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Safety   SafetyConfig   `mapstructure:"safety"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type ModelConfig struct {
	Name          string `mapstructure:"name"`
	ContextLength int    `mapstructure:"contextLength"`
	Device        string `mapstructure:"device"`
}

type ProviderConfig struct {
	Type    string `mapstructure:"type"` // "anthropic" (default) or "openai"
	APIKey  string `mapstructure:"apiKey"`
	BaseURL string `mapstructure:"baseUrl"`
}

type AdapterConfig struct {
	Rank       int     `mapstructure:"rank"`
	Alpha      float64 `mapstructure:"alpha"`
	Dropout    float64 `mapstructure:"dropout"`
	HiddenSize int     `mapstructure:"hiddenSize"`
}

type TrainingConfig struct {
	LearningRate      float64 `mapstructure:"learningRate"`
	MaxSteps          int     `mapstructure:"maxSteps"`
	EarlyStopPatience int     `mapstructure:"earlyStopPatience"`
	EWCLambda         float64 `mapstructure:"ewcLambda"`
	FisherSamples     int     `mapstructure:"fisherSamples"`
	GradClip          float64 `mapstructure:"gradClip"`
}

type MemoryConfig struct {
	DBPath                 string  `mapstructure:"dbPath"`
	WorkingCapacity        int     `mapstructure:"workingCapacity"`
	EpisodicCapacity       int     `mapstructure:"episodicCapacity"`
	ConsolidationThreshold int     `mapstructure:"consolidationThreshold"`
	SweepSchedule          string  `mapstructure:"sweepSchedule"`
	SweepEveryN            int     `mapstructure:"sweepEveryN"`
	SalienceDecay          float64 `mapstructure:"salienceDecay"`
	SimilarityThreshold    float64 `mapstructure:"similarityThreshold"`
}

type SafetyConfig struct {
	GatingEnabled     bool     `mapstructure:"gatingEnabled"`
	GatingThreshold   float64  `mapstructure:"gatingThreshold"`
	GatingWeight      float64  `mapstructure:"gatingWeight"`
	InhibitionEnabled bool     `mapstructure:"inhibitionEnabled"`
	BlockedTerms      []string `mapstructure:"blockedTerms"`
	FallbackResponse  string   `mapstructure:"fallbackResponse"`
	MonitorEnabled    bool     `mapstructure:"monitorEnabled"`
	CoherenceMin      float64  `mapstructure:"coherenceMin"`
	MaxRegenerations  int      `mapstructure:"maxRegenerations"`
}

type TelegramConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Token     string   `mapstructure:"token"`
	AllowFrom []string `mapstructure:"allowFrom"`
}

func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".arccore")
}

func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Name:          DefaultBaseModel,
			ContextLength: DefaultContextLength,
			Device:        DefaultDevice,
		},
		Adapter: AdapterConfig{
			Rank:       DefaultLoraRank,
			Alpha:      DefaultLoraAlpha,
			Dropout:    DefaultLoraDropout,
			HiddenSize: DefaultHiddenSize,
		},
		Training: TrainingConfig{
			LearningRate:      DefaultLearningRate,
			MaxSteps:          DefaultMaxSteps,
			EarlyStopPatience: DefaultEarlyStop,
			EWCLambda:         DefaultEWCLambda,
			FisherSamples:     DefaultFisherSamples,
			GradClip:          1.0,
		},
		Memory: MemoryConfig{
			DBPath:                 filepath.Join(Dir(), "memory.db"),
			WorkingCapacity:        DefaultWorkingCapacity,
			EpisodicCapacity:       DefaultEpisodicCap,
			ConsolidationThreshold: DefaultConsolidation,
			SweepSchedule:          DefaultSweepSchedule,
			SweepEveryN:            DefaultSweepEvery,
			SalienceDecay:          DefaultSalienceDecay,
			SimilarityThreshold:    DefaultSimilarity,
		},
		Safety: SafetyConfig{
			GatingEnabled:     true,
			GatingThreshold:   DefaultGatingThreshold,
			GatingWeight:      DefaultGatingWeight,
			InhibitionEnabled: true,
			FallbackResponse:  DefaultFallback,
			MonitorEnabled:    true,
			CoherenceMin:      DefaultCoherence,
			MaxRegenerations:  DefaultMaxRegens,
		},
	}
}

// Load reads the config file at path (DefaultPath when empty), applies
// ARCCORE_* environment overrides, and validates. A missing file yields the
// defaults; a malformed one is a ConfigurationError.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ARCCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, &ConfigurationError{Field: path, Reason: err.Error()}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigurationError{Field: path, Reason: err.Error()}
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("model.name", def.Model.Name)
	v.SetDefault("model.contextLength", def.Model.ContextLength)
	v.SetDefault("model.device", def.Model.Device)
	v.SetDefault("adapter.rank", def.Adapter.Rank)
	v.SetDefault("adapter.alpha", def.Adapter.Alpha)
	v.SetDefault("adapter.dropout", def.Adapter.Dropout)
	v.SetDefault("adapter.hiddenSize", def.Adapter.HiddenSize)
	v.SetDefault("training.learningRate", def.Training.LearningRate)
	v.SetDefault("training.maxSteps", def.Training.MaxSteps)
	v.SetDefault("training.earlyStopPatience", def.Training.EarlyStopPatience)
	v.SetDefault("training.ewcLambda", def.Training.EWCLambda)
	v.SetDefault("training.fisherSamples", def.Training.FisherSamples)
	v.SetDefault("training.gradClip", def.Training.GradClip)
	v.SetDefault("memory.dbPath", def.Memory.DBPath)
	v.SetDefault("memory.workingCapacity", def.Memory.WorkingCapacity)
	v.SetDefault("memory.episodicCapacity", def.Memory.EpisodicCapacity)
	v.SetDefault("memory.consolidationThreshold", def.Memory.ConsolidationThreshold)
	v.SetDefault("memory.sweepSchedule", def.Memory.SweepSchedule)
	v.SetDefault("memory.sweepEveryN", def.Memory.SweepEveryN)
	v.SetDefault("memory.salienceDecay", def.Memory.SalienceDecay)
	v.SetDefault("memory.similarityThreshold", def.Memory.SimilarityThreshold)
	v.SetDefault("safety.gatingEnabled", def.Safety.GatingEnabled)
	v.SetDefault("safety.gatingThreshold", def.Safety.GatingThreshold)
	v.SetDefault("safety.gatingWeight", def.Safety.GatingWeight)
	v.SetDefault("safety.inhibitionEnabled", def.Safety.InhibitionEnabled)
	v.SetDefault("safety.fallbackResponse", def.Safety.FallbackResponse)
	v.SetDefault("safety.monitorEnabled", def.Safety.MonitorEnabled)
	v.SetDefault("safety.coherenceMin", def.Safety.CoherenceMin)
	v.SetDefault("safety.maxRegenerations", def.Safety.MaxRegenerations)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model.Name) == "" {
		return &ConfigurationError{Field: "model.name", Reason: "must not be empty"}
	}
	if c.Model.ContextLength <= 0 {
		return &ConfigurationError{Field: "model.contextLength", Reason: "must be positive"}
	}
	if c.Adapter.Rank <= 0 {
		return &ConfigurationError{Field: "adapter.rank", Reason: "must be positive"}
	}
	if c.Adapter.Dropout < 0 || c.Adapter.Dropout >= 1 {
		return &ConfigurationError{Field: "adapter.dropout", Reason: "must be in [0, 1)"}
	}
	if c.Adapter.HiddenSize <= 0 {
		return &ConfigurationError{Field: "adapter.hiddenSize", Reason: "must be positive"}
	}
	if c.Training.LearningRate <= 0 {
		return &ConfigurationError{Field: "training.learningRate", Reason: "must be positive"}
	}
	if c.Training.MaxSteps <= 0 {
		return &ConfigurationError{Field: "training.maxSteps", Reason: "must be positive"}
	}
	if c.Training.EWCLambda < 0 {
		return &ConfigurationError{Field: "training.ewcLambda", Reason: "must be non-negative"}
	}
	if c.Memory.WorkingCapacity < 0 {
		return &ConfigurationError{Field: "memory.workingCapacity", Reason: "must be non-negative"}
	}
	if c.Memory.EpisodicCapacity < 0 {
		return &ConfigurationError{Field: "memory.episodicCapacity", Reason: "must be non-negative"}
	}
	if c.Memory.ConsolidationThreshold <= 0 {
		return &ConfigurationError{Field: "memory.consolidationThreshold", Reason: "must be positive"}
	}
	if c.Memory.SalienceDecay <= 0 || c.Memory.SalienceDecay > 1 {
		return &ConfigurationError{Field: "memory.salienceDecay", Reason: "must be in (0, 1]"}
	}
	if c.Memory.SimilarityThreshold < 0 || c.Memory.SimilarityThreshold > 1 {
		return &ConfigurationError{Field: "memory.similarityThreshold", Reason: "must be in [0, 1]"}
	}
	if c.Safety.MaxRegenerations < 0 {
		return &ConfigurationError{Field: "safety.maxRegenerations", Reason: "must be non-negative"}
	}
	if c.Safety.InhibitionEnabled && strings.TrimSpace(c.Safety.FallbackResponse) == "" {
		return &ConfigurationError{Field: "safety.fallbackResponse", Reason: "required when inhibition is enabled"}
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		return &ConfigurationError{Field: "telegram.token", Reason: "required when telegram is enabled"}
	}
	return nil
}

// Save writes the config as YAML to path, creating parent directories.
func Save(c *Config, path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("model", map[string]any{
		"name":          c.Model.Name,
		"contextLength": c.Model.ContextLength,
		"device":        c.Model.Device,
	})
	v.Set("provider", map[string]any{
		"type":    c.Provider.Type,
		"apiKey":  c.Provider.APIKey,
		"baseUrl": c.Provider.BaseURL,
	})
	v.Set("adapter", map[string]any{
		"rank":       c.Adapter.Rank,
		"alpha":      c.Adapter.Alpha,
		"dropout":    c.Adapter.Dropout,
		"hiddenSize": c.Adapter.HiddenSize,
	})
	v.Set("training", map[string]any{
		"learningRate":      c.Training.LearningRate,
		"maxSteps":          c.Training.MaxSteps,
		"earlyStopPatience": c.Training.EarlyStopPatience,
		"ewcLambda":         c.Training.EWCLambda,
		"fisherSamples":     c.Training.FisherSamples,
		"gradClip":          c.Training.GradClip,
	})
	v.Set("memory", map[string]any{
		"dbPath":                 c.Memory.DBPath,
		"workingCapacity":        c.Memory.WorkingCapacity,
		"episodicCapacity":       c.Memory.EpisodicCapacity,
		"consolidationThreshold": c.Memory.ConsolidationThreshold,
		"sweepSchedule":          c.Memory.SweepSchedule,
		"sweepEveryN":            c.Memory.SweepEveryN,
		"salienceDecay":          c.Memory.SalienceDecay,
		"similarityThreshold":    c.Memory.SimilarityThreshold,
	})
	v.Set("safety", map[string]any{
		"gatingEnabled":     c.Safety.GatingEnabled,
		"gatingThreshold":   c.Safety.GatingThreshold,
		"gatingWeight":      c.Safety.GatingWeight,
		"inhibitionEnabled": c.Safety.InhibitionEnabled,
		"blockedTerms":      c.Safety.BlockedTerms,
		"fallbackResponse":  c.Safety.FallbackResponse,
		"monitorEnabled":    c.Safety.MonitorEnabled,
		"coherenceMin":      c.Safety.CoherenceMin,
		"maxRegenerations":  c.Safety.MaxRegenerations,
	})
	v.Set("telegram", map[string]any{
		"enabled":   c.Telegram.Enabled,
		"token":     c.Telegram.Token,
		"allowFrom": c.Telegram.AllowFrom,
	})
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
