// Package config implements the JSON-serializable run configuration for
// the Pareto-front trainer, following the same factory-and-validate
// pattern the teacher uses for its solver and network configs: a plain
// struct with JSON tags, a constructor that fills in defaults, and a
// Validate method callers run before acting on the config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the full set of knobs governing one trainer run.
type Config struct {
	// Simulation horizon and arrival process.
	SimulationHours int `json:"simulation_hours"`
	VMsPerHour      int `json:"vms_per_hour"`

	// Stage 1: diversified Pareto-front initialization.
	Stage1PolicyCount int `json:"stage1_policy_count"`
	Stage1Timesteps   int `json:"stage1_timesteps"`

	// Stage 2: targeted front extension.
	Stage2SeedCount int `json:"stage2_seed_count"`
	Stage2Timesteps int `json:"stage2_timesteps"`

	// KL-drift threshold for Stage-2 clones: after single-objective
	// fine-tuning, a clone whose KL divergence from its Stage-1 parent
	// exceeds it is logged with a warning. Training is not constrained by it.
	MaxCloneKL float64 `json:"max_clone_kl"`

	Seed      int64  `json:"seed"`
	OutputDir string `json:"output_dir"`

	// PPO / GAE hyperparameters shared by both stages.
	Gamma          float64 `json:"gamma"`
	Lambda         float64 `json:"lambda"`
	ClipEpsilon    float64 `json:"clip_epsilon"`
	EntropyCoef    float64 `json:"entropy_coef"`
	ValueCoef      float64 `json:"value_coef"`
	LearningRate   float64 `json:"learning_rate"`
	GradClipNorm   float64 `json:"grad_clip_norm"`
	RolloutLength  int     `json:"rollout_length"`
	HiddenSizes    []int   `json:"hidden_sizes"`

	// Reward normalization constants and green-bonus weight.
	EnergyNorm  float64 `json:"energy_norm"`
	CarbonNorm  float64 `json:"carbon_norm"`
	LatencyNorm float64 `json:"latency_norm"`
	GreenBonus  float64 `json:"green_bonus"`

	// Pareto front bookkeeping.
	UtilitySamples int `json:"utility_samples"`

	CarbonDataPath string `json:"carbon_data_path"`
}

// New returns a Config populated with the defaults described for the
// placement trainer.
func New() *Config {
	return &Config{
		SimulationHours:   168,
		VMsPerHour:        20,
		Stage1PolicyCount: 8,
		Stage1Timesteps:   200_000,
		Stage2SeedCount:   4,
		Stage2Timesteps:   100_000,
		MaxCloneKL:        0.05,
		Seed:              1,
		OutputDir:         "./output",
		Gamma:             0.99,
		Lambda:            0.95,
		ClipEpsilon:       0.2,
		EntropyCoef:       0.01,
		ValueCoef:         0.5,
		LearningRate:      3e-4,
		GradClipNorm:      0.5,
		RolloutLength:     2048,
		HiddenSizes:       []int{64, 64},
		EnergyNorm:        1000.0,
		CarbonNorm:        500.0,
		LatencyNorm:       100.0,
		GreenBonus:        0.1,
		UtilitySamples:    1000,
	}
}

// Validate checks the config for internally-inconsistent or out-of-range
// values before a trainer run begins.
func (c *Config) Validate() error {
	if c.SimulationHours <= 0 {
		return fmt.Errorf("config: simulation_hours must be positive, got %d", c.SimulationHours)
	}
	if c.VMsPerHour <= 0 {
		return fmt.Errorf("config: vms_per_hour must be positive, got %d", c.VMsPerHour)
	}
	if c.Stage1PolicyCount <= 0 {
		return fmt.Errorf("config: stage1_policy_count must be positive, got %d", c.Stage1PolicyCount)
	}
	if c.Stage2SeedCount < 0 {
		return fmt.Errorf("config: stage2_seed_count cannot be negative, got %d", c.Stage2SeedCount)
	}
	if c.Stage2SeedCount > c.Stage1PolicyCount {
		return fmt.Errorf("config: stage2_seed_count (%d) cannot exceed stage1_policy_count (%d)",
			c.Stage2SeedCount, c.Stage1PolicyCount)
	}
	if c.MaxCloneKL <= 0 {
		return fmt.Errorf("config: max_clone_kl must be positive, got %v", c.MaxCloneKL)
	}
	if c.ClipEpsilon <= 0 || c.ClipEpsilon >= 1 {
		return fmt.Errorf("config: clip_epsilon must be in (0, 1), got %v", c.ClipEpsilon)
	}
	if c.Gamma <= 0 || c.Gamma > 1 {
		return fmt.Errorf("config: gamma must be in (0, 1], got %v", c.Gamma)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("config: output_dir cannot be empty")
	}
	if len(c.HiddenSizes) == 0 {
		return fmt.Errorf("config: hidden_sizes cannot be empty")
	}
	return nil
}

// Load populates a fresh default Config and overlays whatever fields are
// present in the file at path, so a partial config file only overrides
// what it specifies.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}

	c := New()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c to path as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshalling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %q: %w", path, err)
	}
	return nil
}
