package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/stabiliser.report/internal/fuzzy"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Size smoothing modes. "reuse" applies the centre's inferred alpha to the
// box size; "inferred" runs a second inference with the size change as the
// motion input.
const (
	SizeAlphaReuse    = "reuse"
	SizeAlphaInferred = "inferred"
)

// TuningConfig represents the root configuration for the stabiliser:
// linguistic term breakpoints, the rule table and the registry parameters.
// Scalar fields are pointers so partial configs are safe — omitted fields
// fall back to documented defaults via the Get* accessors. Configuration is
// loaded once at startup; re-loading requires a restart.
type TuningConfig struct {
	// Fuzzy controller sections
	MotionTerms     []fuzzy.TermSpec `json:"motion_terms,omitempty"`
	ConfidenceTerms []fuzzy.TermSpec `json:"confidence_terms,omitempty"`
	Rules           []fuzzy.RuleSpec `json:"rules,omitempty"`
	DefaultAlpha    *float64         `json:"default_alpha,omitempty"`

	// Registry params
	GateDistance    *float64 `json:"gate_distance,omitempty"`
	ExpiryThreshold *int     `json:"expiry_threshold,omitempty"`
	MaxTracks       *int     `json:"max_tracks,omitempty"`

	// Stabiliser params
	SizeAlphaMode *string `json:"size_alpha_mode,omitempty"`

	// Replay params
	ReplayInterval *string `json:"replay_interval,omitempty"` // duration string like "33ms"
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/storage/sqlite/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Fuzzy sections
// are validated by constructing the engine they describe, so every
// malformed-breakpoint and incomplete-rule-table case is caught here at
// load time rather than during frame processing.
func (c *TuningConfig) Validate() error {
	if c.DefaultAlpha != nil {
		if *c.DefaultAlpha < 0 || *c.DefaultAlpha > 1 {
			return fmt.Errorf("default_alpha must be between 0 and 1, got %f", *c.DefaultAlpha)
		}
	}

	if c.GateDistance != nil {
		if *c.GateDistance <= 0 {
			return fmt.Errorf("gate_distance must be positive, got %f", *c.GateDistance)
		}
	}

	if c.ExpiryThreshold != nil {
		if *c.ExpiryThreshold < 1 {
			return fmt.Errorf("expiry_threshold must be at least 1, got %d", *c.ExpiryThreshold)
		}
	}

	if c.MaxTracks != nil {
		if *c.MaxTracks < 1 {
			return fmt.Errorf("max_tracks must be at least 1, got %d", *c.MaxTracks)
		}
	}

	if c.SizeAlphaMode != nil {
		switch *c.SizeAlphaMode {
		case SizeAlphaReuse, SizeAlphaInferred:
		default:
			return fmt.Errorf("size_alpha_mode must be %q or %q, got %q",
				SizeAlphaReuse, SizeAlphaInferred, *c.SizeAlphaMode)
		}
	}

	if c.ReplayInterval != nil && *c.ReplayInterval != "" {
		if _, err := time.ParseDuration(*c.ReplayInterval); err != nil {
			return fmt.Errorf("invalid replay_interval '%s': %w", *c.ReplayInterval, err)
		}
	}

	if _, err := c.BuildEngine(); err != nil {
		return fmt.Errorf("fuzzy controller: %w", err)
	}

	return nil
}

// BuildEngine constructs the fuzzy inference engine described by this
// configuration (or the documented defaults for omitted sections).
func (c *TuningConfig) BuildEngine() (*fuzzy.Engine, error) {
	motion, err := fuzzy.NewTermSet("motion", c.GetMotionTerms())
	if err != nil {
		return nil, err
	}
	confidence, err := fuzzy.NewTermSet("confidence", c.GetConfidenceTerms())
	if err != nil {
		return nil, err
	}
	rules, err := fuzzy.NewRuleBase(motion, confidence, c.GetRules())
	if err != nil {
		return nil, err
	}
	return fuzzy.NewEngine(motion, confidence, rules, c.GetDefaultAlpha())
}

// GetMotionTerms returns the configured motion terms or the documented
// defaults (pixel displacement per frame).
func (c *TuningConfig) GetMotionTerms() []fuzzy.TermSpec {
	if len(c.MotionTerms) > 0 {
		return c.MotionTerms
	}
	return []fuzzy.TermSpec{
		{Name: "small", Breakpoints: []float64{0, 0, 3, 8}},
		{Name: "medium", Breakpoints: []float64{5, 12, 18, 25}},
		{Name: "large", Breakpoints: []float64{20, 40, 100, 100}},
	}
}

// GetConfidenceTerms returns the configured confidence terms or the
// documented defaults.
func (c *TuningConfig) GetConfidenceTerms() []fuzzy.TermSpec {
	if len(c.ConfidenceTerms) > 0 {
		return c.ConfidenceTerms
	}
	return []fuzzy.TermSpec{
		{Name: "low", Breakpoints: []float64{0, 0, 0.3, 0.5}},
		{Name: "medium", Breakpoints: []float64{0.4, 0.5, 0.6, 0.7}},
		{Name: "high", Breakpoints: []float64{0.6, 0.75, 1.0, 1.0}},
	}
}

// GetRules returns the configured rule table or the documented defaults.
func (c *TuningConfig) GetRules() []fuzzy.RuleSpec {
	if len(c.Rules) > 0 {
		return c.Rules
	}
	return []fuzzy.RuleSpec{
		{Motion: "small", Confidence: "high", Alpha: 0.05},
		{Motion: "small", Confidence: "medium", Alpha: 0.2},
		{Motion: "small", Confidence: "low", Alpha: 0.2},
		{Motion: "medium", Confidence: "high", Alpha: 0.4},
		{Motion: "medium", Confidence: "medium", Alpha: 0.2},
		{Motion: "medium", Confidence: "low", Alpha: 0.05},
		{Motion: "large", Confidence: "high", Alpha: 0.95},
		{Motion: "large", Confidence: "medium", Alpha: 0.7},
		{Motion: "large", Confidence: "low", Alpha: 0.4},
	}
}

// GetDefaultAlpha returns the default_alpha value or the default.
func (c *TuningConfig) GetDefaultAlpha() float64 {
	if c.DefaultAlpha == nil {
		return 0.3
	}
	return *c.DefaultAlpha
}

// GetGateDistance returns the gate_distance value (pixels) or the default.
func (c *TuningConfig) GetGateDistance() float64 {
	if c.GateDistance == nil {
		return 48.0
	}
	return *c.GateDistance
}

// GetExpiryThreshold returns the expiry_threshold value or the default.
func (c *TuningConfig) GetExpiryThreshold() int {
	if c.ExpiryThreshold == nil {
		return 3
	}
	return *c.ExpiryThreshold
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 64
	}
	return *c.MaxTracks
}

// GetSizeAlphaMode returns the size_alpha_mode value or the default.
func (c *TuningConfig) GetSizeAlphaMode() string {
	if c.SizeAlphaMode == nil || *c.SizeAlphaMode == "" {
		return SizeAlphaReuse
	}
	return *c.SizeAlphaMode
}

// GetReplayInterval parses and returns the ReplayInterval as a time.Duration.
func (c *TuningConfig) GetReplayInterval() time.Duration {
	if c.ReplayInterval == nil || *c.ReplayInterval == "" {
		return 33 * time.Millisecond // default: ~30fps
	}
	d, err := time.ParseDuration(*c.ReplayInterval)
	if err != nil {
		return 33 * time.Millisecond // default on parse error
	}
	return d
}
