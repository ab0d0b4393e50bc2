// Package config defines SolverConfig, the tunable surface of the
// scheduler core, and loads it with Viper the way the teacher loads its
// application config.
package config

import (
	"fmt"
	"runtime"

	"github.com/spf13/viper"
)

// SolverConfig is the full configuration surface recognized by the core
// (spec.md §6).
type SolverConfig struct {
	Phase1TimeLimitS             int  `mapstructure:"phase1_time_limit_s"`
	Phase1Workers                int  `mapstructure:"phase1_workers"`
	Phase1GroupConstraintEnabled bool `mapstructure:"phase1_group_constraint_enabled"`
	// Phase1RoundRobinGroups breaks Phase-1 station-choice ties within a
	// group by rotating through candidate stations round-robin instead of
	// always preferring the lowest id. Supplemented from
	// original_source/config.py's get_cpsat_phase1_round_robin.
	Phase1RoundRobinGroups bool `mapstructure:"phase1_round_robin_groups"`

	Phase2TimeLimitS             int     `mapstructure:"phase2_time_limit_s"`
	Phase2Workers                int     `mapstructure:"phase2_workers"`
	Phase2WindowMarginS          int     `mapstructure:"phase2_window_margin_s"`
	Phase2StageMarginS           int     `mapstructure:"phase2_stage_margin_s"`
	Phase2TransporterSafeMarginS int     `mapstructure:"phase2_transporter_safe_margin_s"`
	Phase2AvoidBaseMarginS       int     `mapstructure:"phase2_avoid_base_margin_s"`
	Phase2AvoidDynamicEnabled    bool    `mapstructure:"phase2_avoid_dynamic_enabled"`
	Phase2AvoidDynamicPerMMS     float64 `mapstructure:"phase2_avoid_dynamic_per_mm_s"`
	Phase2DecomposeEnabled       bool    `mapstructure:"phase2_decompose_enabled"`
	Phase2DecomposeGuardS        int     `mapstructure:"phase2_decompose_guard_s"`
	// Phase2AnchorStage1Enabled toggles the order-anchor floor that keeps
	// Phase-2's earlier-input-order batches from being overtaken at their
	// first real stage by later ones (spec.md §4.4's order anchor).
	Phase2AnchorStage1Enabled bool `mapstructure:"phase2_anchor_stage1_enabled"`

	LogSearchProgress bool `mapstructure:"log_search_progress"`
}

// ResolvedWorkers returns n if nonzero, or GOMAXPROCS(0) when n is 0
// ("auto" per spec.md §6's phase1_workers/phase2_workers rows).
func ResolvedWorkers(n int) int {
	if n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

// Defaults mirrors original_source/config.py's documented defaults.
func Defaults() SolverConfig {
	return SolverConfig{
		Phase1TimeLimitS:             0,
		Phase1Workers:                0,
		Phase1GroupConstraintEnabled: true,
		Phase1RoundRobinGroups:       true,

		Phase2TimeLimitS:             0,
		Phase2Workers:                0,
		Phase2WindowMarginS:          120,
		Phase2StageMarginS:           60,
		Phase2TransporterSafeMarginS: 30,
		Phase2AvoidBaseMarginS:       3,
		Phase2AvoidDynamicEnabled:    false,
		Phase2AvoidDynamicPerMMS:     0,
		Phase2DecomposeEnabled:       false,
		Phase2DecomposeGuardS:        600,
		Phase2AnchorStage1Enabled:    true,

		LogSearchProgress: false,
	}
}

// Load reads a "config" file (any extension Viper supports) from the
// given search paths, applying Defaults() first so missing keys fall
// back rather than zero out.
func Load(searchPaths ...string) (*SolverConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if len(searchPaths) == 0 {
		v.AddConfigPath(".")
	}

	d := Defaults()
	v.SetDefault("phase1_time_limit_s", d.Phase1TimeLimitS)
	v.SetDefault("phase1_workers", d.Phase1Workers)
	v.SetDefault("phase1_group_constraint_enabled", d.Phase1GroupConstraintEnabled)
	v.SetDefault("phase1_round_robin_groups", d.Phase1RoundRobinGroups)
	v.SetDefault("phase2_time_limit_s", d.Phase2TimeLimitS)
	v.SetDefault("phase2_workers", d.Phase2Workers)
	v.SetDefault("phase2_window_margin_s", d.Phase2WindowMarginS)
	v.SetDefault("phase2_stage_margin_s", d.Phase2StageMarginS)
	v.SetDefault("phase2_transporter_safe_margin_s", d.Phase2TransporterSafeMarginS)
	v.SetDefault("phase2_avoid_base_margin_s", d.Phase2AvoidBaseMarginS)
	v.SetDefault("phase2_avoid_dynamic_enabled", d.Phase2AvoidDynamicEnabled)
	v.SetDefault("phase2_avoid_dynamic_per_mm_s", d.Phase2AvoidDynamicPerMMS)
	v.SetDefault("phase2_decompose_enabled", d.Phase2DecomposeEnabled)
	v.SetDefault("phase2_decompose_guard_s", d.Phase2DecomposeGuardS)
	v.SetDefault("phase2_anchor_stage1_enabled", d.Phase2AnchorStage1Enabled)
	v.SetDefault("log_search_progress", d.LogSearchProgress)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg SolverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
