// Package policy defines named threshold profiles for the verification
// pipeline and loads them, validated, from a YAML profiles file.
package policy

import (
	"fmt"
	"math"

	"github.com/spf13/viper"
)

// FusionStrategy selects how per-modality scores combine into one decision.
type FusionStrategy string

const (
	// StrategyAndCascade requires every modality to pass its own threshold.
	StrategyAndCascade FusionStrategy = "and_cascade"
	// StrategyWeightedFusion combines identity and antispoof scores into one
	// weighted value compared against FusionThreshold.
	StrategyWeightedFusion FusionStrategy = "weighted_fusion"
)

// weightSumEpsilon is the tolerance for FusionWeights summing to 1.0.
const weightSumEpsilon = 1e-6

// ConfigError reports an invalid threshold profile. A profile that fails
// validation is never made available for use.
type ConfigError struct {
	Profile string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("policy: profile %q invalid: %s", e.Profile, e.Reason)
}

// FusionWeights are the modality weights for weighted fusion. They must sum
// to 1.0 within epsilon.
type FusionWeights struct {
	Identity  float64 `mapstructure:"identity"`
	Antispoof float64 `mapstructure:"antispoof"`
}

// ThresholdPolicy is one deployment profile's operating thresholds, derived
// offline from FAR/FRR calibration. Loaded once and shared read-only across
// concurrent decisions.
type ThresholdPolicy struct {
	Name               string         `mapstructure:"-"`
	IdentityThreshold  float64        `mapstructure:"identity_threshold"`
	AntispoofThreshold float64        `mapstructure:"antispoof_threshold"`
	TextThreshold      float64        `mapstructure:"text_threshold"`
	FusionWeights      FusionWeights  `mapstructure:"fusion_weights"`
	FusionThreshold    float64        `mapstructure:"fusion_threshold"`
	Strategy           FusionStrategy `mapstructure:"fusion_strategy"`
	// MaxFailuresPerWindow feeds the attempt-gate policy: challenge issuance
	// is denied after this many rejected attempts in the gate window.
	// 0 disables the gate for this profile.
	MaxFailuresPerWindow int `mapstructure:"max_failures_per_window"`
}

// Validate checks that all thresholds are in [0,1], the fusion weights sum
// to 1.0 within epsilon, and the strategy is recognized.
func (p *ThresholdPolicy) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"identity_threshold", p.IdentityThreshold},
		{"antispoof_threshold", p.AntispoofThreshold},
		{"text_threshold", p.TextThreshold},
		{"fusion_threshold", p.FusionThreshold},
	} {
		if f.value < 0 || f.value > 1 {
			return &ConfigError{Profile: p.Name, Reason: fmt.Sprintf("%s must be in [0,1], got %g", f.name, f.value)}
		}
	}
	if sum := p.FusionWeights.Identity + p.FusionWeights.Antispoof; math.Abs(sum-1.0) > weightSumEpsilon {
		return &ConfigError{Profile: p.Name, Reason: fmt.Sprintf("fusion_weights must sum to 1.0, got %g", sum)}
	}
	switch p.Strategy {
	case StrategyAndCascade, StrategyWeightedFusion:
	default:
		return &ConfigError{Profile: p.Name, Reason: fmt.Sprintf("unknown fusion_strategy %q", p.Strategy)}
	}
	if p.MaxFailuresPerWindow < 0 {
		return &ConfigError{Profile: p.Name, Reason: "max_failures_per_window must be >= 0"}
	}
	return nil
}

// Store holds validated threshold profiles by name.
type Store struct {
	profiles map[string]*ThresholdPolicy
}

// ErrUnknownProfile is wrapped by Store.Get for unrecognized profile names.
var ErrUnknownProfile = fmt.Errorf("policy: unknown profile")

// Get returns the validated profile for name.
func (s *Store) Get(name string) (*ThresholdPolicy, error) {
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// Names returns the loaded profile names.
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		out = append(out, name)
	}
	return out
}

// DefaultProfileName is the profile applied when a caller names none.
const DefaultProfileName = "standard"

// DefaultProfiles returns the built-in profiles used when no profiles file
// is configured. "standard" mirrors the default calibration; "bank_strict"
// tightens every threshold for high-risk deployments.
func DefaultProfiles() map[string]*ThresholdPolicy {
	return map[string]*ThresholdPolicy{
		"standard": {
			Name:                 "standard",
			IdentityThreshold:    0.75,
			AntispoofThreshold:   0.5,
			TextThreshold:        0.7,
			FusionWeights:        FusionWeights{Identity: 0.6, Antispoof: 0.4},
			FusionThreshold:      0.65,
			Strategy:             StrategyWeightedFusion,
			MaxFailuresPerWindow: 0,
		},
		"bank_strict": {
			Name:                 "bank_strict",
			IdentityThreshold:    0.85,
			AntispoofThreshold:   0.3,
			TextThreshold:        0.85,
			FusionWeights:        FusionWeights{Identity: 0.5, Antispoof: 0.5},
			FusionThreshold:      0.8,
			Strategy:             StrategyAndCascade,
			MaxFailuresPerWindow: 5,
		},
	}
}

// NewStore validates each profile and returns a Store. The first invalid
// profile aborts the load; no partially-valid store is ever returned.
func NewStore(profiles map[string]*ThresholdPolicy) (*Store, error) {
	if len(profiles) == 0 {
		return nil, &ConfigError{Profile: "", Reason: "no profiles defined"}
	}
	for name, p := range profiles {
		p.Name = name
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return &Store{profiles: profiles}, nil
}

// LoadProfiles reads threshold profiles from the YAML file at path (top-level
// "profiles" mapping keyed by profile name) and returns a validated Store.
// An empty path returns the built-in defaults.
func LoadProfiles(path string) (*Store, error) {
	if path == "" {
		return NewStore(DefaultProfiles())
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("policy: read profiles %s: %w", path, err)
	}
	raw := map[string]*ThresholdPolicy{}
	if err := v.UnmarshalKey("profiles", &raw); err != nil {
		return nil, fmt.Errorf("policy: parse profiles %s: %w", path, err)
	}
	return NewStore(raw)
}
