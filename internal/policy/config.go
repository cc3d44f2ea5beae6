package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"triagebot/internal/domain"
)

// Thresholds are the lower bounds of each decision tier.
type Thresholds struct {
	AutoClose   float64 `yaml:"auto_close"`
	AutoRetry   float64 `yaml:"auto_retry"`
	Escalate    float64 `yaml:"escalate"`
	HumanReview float64 `yaml:"human_review"`
}

// Config is the policy file: overrides win over scoring, thresholds map a
// combined score to a tier.
type Config struct {
	Overrides  map[domain.Intent]domain.Decision `yaml:"overrides"`
	Thresholds Thresholds                        `yaml:"thresholds"`
}

func DefaultConfig() Config {
	return Config{
		Overrides: map[domain.Intent]domain.Decision{
			domain.IntentAccessDenied:      domain.DecisionEscalate,
			domain.IntentKafkaEventsFailed: domain.DecisionHumanReview,
		},
		Thresholds: DefaultThresholds(),
	}
}

func DefaultThresholds() Thresholds {
	return Thresholds{AutoClose: 0.8, AutoRetry: 0.6, Escalate: 0.4, HumanReview: 0.0}
}

// LoadFile reads a policy YAML file. Sections missing from the file keep
// their defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read policy: %w", err)
	}

	var raw struct {
		Overrides  map[domain.Intent]domain.Decision `yaml:"overrides"`
		Thresholds *Thresholds                       `yaml:"thresholds"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse policy yaml: %w", err)
	}

	cfg := DefaultConfig()
	if raw.Overrides != nil {
		cfg.Overrides = raw.Overrides
	}
	if raw.Thresholds != nil {
		cfg.Thresholds = *raw.Thresholds
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for intent, decision := range c.Overrides {
		if !intent.Known() {
			return fmt.Errorf("override for unknown intent %q", intent)
		}
		if !decision.Valid() {
			return fmt.Errorf("override %s: invalid decision %q", intent, decision)
		}
	}

	t := c.Thresholds
	for name, v := range map[string]float64{
		"auto_close":   t.AutoClose,
		"auto_retry":   t.AutoRetry,
		"escalate":     t.Escalate,
		"human_review": t.HumanReview,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %s=%.3f must be between 0 and 1", name, v)
		}
	}
	if t.AutoClose < t.AutoRetry || t.AutoRetry < t.Escalate || t.Escalate < t.HumanReview {
		return fmt.Errorf("thresholds must be non-increasing: auto_close=%.3f auto_retry=%.3f escalate=%.3f human_review=%.3f",
			t.AutoClose, t.AutoRetry, t.Escalate, t.HumanReview)
	}
	return nil
}
