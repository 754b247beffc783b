// Package config holds the lendingd configuration. Values come from a
// YAML file layered over built-in defaults; a missing file is not an
// error, the defaults simply apply.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"library-lending/internal/core/model"
)

// Config holds all lendingd configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Policy  PolicyConfig  `yaml:"policy"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects and configures the backing store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite
	Path   string `yaml:"path"`   // sqlite file path
}

// PolicyConfig carries the tunable lending rules.
type PolicyConfig struct {
	LoanPeriodDays      int     `yaml:"loan_period_days"`
	DailyPenaltyRate    float64 `yaml:"daily_penalty_rate"`
	RenewalWindowDays   int     `yaml:"renewal_window_days"`
	AllowRepeatRenewals bool    `yaml:"allow_repeat_renewals"`
	ViolationLimit      int     `yaml:"violation_limit"`
	// ResetRestoresAccount makes a violation reset also lift the
	// suspension. Off by default: re-enabling stays a separate
	// administrative decision.
	ResetRestoresAccount bool `yaml:"reset_restores_account"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := model.DefaultPolicy()
	return Config{
		Server:  ServerConfig{Addr: ":8080"},
		Storage: StorageConfig{Driver: "memory", Path: "lending.db"},
		Policy: PolicyConfig{
			LoanPeriodDays:    p.LoanPeriodDays,
			DailyPenaltyRate:  p.DailyPenaltyRate,
			RenewalWindowDays: p.RenewalWindowDays,
			ViolationLimit:    p.ViolationLimit,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Policy.LoanPeriodDays < 1 {
		return fmt.Errorf("loan_period_days must be at least 1")
	}
	if c.Policy.DailyPenaltyRate < 0 {
		return fmt.Errorf("daily_penalty_rate must not be negative")
	}
	if c.Policy.ViolationLimit < 1 {
		return fmt.Errorf("violation_limit must be at least 1")
	}
	return nil
}

// ModelPolicy converts the config section into the engine's policy type.
func (c Config) ModelPolicy() model.Policy {
	return model.Policy{
		LoanPeriodDays:       c.Policy.LoanPeriodDays,
		DailyPenaltyRate:     c.Policy.DailyPenaltyRate,
		RenewalWindowDays:    c.Policy.RenewalWindowDays,
		AllowRepeatRenewals:  c.Policy.AllowRepeatRenewals,
		ViolationLimit:       c.Policy.ViolationLimit,
		ResetRestoresAccount: c.Policy.ResetRestoresAccount,
	}
}
