// Package config is the typed view of the settings viper collects from
// flags, the environment and $HOME/.bs3mem.yaml.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/hitzhangjie/bs3mem/pkg/gamestate"
	"github.com/hitzhangjie/bs3mem/pkg/object"
	"github.com/hitzhangjie/bs3mem/pkg/target"
	"github.com/spf13/viper"
)

// Config 运行配置
type Config struct {
	Exe           string        `mapstructure:"exe"`
	Build         string        `mapstructure:"build"`
	Offsets       string        `mapstructure:"offsets"` // YAML table replacing the embedded one
	LatencyBudget time.Duration `mapstructure:"latency-budget"`

	Traverse struct {
		MaxHops int `mapstructure:"max-hops"`
	} `mapstructure:"traverse"`

	Conveyor struct {
		Tolerance int `mapstructure:"tolerance"`
	} `mapstructure:"conveyor"`

	Items struct {
		MaxID int32 `mapstructure:"max-id"`
	} `mapstructure:"items"`

	MarkerCacheSize int           `mapstructure:"marker-cache-size"`
	VerifySites     bool          `mapstructure:"verify-sites"`
	MetricsAddr     string        `mapstructure:"metrics-addr"`
	Headless        bool          `mapstructure:"headless"`
	PollInterval    time.Duration `mapstructure:"poll-interval"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("exe", "BurgerShop3.exe")
	v.SetDefault("build", "0.5.8a")
	v.SetDefault("offsets", "")
	v.SetDefault("latency-budget", target.DefaultLatencyBudget)
	v.SetDefault("traverse.max-hops", object.DefaultMaxHops)
	v.SetDefault("conveyor.tolerance", gamestate.DefaultTolerance)
	v.SetDefault("items.max-id", 0)
	v.SetDefault("marker-cache-size", object.DefaultMarkerCacheSize)
	v.SetDefault("verify-sites", true)
	v.SetDefault("metrics-addr", "")
	v.SetDefault("headless", false)
	v.SetDefault("poll-interval", 17*time.Millisecond)
}

// Load decodes and validates v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the session cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Exe == "" {
		errs = append(errs, errors.New("exe must not be empty"))
	}
	if c.Build == "" && c.Offsets == "" {
		errs = append(errs, errors.New("build must not be empty"))
	}
	if c.Traverse.MaxHops <= 0 {
		errs = append(errs, fmt.Errorf("traverse.max-hops must be positive, got %d", c.Traverse.MaxHops))
	}
	if c.Conveyor.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("conveyor.tolerance must not be negative, got %d", c.Conveyor.Tolerance))
	}
	if c.Items.MaxID < 0 {
		errs = append(errs, fmt.Errorf("items.max-id must not be negative, got %d", c.Items.MaxID))
	}
	if c.MarkerCacheSize < 0 {
		errs = append(errs, fmt.Errorf("marker-cache-size must not be negative, got %d", c.MarkerCacheSize))
	}
	if c.LatencyBudget < 0 {
		errs = append(errs, fmt.Errorf("latency-budget must not be negative, got %v", c.LatencyBudget))
	}
	if c.Headless && c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll-interval must be positive, got %v", c.PollInterval))
	}
	return errors.Join(errs...)
}
