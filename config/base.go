package config

import (
	"fmt"
	"slices"

	"github.com/kbukum/taskguard/logger"
)

// Environments accepted by BaseConfig.Validate.
var Environments = []string{"development", "staging", "production"}

// BaseConfig is the top level every taskguard binary shares. Embed it
// squashed so its keys are not nested:
//
//	type Config struct {
//	    config.BaseConfig `yaml:",inline" mapstructure:",squash"`
//	    Redis redis.Config `yaml:"redis" mapstructure:"redis"`
//	}
type BaseConfig struct {
	Name        string        `yaml:"name" mapstructure:"name"`
	Environment string        `yaml:"environment" mapstructure:"environment"`
	Version     string        `yaml:"version" mapstructure:"version"`
	Debug       bool          `yaml:"debug" mapstructure:"debug"`
	Logging     logger.Config `yaml:"logging" mapstructure:"logging"`
}

// ApplyDefaults picks the environment's logging. Development turns debug
// on; production logs JSON unless a format is set.
func (c *BaseConfig) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	switch {
	case c.Environment == "development":
		c.Debug = true
	case c.IsProduction() && c.Logging.Format == "":
		c.Logging.Format = logger.FormatJSON
	}
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()
}

// Validate checks the identity and logging fields.
func (c *BaseConfig) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("name is required")
	case !slices.Contains(Environments, c.Environment):
		return fmt.Errorf("environment must be one of %v (got: %s)", Environments, c.Environment)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// IsProduction reports whether Environment is production.
func (c *BaseConfig) IsProduction() bool { return c.Environment == "production" }

// GetBaseConfig returns c; embedding types satisfy bootstrap.Config with it.
func (c *BaseConfig) GetBaseConfig() *BaseConfig { return c }
