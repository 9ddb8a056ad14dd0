package server

import (
	"fmt"
	"time"

	"github.com/kbukum/taskguard/resilience"
	"github.com/kbukum/taskguard/server/middleware"
)

// Config holds the HTTP API configuration.
type Config struct {
	Enabled         bool                         `yaml:"enabled" mapstructure:"enabled"`
	Host            string                       `yaml:"host" mapstructure:"host"`
	Port            int                          `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration                `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration                `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration                `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration                `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodySize     string                       `yaml:"max_body_size" mapstructure:"max_body_size"` // e.g. "1MB"
	CORS            middleware.CORSConfig        `yaml:"cors" mapstructure:"cors"`
	RateLimit       resilience.RateLimiterConfig `yaml:"rate_limit" mapstructure:"rate_limit"` // per client IP, enqueue only
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MaxBodySize == "" {
		c.MaxBodySize = "1MB"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Origin", "Content-Type", "Accept", middleware.HeaderRequestID}
	}
	if c.RateLimit.Name == "" {
		c.RateLimit.Name = "http-enqueue"
	}
	c.RateLimit.ApplyDefaults()
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535 (got: %d)", c.Port)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit rate and burst must be non-negative")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
