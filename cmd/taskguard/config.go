package main

import (
	"fmt"
	"time"

	"github.com/kbukum/taskguard/config"
	"github.com/kbukum/taskguard/kafka"
	"github.com/kbukum/taskguard/observability"
	"github.com/kbukum/taskguard/queue"
	"github.com/kbukum/taskguard/redis"
	"github.com/kbukum/taskguard/resilience"
	"github.com/kbukum/taskguard/server"
	"github.com/kbukum/taskguard/validation"
)

// Config is the taskguard service configuration. It is read from
// taskguard.yml or config.yml, then .env, then TASKGUARD_* variables.
type Config struct {
	config.BaseConfig `yaml:",inline" mapstructure:",squash"`

	Redis         redis.Config         `yaml:"redis" mapstructure:"redis"`
	Kafka         kafka.Config         `yaml:"kafka" mapstructure:"kafka"`
	Server        server.Config        `yaml:"server" mapstructure:"server"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	Queue         queue.Config         `yaml:"queue" mapstructure:"queue"`

	// Breaker and Bulkhead are the defaults for every named breaker and
	// bulkhead the service creates.
	Breaker  resilience.CircuitBreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	Bulkhead resilience.BulkheadConfig       `yaml:"bulkhead" mapstructure:"bulkhead"`

	SMTP SMTPConfig `yaml:"smtp" mapstructure:"smtp"`
	DNS  DNSConfig  `yaml:"dns" mapstructure:"dns"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// SMTPConfig configures the mail queue's relay.
type SMTPConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`
	From     string        `yaml:"from" mapstructure:"from" validate:"required,email"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	Attempts int           `yaml:"attempts" mapstructure:"attempts" validate:"gte=0,lte=10"`
}

// DNSConfig configures MX lookups for the domains queue.
type DNSConfig struct {
	// Server is an optional resolver address such as 1.1.1.1:53; empty uses
	// the system resolver.
	Server   string        `yaml:"server" mapstructure:"server" validate:"omitempty,hostname_port"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	Attempts int           `yaml:"attempts" mapstructure:"attempts" validate:"gte=0,lte=10"`
}

// loadDefaults seeds the keys a bare environment needs.
var loadDefaults = []config.Option{
	config.WithDefault("name", serviceName),
	config.WithDefault("server.enabled", true),
	config.WithDefault("smtp.addr", "localhost:25"),
	config.WithDefault("smtp.from", "taskguard@localhost.localdomain"),
}

// ApplyDefaults fills every section's defaults.
func (c *Config) ApplyDefaults() {
	c.BaseConfig.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Kafka.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Queue.ApplyDefaults()

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = c.Name
	}
	if c.Observability.ServiceVersion == "" {
		c.Observability.ServiceVersion = c.Version
	}
	if c.Observability.Environment == "" {
		c.Observability.Environment = c.Environment
	}
	c.Observability.ApplyDefaults()

	c.Breaker.ApplyDefaults()
	c.Bulkhead.ApplyDefaults()

	if c.SMTP.Timeout == 0 {
		c.SMTP.Timeout = 10 * time.Second
	}
	if c.SMTP.Attempts == 0 {
		c.SMTP.Attempts = 2
	}
	if c.DNS.Timeout == 0 {
		c.DNS.Timeout = 3 * time.Second
	}
	if c.DNS.Attempts == 0 {
		c.DNS.Attempts = 3
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.BaseConfig.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Observability.Validate(); err != nil {
		return err
	}
	for name, section := range map[string]any{
		"queue":    &c.Queue,
		"breaker":  &c.Breaker,
		"bulkhead": &c.Bulkhead,
		"smtp":     &c.SMTP,
		"dns":      &c.DNS,
	} {
		if err := validation.Validate(section); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
