package bootstrap

import (
	"time"

	"github.com/kbukum/taskguard/component"
	"github.com/kbukum/taskguard/logger"
)

// Option configures NewApp.
type Option func(*settings)

type settings struct {
	log             *logger.Logger
	gracefulTimeout time.Duration
	startTimeout    time.Duration
	registry        []component.RegistryOption
}

func defaultSettings() settings {
	return settings{gracefulTimeout: 30 * time.Second}
}

// WithLogger uses l instead of building a logger from the Logging section.
func WithLogger(l *logger.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithGracefulTimeout bounds shutdown. Queue draining happens inside it, so
// it should exceed the longest job timeout. Non-positive values are ignored.
func WithGracefulTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.gracefulTimeout = d
		}
	}
}

// WithStartTimeout bounds component startup. Zero means no bound.
func WithStartTimeout(d time.Duration) Option {
	return func(s *settings) { s.startTimeout = max(d, 0) }
}

// WithRegistryOptions passes opts to the component registry.
func WithRegistryOptions(opts ...component.RegistryOption) Option {
	return func(s *settings) { s.registry = append(s.registry, opts...) }
}
