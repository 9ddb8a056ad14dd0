package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileSystem abstracts the file checks the loader makes, for tests.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// OSFileSystem implements FileSystem on the real file system.
type OSFileSystem struct{}

// Exists reports whether path can be stat'ed.
func (OSFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadEnv loads a dotenv file into the process environment. Variables
// already set win.
func (OSFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// Loader resolves config.yml and .env for a service and decodes them.
type Loader struct {
	fs         FileSystem
	configFile string
	envFile    string
	envPrefix  string
	defaults   map[string]any
}

// Option configures a Loader.
type Option func(*Loader)

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) Option {
	return func(l *Loader) { l.fs = fs }
}

// WithConfigFile sets an explicit config file path; it must exist.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.configFile = path }
}

// WithEnvFile sets an explicit .env file path; it must exist.
func WithEnvFile(path string) Option {
	return func(l *Loader) { l.envFile = path }
}

// WithEnvPrefix only considers environment variables starting with
// prefix_, with the prefix stripped: TASKGUARD_REDIS_ADDR sets redis.addr.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = strings.ToUpper(strings.TrimSuffix(prefix, "_")) }
}

// WithDefault sets the value used when neither file nor environment sets key.
func WithDefault(key string, value any) Option {
	return func(l *Loader) { l.defaults[key] = value }
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{fs: OSFileSystem{}, defaults: make(map[string]any)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadConfig loads configuration for serviceName into cfg. Precedence,
// highest first: environment, .env file, config.yml, defaults.
func LoadConfig(serviceName string, cfg any, opts ...Option) error {
	return NewLoader(opts...).Load(serviceName, cfg)
}

// Load decodes the resolved files and environment into cfg.
func (l *Loader) Load(serviceName string, cfg any) error {
	v := viper.New()
	for k, val := range l.defaults {
		v.SetDefault(k, val)
	}

	configFile, err := l.resolve(l.configFile, configCandidates(serviceName))
	if err != nil {
		return err
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading %s: %w", configFile, err)
		}
	}

	envFile, err := l.resolve(l.envFile, envCandidates(serviceName))
	if err != nil {
		return err
	}
	if envFile != "" {
		if err := l.fs.LoadEnv(envFile); err != nil {
			return fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	l.bindEnv(v, os.Environ())

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decoding config for %s: %w", serviceName, err)
	}
	return nil
}

// ConfigFile returns the config file Load would read, or "".
func (l *Loader) ConfigFile(serviceName string) string {
	f, _ := l.resolve(l.configFile, configCandidates(serviceName))
	return f
}

func (l *Loader) resolve(explicit string, candidates []string) (string, error) {
	if explicit != "" {
		if !l.fs.Exists(explicit) {
			return "", fmt.Errorf("config: %s: %w", explicit, os.ErrNotExist)
		}
		return explicit, nil
	}
	for _, p := range candidates {
		if l.fs.Exists(p) {
			return p, nil
		}
	}
	return "", nil
}

func configCandidates(service string) []string {
	return []string{
		"./cmd/" + service + "/config.yml",
		"../cmd/" + service + "/config.yml",
		"./config/config.yml",
		"./config.yml",
	}
}

func envCandidates(service string) []string {
	return []string{
		"./cmd/" + service + "/.env",
		"./.env." + service,
		"./.env",
	}
}

// bindEnv sets every key variant an environment variable could mean. An
// underscore may separate nesting levels or be part of a key name, so
// REDIS_POOL_SIZE sets redis_pool_size, redis.pool.size, redis.pool_size
// and redis_pool.size; Unmarshal only picks up the one the struct has.
func (l *Loader) bindEnv(v *viper.Viper, environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if l.envPrefix != "" {
			rest, found := strings.CutPrefix(key, l.envPrefix+"_")
			if !found {
				continue
			}
			key = rest
		}
		for _, variant := range keyVariants(key) {
			v.Set(variant, value)
		}
	}
}

// keyVariants expands FOO_BAR_BAZ into every way of splitting the
// underscores into dots.
func keyVariants(envKey string) []string {
	parts := strings.Split(strings.ToLower(envKey), "_")
	if len(parts) > 6 {
		return []string{strings.Join(parts, "_"), strings.Join(parts, ".")}
	}
	out := []string{parts[0]}
	for _, p := range parts[1:] {
		next := make([]string, 0, len(out)*2)
		for _, prefix := range out {
			next = append(next, prefix+"."+p, prefix+"_"+p)
		}
		out = next
	}
	return out
}
