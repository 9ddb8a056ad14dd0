package bootstrap

import (
	"github.com/kbukum/taskguard/config"
)

// Config constrains application configuration types. Any struct embedding
// config.BaseConfig satisfies GetBaseConfig through promotion:
//
//	type Config struct {
//	    config.BaseConfig `yaml:",inline" mapstructure:",squash"`
//	    Redis redis.Config `yaml:"redis" mapstructure:"redis"`
//	}
type Config interface {
	GetBaseConfig() *config.BaseConfig
	ApplyDefaults()
	Validate() error
}
