// Package config loads service configuration from config.yml, an optional
// .env file and the environment using viper and godotenv.
//
//	var cfg Config
//	err := config.LoadConfig("taskguard", &cfg, config.WithEnvPrefix("TASKGUARD"))
package config
