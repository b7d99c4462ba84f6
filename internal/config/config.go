// Package config loads configuration for the Fuse, HComb, and HBee
// binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the application configuration shared across roles;
// each binary reads only the sections relevant to it.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	AWS     AWSConfig     `mapstructure:"aws"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the aggregator's listener and its bounded
// resource pools.
type ServerConfig struct {
	ListenAddr          string `mapstructure:"listenAddr"`
	IdleThresholdSecs   int    `mapstructure:"idleThresholdSecs"`
	DownloadConcurrency int    `mapstructure:"downloadConcurrency"`
	ScheduleConcurrency int    `mapstructure:"scheduleConcurrency"`
}

// AWSConfig carries the environment spec names for cloud deployments.
type AWSConfig struct {
	Region           string   `mapstructure:"region"`
	HCombClusterName string   `mapstructure:"hcombClusterName"`
	HCombTaskSGID    string   `mapstructure:"hcombTaskSgId"`
	PublicSubnets    []string `mapstructure:"publicSubnets"`
	HCombTaskDefARN  string   `mapstructure:"hcombTaskDefArn"`
	HBeeLambdaName   string   `mapstructure:"hbeeLambdaName"`
}

// LoggingConfig controls log verbosity and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a configuration usable for local, in-process
// runs (no AWS credentials required).
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:          "127.0.0.1:3333",
			IdleThresholdSecs:   120,
			DownloadConcurrency: 8,
			ScheduleConcurrency: 10,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from an optional YAML file plus
// BUZZ_-prefixed environment variables, falling back to defaults for
// anything unset. A missing config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".buzz"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("BUZZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("server.listenAddr", d.Server.ListenAddr)
	v.SetDefault("server.idleThresholdSecs", d.Server.IdleThresholdSecs)
	v.SetDefault("server.downloadConcurrency", d.Server.DownloadConcurrency)
	v.SetDefault("server.scheduleConcurrency", d.Server.ScheduleConcurrency)
	v.SetDefault("aws.region", d.AWS.Region)
	v.SetDefault("aws.hcombClusterName", d.AWS.HCombClusterName)
	v.SetDefault("aws.hcombTaskSgId", d.AWS.HCombTaskSGID)
	v.SetDefault("aws.publicSubnets", d.AWS.PublicSubnets)
	v.SetDefault("aws.hcombTaskDefArn", d.AWS.HCombTaskDefARN)
	v.SetDefault("aws.hbeeLambdaName", d.AWS.HBeeLambdaName)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
