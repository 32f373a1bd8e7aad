package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the cubetile configuration file (~/.config/cubetile/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	Platform      string `yaml:"platform"`
	PlatformsFile string `yaml:"platforms_file"`
	TuneBank      string `yaml:"tune_bank"`
	CacheSize     *int64 `yaml:"cache_size"`
	Parallelism   *int64 `yaml:"parallelism"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string   `yaml:"server_address"`
	RateLimit     *float64 `yaml:"rate_limit"`
	RateBurst     *int64   `yaml:"rate_burst"`
	MaxBatch      *int64   `yaml:"max_batch"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cubetile", "config.yaml")
}

// LoadConfig reads the default config file. Returns a zero Config if the
// file doesn't exist or can't be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return Config{}
	}
	return cfg
}

// LoadConfigFile reads an explicit config file. Unknown keys are an error.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer func() { _ = f.Close() }()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// resolveConfig loads --config when given, otherwise the default file.
// A missing default file is not an error.
func resolveConfig(path string) (Config, error) {
	if path != "" {
		return LoadConfigFile(path)
	}
	if def := configPath(); def != "" {
		cfg, err := LoadConfigFile(def)
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return cfg, err
	}
	return Config{}, nil
}

// applyGlobalConfig applies config file defaults to the global flag
// variables when the corresponding CLI flag was not explicitly set.
func applyGlobalConfig(c *cli.Command, cfg Config) {
	if cfg.Platform != "" && !c.IsSet("platform") {
		platformName = cfg.Platform
	}
	if cfg.PlatformsFile != "" && !c.IsSet("platforms-file") {
		platformsFile = cfg.PlatformsFile
	}
	if cfg.TuneBank != "" && !c.IsSet("tune-bank") {
		tuneBankFile = cfg.TuneBank
	}
	if cfg.CacheSize != nil && !c.IsSet("cache-size") {
		cacheSize = *cfg.CacheSize
	}
	if cfg.Parallelism != nil && !c.IsSet("parallelism") {
		parallelism = *cfg.Parallelism
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, rateLimit *float64, rateBurst, maxBatch *int64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		*rateLimit = *cfg.RateLimit
	}
	if cfg.RateBurst != nil && !c.IsSet("rate-burst") {
		*rateBurst = *cfg.RateBurst
	}
	if cfg.MaxBatch != nil && !c.IsSet("max-batch") {
		*maxBatch = *cfg.MaxBatch
	}
}
