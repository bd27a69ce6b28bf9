package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where commands look for a config file when none is given.
const DefaultPath = ".querylight.yaml"

type Config struct {
	Server Server `yaml:"server"`
	Data   Data   `yaml:"data"`
	Auth   Auth   `yaml:"auth"`
	Log    Log    `yaml:"log"`
}

type Server struct {
	Addr         string        `yaml:"addr"`
	MaxQueryLen  int           `yaml:"max_query_len"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type Data struct {
	Dir           string        `yaml:"dir"`
	Retention     time.Duration `yaml:"retention"`
	CleanInterval time.Duration `yaml:"clean_interval"`
	MaxHistory    int           `yaml:"max_history"`
}

type Auth struct {
	Enabled   bool   `yaml:"enabled"`
	TokenFile string `yaml:"token_file"`
	// KeyFile, when set, seals the token file with the key stored there.
	KeyFile string `yaml:"key_file"`
}

type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:         ":8089",
			MaxQueryLen:  4096,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Data: Data{
			Dir:           "./data",
			Retention:     7 * 24 * time.Hour,
			CleanInterval: time.Hour,
			MaxHistory:    10000,
		},
		Auth: Auth{
			TokenFile: "./data/tokens.json",
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail later at startup.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if c.Server.MaxQueryLen < 0 {
		errs = append(errs, errors.New("server.max_query_len is negative"))
	}
	if c.Data.Dir == "" {
		errs = append(errs, errors.New("data.dir is empty"))
	}
	if c.Data.Retention < 0 {
		errs = append(errs, errors.New("data.retention is negative"))
	}
	if c.Data.MaxHistory < 0 {
		errs = append(errs, errors.New("data.max_history is negative"))
	}
	if c.Auth.Enabled && c.Auth.TokenFile == "" {
		errs = append(errs, errors.New("auth.token_file is required when auth is enabled"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

// Write saves c as YAML to path.
func (c Config) Write(path string) error {
	d, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(d)
	return err
}
