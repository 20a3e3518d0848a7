// Package config loads haestore configuration from defaults, an optional
// YAML file, an optional .env file and HAESTORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Zerofisher/haestore/pkg/extract"
	"github.com/Zerofisher/haestore/pkg/query"
)

// EnvPrefix prefixes every environment override, e.g. HAESTORE_STORAGE_PATH.
const EnvPrefix = "HAESTORE"

// DatabaseFile is the file name of the message history database.
const DatabaseFile = "History.db"

// Config is the effective configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Query   QueryConfig   `mapstructure:"query" yaml:"query"`
	Rules   RulesConfig   `mapstructure:"rules" yaml:"rules"`
	Extract ExtractConfig `mapstructure:"extract" yaml:"extract"`
	Ingest  IngestConfig  `mapstructure:"ingest" yaml:"ingest"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Serve   ServeConfig   `mapstructure:"serve" yaml:"serve"`
}

type StorageConfig struct {
	Path             string `mapstructure:"path" yaml:"path"`
	WAL              bool   `mapstructure:"wal" yaml:"wal"`
	CompressPayloads bool   `mapstructure:"compress_payloads" yaml:"compress_payloads"`
}

type QueryConfig struct {
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
	Workers  int `mapstructure:"workers" yaml:"workers"`
}

type RulesConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

type ExtractConfig struct {
	Boundary string `mapstructure:"boundary" yaml:"boundary"`
}

type IngestConfig struct {
	Dedup bool   `mapstructure:"dedup" yaml:"dedup"`
	Scope string `mapstructure:"scope" yaml:"scope"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

type ServeConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.wal", true)
	v.SetDefault("storage.compress_payloads", false)

	v.SetDefault("query.page_size", query.DefaultPageSize)
	v.SetDefault("query.workers", 2)

	v.SetDefault("rules.file", "")
	v.SetDefault("extract.boundary", extract.DefaultBoundary)

	v.SetDefault("ingest.dedup", true)
	v.SetDefault("ingest.scope", query.AllToken)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("serve.addr", "127.0.0.1:8089")
}

// Load reads configuration into v. When cfgFile is empty, haestore.yaml is
// searched in the working directory and in ~/.config/haestore; a missing
// file is not an error. A .env file in the working directory is applied to
// the environment first without overriding variables already set.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("failed to load .env file", "error", err)
	}

	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		v.AddConfigPath(cwd)
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "haestore"))
		}
		v.SetConfigType("yaml")
		v.SetConfigName("haestore")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	if !query.ValidPageSize(c.Query.PageSize) {
		return fmt.Errorf("query.page_size %d: %w (allowed %v)", c.Query.PageSize, query.ErrPageSize, query.PageSizes)
	}
	if c.Query.Workers < 1 {
		return fmt.Errorf("query.workers must be at least 1, got %d", c.Query.Workers)
	}
	if c.Extract.Boundary == "" {
		return errors.New("extract.boundary must not be empty")
	}
	return nil
}

// YAML renders the configuration as a config file.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ResolveDatabasePath decides where the database lives: storage.path when
// set, else next to the rules file, else ~/.config/haestore. The directory is
// created; when that fails for the rules directory the home location is used.
func ResolveDatabasePath(c *Config) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return resolveDatabasePath(c, home)
}

func resolveDatabasePath(c *Config, home string) (string, error) {
	if p := strings.TrimSpace(c.Storage.Path); p != "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("resolve storage.path: %w", err)
		}
		return abs, nil
	}

	fallbackDir := filepath.Join(home, ".config", "haestore")

	if rulesFile := strings.TrimSpace(c.Rules.File); rulesFile != "" {
		dir := filepath.Dir(rulesFile)
		if err := os.MkdirAll(dir, 0755); err == nil {
			if abs, err := filepath.Abs(filepath.Join(dir, DatabaseFile)); err == nil {
				return abs, nil
			}
		} else {
			slog.Warn("rules directory unusable, using default database location", "dir", dir, "error", err)
		}
	}

	if err := os.MkdirAll(fallbackDir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", fallbackDir, err)
	}
	return filepath.Join(fallbackDir, DatabaseFile), nil
}
