// Package config provides configuration management for refprep.
//
// Configuration is loaded from multiple sources with the following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables (REFPREP_* prefix)
//  3. Configuration file (refprep.yaml)
//  4. Default values (lowest priority)
//
// Example usage:
//
//	cfg, err := config.Load("/etc/refprep/refprep.yaml", config.Options{Split: "val"})
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/nvr-ai/go-refer/annotations"
	"github.com/nvr-ai/go-refer/cache"
	"github.com/nvr-ai/go-refer/dataset"
	"github.com/nvr-ai/go-refer/regions"
)

// Config holds all configuration for refprep.
type Config struct {
	// Dataset selection
	Task    string `mapstructure:"task" yaml:"task"`
	Split   string `mapstructure:"split" yaml:"split"`
	SplitBy string `mapstructure:"split_by" yaml:"split_by"`

	// Annotation root; <data_root>/<task>/refs(<split_by>).json
	DataRoot string `mapstructure:"data_root" yaml:"data_root"`

	// Entry cache
	CacheDir     string `mapstructure:"cache_dir" yaml:"cache_dir"`
	CacheEnabled bool   `mapstructure:"cache_enabled" yaml:"cache_enabled"`

	// Tokenizer
	VocabPath string `mapstructure:"vocab_path" yaml:"vocab_path"`
	Lowercase bool   `mapstructure:"lowercase" yaml:"lowercase"`

	// Region feature stores
	FeaturesDB   string `mapstructure:"features_db" yaml:"features_db"`
	GTFeaturesDB string `mapstructure:"gt_features_db" yaml:"gt_features_db"`
	FeatureDim   int    `mapstructure:"feature_dim" yaml:"feature_dim"`

	// Packing
	MaxSeqLength int   `mapstructure:"max_seq_length" yaml:"max_seq_length"`
	MaxRegionNum int   `mapstructure:"max_region_num" yaml:"max_region_num"`
	PaddingIndex int64 `mapstructure:"padding_index" yaml:"padding_index"`

	// Loader
	Workers   int `mapstructure:"workers" yaml:"workers"`
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
}

// Options are command line overrides.
type Options struct {
	Task     string
	Split    string
	DataRoot string
	// NoCache disables the entry cache.
	NoCache bool
}

// Load loads configuration from file and applies command line options.
func Load(configPath string, opts Options) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	} else {
		v.SetConfigName("refprep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.refprep")

		// Ignore error if config file not found
		_ = v.ReadInConfig()
	}

	v.SetEnvPrefix("REFPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Task != "" {
		v.Set("task", opts.Task)
	}
	if opts.Split != "" {
		v.Set("split", opts.Split)
	}
	if opts.DataRoot != "" {
		v.Set("data_root", opts.DataRoot)
	}
	if opts.NoCache {
		v.Set("cache_enabled", false)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("task", "refcoco+")
	v.SetDefault("split", "train")
	v.SetDefault("split_by", annotations.DefaultSplitBy)
	v.SetDefault("data_root", "./data")

	v.SetDefault("cache_dir", "")
	v.SetDefault("cache_enabled", true)

	v.SetDefault("vocab_path", "./data/bert-base-uncased-vocab.txt")
	v.SetDefault("lowercase", true)

	v.SetDefault("features_db", "./data/features/detector")
	v.SetDefault("gt_features_db", "./data/features/gt")
	v.SetDefault("feature_dim", regions.FeatureDim)

	v.SetDefault("max_seq_length", dataset.DefaultMaxSeqLength)
	v.SetDefault("max_region_num", dataset.DefaultMaxRegionNum)
	v.SetDefault("padding_index", 0)

	v.SetDefault("workers", 4)
	v.SetDefault("batch_size", 32)

	v.SetDefault("metrics_addr", ":9108")
	v.SetDefault("log_level", "info")
}

var knownSplits = map[string]bool{
	"train": true, "val": true, "test": true,
	"testA": true, "testB": true, "testC": true,
	"testAB": true, "testBC": true, "testAC": true,
}

func (c *Config) validate() error {
	switch {
	case c.Task == "":
		return errors.New("task must not be empty")
	case !knownSplits[c.Split]:
		return errors.Errorf("unknown split %q", c.Split)
	case c.MaxSeqLength <= 0:
		return errors.Errorf("max_seq_length must be positive, got %d", c.MaxSeqLength)
	case c.MaxRegionNum <= 0:
		return errors.Errorf("max_region_num must be positive, got %d", c.MaxRegionNum)
	case c.FeatureDim <= 0:
		return errors.Errorf("feature_dim must be positive, got %d", c.FeatureDim)
	case c.Workers <= 0:
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	case c.BatchSize <= 0:
		return errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}

	if c.SplitBy == "" {
		c.SplitBy = annotations.DefaultSplitBy
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.DataRoot, "cache")
	}
	return nil
}

// CachePath is the entry snapshot file for this configuration, or "" when
// caching is disabled.
func (c *Config) CachePath() string {
	if !c.CacheEnabled {
		return ""
	}
	return filepath.Join(c.CacheDir, cache.Key(c.Task, c.Split, c.MaxSeqLength, c.MaxRegionNum))
}

// Training reports whether the configured split assembles training candidates.
func (c *Config) Training() bool {
	return regions.ModeForSplit(c.Split) == regions.ModeTrain
}
