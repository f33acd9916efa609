// Package config maps environment variables onto optimizer options.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/optistore/optistore"
	"github.com/optistore/optistore/cache"
	"github.com/optistore/optistore/index"
	"github.com/optistore/optistore/quantization"
	"github.com/optistore/optistore/resource"
)

// Config represents the optimizer configuration.
type Config struct {
	Cache        CacheConfig
	Quantization QuantizationConfig
	Index        IndexConfig
	Workers      WorkerConfig
	Resources    ResourceConfig
}

// CacheConfig contains cache settings.
type CacheConfig struct {
	Enabled       bool          `env:"OPTISTORE_CACHE_ENABLED"        envDefault:"true"`
	MaxEntries    int           `env:"OPTISTORE_CACHE_MAX_ENTRIES"    envDefault:"1024"`
	Policy        string        `env:"OPTISTORE_CACHE_POLICY"         envDefault:"LRU"`
	DefaultTTL    time.Duration `env:"OPTISTORE_CACHE_TTL"            envDefault:"0"`
	SweepInterval time.Duration `env:"OPTISTORE_CACHE_SWEEP_INTERVAL" envDefault:"1m"`
}

// QuantizationConfig contains payload compression settings.
type QuantizationConfig struct {
	Enabled           bool    `env:"OPTISTORE_QUANTIZATION_ENABLED" envDefault:"true"`
	Bits              int     `env:"OPTISTORE_QUANTIZATION_BITS"    envDefault:"8"`
	AccuracyThreshold float64 `env:"OPTISTORE_ACCURACY_THRESHOLD"   envDefault:"0"`
	Compressor        string  `env:"OPTISTORE_COMPRESSOR"           envDefault:"s2"`
}

// IndexConfig contains similarity index settings.
type IndexConfig struct {
	Enabled        bool `env:"OPTISTORE_INDEX_ENABLED"   envDefault:"true"`
	M              int  `env:"OPTISTORE_INDEX_M"         envDefault:"16"`
	EfConstruction int  `env:"OPTISTORE_INDEX_EF_CONSTR" envDefault:"200"`
	EfSearch       int  `env:"OPTISTORE_INDEX_EF_SEARCH" envDefault:"64"`
	Dimension      int  `env:"OPTISTORE_INDEX_DIMENSION" envDefault:"128"`
}

// WorkerConfig contains background worker pool settings.
type WorkerConfig struct {
	NumWorkers int `env:"OPTISTORE_WORKERS"     envDefault:"0"`
	QueueLimit int `env:"OPTISTORE_QUEUE_LIMIT" envDefault:"0"`
}

// ResourceConfig contains shared resource limits.
type ResourceConfig struct {
	MemoryLimitBytes  int64 `env:"OPTISTORE_MEMORY_LIMIT_BYTES"   envDefault:"0"`
	MaxBackgroundJobs int64 `env:"OPTISTORE_MAX_BACKGROUND_JOBS"  envDefault:"0"`
	SyncBytesPerSec   int64 `env:"OPTISTORE_SYNC_BYTES_PER_SEC"   envDefault:"0"`
}

// Load loads environment files and parses configuration.
func Load() (*Config, error) {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Options converts the configuration into optimizer options. Invalid policy
// or compressor names fall back to the defaults.
func (cfg *Config) Options() []optistore.Option {
	var opts []optistore.Option

	if cfg.Cache.Enabled {
		policy, err := cache.ParsePolicy(cfg.Cache.Policy)
		if err != nil {
			policy = cache.LRU
		}
		opts = append(opts, optistore.WithCacheOptions(func(o *cache.Options) {
			o.MaxEntries = cfg.Cache.MaxEntries
			o.Policy = policy
			o.DefaultTTL = cfg.Cache.DefaultTTL
			o.SweepInterval = cfg.Cache.SweepInterval
		}))
	} else {
		opts = append(opts, optistore.WithoutCache())
	}

	if cfg.Quantization.Enabled {
		opts = append(opts,
			optistore.WithQuantizationBits(cfg.Quantization.Bits),
			optistore.WithAccuracyThreshold(cfg.Quantization.AccuracyThreshold),
		)
	} else {
		opts = append(opts, optistore.WithoutQuantization())
	}

	switch cfg.Quantization.Compressor {
	case "lz4":
		opts = append(opts, optistore.WithCompressor(quantization.LZ4Compressor{}))
	case "none":
		opts = append(opts, optistore.WithCompressor(nil))
	default:
		opts = append(opts, optistore.WithCompressor(quantization.S2Compressor{}))
	}

	if cfg.Index.Enabled {
		opts = append(opts, optistore.WithIndexOptions(func(o *index.Options) {
			o.M = cfg.Index.M
			o.EfConstruction = cfg.Index.EfConstruction
			o.EfSearch = cfg.Index.EfSearch
			o.Dimension = cfg.Index.Dimension
		}))
	} else {
		opts = append(opts, optistore.WithoutIndex())
	}

	opts = append(opts,
		optistore.WithWorkers(cfg.Workers.NumWorkers),
		optistore.WithQueueLimit(cfg.Workers.QueueLimit),
		optistore.WithResourceLimits(resource.Config{
			MemoryLimitBytes:  cfg.Resources.MemoryLimitBytes,
			MaxBackgroundJobs: cfg.Resources.MaxBackgroundJobs,
			SyncBytesPerSec:   cfg.Resources.SyncBytesPerSec,
		}),
	)

	return opts
}
