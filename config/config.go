// Package config loads go-h5io settings from YAML and configures logging.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/robert-malhotra/go-h5io/internal/dtype"
	"github.com/robert-malhotra/go-h5io/internal/filter"
)

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Log configures the process logger.
type Log struct {
	// Level is a logrus level name. Defaults to "info".
	Level string `yaml:"level"`

	// Formatter is "text" or "json". Defaults to "text".
	Formatter string `yaml:"formatter"`
}

// Pool configures file handle pools.
type Pool struct {
	InitialCapacity  int `yaml:"initial_capacity"`
	GrowthIncrement  int `yaml:"growth_increment"`
	CloseConcurrency int `yaml:"close_concurrency"`
}

// Dataset holds the defaults applied to newly written datasets.
type Dataset struct {
	ElementType string `yaml:"element_type"`

	// ChunkRows is the number of rows per chunk. Zero picks about 1 MiB of
	// raw data per chunk.
	ChunkRows int `yaml:"chunk_rows"`

	// Compression is a compressor name ("deflate", "lz4", "zstd") or "none".
	Compression      string `yaml:"compression"`
	CompressionLevel int    `yaml:"compression_level"`
	Shuffle          bool   `yaml:"shuffle"`
	Fletcher32       bool   `yaml:"fletcher32"`
}

// ChunkCache tunes the per-dataset chunk cache.
type ChunkCache struct {
	// Size is a human readable byte budget such as "16MiB".
	Size string  `yaml:"size"`
	W0   float64 `yaml:"w0"`
}

// Store configures container sessions.
type Store struct {
	ReportErrors bool `yaml:"report_errors"`
}

// Config is the top level configuration document.
type Config struct {
	Log        Log        `yaml:"log"`
	Pool       Pool       `yaml:"pool"`
	Dataset    Dataset    `yaml:"dataset"`
	ChunkCache ChunkCache `yaml:"chunk_cache"`
	Store      Store      `yaml:"store"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: Log{Level: "info", Formatter: "text"},
		Pool: Pool{
			InitialCapacity:  5,
			GrowthIncrement:  5,
			CloseConcurrency: 4,
		},
		Dataset: Dataset{
			ElementType:      dtype.Float64.String(),
			Compression:      "deflate",
			CompressionLevel: 9,
			Shuffle:          true,
		},
		ChunkCache: ChunkCache{Size: "16MiB", W0: 0.75},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	conf := Default()
	if err := yaml.UnmarshalStrict(data, conf); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	log.WithFields(log.Fields{"path": path}).Debug("config loaded")
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return conf, nil
}

// CacheBytes returns the parsed chunk cache budget.
func (c *Config) CacheBytes() (uint64, error) {
	n, err := humanize.ParseBytes(c.ChunkCache.Size)
	if err != nil {
		return 0, fmt.Errorf("%w: chunk_cache.size %q: %v", ErrInvalid, c.ChunkCache.Size, err)
	}
	return n, nil
}

// Validate checks every section and returns all problems found.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...))
	}

	if _, err := log.ParseLevel(c.Log.Level); c.Log.Level != "" && err != nil {
		bad("log.level %q", c.Log.Level)
	}
	switch c.Log.Formatter {
	case "", "text", "json":
	default:
		bad("log.formatter %q", c.Log.Formatter)
	}

	if c.Pool.InitialCapacity < 0 {
		bad("pool.initial_capacity %d", c.Pool.InitialCapacity)
	}
	if c.Pool.GrowthIncrement < 1 {
		bad("pool.growth_increment %d", c.Pool.GrowthIncrement)
	}
	if c.Pool.CloseConcurrency < 1 {
		bad("pool.close_concurrency %d", c.Pool.CloseConcurrency)
	}

	if _, err := dtype.Parse(c.Dataset.ElementType); err != nil {
		bad("dataset.element_type %q", c.Dataset.ElementType)
	}
	if c.Dataset.ChunkRows < 0 {
		bad("dataset.chunk_rows %d", c.Dataset.ChunkRows)
	}
	if name := strings.ToLower(c.Dataset.Compression); name != "" && name != "none" {
		if !slices.Contains(filter.Compressors(), name) {
			bad("dataset.compression %q", c.Dataset.Compression)
		}
	}

	if n, err := c.CacheBytes(); err != nil {
		errs = append(errs, err)
	} else if n == 0 {
		bad("chunk_cache.size must be positive")
	}
	if c.ChunkCache.W0 < 0 || c.ChunkCache.W0 > 1 {
		bad("chunk_cache.w0 %v outside [0, 1]", c.ChunkCache.W0)
	}
	return errors.Join(errs...)
}

// ConfigureLogging applies the log section to the standard logger.
func ConfigureLogging(conf Log) error {
	level := conf.Level
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	log.SetLevel(lvl)

	switch conf.Formatter {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{TimestampFormat: time.RFC3339Nano})
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return fmt.Errorf("%w: unsupported logging formatter %q", ErrInvalid, conf.Formatter)
	}
	log.Debugf("using %q logging formatter at level %s", conf.Formatter, lvl)
	return nil
}
