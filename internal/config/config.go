// Package config loads the service configuration from a YAML file, with
// the Airtable token read from a secret file or the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/discochess/shelf"
	"github.com/discochess/shelf/internal/cache/misscache"
	"github.com/discochess/shelf/internal/codec"
	"github.com/discochess/shelf/internal/freshness"
	"github.com/discochess/shelf/internal/remote/airtable"
)

// TokenEnv overrides the token file when set.
const TokenEnv = "SHELF_AIRTABLE_TOKEN"

// ErrNoToken is returned when neither the environment nor the token file
// supplies an Airtable token.
var ErrNoToken = errors.New("config: no airtable token")

// Config is the service configuration.
type Config struct {
	Airtable Airtable `yaml:"airtable"`
	Cache    Cache    `yaml:"cache"`
	HTTP     HTTP     `yaml:"http"`
	Export   Export   `yaml:"export"`
	Log      Log      `yaml:"log"`
}

// Airtable locates the base and its tables.
type Airtable struct {
	BaseURL        string  `yaml:"base_url"`
	BaseID         string  `yaml:"base_id"`
	BooksTable     string  `yaml:"books_table"`
	UsersTable     string  `yaml:"users_table"`
	AccessLogTable string  `yaml:"access_log_table"`
	TokenFile      string  `yaml:"token_file"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`

	// Token is never read from the YAML file.
	Token string `yaml:"-"`
}

// Cache tunes the inventory cache.
type Cache struct {
	TTL            time.Duration `yaml:"ttl"`
	Timeout        time.Duration `yaml:"timeout"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	MissCacheSize  int           `yaml:"miss_cache_size"`
	MissCacheTTL   time.Duration `yaml:"miss_cache_ttl"`
}

// HTTP configures the API server.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Export configures inventory exports.
type Export struct {
	Dest  string `yaml:"dest"`
	Codec string `yaml:"codec"`
	Keep  int    `yaml:"keep"`
}

// Log configures logging.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Airtable: Airtable{
			BaseURL:        airtable.DefaultBaseURL,
			BaseID:         "appz1OhNtkhOphFqu",
			BooksTable:     "tbl3bXZiWVgZrF81C",
			UsersTable:     "People",
			AccessLogTable: "Access log",
			TokenFile:      "airtable-token-secret",
			RatePerSecond:  float64(airtable.DefaultRate),
			Burst:          1,
		},
		Cache: Cache{
			TTL:            freshness.DefaultTTL,
			Timeout:        shelf.DefaultTimeout,
			RefreshTimeout: shelf.DefaultRefreshTimeout,
			MissCacheSize:  misscache.DefaultSize,
			MissCacheTTL:   misscache.DefaultTTL,
		},
		HTTP: HTTP{
			Addr: ":8000",
		},
		Export: Export{
			Dest:  "exports",
			Codec: "zstd",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that have no usable fallback.
func (c Config) Validate() error {
	switch {
	case c.Airtable.BaseID == "":
		return errors.New("config: airtable.base_id is required")
	case c.Airtable.BooksTable == "":
		return errors.New("config: airtable.books_table is required")
	case c.Airtable.RatePerSecond <= 0:
		return errors.New("config: airtable.rate_per_second must be positive")
	case c.Airtable.Burst < 1:
		return errors.New("config: airtable.burst must be at least 1")
	case c.Cache.TTL <= 0:
		return errors.New("config: cache.ttl must be positive")
	case c.Cache.Timeout <= 0:
		return errors.New("config: cache.timeout must be positive")
	case c.Cache.RefreshTimeout <= 0:
		return errors.New("config: cache.refresh_timeout must be positive")
	case c.Cache.MissCacheSize <= 0 || c.Cache.MissCacheTTL <= 0:
		return errors.New("config: cache.miss_cache_size and miss_cache_ttl must be positive")
	case c.Export.Keep < 0:
		return errors.New("config: export.keep must not be negative")
	}
	if _, err := codec.ByName(c.Export.Codec); err != nil {
		return fmt.Errorf("config: export.codec: %w", err)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}

// LoadToken sets Airtable.Token from the environment or, failing that,
// from the token file.
func (c *Config) LoadToken() error {
	if token := strings.TrimSpace(os.Getenv(TokenEnv)); token != "" {
		c.Airtable.Token = token
		return nil
	}
	if c.Airtable.TokenFile == "" {
		return ErrNoToken
	}

	data, err := os.ReadFile(c.Airtable.TokenFile)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrNoToken, c.Airtable.TokenFile, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("%w: %s is empty", ErrNoToken, c.Airtable.TokenFile)
	}
	c.Airtable.Token = token
	return nil
}

// NewAirtable builds the Airtable client described by c.
func (c Config) NewAirtable(logger *zap.Logger) (*airtable.Client, error) {
	return airtable.New(airtable.Config{
		BaseID:         c.Airtable.BaseID,
		BooksTable:     c.Airtable.BooksTable,
		UsersTable:     c.Airtable.UsersTable,
		AccessLogTable: c.Airtable.AccessLogTable,
		Token:          c.Airtable.Token,
	},
		airtable.WithBaseURL(c.Airtable.BaseURL),
		airtable.WithRateLimit(rate.Limit(c.Airtable.RatePerSecond), c.Airtable.Burst),
		airtable.WithLogger(logger.Named("airtable")),
	)
}

// ClientOptions returns the cache options described by c.
func (c Config) ClientOptions() []shelf.Option {
	return []shelf.Option{
		shelf.WithTTL(c.Cache.TTL),
		shelf.WithTimeout(c.Cache.Timeout),
		shelf.WithRefreshTimeout(c.Cache.RefreshTimeout),
		shelf.WithMissCache(c.Cache.MissCacheSize, c.Cache.MissCacheTTL),
	}
}

// NewLogger builds the process logger.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
