package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drfirst/go-rxinsight/internal/csvio"
	"github.com/drfirst/go-rxinsight/internal/lookup"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	FactSchema     string        `mapstructure:"FACT_SCHEMA"`
	FactTable      string        `mapstructure:"FACT_TABLE"`
	LookupDir      string        `mapstructure:"LOOKUP_DIR"`
	LookupEncoding string        `mapstructure:"LOOKUP_ENCODING"`
	DataDir        string        `mapstructure:"DATA_DIR"`
	BrandFile      string        `mapstructure:"BRAND_FILE"`
	GenericFile    string        `mapstructure:"GENERIC_FILE"`
	DataEncoding   string        `mapstructure:"DATA_ENCODING"`
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	RedisPassword  string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int           `mapstructure:"REDIS_DB"`
	CacheTTL       time.Duration `mapstructure:"CACHE_TTL"`
	KafkaBrokers   []string      `mapstructure:"KAFKA_BROKERS"`
	OTLPEndpoint   string        `mapstructure:"OTLP_ENDPOINT"`
	TracingEnabled bool          `mapstructure:"TRACING_ENABLED"`
	TraceSample    float64       `mapstructure:"TRACE_SAMPLE_RATE"`
	Environment    string        `mapstructure:"ENVIRONMENT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	MetricsAddr    string        `mapstructure:"METRICS_ADDR"`
}

var keys = []string{
	"PORT", "DATABASE_URL", "FACT_SCHEMA", "FACT_TABLE",
	"LOOKUP_DIR", "LOOKUP_ENCODING", "DATA_DIR", "BRAND_FILE", "GENERIC_FILE", "DATA_ENCODING",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "CACHE_TTL",
	"KAFKA_BROKERS", "OTLP_ENDPOINT", "TRACING_ENABLED", "TRACE_SAMPLE_RATE", "ENVIRONMENT", "LOG_LEVEL",
	"METRICS_ADDR", "CONFIG_FILE",
}

// New returns a viper instance with defaults and environment binding applied.
// Commands bind their flags to it before calling Decode.
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("FACT_SCHEMA", "dbo")
	v.SetDefault("FACT_TABLE", "MedicData")
	v.SetDefault("LOOKUP_DIR", "data/lookups")
	v.SetDefault("LOOKUP_ENCODING", csvio.EncodingUTF8)
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("BRAND_FILE", "data_cip13.csv")
	v.SetDefault("GENERIC_FILE", "data_gen.csv")
	v.SetDefault("DATA_ENCODING", csvio.EncodingUTF8)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", "15m")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ADDR", ":9102")

	for _, k := range keys {
		v.BindEnv(k)
	}
	return v
}

// Load reads configuration from the environment and an optional file.
// An empty path falls back to CONFIG_FILE, then tries ./.env and ignores it when missing.
func Load(path string) (*Config, error) {
	v := New()
	if path == "" {
		path = v.GetString("CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigFile(".env")
		_ = v.ReadInConfig()
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings held by v
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// a single comma-separated env value arrives as one element
	if len(cfg.KafkaBrokers) == 1 && strings.Contains(cfg.KafkaBrokers[0], ",") {
		cfg.KafkaBrokers = strings.Split(cfg.KafkaBrokers[0], ",")
	}
	brokers := cfg.KafkaBrokers[:0]
	for _, b := range cfg.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.KafkaBrokers = brokers

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at first use
func (c *Config) Validate() error {
	for name, enc := range map[string]string{"LOOKUP_ENCODING": c.LookupEncoding, "DATA_ENCODING": c.DataEncoding} {
		if err := csvio.CheckEncoding(enc); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL must not be negative, got %s", c.CacheTTL)
	}
	if c.FactTable == "" {
		return fmt.Errorf("FACT_TABLE is required")
	}
	if c.TraceSample < 0 || c.TraceSample > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be within [0, 1], got %v", c.TraceSample)
	}
	return nil
}

// HasDatabase reports whether the fact database is configured
func (c *Config) HasDatabase() bool { return c.DatabaseURL != "" }

// HasCache reports whether the Redis result cache is configured
func (c *Config) HasCache() bool { return c.RedisAddr != "" }

// HasKafka reports whether result events and invalidation are enabled
func (c *Config) HasKafka() bool { return len(c.KafkaBrokers) > 0 }

// BrandPath returns the brand extract path, relative paths resolved against DataDir
func (c *Config) BrandPath() string { return c.resolve(c.BrandFile) }

// GenericPath returns the generic extract path, relative paths resolved against DataDir
func (c *Config) GenericPath() string { return c.resolve(c.GenericFile) }

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.DataDir == "" {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// Lookups returns the lookup loader configuration
func (c *Config) Lookups() lookup.Config {
	lc := lookup.DefaultConfig(c.LookupDir)
	lc.Encoding = c.LookupEncoding
	return lc
}

// CSV returns the reader options for the data extracts
func (c *Config) CSV() csvio.Options {
	return csvio.Options{Encoding: c.DataEncoding}
}

// Logger builds a production zap logger at LOG_LEVEL
func (c *Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.LogLevel != "" {
		lvl, err := zapcore.ParseLevel(c.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}
