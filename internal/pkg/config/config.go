package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Supabase    SupabaseConfig    `mapstructure:"supabase"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Valkey      ValkeyConfig      `mapstructure:"valkey"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Listings    ListingsConfig    `mapstructure:"listings"`
	Geocoder    GeocoderConfig    `mapstructure:"geocoder"`
	Positioning PositioningConfig `mapstructure:"positioning"`
	Firestore   FirestoreConfig   `mapstructure:"firestore"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type SupabaseConfig struct {
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

// Storage backends for the persisted location filter.
const (
	StorageValkey    = "valkey"
	StorageFirestore = "firestore"
	StorageMemory    = "memory"
)

type StorageConfig struct {
	Backend      string        `mapstructure:"backend"`
	FilterKey    string        `mapstructure:"filter_key"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Listing backends.
const (
	ListingsPostgres = "postgres"
	ListingsSupabase = "supabase"
)

type ListingsConfig struct {
	Backend  string `mapstructure:"backend"`
	CacheTTL int    `mapstructure:"cache_ttl"`
}

type GeocoderConfig struct {
	URL           string        `mapstructure:"url"`
	Language      string        `mapstructure:"language"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	FallbackName  string        `mapstructure:"fallback_name"`
	UserAgent     string        `mapstructure:"user_agent"`
}

type PositioningConfig struct {
	URL     string        `mapstructure:"url"`
	Consent bool          `mapstructure:"consent"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type FirestoreConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	Collection string `mapstructure:"collection"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	OTLPAddr    string `mapstructure:"otlp_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment variables.
func Load(service string) (*Config, error) {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "souq")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "souq")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.key", "")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("storage.backend", StorageValkey)
	v.SetDefault("storage.filter_key", "souq:location_filter")
	v.SetDefault("storage.write_timeout", 5*time.Second)
	v.SetDefault("listings.backend", ListingsPostgres)
	v.SetDefault("listings.cache_ttl", 60)
	v.SetDefault("geocoder.url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.language", "ar")
	v.SetDefault("geocoder.timeout", 5*time.Second)
	v.SetDefault("geocoder.rate_per_second", 1.0)
	v.SetDefault("geocoder.fallback_name", "Current location")
	v.SetDefault("geocoder.user_agent", "souq/1.0")
	v.SetDefault("positioning.url", "https://am.i.mullvad.net/json")
	v.SetDefault("positioning.consent", false)
	v.SetDefault("positioning.timeout", 5*time.Second)
	v.SetDefault("firestore.project_id", "")
	v.SetDefault("firestore.collection", "settings")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: SOUQ_VALKEY_ADDR → valkey.addr
	v.SetEnvPrefix("SOUQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	switch c.Listings.Backend {
	case ListingsPostgres:
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	case ListingsSupabase:
		if c.Supabase.URL == "" || c.Supabase.Key == "" {
			errs = append(errs, "supabase.url and supabase.key are required for the supabase listings backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("listings.backend must be postgres or supabase, got %q", c.Listings.Backend))
	}

	switch c.Storage.Backend {
	case StorageValkey:
		if c.Valkey.Addr == "" {
			errs = append(errs, "valkey.addr is required")
		}
	case StorageFirestore:
		if c.Firestore.ProjectID == "" {
			errs = append(errs, "firestore.project_id is required for the firestore storage backend")
		}
		if c.Firestore.Collection == "" {
			errs = append(errs, "firestore.collection is required")
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be valkey, firestore or memory, got %q", c.Storage.Backend))
	}
	if c.Storage.FilterKey == "" {
		errs = append(errs, "storage.filter_key is required")
	}
	if c.Storage.WriteTimeout <= 0 {
		errs = append(errs, "storage.write_timeout must be positive")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required when nats is enabled")
	}
	if c.Geocoder.URL == "" {
		errs = append(errs, "geocoder.url is required")
	}
	if c.Geocoder.RatePerSecond <= 0 {
		errs = append(errs, "geocoder.rate_per_second must be positive")
	}
	if c.Geocoder.Timeout <= 0 {
		errs = append(errs, "geocoder.timeout must be positive")
	}
	if c.Positioning.URL == "" {
		errs = append(errs, "positioning.url is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
