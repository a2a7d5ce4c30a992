package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	StoreDriver          string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBSchema             string        `mapstructure:"DB_SCHEMA"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	MongoURI             string        `mapstructure:"MONGO_URI"`
	MongoDatabase        string        `mapstructure:"MONGO_DATABASE"`
	FileUploadPath       string        `mapstructure:"FILE_UPLOAD_PATH"`
	MaxUploadSize        string        `mapstructure:"MAX_UPLOAD_SIZE"`
	MaxBodySize          string        `mapstructure:"MAX_BODY_SIZE"`
	JWTSecret            string        `mapstructure:"JWT_SECRET"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL          string        `mapstructure:"AUTH_JWKS_URL"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	LookupCacheSize      int           `mapstructure:"LOOKUP_CACHE_SIZE"`
	LookupCacheTTL       time.Duration `mapstructure:"LOOKUP_CACHE_TTL"`
	UploadRateLimitRPS   float64       `mapstructure:"UPLOAD_RATE_LIMIT_RPS"`
	UploadRateLimitBurst int           `mapstructure:"UPLOAD_RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT",
	"ENV",
	"STORE_DRIVER",
	"DATABASE_URL",
	"DB_SCHEMA",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"MONGO_URI",
	"MONGO_DATABASE",
	"FILE_UPLOAD_PATH",
	"MAX_UPLOAD_SIZE",
	"MAX_BODY_SIZE",
	"JWT_SECRET",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
	"AUTH_JWKS_URL",
	"CORS_ORIGINS",
	"LOOKUP_CACHE_SIZE",
	"LOOKUP_CACHE_TTL",
	"UPLOAD_RATE_LIMIT_RPS",
	"UPLOAD_RATE_LIMIT_BURST",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory. Environment variables win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MONGO_DATABASE", "telescoper")
	v.SetDefault("FILE_UPLOAD_PATH", "data/hl7-uploads")
	v.SetDefault("MAX_UPLOAD_SIZE", "10M")
	v.SetDefault("MAX_BODY_SIZE", "1M")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOOKUP_CACHE_SIZE", 1024)
	v.SetDefault("LOOKUP_CACHE_TTL", "10m")
	v.SetDefault("UPLOAD_RATE_LIMIT_RPS", 5)
	v.SetDefault("UPLOAD_RATE_LIMIT_BURST", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a bearer token run as the dev user.")
		log.Println("WARNING: Set ENV=production and JWT_SECRET or AUTH_ISSUER for real use.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// HasAuthKeys reports whether any token verification source is configured.
func (c *Config) HasAuthKeys() bool {
	return c.JWTSecret != "" || c.AuthIssuer != "" || c.AuthJWKSURL != ""
}

// Validate checks that the configuration is complete for the selected store
// driver and that authentication is configured outside development.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StoreDriverPostgres)
		}
	case StoreDriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORE_DRIVER is %q", StoreDriverMongo)
		}
		if c.MongoDatabase == "" {
			return fmt.Errorf("MONGO_DATABASE is required when STORE_DRIVER is %q", StoreDriverMongo)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMongo, c.StoreDriver)
	}

	if !c.IsDev() && !c.HasAuthKeys() {
		return fmt.Errorf(
			"one of JWT_SECRET, AUTH_ISSUER or AUTH_JWKS_URL must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}

	if c.FileUploadPath == "" {
		return fmt.Errorf("FILE_UPLOAD_PATH must not be empty")
	}
	if c.LookupCacheSize <= 0 {
		return fmt.Errorf("LOOKUP_CACHE_SIZE must be positive, got %d", c.LookupCacheSize)
	}
	if c.LookupCacheTTL < 0 {
		return fmt.Errorf("LOOKUP_CACHE_TTL must not be negative, got %s", c.LookupCacheTTL)
	}
	if c.UploadRateLimitRPS <= 0 || c.UploadRateLimitBurst <= 0 {
		return fmt.Errorf("UPLOAD_RATE_LIMIT_RPS and UPLOAD_RATE_LIMIT_BURST must be positive")
	}

	return nil
}
