package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	appErrors "github.com/kentiva/ops-api/pkg/errors"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	APIToken APITokenConfig
	Shield   ShieldConfig
	CORS     CORSConfig
	Log      LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig governs signed access tokens and the refresh token lifetime.
type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	Issuer            string
	Audience          []string
}

// APITokenConfig shapes long-lived service-account bearer tokens.
type APITokenConfig struct {
	Prefix           string
	MinLength        int
	DefaultRateLimit int
	SecretBytes      int
}

// ShieldConfig tunes the intrusion detectors.
type ShieldConfig struct {
	FailedLoginWindow         time.Duration
	FailedLoginThreshold      int
	BulkDeactivationWindow    time.Duration
	BulkDeactivationThreshold int
	UseRedisBuckets           bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 15*time.Minute),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 30*24*time.Hour),
		Issuer:            v.GetString("JWT_ISSUER"),
		Audience:          splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.APIToken = APITokenConfig{
		Prefix:           v.GetString("API_TOKEN_PREFIX"),
		MinLength:        v.GetInt("API_TOKEN_MIN_LENGTH"),
		DefaultRateLimit: v.GetInt("API_TOKEN_DEFAULT_RATE_LIMIT"),
		SecretBytes:      v.GetInt("API_TOKEN_SECRET_BYTES"),
	}

	cfg.Shield = ShieldConfig{
		FailedLoginWindow:         parseDuration(v.GetString("SHIELD_FAILED_LOGIN_WINDOW"), 10*time.Minute),
		FailedLoginThreshold:      v.GetInt("SHIELD_FAILED_LOGIN_THRESHOLD"),
		BulkDeactivationWindow:    parseDuration(v.GetString("SHIELD_BULK_DEACTIVATION_WINDOW"), 10*time.Minute),
		BulkDeactivationThreshold: v.GetInt("SHIELD_BULK_DEACTIVATION_THRESHOLD"),
		UseRedisBuckets:           v.GetBool("SHIELD_USE_REDIS_BUCKETS"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

// Validate rejects deployment misconfiguration that must fail at startup
// rather than per request.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return appErrors.Clone(appErrors.ErrConfig, "JWT_SECRET must be set")
	}
	if c.Env == EnvProduction && c.JWT.Secret == devJWTSecret {
		return appErrors.Clone(appErrors.ErrConfig, "JWT_SECRET must not use the development default in production")
	}
	if c.APIToken.Prefix == "" {
		return appErrors.Clone(appErrors.ErrConfig, "API_TOKEN_PREFIX must be set")
	}
	if c.APIToken.MinLength <= len(c.APIToken.Prefix) {
		return appErrors.Clone(appErrors.ErrConfig, "API_TOKEN_MIN_LENGTH must exceed the prefix length")
	}
	if c.APIToken.DefaultRateLimit <= 0 {
		return appErrors.Clone(appErrors.ErrConfig, "API_TOKEN_DEFAULT_RATE_LIMIT must be positive")
	}
	return nil
}

const devJWTSecret = "dev_secret"

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "kentiva_ops")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("JWT_EXPIRATION", "15m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "720h")
	v.SetDefault("JWT_ISSUER", "kentiva-ops-api")
	v.SetDefault("JWT_AUDIENCE", "kentiva")

	v.SetDefault("API_TOKEN_PREFIX", "ktv_live_")
	v.SetDefault("API_TOKEN_MIN_LENGTH", 40)
	v.SetDefault("API_TOKEN_DEFAULT_RATE_LIMIT", 1000)
	v.SetDefault("API_TOKEN_SECRET_BYTES", 48)

	v.SetDefault("SHIELD_FAILED_LOGIN_WINDOW", "10m")
	v.SetDefault("SHIELD_FAILED_LOGIN_THRESHOLD", 5)
	v.SetDefault("SHIELD_BULK_DEACTIVATION_WINDOW", "10m")
	v.SetDefault("SHIELD_BULK_DEACTIVATION_THRESHOLD", 3)
	v.SetDefault("SHIELD_USE_REDIS_BUCKETS", false)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
