package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DevelopmentJWTSecret is the deterministic signing secret used outside production
// when JWT_SECRET is unset.
const DevelopmentJWTSecret = "dev_secret_do_not_use_in_production"

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Security   SecurityConfig
	Identity   IdentityConfig
	Session    SessionConfig
	Guard      GuardConfig
	Background BackgroundConfig
	Log        LogConfig
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
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig configures access token signing.
type JWTConfig struct {
	Secret         string
	AccessTTL      time.Duration
	RefreshTTLDays int
	Issuer         string
	Audience       []string
}

// RefreshTTL converts the configured day count into a duration.
func (c JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}

// SecurityConfig holds hashing parameters and the development auth bypass switches.
type SecurityConfig struct {
	Pepper            string
	BcryptCost        int
	DevAutoAuth       bool
	DevAutoAuthUserID int64
}

// IdentityConfig bounds calls to the identity provider.
type IdentityConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// SessionConfig bounds refresh token store operations.
type SessionConfig struct {
	StoreTimeout time.Duration
}

// GuardConfig controls the revocation-aware access guard.
type GuardConfig struct {
	FailOpen           bool
	RevocationCacheTTL time.Duration
}

// BackgroundConfig sizes the worker pool running best-effort side effects.
type BackgroundConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
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
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:         v.GetString("JWT_SECRET"),
		AccessTTL:      parseDuration(v.GetString("JWT_ACCESS_TTL"), 15*time.Minute),
		RefreshTTLDays: v.GetInt("REFRESH_TOKEN_TTL_DAYS"),
		Issuer:         v.GetString("JWT_ISSUER"),
		Audience:       splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}
	if cfg.JWT.Secret == "" && cfg.Env != EnvProduction {
		cfg.JWT.Secret = DevelopmentJWTSecret
	}

	cfg.Security = SecurityConfig{
		Pepper:            v.GetString("AUTH_PEPPER"),
		BcryptCost:        v.GetInt("BCRYPT_COST"),
		DevAutoAuth:       v.GetBool("DEV_AUTO_AUTH"),
		DevAutoAuthUserID: v.GetInt64("DEV_AUTO_AUTH_USER_ID"),
	}

	cfg.Identity = IdentityConfig{
		Timeout:     parseDuration(v.GetString("IDENTITY_TIMEOUT"), 2*time.Second),
		MaxAttempts: v.GetInt("IDENTITY_MAX_ATTEMPTS"),
		RetryDelay:  parseDuration(v.GetString("IDENTITY_RETRY_DELAY"), 50*time.Millisecond),
	}

	cfg.Session = SessionConfig{
		StoreTimeout: parseDuration(v.GetString("STORE_TIMEOUT"), 3*time.Second),
	}

	cfg.Guard = GuardConfig{
		FailOpen:           v.GetBool("GUARD_FAIL_OPEN"),
		RevocationCacheTTL: parseDuration(v.GetString("REVOCATION_CACHE_TTL"), time.Minute),
	}

	cfg.Background = BackgroundConfig{
		Workers:    v.GetInt("LOGOUT_WORKERS"),
		BufferSize: v.GetInt("LOGOUT_QUEUE_SIZE"),
		MaxRetries: v.GetInt("LOGOUT_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("LOGOUT_RETRY_DELAY"), 500*time.Millisecond),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that must never start, most importantly a
// production deployment without an explicit signing secret.
func (c *Config) Validate() error {
	if c.Env == EnvProduction {
		if c.JWT.Secret == "" || c.JWT.Secret == DevelopmentJWTSecret {
			return errors.New("JWT_SECRET must be configured in production")
		}
		if c.Security.DevAutoAuth {
			return errors.New("DEV_AUTO_AUTH must not be enabled in production")
		}
	}
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is empty")
	}
	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL must be positive, got %s", c.JWT.AccessTTL)
	}
	if c.JWT.RefreshTTLDays <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_TTL_DAYS must be positive, got %d", c.JWT.RefreshTTLDays)
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "eventhub")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL_DAYS", 7)
	v.SetDefault("JWT_ISSUER", "eventhub-auth")
	v.SetDefault("JWT_AUDIENCE", "eventhub")

	v.SetDefault("AUTH_PEPPER", "")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("DEV_AUTO_AUTH", false)
	v.SetDefault("DEV_AUTO_AUTH_USER_ID", 1)

	v.SetDefault("IDENTITY_TIMEOUT", "2s")
	v.SetDefault("IDENTITY_MAX_ATTEMPTS", 3)
	v.SetDefault("IDENTITY_RETRY_DELAY", "50ms")
	v.SetDefault("STORE_TIMEOUT", "3s")

	v.SetDefault("GUARD_FAIL_OPEN", false)
	v.SetDefault("REVOCATION_CACHE_TTL", "1m")

	v.SetDefault("LOGOUT_WORKERS", 2)
	v.SetDefault("LOGOUT_QUEUE_SIZE", 256)
	v.SetDefault("LOGOUT_MAX_RETRIES", 3)
	v.SetDefault("LOGOUT_RETRY_DELAY", "500ms")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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
