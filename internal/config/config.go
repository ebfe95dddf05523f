package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// KeyEnv is the variable holding the server key used to sign tokens.
const KeyEnv = "APP_KEY"

type Config struct {
	Port      int             `mapstructure:"port"`
	AppKey    string          `mapstructure:"app_key"`
	Debug     bool            `mapstructure:"debug"`
	DB        DBConfig        `mapstructure:"db"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Token     TokenConfig     `mapstructure:"token"`
	CSRF      CSRFConfig      `mapstructure:"csrf"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`

	// KeyGenerated is set when AppKey was missing and has just been created.
	KeyGenerated bool `mapstructure:"-"`
}

type DBConfig struct {
	Driver        string        `mapstructure:"driver"`
	DSN           string        `mapstructure:"dsn"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Name          string        `mapstructure:"name"`
	Prepare       bool          `mapstructure:"prepare"`
	MaxOpenConns  int           `mapstructure:"max_open_conns"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

type CacheConfig struct {
	Driver   string        `mapstructure:"driver"` // memory, redis or none
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
	Size     int           `mapstructure:"size"`
}

type TokenConfig struct {
	Expire           time.Duration `mapstructure:"expire"`
	SensitiveExpire  time.Duration `mapstructure:"sensitive_expire"`
	ReplayProtection bool          `mapstructure:"replay_protection"`
	ReplayWindow     time.Duration `mapstructure:"replay_window"`
	Header           string        `mapstructure:"header"`
	Whitelist        []string      `mapstructure:"whitelist"`
	DetailedErrors   bool          `mapstructure:"detailed_errors"`
	CacheSize        int           `mapstructure:"cache_size"`
}

type CSRFConfig struct {
	Stateless   bool          `mapstructure:"stateless"`
	MaxAge      time.Duration `mapstructure:"max_age"`
	BindSession bool          `mapstructure:"bind_session"`
}

type SessionConfig struct {
	Name   string `mapstructure:"name"`
	MaxAge int    `mapstructure:"max_age"`
	Secure bool   `mapstructure:"secure"`
}

type RateLimitConfig struct {
	Rate  float64 `mapstructure:"rate"` // requests per minute
	Burst int     `mapstructure:"burst"`
}

type LogConfig struct {
	Dir    string `mapstructure:"dir"`
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads envFile (if present) into the environment, then resolves the
// configuration from environment variables over defaults. Nested keys map to
// upper-case variables joined by underscores, e.g. db.driver -> DB_DRIVER.
// A missing or short APP_KEY is replaced by a generated key saved to envFile.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	// Try loading .env file, but don't fail if it doesn't exist
	_ = godotenv.Load(envFile)

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Token.Whitelist = splitList(cfg.Token.Whitelist)

	if len(cfg.AppKey) < 32 {
		key, err := generateRandomKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		if err := SaveKey(envFile, key); err != nil {
			slog.Warn("failed to save generated key", "file", envFile, "error", err)
		} else {
			slog.Info("generated new "+KeyEnv, "file", envFile)
		}
		cfg.AppKey = key
		cfg.KeyGenerated = true
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("app_key", "")
	v.SetDefault("debug", false)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 0)
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "anon.db")
	v.SetDefault("db.prepare", true)
	v.SetDefault("db.max_open_conns", 0)
	v.SetDefault("db.slow_threshold", 100*time.Millisecond)

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.ttl", time.Minute)
	v.SetDefault("cache.size", 1000)

	v.SetDefault("token.expire", 300*time.Second)
	v.SetDefault("token.sensitive_expire", 60*time.Second)
	v.SetDefault("token.replay_protection", false)
	v.SetDefault("token.replay_window", 120*time.Second)
	v.SetDefault("token.header", "X-API-Token")
	v.SetDefault("token.whitelist", []string{"/health", "/auth/login", "/auth/setup", "/auth/csrf", "/auth/check"})
	v.SetDefault("token.detailed_errors", false)
	v.SetDefault("token.cache_size", 1024)

	v.SetDefault("csrf.stateless", true)
	v.SetDefault("csrf.max_age", 7200*time.Second)
	v.SetDefault("csrf.bind_session", true)

	v.SetDefault("session.name", "anon_session")
	v.SetDefault("session.max_age", 86400)
	v.SetDefault("session.secure", false)

	v.SetDefault("ratelimit.rate", 30.0)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// splitList flattens comma-separated entries coming from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func generateRandomKey(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// SaveKey writes key into filename as APP_KEY, keeping the other entries.
func SaveKey(filename, key string) error {
	env, err := godotenv.Read(filename)
	if errors.Is(err, fs.ErrNotExist) {
		env = map[string]string{"PORT": "8080"}
	} else if err != nil {
		return err
	}
	env[KeyEnv] = key
	if err := godotenv.Write(env, filename); err != nil {
		return err
	}
	return os.Chmod(filename, 0600)
}
