package config

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	EngineJWT = "JWT"
)

// Config is read once at startup and never mutated afterwards.
type Config struct {
	Env  string `yaml:"env"`
	Port int    `yaml:"port"`
	GRPC int    `yaml:"grpc_port"`

	Auth struct {
		Engine string        `yaml:"engine"`
		Secret string        `yaml:"jwt_secret"`
		Expiry time.Duration `yaml:"-"`
		Issuer string        `yaml:"jwt_issuer"`

		RawExpiry string `yaml:"jwt_expiry"`
	} `yaml:"auth"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	HTTP struct {
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		MaxBodyBytes       int64    `yaml:"max_body_bytes"`
		// TrustedProxies are addresses or CIDRs allowed to set X-Forwarded-For.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"http"`

	RateLimit struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
		RedisAddr string  `yaml:"redis_addr"`
	} `yaml:"rate_limit"`
}

// Production reports whether the process runs in production mode.
func (c Config) Production() bool { return c.Env == EnvProduction }

// UseMemoryStore reports whether the in-memory identity store should back the API.
func (c Config) UseMemoryStore() bool { return c.Database.URL == "" }

func defaults() Config {
	var c Config
	c.Env = EnvDevelopment
	c.Port = 8080
	c.GRPC = 9090
	c.Auth.Engine = EngineJWT
	c.Auth.Issuer = "warden"
	c.Log.Level = "info"
	c.HTTP.MaxBodyBytes = 1 << 20
	c.HTTP.CORSAllowedOrigins = []string{"http://localhost:3000"}
	c.RateLimit.PerSecond = 5
	c.RateLimit.Burst = 10
	return c
}

// Load builds the configuration from, in increasing precedence: defaults, the
// YAML file named by WARDEN_CONFIG, a .env file in the working directory, and
// the process environment.
func Load() (Config, error) {
	c := defaults()

	if path := strings.TrimSpace(os.Getenv("WARDEN_CONFIG")); path != "" {
		if err := loadYAML(path, &c); err != nil {
			return Config{}, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: read .env: %w", err)
	}
	if err := applyEnv(&c); err != nil {
		return Config{}, err
	}
	if err := c.finalize(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func loadYAML(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) error {
	if v := firstEnv("APP_ENV", "NODE_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		c.Port = port
	}
	if v := os.Getenv("GRPC_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: GRPC_PORT: %w", err)
		}
		c.GRPC = port
	}
	setString(&c.Auth.Engine, "AUTH_ENGINE")
	setString(&c.Auth.Secret, "JWT_SECRET")
	setString(&c.Auth.RawExpiry, "JWT_EXPIRY")
	setString(&c.Auth.Issuer, "JWT_ISSUER")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.RateLimit.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.HTTP.CORSAllowedOrigins = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		c.HTTP.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: MAX_BODY_BYTES: %w", err)
		}
		c.HTTP.MaxBodyBytes = n
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimit.PerSecond = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimit.Burst = n
	}
	return nil
}

func (c *Config) finalize() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	case "dev":
		c.Env = EnvDevelopment
	case "prod":
		c.Env = EnvProduction
	default:
		return fmt.Errorf("config: unknown environment %q", c.Env)
	}
	if !strings.EqualFold(strings.TrimSpace(c.Auth.Engine), EngineJWT) {
		return fmt.Errorf("config: unsupported AUTH_ENGINE %q", c.Auth.Engine)
	}
	c.Auth.Engine = EngineJWT
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if strings.TrimSpace(c.Auth.RawExpiry) == "" {
		return errors.New("config: JWT_EXPIRY is required")
	}
	exp, err := ParseExpiry(c.Auth.RawExpiry)
	if err != nil {
		return err
	}
	c.Auth.Expiry = exp
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	if c.GRPC < 0 || c.GRPC > 65535 {
		return fmt.Errorf("config: invalid GRPC_PORT %d", c.GRPC)
	}
	if c.Production() && c.UseMemoryStore() {
		return errors.New("config: DATABASE_URL is required in production")
	}
	for _, p := range c.HTTP.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("config: invalid TRUSTED_PROXIES entry %q", p)
		}
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("config: rate limit must be positive")
	}
	return nil
}

// ParseExpiry accepts Go durations ("90m", "1h30m"), bare seconds ("3600")
// and whole days ("7d").
func ParseExpiry(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	var (
		d   time.Duration
		err error
	)
	switch {
	case raw == "":
		err = errors.New("empty")
	case strings.HasSuffix(raw, "d"):
		var days int
		days, err = strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err == nil {
			d, err = scaleDuration(days, 24*time.Hour)
		}
	default:
		if secs, convErr := strconv.Atoi(raw); convErr == nil {
			d, err = scaleDuration(secs, time.Second)
		} else {
			d, err = time.ParseDuration(raw)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("config: invalid JWT_EXPIRY %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: JWT_EXPIRY must be positive, got %q", raw)
	}
	return d, nil
}

// scaleDuration multiplies n by unit, refusing results a Duration cannot hold.
func scaleDuration(n int, unit time.Duration) (time.Duration, error) {
	limit := math.MaxInt64 / int64(unit)
	if int64(n) > limit || int64(n) < -limit {
		return 0, errors.New("out of range")
	}
	return time.Duration(n) * unit, nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
