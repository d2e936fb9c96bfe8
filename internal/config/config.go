// Package config loads the backoffice configuration from an optional YAML
// file (with ${VAR} expansion) and BACKOFFICE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "BACKOFFICE_"

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	ServiceTrust ServiceTrustConfig `yaml:"service_trust"`
	Redis        RedisConfig        `yaml:"redis"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Edge         EdgeConfig         `yaml:"edge"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateBurst       int           `yaml:"rate_burst"`
	RatePerSec      float64       `yaml:"rate_per_sec"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

// DatabaseConfig selects PostgreSQL when DSN is set; otherwise the in-memory
// store is used.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	TokenSecret   string        `yaml:"token_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	Issuer        string        `yaml:"issuer"`
	AdminEmail    string        `yaml:"admin_email"`
	AdminUsername string        `yaml:"admin_username"`
	AdminPassword string        `yaml:"admin_password"`
}

// Replay modes for the service signature replay guard.
const (
	ReplayNone   = "none"
	ReplayMemory = "memory"
	ReplayRedis  = "redis"
)

type ServiceTrustConfig struct {
	Secret    string        `yaml:"secret"`
	Window    time.Duration `yaml:"window"`
	Replay    string        `yaml:"replay"`
	CacheSize int           `yaml:"cache_size"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AlertsConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
	QueueSize  int           `yaml:"queue_size"`
	Workers    int           `yaml:"workers"`
}

type ConfirmationConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// EdgeConfig drives the edge registration function.
type EdgeConfig struct {
	Addr       string        `yaml:"addr"`
	BackendURL string        `yaml:"backend_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateBurst:       20,
			RatePerSec:      10,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			AutoMigrate:     true,
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL: time.Hour,
			Issuer:   "backoffice",
		},
		ServiceTrust: ServiceTrustConfig{
			Window:    5 * time.Minute,
			Replay:    ReplayNone,
			CacheSize: 10000,
		},
		Alerts: AlertsConfig{
			Timeout:   5 * time.Second,
			QueueSize: 256,
			Workers:   2,
		},
		Confirmation: ConfirmationConfig{
			Timeout: 5 * time.Second,
		},
		Edge: EdgeConfig{
			Addr:    ":8081",
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadEdge is Load for the edge function, which only needs the service
// secret and the backend location.
func LoadEdge(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateEdge(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the environment value, empty if unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnv(c *Config) error {
	var err error
	c.Server.Addr = getEnvDefault("ADDR", c.Server.Addr)
	c.Server.GRPCAddr = getEnvDefault("GRPC_ADDR", c.Server.GRPCAddr)
	if c.Server.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout); err != nil {
		return err
	}
	if c.Server.RateBurst, err = getEnvInt("RATE_BURST", c.Server.RateBurst); err != nil {
		return err
	}
	if origins := getEnvDefault("CORS_ORIGINS", ""); origins != "" {
		c.Server.CORSOrigins = parseCSV(origins)
	}
	if proxies := getEnvDefault("TRUSTED_PROXIES", ""); proxies != "" {
		c.Server.TrustedProxies = parseCSV(proxies)
	}

	c.Database.DSN = getEnvDefault("PG_DSN", c.Database.DSN)
	if c.Database.AutoMigrate, err = getEnvBool("AUTO_MIGRATE", c.Database.AutoMigrate); err != nil {
		return err
	}

	c.Auth.TokenSecret = getEnvDefault("TOKEN_SECRET", c.Auth.TokenSecret)
	if c.Auth.TokenTTL, err = getEnvDuration("TOKEN_TTL", c.Auth.TokenTTL); err != nil {
		return err
	}
	c.Auth.Issuer = getEnvDefault("TOKEN_ISSUER", c.Auth.Issuer)
	c.Auth.AdminEmail = getEnvDefault("ADMIN_EMAIL", c.Auth.AdminEmail)
	c.Auth.AdminUsername = getEnvDefault("ADMIN_USERNAME", c.Auth.AdminUsername)
	c.Auth.AdminPassword = getEnvDefault("ADMIN_PASSWORD", c.Auth.AdminPassword)

	c.ServiceTrust.Secret = getEnvDefault("SERVICE_SECRET", c.ServiceTrust.Secret)
	if c.ServiceTrust.Window, err = getEnvDuration("SIGNATURE_WINDOW", c.ServiceTrust.Window); err != nil {
		return err
	}
	c.ServiceTrust.Replay = getEnvDefault("SIGNATURE_REPLAY", c.ServiceTrust.Replay)

	c.Redis.Addr = getEnvDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvDefault("REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}

	c.Alerts.WebhookURL = getEnvDefault("ALERT_WEBHOOK_URL", c.Alerts.WebhookURL)
	if c.Alerts.Timeout, err = getEnvDuration("ALERT_TIMEOUT", c.Alerts.Timeout); err != nil {
		return err
	}
	c.Confirmation.URL = getEnvDefault("CONFIRMATION_URL", c.Confirmation.URL)
	if c.Confirmation.Timeout, err = getEnvDuration("CONFIRMATION_TIMEOUT", c.Confirmation.Timeout); err != nil {
		return err
	}

	c.Edge.Addr = getEnvDefault("EDGE_ADDR", c.Edge.Addr)
	c.Edge.BackendURL = getEnvDefault("BACKEND_URL", c.Edge.BackendURL)
	if c.Edge.Timeout, err = getEnvDuration("EDGE_TIMEOUT", c.Edge.Timeout); err != nil {
		return err
	}

	c.Logging.Level = getEnvDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvDefault("LOG_FORMAT", c.Logging.Format)
	return nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.TokenSecret) < 32 {
		errs = append(errs, errors.New("auth.token_secret must be at least 32 bytes"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.ServiceTrust.Secret == "" {
		errs = append(errs, errors.New("service_trust.secret is required"))
	}
	if c.ServiceTrust.Window <= 0 {
		errs = append(errs, errors.New("service_trust.window must be positive"))
	}
	switch c.ServiceTrust.Replay {
	case ReplayNone, ReplayMemory:
	case ReplayRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required when service_trust.replay is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("service_trust.replay %q is not one of none, memory, redis", c.ServiceTrust.Replay))
	}
	for _, raw := range c.Server.TrustedProxies {
		if !validProxy(raw) {
			errs = append(errs, fmt.Errorf("server.trusted_proxies entry %q is not an address or CIDR", raw))
		}
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		errs = append(errs, errors.New("auth.admin_email and auth.admin_password must be set together"))
	}
	for name, raw := range map[string]string{
		"alerts.webhook_url": c.Alerts.WebhookURL,
		"confirmation.url":   c.Confirmation.URL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s is not a valid URL", name))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not json or text", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// ValidateEdge checks the subset of fields the edge function reads.
func (c *Config) ValidateEdge() error {
	var errs []error
	if c.ServiceTrust.Secret == "" {
		errs = append(errs, errors.New("service_trust.secret is required"))
	}
	if u, err := url.Parse(c.Edge.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, errors.New("edge.backend_url must be an absolute URL"))
	}
	if c.Edge.Timeout <= 0 {
		errs = append(errs, errors.New("edge.timeout must be positive"))
	}
	return errors.Join(errs...)
}

func getEnvDefault(key, defaultVal string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	v := getEnvDefault(key, "")
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: invalid integer %q", envPrefix, key, v)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	v := getEnvDefault(key, "")
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s%s: invalid boolean %q", envPrefix, key, v)
	}
	return b, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := getEnvDefault(key, "")
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: invalid duration %q", envPrefix, key, v)
	}
	return d, nil
}

func parseCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validProxy(raw string) bool {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "/") {
		_, err := netip.ParsePrefix(raw)
		return err == nil
	}
	_, err := netip.ParseAddr(raw)
	return err == nil
}
