// Package config has the configuration for the app
package config

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Environment is the deployment mode; it controls error verbosity
type Environment string

const (
	EnvDevelopment Environment = "dev"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
)

// String returns the canonical short name
func (e Environment) String() string {
	return string(e)
}

// ParseEnvironment accepts the short names plus the long aliases
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development":
		return EnvDevelopment, nil
	case "staging":
		return EnvStaging, nil
	case "prod", "production":
		return EnvProduction, nil
	case "test":
		return EnvTest, nil
	}
	return EnvDevelopment, fmt.Errorf("ENV must be one of: [dev staging prod test], got: %s", s)
}

// Config holds all application configuration
type Config struct {
	Port              string         `env:"PORT" envDefault:"4400"`
	Address           string         `env:"ADDRESS" envDefault:"127.0.0.1"`
	RawEnv            string         `env:"ENV" envDefault:"prod"`
	Env               Environment    `env:"-"`
	LogLevel          string         `env:"LOG_LEVEL" envDefault:"info"`
	LogDir            string         `env:"LOG_DIR" envDefault:"logs"`
	LogRetentionWeeks int            `env:"LOG_RETENTION_WEEKS" envDefault:"4"`
	MaxLogFileSize    int64          `env:"MAX_LOG_FILE_SIZE" envDefault:"104857600"` // 100MB
	MaxRequestBody    int64          `env:"MAX_REQUEST_BODY" envDefault:"1048576"`
	MaxHeaderSize     int64          `env:"MAX_HEADER_SIZE" envDefault:"1048576"`
	MaxConnections    int            `env:"MAX_CONNECTIONS" envDefault:"0"`
	CORSOrigin        string         `env:"CORS_ORIGIN" envDefault:"*"`
	// TrustedProxies lists the peers (addresses or CIDRs) whose forwarding headers are honoured
	TrustedProxies    []string       `env:"TRUSTED_PROXIES" envSeparator:","`
	TrustedPrefixes   []netip.Prefix `env:"-"`
	DatabaseURL       string         `env:"DATABASE_URL"`
	JWTSecret         string         `env:"JWT_SECRET"`
	JWTTTL            time.Duration  `env:"JWT_TTL" envDefault:"24h"`
	HealthTimeout     time.Duration  `env:"HEALTH_TIMEOUT" envDefault:"3s"`
	DrainTimeout      time.Duration  `env:"DRAIN_TIMEOUT" envDefault:"25s"`
}

// devJWTSecret is only accepted when ENV is dev or test
const devJWTSecret = "development-secret-change-in-production"

// Load loads and validates configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	environment, err := ParseEnvironment(cfg.RawEnv)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: invalid ENV: %w", err)
	}
	cfg.Env = environment

	if cfg.JWTSecret == "" && (cfg.Env == EnvDevelopment || cfg.Env == EnvTest) {
		cfg.JWTSecret = devJWTSecret
	}

	prefixes, err := ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: invalid TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedPrefixes = prefixes

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// ParseTrustedProxies accepts bare addresses and CIDR prefixes
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("bad prefix %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("bad address %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// IsDevelopment reports whether internal error detail may be exposed
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// ListenAddr returns host:port for the HTTP listener
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Address, c.Port)
}

// validateConfig validates all configuration values
func validateConfig(cfg *Config) error {
	if err := validatePort(cfg.Port); err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}

	if err := validateAddress(cfg.Address); err != nil {
		return fmt.Errorf("invalid ADDRESS: %w", err)
	}

	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if err := validateSizeLimit(cfg.MaxRequestBody, "MAX_REQUEST_BODY"); err != nil {
		return fmt.Errorf("invalid MAX_REQUEST_BODY: %w", err)
	}

	if err := validateSizeLimit(cfg.MaxHeaderSize, "MAX_HEADER_SIZE"); err != nil {
		return fmt.Errorf("invalid MAX_HEADER_SIZE: %w", err)
	}

	if err := validateLogRetentionWeeks(cfg.LogRetentionWeeks); err != nil {
		return fmt.Errorf("invalid LOG_RETENTION_WEEKS: %w", err)
	}

	if err := validateMaxLogFileSize(cfg.MaxLogFileSize); err != nil {
		return fmt.Errorf("invalid MAX_LOG_FILE_SIZE: %w", err)
	}

	if cfg.MaxConnections < 0 {
		return fmt.Errorf("invalid MAX_CONNECTIONS: must not be negative, got: %d", cfg.MaxConnections)
	}

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}

	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty when ENV=%s", cfg.Env)
	}

	if err := validateTimeout(cfg.HealthTimeout, "HEALTH_TIMEOUT", time.Minute); err != nil {
		return err
	}

	if err := validateTimeout(cfg.DrainTimeout, "DRAIN_TIMEOUT", 5*time.Minute); err != nil {
		return err
	}

	if cfg.JWTTTL <= 0 {
		return fmt.Errorf("invalid JWT_TTL: must be positive, got: %s", cfg.JWTTTL)
	}

	return nil
}

// validatePort validates the PORT environment variable
func validatePort(port string) error {
	if port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid number: %w", err)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	// Check for privileged ports
	if portNum < 1024 {
		return fmt.Errorf("PORT %d is privileged (less than 1024), use ports 1024-65535", portNum)
	}

	return nil
}

// validateAddress validates the ADDRESS environment variable
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("ADDRESS cannot be empty")
	}

	if address == "localhost" || address == "0.0.0.0" || address == "::" {
		return nil
	}

	if ip := net.ParseIP(address); ip == nil {
		return fmt.Errorf("ADDRESS must be a valid IP address or 'localhost', got: %s", address)
	}

	return nil
}

// validateLogLevel validates the LOG_LEVEL environment variable
func validateLogLevel(logLevel string) error {
	if logLevel == "" {
		return fmt.Errorf("LOG_LEVEL cannot be empty")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	logLevel = strings.ToLower(logLevel)

	for _, level := range validLevels {
		if logLevel == level {
			return nil
		}
	}

	return fmt.Errorf("LOG_LEVEL must be one of: %v, got: %s", validLevels, logLevel)
}

// validateSizeLimit validates size limit configuration values
func validateSizeLimit(size int64, configName string) error {
	if size <= 0 {
		return fmt.Errorf("%s must be positive, got: %d", configName, size)
	}

	if size > 100*1024*1024 { // 100MB
		return fmt.Errorf("%s is too large (max 100MB), got: %d bytes", configName, size)
	}

	return nil
}

// validateLogRetentionWeeks validates the LOG_RETENTION_WEEKS environment variable
func validateLogRetentionWeeks(weeks int) error {
	if weeks <= 0 {
		return fmt.Errorf("LOG_RETENTION_WEEKS must be positive, got: %d", weeks)
	}

	if weeks > 52 { // 1 year maximum
		return fmt.Errorf("LOG_RETENTION_WEEKS is too large (max 52 weeks), got: %d", weeks)
	}

	return nil
}

// validateMaxLogFileSize validates the MAX_LOG_FILE_SIZE environment variable
func validateMaxLogFileSize(size int64) error {
	// Minimum 1MB, maximum 1GB
	if size < 1024*1024 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE is too small (min 1MB), got: %d bytes", size)
	}

	if size > 1024*1024*1024 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE is too large (max 1GB), got: %d bytes", size)
	}

	return nil
}

func validateTimeout(d time.Duration, name string, ceiling time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid %s: must be positive, got: %s", name, d)
	}
	if d > ceiling {
		return fmt.Errorf("invalid %s: must be at most %s, got: %s", name, ceiling, d)
	}
	return nil
}

// GetEnvVars returns a list of all expected environment variables
func GetEnvVars() []string {
	return []string{
		"PORT",
		"ADDRESS",
		"ENV",
		"LOG_LEVEL",
		"LOG_DIR",
		"LOG_RETENTION_WEEKS",
		"MAX_LOG_FILE_SIZE",
		"MAX_REQUEST_BODY",
		"MAX_HEADER_SIZE",
		"MAX_CONNECTIONS",
		"CORS_ORIGIN",
		"DATABASE_URL",
		"JWT_SECRET",
		"JWT_TTL",
		"HEALTH_TIMEOUT",
		"DRAIN_TIMEOUT",
	}
}
