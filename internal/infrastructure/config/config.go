package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// minSecretLength is the minimum accepted length for a JWT signing secret.
const minSecretLength = 32

// Config is the root configuration structure for Keystone Auth.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Audit     AuditConfig     `yaml:"audit"`
	Events    EventsConfig    `yaml:"events"`
}

// ServiceConfig identifies this service instance.
type ServiceConfig struct {
	Name string `yaml:"name" env:"KEYSTONE_SERVICE_NAME"`
}

// DatabaseConfig selects and configures the credential store backend.
type DatabaseConfig struct {
	Driver      string         `yaml:"driver" env:"KEYSTONE_DATABASE_DRIVER"`
	Path        string         `yaml:"path" env:"KEYSTONE_DATABASE_PATH"`
	WALMode     bool           `yaml:"wal_mode"`
	BusyTimeout int            `yaml:"busy_timeout"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains PostgreSQL pool settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn" env:"KEYSTONE_POSTGRES_DSN"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host" env:"KEYSTONE_API_HOST"`
	Port     int              `yaml:"port" env:"KEYSTONE_API_PORT"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Metrics  MetricsConfig    `yaml:"metrics"`

	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// header is believed. Empty means the TCP peer is always the client.
	TrustedProxies []string `yaml:"trusted_proxies" env:"KEYSTONE_TRUSTED_PROXIES" envSeparator:","`
}

// MetricsConfig places the Prometheus endpoint on its own listener, apart
// from the public auth endpoints.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"KEYSTONE_METRICS_ENABLED"`
	Host    string `yaml:"host" env:"KEYSTONE_METRICS_HOST"`
	Port    int    `yaml:"port" env:"KEYSTONE_METRICS_PORT"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"KEYSTONE_CORS_ALLOWED_ORIGINS" envSeparator:","`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the auth event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"KEYSTONE_LOG_LEVEL"`
	Format string `yaml:"format" env:"KEYSTONE_LOG_FORMAT"`
	Output string `yaml:"output"`
}

// SecurityConfig contains token, password and rate limiting settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Password  PasswordConfig  `yaml:"password"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains the access and refresh token settings.
//
// The two secrets must differ. Either may be left empty, in which case every
// token operation reports a misconfiguration instead of signing with a default.
type JWTConfig struct {
	AccessSecret    string   `yaml:"access_secret" env:"KEYSTONE_JWT_ACCESS_SECRET"`
	RefreshSecret   string   `yaml:"refresh_secret" env:"KEYSTONE_JWT_REFRESH_SECRET"`
	AccessTokenTTL  Duration `yaml:"access_token_ttl" env:"KEYSTONE_JWT_ACCESS_TTL"`
	RefreshTokenTTL Duration `yaml:"refresh_token_ttl" env:"KEYSTONE_JWT_REFRESH_TTL"`
	Issuer          string   `yaml:"issuer" env:"KEYSTONE_JWT_ISSUER"`
}

// PasswordConfig contains password hashing settings.
type PasswordConfig struct {
	// MaxConcurrent bounds simultaneous hash computations. 0 means GOMAXPROCS.
	MaxConcurrent int `yaml:"max_concurrent" env:"KEYSTONE_PASSWORD_MAX_CONCURRENT"`
}

// RateLimitConfig contains per-client rate limiting for the auth endpoints.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" env:"KEYSTONE_RATE_LIMIT_ENABLED"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// MQTTConfig contains MQTT broker settings for the auth event publisher.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled" env:"KEYSTONE_MQTT_ENABLED"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"KEYSTONE_MQTT_HOST"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"KEYSTONE_MQTT_USERNAME"`
	Password string `yaml:"password" env:"KEYSTONE_MQTT_PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"KEYSTONE_INFLUXDB_ENABLED"`
	URL           string `yaml:"url" env:"KEYSTONE_INFLUXDB_URL"`
	Token         string `yaml:"token" env:"KEYSTONE_INFLUXDB_TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// AuditConfig controls the persistent auth audit trail.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" env:"KEYSTONE_AUDIT_ENABLED"`
}

// EventsConfig controls the asynchronous auth event dispatcher.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// Duration is a time.Duration that also accepts a day suffix ("7d").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalText implements encoding.TextUnmarshaler (used for env overrides).
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// ParseDuration parses a Go duration string, additionally accepting a whole
// number of days with a "d" suffix.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("parsing duration %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", s, err)
	}
	return parsed, nil
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: KEYSTONE_SECTION_KEY
// For example: KEYSTONE_DATABASE_PATH, KEYSTONE_JWT_ACCESS_SECRET
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Secrets deliberately have no default.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "keystone-auth",
		},
		Database: DatabaseConfig{
			Driver:      DriverSQLite,
			Path:        "./data/keystone.db",
			WALMode:     true,
			BusyTimeout: 5,
			Postgres: PostgresConfig{
				MaxConns: 25,
				MinConns: 2,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    9090,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  Duration(15 * time.Minute),
				RefreshTokenTTL: Duration(7 * 24 * time.Hour),
				Issuer:          "keystone-auth",
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				Burst:             10,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "keystone-auth",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "keystone",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
	}
}

// applyEnvOverrides applies KEYSTONE_* environment variables on top of the
// file values. Fields whose variable is unset keep their current value.
func applyEnvOverrides(cfg *Config) error {
	return env.Parse(cfg)
}

// Validate checks the configuration for errors and security issues.
//
// Absent JWT secrets are not an error: the service starts and reports every
// token operation as misconfigured. Present-but-weak or shared secrets are.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.Postgres.DSN == "" {
			errs = append(errs, "database.postgres.dsn is required for the postgres driver (set KEYSTONE_POSTGRES_DSN)")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be %q or %q", DriverSQLite, DriverPostgres))
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if m := c.API.Metrics; m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			errs = append(errs, "api.metrics.port must be between 1 and 65535")
		} else if m.Port == c.API.Port {
			errs = append(errs, "api.metrics.port must differ from api.port")
		}
	}
	for _, p := range c.API.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Sprintf("api.trusted_proxies entry %q is not an IP address or CIDR", p))
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	jwtCfg := c.Security.JWT
	if jwtCfg.AccessSecret != "" && len(jwtCfg.AccessSecret) < minSecretLength {
		errs = append(errs, "security.jwt.access_secret must be at least 32 characters")
	}
	if jwtCfg.RefreshSecret != "" && len(jwtCfg.RefreshSecret) < minSecretLength {
		errs = append(errs, "security.jwt.refresh_secret must be at least 32 characters")
	}
	if jwtCfg.AccessSecret != "" && jwtCfg.AccessSecret == jwtCfg.RefreshSecret {
		errs = append(errs, "security.jwt.access_secret and refresh_secret must differ")
	}
	if jwtCfg.AccessTokenTTL < 0 || jwtCfg.RefreshTokenTTL < 0 {
		errs = append(errs, "security.jwt token TTLs must not be negative")
	}
	if jwtCfg.AccessTokenTTL > 0 && jwtCfg.RefreshTokenTTL > 0 && jwtCfg.RefreshTokenTTL <= jwtCfg.AccessTokenTTL {
		errs = append(errs, "security.jwt.refresh_token_ttl must be longer than access_token_ttl")
	}

	if c.Security.Password.MaxConcurrent < 0 {
		errs = append(errs, "security.password.max_concurrent must not be negative")
	}
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive when enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validProxy(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// MissingSecrets lists the JWT secrets that are not configured.
// A non-empty result means token operations will report misconfiguration.
func (c *Config) MissingSecrets() []string {
	var missing []string
	if c.Security.JWT.AccessSecret == "" {
		missing = append(missing, "security.jwt.access_secret")
	}
	if c.Security.JWT.RefreshSecret == "" {
		missing = append(missing, "security.jwt.refresh_secret")
	}
	return missing
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
