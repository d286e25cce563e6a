package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "openocpp/backend/libs/config"
	"openocpp/backend/libs/logging"
)

// Registry backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config defines OCPP server configuration.
type Config struct {
	HTTP struct {
		Port        string `yaml:"port" env:"OCPP_HTTP_PORT"`
		TLSCertFile string `yaml:"tlsCertFile" env:"OCPP_TLS_CERT_FILE"`
		TLSKeyFile  string `yaml:"tlsKeyFile" env:"OCPP_TLS_KEY_FILE"`
	} `yaml:"http"`
	Database struct {
		DSN     string `yaml:"dsn" env:"OCPP_POSTGRES_DSN"`
		Journal bool   `yaml:"journal" env:"OCPP_JOURNAL_ENABLED"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
	} `yaml:"redis"`
	Registry struct {
		Backend           string `yaml:"backend" env:"REGISTRY_BACKEND"`
		File              string `yaml:"file" env:"REGISTRY_FILE"`
		DocumentName      string `yaml:"documentName" env:"REGISTRY_DOCUMENT"`
		RedisKey          string `yaml:"redisKey" env:"REGISTRY_REDIS_KEY"`
		DefaultExpiryDays int    `yaml:"defaultExpiryDays" env:"REGISTRY_DEFAULT_EXPIRY_DAYS"`
	} `yaml:"registry"`
	OCPP struct {
		HeartbeatIntervalSeconds int            `yaml:"heartbeatIntervalSeconds" env:"OCPP_HEARTBEAT_INTERVAL"`
		HeartbeatOverrides       map[string]int `yaml:"heartbeatOverrides" env:"-"`
		RejectUnregistered       bool           `yaml:"rejectUnregistered" env:"OCPP_REJECT_UNREGISTERED"`
	} `yaml:"ocpp"`
	WebSocket struct {
		PingIntervalSeconds int     `yaml:"pingIntervalSeconds" env:"OCPP_PING_INTERVAL"`
		WriteTimeoutSeconds int     `yaml:"writeTimeoutSeconds" env:"OCPP_WRITE_TIMEOUT"`
		ReadTimeoutSeconds  int     `yaml:"readTimeoutSeconds" env:"OCPP_READ_TIMEOUT"`
		RateLimitPerSecond  float64 `yaml:"rateLimitPerSecond" env:"OCPP_RATE_LIMIT"`
		RateLimitBurst      int     `yaml:"rateLimitBurst" env:"OCPP_RATE_BURST"`
	} `yaml:"websocket"`
	Bridge struct {
		TimeoutSeconds   int      `yaml:"timeoutSeconds" env:"BRIDGE_TIMEOUT"`
		VendorID         string   `yaml:"vendorId" env:"BRIDGE_VENDOR_ID"`
		AuthorizeCarried []string `yaml:"authorizeCarried" env:"BRIDGE_AUTHORIZE_CARRIED"`
	} `yaml:"bridge"`
	Admin struct {
		Username        string `yaml:"username" env:"ADMIN_USERNAME"`
		PasswordHash    string `yaml:"passwordHash" env:"ADMIN_PASSWORD_HASH"`
		JWTSecret       string `yaml:"jwtSecret" env:"ADMIN_JWT_SECRET"`
		TokenTTLMinutes int    `yaml:"tokenTTLMinutes" env:"ADMIN_TOKEN_TTL_MINUTES"`
	} `yaml:"admin"`
	Logging logging.Options `yaml:"logging"`
}

// Load uses shared config loader and validates required fields.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = "8081"
	cfg.Registry.Backend = BackendFile
	cfg.Registry.File = "shared_data.json"
	cfg.Registry.DocumentName = "default"
	cfg.Registry.RedisKey = "openocpp:registry"
	cfg.Registry.DefaultExpiryDays = 365
	cfg.OCPP.HeartbeatIntervalSeconds = 180
	cfg.OCPP.RejectUnregistered = true
	cfg.WebSocket.PingIntervalSeconds = 30
	cfg.WebSocket.WriteTimeoutSeconds = 15
	cfg.WebSocket.ReadTimeoutSeconds = 0
	cfg.WebSocket.RateLimitBurst = 5
	cfg.Bridge.TimeoutSeconds = 30
	cfg.Bridge.VendorID = "gresystem"
	cfg.Bridge.AuthorizeCarried = []string{"uvCardRegister"}
	cfg.Admin.TokenTTLMinutes = 60
	return cfg
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Registry.File) == "" {
			return errors.New("config: registry file is required for the file backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("config: database DSN is required for the postgres backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("config: redis addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown registry backend %q", c.Registry.Backend)
	}

	if c.Database.Journal && strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database DSN is required for the message journal")
	}
	if (c.HTTP.TLSCertFile == "") != (c.HTTP.TLSKeyFile == "") {
		return errors.New("config: tls cert and key must be set together")
	}
	if c.Admin.JWTSecret != "" && (c.Admin.Username == "" || c.Admin.PasswordHash == "") {
		return errors.New("config: admin username and password hash are required when jwt secret is set")
	}
	for id, seconds := range c.OCPP.HeartbeatOverrides {
		if seconds <= 0 {
			return fmt.Errorf("config: heartbeat override for %s must be positive", id)
		}
	}
	return nil
}

// NeedsPostgres reports whether a database connection must be opened.
func (c *Config) NeedsPostgres() bool {
	return c.Registry.Backend == BackendPostgres || c.Database.Journal
}

// AdminAuthEnabled reports whether admin routes require a token.
func (c *Config) AdminAuthEnabled() bool {
	return c.Admin.JWTSecret != ""
}

// HTTPAddress returns :port style address.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8081"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// PingInterval returns websocket ping interval.
func (c *Config) PingInterval() time.Duration {
	return seconds(c.WebSocket.PingIntervalSeconds, 30*time.Second)
}

// WriteTimeout returns websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return seconds(c.WebSocket.WriteTimeoutSeconds, 15*time.Second)
}

// ReadTimeout returns the websocket idle read timeout; zero disables it.
func (c *Config) ReadTimeout() time.Duration {
	if c.WebSocket.ReadTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.WebSocket.ReadTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the default interval handed out at boot.
func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.OCPP.HeartbeatIntervalSeconds, 180*time.Second)
}

// HeartbeatOverrides returns the per-station intervals.
func (c *Config) HeartbeatOverrides() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.OCPP.HeartbeatOverrides))
	for id, s := range c.OCPP.HeartbeatOverrides {
		out[id] = time.Duration(s) * time.Second
	}
	return out
}

// BridgeTimeout returns how long an admin request waits for the station.
func (c *Config) BridgeTimeout() time.Duration {
	return seconds(c.Bridge.TimeoutSeconds, 30*time.Second)
}

// HTTPWriteTimeout outlasts the bridge timeout so a waiting /send still gets its reply.
func (c *Config) HTTPWriteTimeout() time.Duration {
	return c.BridgeTimeout() + 15*time.Second
}

// TokenTTL returns the admin token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return seconds(c.Admin.TokenTTLMinutes*60, time.Hour)
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
