package config

import (
	"errors"
	"fmt"
	"strings"

	libconfig "openocpp/backend/libs/config"
	"openocpp/backend/libs/logging"
)

// Registry backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config defines power-meter server configuration.
type Config struct {
	Discovery struct {
		Port int `yaml:"port" env:"PM_UDP_PORT"`
	} `yaml:"discovery"`
	Ingest struct {
		Port int `yaml:"port" env:"PM_TCP_PORT"`
		// AdvertiseHost is returned to meters in discovery replies; empty means detect.
		AdvertiseHost      string `yaml:"advertiseHost" env:"PM_ADVERTISE_HOST"`
		ReadTimeoutSeconds int    `yaml:"readTimeoutSeconds" env:"PM_READ_TIMEOUT"`
	} `yaml:"ingest"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
		Channel  string `yaml:"channel" env:"PM_REDIS_CHANNEL"`
	} `yaml:"redis"`
	Registry struct {
		Backend      string `yaml:"backend" env:"REGISTRY_BACKEND"`
		File         string `yaml:"file" env:"REGISTRY_FILE"`
		DSN          string `yaml:"dsn" env:"REGISTRY_POSTGRES_DSN"`
		DocumentName string `yaml:"documentName" env:"REGISTRY_DOCUMENT"`
		RedisKey     string `yaml:"redisKey" env:"REGISTRY_REDIS_KEY"`
	} `yaml:"registry"`
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
	cfg.Discovery.Port = 4210
	cfg.Ingest.Port = 5000
	cfg.Ingest.ReadTimeoutSeconds = 120
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Channel = "energy_updates"
	cfg.Registry.Backend = BackendFile
	cfg.Registry.File = "shared_data.json"
	cfg.Registry.DocumentName = "default"
	cfg.Registry.RedisKey = "openocpp:registry"
	return cfg
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("config: redis addr is required")
	}
	if strings.TrimSpace(c.Redis.Channel) == "" {
		return errors.New("config: redis channel is required")
	}
	if c.Discovery.Port <= 0 || c.Ingest.Port <= 0 {
		return errors.New("config: discovery and ingest ports must be positive")
	}
	switch c.Registry.Backend {
	case BackendFile, BackendRedis:
	case BackendPostgres:
		if strings.TrimSpace(c.Registry.DSN) == "" {
			return errors.New("config: registry dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown registry backend %q", c.Registry.Backend)
	}
	return nil
}

// DiscoveryAddress returns the UDP listen address.
func (c *Config) DiscoveryAddress() string {
	return fmt.Sprintf(":%d", c.Discovery.Port)
}

// IngestAddress returns the TCP listen address.
func (c *Config) IngestAddress() string {
	return fmt.Sprintf(":%d", c.Ingest.Port)
}
