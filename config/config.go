// Package config loads client settings from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Session    SessionConfig    `yaml:"session" toml:"session"`
	Middleware MiddlewareConfig `yaml:"middleware" toml:"middleware"`
	Registry   RegistryConfig   `yaml:"registry" toml:"registry"`
	Logger     LoggerConfig     `yaml:"logger" toml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer" toml:"tracer"`
}

// ServerConfig is the language server to connect to directly.
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SessionConfig tunes one RPC session.
type SessionConfig struct {
	DialTimeout    time.Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	CallTimeout    time.Duration `yaml:"call_timeout" toml:"call_timeout"` // 0 = wait for the caller's context only
	MaxHeaderBytes int           `yaml:"max_header_bytes" toml:"max_header_bytes"`
	MaxBodyBytes   int           `yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// MiddlewareConfig selects the call interceptors. Zero values disable each one.
type MiddlewareConfig struct {
	Logging    bool           `yaml:"logging" toml:"logging"`
	Tracing    bool           `yaml:"tracing" toml:"tracing"`
	RateLimit  float64        `yaml:"rate_limit" toml:"rate_limit"` // calls per second
	Burst      int            `yaml:"burst" toml:"burst"`
	Retries    int            `yaml:"retries" toml:"retries"`
	RetryDelay time.Duration  `yaml:"retry_delay" toml:"retry_delay"`
	Breaker    *BreakerConfig `yaml:"breaker,omitempty" toml:"breaker,omitempty"` // nil = no circuit breaker
}

// BreakerConfig configures the circuit breaker around calls.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures" toml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`   // open → half-open
	Interval    time.Duration `yaml:"interval" toml:"interval"` // closed-state count reset, 0 = never
}

// RegistryConfig describes where language-server endpoints come from.
type RegistryConfig struct {
	Kind      string           `yaml:"kind" toml:"kind"` // "static" or "etcd"
	Service   string           `yaml:"service" toml:"service"`
	Endpoints []string         `yaml:"endpoints,omitempty" toml:"endpoints,omitempty"` // etcd endpoints
	Static    []EndpointConfig `yaml:"static,omitempty" toml:"static,omitempty"`
	Balancer  string           `yaml:"balancer" toml:"balancer"`
	TTL       int64            `yaml:"ttl" toml:"ttl"` // seconds, etcd leases
}

// EndpointConfig is one statically configured language server.
type EndpointConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Weight   int    `yaml:"weight" toml:"weight"`
	Version  string `yaml:"version,omitempty" toml:"version,omitempty"`
	Language string `yaml:"language,omitempty" toml:"language,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text, json
	Output string `yaml:"output" toml:"output"` // stderr, stdout, or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Exporter string `yaml:"exporter" toml:"exporter"` // stdout, noop
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 2087},
		Session: SessionConfig{
			DialTimeout:    5 * time.Second,
			CallTimeout:    30 * time.Second,
			MaxHeaderBytes: 4 << 10,
			MaxBodyBytes:   64 << 20,
		},
		Middleware: MiddlewareConfig{
			Logging:    true,
			RetryDelay: 100 * time.Millisecond,
		},
		Registry: RegistryConfig{
			Kind:     "static",
			Service:  "default",
			Balancer: "round_robin",
			TTL:      10,
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Exporter: "noop"},
	}
}

// Load reads the file at path over Default and validates the result.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Host == "" {
		errs = append(errs, errors.New("server.host is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Session.DialTimeout < 0 || c.Session.CallTimeout < 0 {
		errs = append(errs, errors.New("session timeouts must not be negative"))
	}
	if c.Session.MaxHeaderBytes < 0 || c.Session.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("session size limits must not be negative"))
	}
	if c.Middleware.RateLimit < 0 {
		errs = append(errs, errors.New("middleware.rate_limit must not be negative"))
	}
	if c.Middleware.RateLimit > 0 && c.Middleware.Burst <= 0 {
		errs = append(errs, errors.New("middleware.burst must be positive when rate_limit is set"))
	}
	if c.Middleware.Retries < 0 {
		errs = append(errs, errors.New("middleware.retries must not be negative"))
	}
	switch c.Registry.Kind {
	case "static":
		for i, ep := range c.Registry.Static {
			if ep.Addr == "" {
				errs = append(errs, fmt.Errorf("registry.static[%d].addr is required", i))
			}
			if ep.Weight < 0 {
				errs = append(errs, fmt.Errorf("registry.static[%d].weight must not be negative", i))
			}
		}
	case "etcd":
		if len(c.Registry.Endpoints) == 0 {
			errs = append(errs, errors.New("registry.endpoints is required for etcd"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.kind %q: want static or etcd", c.Registry.Kind))
	}
	switch c.Registry.Balancer {
	case "round_robin", "weighted_random", "consistent_hash":
	default:
		errs = append(errs, fmt.Errorf("registry.balancer %q unknown", c.Registry.Balancer))
	}
	switch c.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		errs = append(errs, fmt.Errorf("tracer.exporter %q unsupported", c.Tracer.Exporter))
	}
	return errors.Join(errs...)
}
