package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/gowtham/lbsim/internal/domain"
	lberrors "github.com/gowtham/lbsim/internal/errors"
	"github.com/gowtham/lbsim/pkg/logger"
)

// Config aggregates everything the simulation process needs: the topology
// (forwarder, engines, backends), the synthetic workload, logging, and the
// admin listener.
type Config struct {
	Logging    logger.Config    `yaml:"logging"`
	Forwarder  ForwarderConfig  `yaml:"forwarder"`
	Engines    []EngineConfig   `yaml:"engines"`
	Backends   []BackendConfig  `yaml:"backends"`
	Simulation SimulationConfig `yaml:"simulation"`
	Admin      AdminConfig      `yaml:"admin"`
}

// ForwarderConfig describes the transport tier
type ForwarderConfig struct {
	Name       string `yaml:"name"`
	PublicIP   string `yaml:"public_ip"`
	PublicPort int    `yaml:"public_port"`
	NatBaseIP  string `yaml:"nat_base_ip"`
}

// EngineConfig describes one application tier instance and its routes
type EngineConfig struct {
	Name            string        `yaml:"name"`
	DefaultStrategy string        `yaml:"default_strategy,omitempty"`
	Routes          []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a path prefix to backends by name. An empty strategy
// leaves the route on the engine default.
type RouteConfig struct {
	Prefix   string   `yaml:"prefix"`
	Backends []string `yaml:"backends"`
	Strategy string   `yaml:"strategy,omitempty"`
}

// BackendConfig describes one simulated server. Latency bounds are plain
// millisecond integers so the file stays readable.
type BackendConfig struct {
	Name         string `yaml:"name"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	MinLatencyMs int    `yaml:"min_latency_ms"`
	MaxLatencyMs int    `yaml:"max_latency_ms"`
}

// SimulationConfig shapes the synthetic client workload
type SimulationConfig struct {
	Clients           int     `yaml:"clients"`
	Workers           int     `yaml:"workers"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	JitterMinMs       int     `yaml:"jitter_min_ms"`
	JitterMaxMs       int     `yaml:"jitter_max_ms"`
}

// JitterMin returns the lower jitter bound as a duration
func (s SimulationConfig) JitterMin() time.Duration {
	return time.Duration(s.JitterMinMs) * time.Millisecond
}

// JitterMax returns the upper jitter bound as a duration
func (s SimulationConfig) JitterMax() time.Duration {
	return time.Duration(s.JitterMaxMs) * time.Millisecond
}

// AdminConfig controls the inspection HTTP listener
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DefaultConfig returns the canonical demo topology: one forwarder in front
// of one engine serving an api pool and an img pool, with twelve simulated
// clients over six workers.
func DefaultConfig() *Config {
	return &Config{
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Forwarder: ForwarderConfig{
			Name:       "L4-Main",
			PublicIP:   "52.34.10.5",
			PublicPort: 443,
			NatBaseIP:  "10.0.0.2",
		},
		Engines: []EngineConfig{
			{
				Name:            "App-L7",
				DefaultStrategy: string(domain.RoundRobinStrategyType),
				Routes: []RouteConfig{
					{
						Prefix:   "/api",
						Backends: []string{"api-1", "api-2", "api-3"},
					},
					{
						Prefix:   "/img",
						Backends: []string{"img-1", "img-2", "img-3"},
						Strategy: string(domain.LeastConnectionsStrategyType),
					},
				},
			},
		},
		Backends: []BackendConfig{
			{Name: "api-1", Host: "10.0.0.11", Port: 8080, MinLatencyMs: 20, MaxLatencyMs: 40},
			{Name: "api-2", Host: "10.0.0.12", Port: 8080, MinLatencyMs: 20, MaxLatencyMs: 60},
			{Name: "api-3", Host: "10.0.0.13", Port: 8080, MinLatencyMs: 15, MaxLatencyMs: 50},
			{Name: "img-1", Host: "10.0.0.21", Port: 8080, MinLatencyMs: 10, MaxLatencyMs: 30},
			{Name: "img-2", Host: "10.0.0.22", Port: 8080, MinLatencyMs: 10, MaxLatencyMs: 30},
			{Name: "img-3", Host: "10.0.0.23", Port: 8080, MinLatencyMs: 10, MaxLatencyMs: 30},
		},
		Simulation: SimulationConfig{
			Clients:           12,
			Workers:           6,
			RequestsPerSecond: 50,
			Burst:             6,
			JitterMinMs:       5,
			JitterMaxMs:       50,
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// LoadFromFile loads configuration from a YAML file. File values are merged
// over the defaults, so a partial file is fine.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeConfigLoad, "config",
			"failed to read config file "+filename)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeConfigLoad, "config",
			"failed to parse config file "+filename)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv returns the defaults with environment overrides applied.
// Unparseable numeric values leave the default in place.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if level := os.Getenv("LBSIM_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if port := os.Getenv("LBSIM_ADMIN_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Admin.Port = n
		}
	}
	if clients := os.Getenv("LBSIM_CLIENTS"); clients != "" {
		if n, err := strconv.Atoi(clients); err == nil {
			cfg.Simulation.Clients = n
		}
	}
	if workers := os.Getenv("LBSIM_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			cfg.Simulation.Workers = n
		}
	}

	return cfg
}

// Validate checks the configuration for correctness
func (c *Config) Validate() error {
	if err := validateLogging(c.Logging); err != nil {
		return err
	}

	if c.Forwarder.Name == "" {
		return invalidf("forwarder.name cannot be empty")
	}
	if c.Forwarder.PublicIP == "" {
		return invalidf("forwarder.public_ip cannot be empty")
	}
	if c.Forwarder.PublicPort <= 0 || c.Forwarder.PublicPort > 65535 {
		return invalidf("forwarder.public_port %d out of range", c.Forwarder.PublicPort)
	}
	if c.Forwarder.NatBaseIP == "" {
		return invalidf("forwarder.nat_base_ip cannot be empty")
	}

	if len(c.Backends) == 0 {
		return invalidf("at least one backend must be configured")
	}
	backendNames := make(map[string]bool)
	for i, b := range c.Backends {
		if b.Name == "" {
			return invalidf("backends[%d]: name cannot be empty", i)
		}
		if backendNames[b.Name] {
			return invalidf("backends[%d]: duplicate name %q", i, b.Name)
		}
		backendNames[b.Name] = true

		if b.Host == "" {
			return invalidf("backend %q: host cannot be empty", b.Name)
		}
		if b.Port <= 0 || b.Port > 65535 {
			return invalidf("backend %q: port %d out of range", b.Name, b.Port)
		}
		if b.MinLatencyMs < 0 {
			return invalidf("backend %q: min_latency_ms cannot be negative", b.Name)
		}
		if b.MaxLatencyMs < b.MinLatencyMs {
			return invalidf("backend %q: max_latency_ms below min_latency_ms", b.Name)
		}
	}

	if len(c.Engines) == 0 {
		return invalidf("at least one engine must be configured")
	}
	engineNames := make(map[string]bool)
	for i, e := range c.Engines {
		if e.Name == "" {
			return invalidf("engines[%d]: name cannot be empty", i)
		}
		if engineNames[e.Name] {
			return invalidf("engines[%d]: duplicate name %q", i, e.Name)
		}
		engineNames[e.Name] = true

		if e.DefaultStrategy != "" && !validStrategy(e.DefaultStrategy) {
			return invalidf("engine %q: unknown default_strategy %q", e.Name, e.DefaultStrategy)
		}

		for _, r := range e.Routes {
			if r.Prefix == "" || r.Prefix[0] != '/' {
				return invalidf("engine %q: route prefix %q must start with '/'", e.Name, r.Prefix)
			}
			if len(r.Backends) == 0 {
				return invalidf("engine %q: route %q lists no backends", e.Name, r.Prefix)
			}
			for _, name := range r.Backends {
				if !backendNames[name] {
					return invalidf("engine %q: route %q references undefined backend %q", e.Name, r.Prefix, name)
				}
			}
			if r.Strategy != "" && !validStrategy(r.Strategy) {
				return invalidf("engine %q: route %q uses unknown strategy %q", e.Name, r.Prefix, r.Strategy)
			}
		}
	}

	if c.Simulation.Clients <= 0 {
		return invalidf("simulation.clients must be positive")
	}
	if c.Simulation.Workers <= 0 {
		return invalidf("simulation.workers must be positive")
	}
	if c.Simulation.RequestsPerSecond <= 0 {
		return invalidf("simulation.requests_per_second must be positive")
	}
	if c.Simulation.Burst <= 0 {
		return invalidf("simulation.burst must be positive")
	}
	if c.Simulation.JitterMinMs < 0 {
		return invalidf("simulation.jitter_min_ms cannot be negative")
	}
	if c.Simulation.JitterMaxMs < c.Simulation.JitterMinMs {
		return invalidf("simulation.jitter_max_ms below jitter_min_ms")
	}

	if c.Admin.Enabled {
		if c.Admin.Port <= 0 || c.Admin.Port > 65535 {
			return invalidf("admin.port %d out of range", c.Admin.Port)
		}
	}

	return nil
}

func validateLogging(lc logger.Config) error {
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[lc.Level] {
		return invalidf("invalid log level: %s", lc.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[lc.Format] {
		return invalidf("invalid log format: %s", lc.Format)
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true}
	if !validOutputs[lc.Output] {
		return invalidf("invalid log output: %s", lc.Output)
	}
	return nil
}

func validStrategy(name string) bool {
	switch domain.StrategyType(name) {
	case domain.RoundRobinStrategyType, domain.LeastConnectionsStrategyType, domain.RandomStrategyType:
		return true
	}
	return false
}

func invalidf(format string, args ...interface{}) error {
	return lberrors.NewErrorf(lberrors.ErrCodeInvalidConfig, "config", format, args...)
}

// BuildBackends constructs the simulated servers, keyed by name for route
// wiring
func (c *Config) BuildBackends() map[string]*domain.Backend {
	backends := make(map[string]*domain.Backend, len(c.Backends))
	for _, bc := range c.Backends {
		backends[bc.Name] = domain.NewBackend(
			bc.Name,
			bc.Host,
			bc.Port,
			time.Duration(bc.MinLatencyMs)*time.Millisecond,
			time.Duration(bc.MaxLatencyMs)*time.Millisecond,
		)
	}
	return backends
}

// SaveToFile writes the configuration as YAML, handy for generating a
// starter file to edit
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return lberrors.WrapError(err, lberrors.ErrCodeInternal, "config", "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return lberrors.WrapError(err, lberrors.ErrCodeConfigLoad, "config",
			"failed to write config file "+filename)
	}
	return nil
}
