// Package config loads bitactor runtime configuration from TOML or YAML
// files, applies BITACTOR_* environment overrides and validates the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration.
type Config struct {
	Runtime      RuntimeConfig      `toml:"runtime" yaml:"runtime"`
	Entanglement EntanglementConfig `toml:"entanglement" yaml:"entanglement"`
	Routing      RoutingConfig      `toml:"routing" yaml:"routing"`
	Supervision  SupervisionConfig  `toml:"supervision" yaml:"supervision"`
	Bidi         BidiConfig         `toml:"bidi" yaml:"bidi"`
	Logging      LoggingConfig      `toml:"logging" yaml:"logging"`
	Metrics      MetricsConfig      `toml:"metrics" yaml:"metrics"`
}

// RuntimeConfig configures the matrix and its domains.
type RuntimeConfig struct {
	Domains              int  `toml:"domains" yaml:"domains"`                               // 1..8
	Parallel             bool `toml:"parallel" yaml:"parallel"`                             // tick domains concurrently
	MaxHops              int  `toml:"max_hops" yaml:"max_hops"`                             // 1..8
	ConstraintThreshold  int  `toml:"constraint_threshold" yaml:"constraint_threshold"`     // popcount for the constraint stage
	LearningDisableAfter int  `toml:"learning_disable_after" yaml:"learning_disable_after"` // consecutive violations, 0 never
	ViolationLogSample   int  `toml:"violation_log_sample" yaml:"violation_log_sample"`     // log every Nth violation
}

// EntanglementConfig configures each domain's bus.
type EntanglementConfig struct {
	SignalBufferSize int    `toml:"signal_buffer_size" yaml:"signal_buffer_size"`
	DarkExpiryCycles uint64 `toml:"dark_expiry_cycles" yaml:"dark_expiry_cycles"` // 0 never expires
}

// RoutingConfig configures the L2 engine.
type RoutingConfig struct {
	RingCapacity          int     `toml:"ring_capacity" yaml:"ring_capacity"`
	DeadLetterCapacity    int     `toml:"dead_letter_capacity" yaml:"dead_letter_capacity"`
	BackpressureThreshold float64 `toml:"backpressure_threshold" yaml:"backpressure_threshold"`
	BreakerThreshold      int     `toml:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerReset          string  `toml:"breaker_reset" yaml:"breaker_reset"`
	DefaultTTL            string  `toml:"default_ttl" yaml:"default_ttl"`
	MaxMailboxes          int     `toml:"max_mailboxes" yaml:"max_mailboxes"`
}

// SupervisionConfig configures the L3 root supervisor.
type SupervisionConfig struct {
	Strategy       string `toml:"strategy" yaml:"strategy"` // one_for_one, one_for_all, rest_for_one, simple_one_for_one
	MaxRestarts    int    `toml:"max_restarts" yaml:"max_restarts"`
	RestartWindow  string `toml:"restart_window" yaml:"restart_window"`
	MaxActors      int    `toml:"max_actors" yaml:"max_actors"`
	MaxSupervisors int    `toml:"max_supervisors" yaml:"max_supervisors"`
}

// BidiConfig configures the routing/supervision channel.
type BidiConfig struct {
	RingCapacity int `toml:"ring_capacity" yaml:"ring_capacity"`
	TableSize    int `toml:"table_size" yaml:"table_size"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`   // debug, info, warn, error
	Format string `toml:"format" yaml:"format"` // json, console
}

// MetricsConfig configures the text /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Address string `toml:"address" yaml:"address"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Domains:              1,
			MaxHops:              8,
			ConstraintThreshold:  1,
			LearningDisableAfter: 16,
			ViolationLogSample:   1024,
		},
		Entanglement: EntanglementConfig{
			SignalBufferSize: 256,
			DarkExpiryCycles: 1 << 20,
		},
		Routing: RoutingConfig{
			RingCapacity:          64,
			DeadLetterCapacity:    128,
			BackpressureThreshold: 0.75,
			BreakerThreshold:      5,
			BreakerReset:          "1s",
			DefaultTTL:            "5s",
			MaxMailboxes:          1024,
		},
		Supervision: SupervisionConfig{
			Strategy:       "one_for_one",
			MaxRestarts:    3,
			RestartWindow:  "5s",
			MaxActors:      1024,
			MaxSupervisors: 64,
		},
		Bidi: BidiConfig{
			RingCapacity: 256,
			TableSize:    256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9464",
		},
	}
}

// Load reads path, choosing the decoder by extension (.toml, .yaml, .yml).
// A missing file yields the defaults. Environment overrides are applied
// before validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := cfg.decode(data, filepath.Ext(path)); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data in the given format ("toml" or "yaml") over the
// defaults and validates the result. The environment is not consulted.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data, "."+format); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte, ext string) error {
	switch strings.ToLower(ext) {
	case ".toml":
		_, err := toml.Decode(string(data), c)
		return err
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

// Marshal encodes c as "toml" or "yaml".
func (c *Config) Marshal(format string) ([]byte, error) {
	switch format {
	case "toml":
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(c); err != nil {
			return nil, err
		}
		return []byte(sb.String()), nil
	case "yaml", "yml":
		return yaml.Marshal(c)
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
}

// applyEnv overrides fields from BITACTOR_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	num("BITACTOR_DOMAINS", &c.Runtime.Domains)
	flag("BITACTOR_PARALLEL", &c.Runtime.Parallel)
	num("BITACTOR_MAX_HOPS", &c.Runtime.MaxHops)
	num("BITACTOR_ROUTING_RING_CAPACITY", &c.Routing.RingCapacity)
	str("BITACTOR_ROUTING_DEFAULT_TTL", &c.Routing.DefaultTTL)
	str("BITACTOR_SUPERVISION_STRATEGY", &c.Supervision.Strategy)
	num("BITACTOR_SUPERVISION_MAX_RESTARTS", &c.Supervision.MaxRestarts)
	str("BITACTOR_LOG_LEVEL", &c.Logging.Level)
	str("BITACTOR_LOG_FORMAT", &c.Logging.Format)
	flag("BITACTOR_METRICS_ENABLED", &c.Metrics.Enabled)
	str("BITACTOR_METRICS_ADDR", &c.Metrics.Address)
	return errs
}

// Strategies lists the accepted supervision strategy names.
var Strategies = []string{"one_for_one", "one_for_all", "rest_for_one", "simple_one_for_one"}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs error
	bad := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}
	if c.Runtime.Domains < 1 || c.Runtime.Domains > 8 {
		bad("runtime.domains must be 1..8, got %d", c.Runtime.Domains)
	}
	if c.Runtime.MaxHops < 1 || c.Runtime.MaxHops > 8 {
		bad("runtime.max_hops must be 1..8, got %d", c.Runtime.MaxHops)
	}
	if c.Runtime.ConstraintThreshold < 0 || c.Runtime.ConstraintThreshold > 8 {
		bad("runtime.constraint_threshold must be 0..8, got %d", c.Runtime.ConstraintThreshold)
	}
	if c.Runtime.LearningDisableAfter < 0 {
		bad("runtime.learning_disable_after must not be negative")
	}
	if c.Entanglement.SignalBufferSize < 2 {
		bad("entanglement.signal_buffer_size must be at least 2, got %d", c.Entanglement.SignalBufferSize)
	}
	if c.Routing.RingCapacity < 2 {
		bad("routing.ring_capacity must be at least 2, got %d", c.Routing.RingCapacity)
	}
	if c.Routing.DeadLetterCapacity < 2 {
		bad("routing.dead_letter_capacity must be at least 2, got %d", c.Routing.DeadLetterCapacity)
	}
	if t := c.Routing.BackpressureThreshold; t <= 0 || t > 1 {
		bad("routing.backpressure_threshold must be in (0,1], got %g", t)
	}
	if c.Routing.BreakerThreshold < 0 {
		bad("routing.breaker_threshold must not be negative")
	}
	for name, v := range map[string]string{
		"routing.breaker_reset":      c.Routing.BreakerReset,
		"routing.default_ttl":        c.Routing.DefaultTTL,
		"supervision.restart_window": c.Supervision.RestartWindow,
	} {
		if _, err := parseDuration(v); err != nil {
			bad("%s: %v", name, err)
		}
	}
	valid := false
	for _, s := range Strategies {
		valid = valid || s == c.Supervision.Strategy
	}
	if !valid {
		bad("supervision.strategy %q (valid: %v)", c.Supervision.Strategy, Strategies)
	}
	if c.Supervision.MaxRestarts < 0 {
		bad("supervision.max_restarts must not be negative")
	}
	if c.Bidi.TableSize < 1 {
		bad("bidi.table_size must be positive, got %d", c.Bidi.TableSize)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		bad("logging.level %q (valid: debug, info, warn, error)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		bad("logging.format %q (valid: json, console)", c.Logging.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		bad("metrics.address required when metrics are enabled")
	}
	return errs
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// BreakerResetTimeout returns routing.breaker_reset.
func (c *Config) BreakerResetTimeout() time.Duration {
	d, _ := parseDuration(c.Routing.BreakerReset)
	return d
}

// DefaultTTL returns routing.default_ttl.
func (c *Config) DefaultTTL() time.Duration {
	d, _ := parseDuration(c.Routing.DefaultTTL)
	return d
}

// RestartWindow returns supervision.restart_window.
func (c *Config) RestartWindow() time.Duration {
	d, _ := parseDuration(c.Supervision.RestartWindow)
	return d
}
