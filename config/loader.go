// =============================================================================
// hearthctl configuration loader
// =============================================================================
// Unified config loading: YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("hearthctl.yaml").
//	    WithEnvPrefix("HEARTHCTL").
//	    Load()
//
// Priority: defaults -> YAML file -> environment variables.
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is hearthctl's complete configuration structure. AFCP itself never
// reads this directly — callers translate Config.Plane into afcp.Options
// before constructing the control plane.
type Config struct {
	// Server controls the demo HTTP facade in cmd/hearthctl.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Plane tunes the AFCP control plane (spec §6 Configuration table).
	Plane PlaneConfig `yaml:"plane" env:"PLANE"`

	// Log configures the zap logger shared by every component.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OpenTelemetry tracing/metrics export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// JWT configures optional bearer-token signing for the reference HTTP
	// transport (afcp/transport/http).
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// ServerConfig controls the demo HTTP facade's listen addresses.
type ServerConfig struct {
	// HTTPPort serves /route, /consensus, /health.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// MetricsPort serves /metrics (OpenMetrics text).
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// ReadTimeout bounds inbound request reads.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout bounds outbound response writes.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// PlaneConfig mirrors spec.md §6's Configuration table exactly.
type PlaneConfig struct {
	// RouteTimeout is the default Dispatch deadline (default 30s).
	RouteTimeout time.Duration `yaml:"route_timeout" env:"ROUTE_TIMEOUT"`
	// ConsensusTimeout is the default Consensus deadline (default 20s).
	ConsensusTimeout time.Duration `yaml:"consensus_timeout" env:"CONSENSUS_TIMEOUT"`

	// Admission tunes the per-client sliding-window + token-bucket limiter.
	Admission AdmissionConfig `yaml:"admission" env:"ADMISSION"`

	// Health tunes the Health Monitor ticker.
	Health HealthConfig `yaml:"health" env:"HEALTH"`
}

// AdmissionConfig is spec.md §4.2's {windowLength, maxRequests, burst}.
type AdmissionConfig struct {
	WindowLength time.Duration `yaml:"window_length" env:"WINDOW_LENGTH"`
	MaxRequests  int           `yaml:"max_requests" env:"MAX_REQUESTS"`
	Burst        int           `yaml:"burst" env:"BURST"`
}

// HealthConfig is spec.md §4.6/§6's {tickInterval, offlineThreshold, loadDecay}.
type HealthConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	OfflineThreshold time.Duration `yaml:"offline_threshold" env:"OFFLINE_THRESHOLD"`
	// DecayMultiplicative and DecayAdditive implement loadAvg <- max(0, loadAvg*m - a).
	DecayMultiplicative float64 `yaml:"decay_multiplicative" env:"DECAY_MULTIPLICATIVE"`
	DecayAdditive       float64 `yaml:"decay_additive" env:"DECAY_ADDITIVE"`
}

// LogConfig configures the shared zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists zap sink URIs (e.g. "stdout").
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller includes caller file:line in each log entry.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches a stacktrace to error-level entries.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// JWTConfig configures optional bearer-token signing for demo agent dispatch.
type JWTConfig struct {
	Secret   string `yaml:"secret" env:"SECRET"`
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// Loader is a builder for loading a Config from defaults, a YAML file, and
// environment variables, in that priority order.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the default "HEARTHCTL" env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "HEARTHCTL",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a config validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds a Config from defaults, then the YAML file (if any), then
// environment variables, then runs any registered validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv recursively applies env-var overrides to struct fields
// tagged with `env:"..."`, using "_"-joined prefixes for nested structs.
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads a config and panics on failure. Intended for cmd/hearthctl.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the config for values the loaders can't reject on their own.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Plane.Admission.MaxRequests <= 0 {
		errs = append(errs, "admission.max_requests must be positive")
	}
	if c.Plane.Admission.Burst <= 0 {
		errs = append(errs, "admission.burst must be positive")
	}
	if c.Plane.Admission.WindowLength <= 0 {
		errs = append(errs, "admission.window_length must be positive")
	}
	if c.Plane.Health.DecayMultiplicative < 0 || c.Plane.Health.DecayMultiplicative > 1 {
		errs = append(errs, "health.decay_multiplicative must be in [0,1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
