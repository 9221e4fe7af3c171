// =============================================================================
// hearthctl default configuration
// =============================================================================
// Provides sane defaults for every configuration section. Values here mirror
// spec.md's §6 Configuration table for Plane, and the teacher's defaults for
// Server/Log/Telemetry.
// =============================================================================
package config

import "time"

// DefaultConfig returns the fully-populated default Config.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Plane:     DefaultPlaneConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		JWT:       DefaultJWTConfig(),
	}
}

// DefaultServerConfig returns the demo HTTP facade's default listen config.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultPlaneConfig returns AFCP's default tuning, per spec.md §6.
func DefaultPlaneConfig() PlaneConfig {
	return PlaneConfig{
		RouteTimeout:     30 * time.Second,
		ConsensusTimeout: 20 * time.Second,
		Admission: AdmissionConfig{
			WindowLength: 60 * time.Second,
			MaxRequests:  100,
			Burst:        20,
		},
		Health: HealthConfig{
			TickInterval:        10 * time.Second,
			OfflineThreshold:    60 * time.Second,
			DecayMultiplicative: 0.98,
			DecayAdditive:       0.01,
		},
	}
}

// DefaultLogConfig returns the default zap logger configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default OpenTelemetry configuration.
// Telemetry is disabled by default so hearthctl never dials an OTLP
// collector that isn't there.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "hearthctl",
		SampleRate:   0.1,
	}
}

// DefaultJWTConfig returns an empty JWT configuration; bearer-token signing
// is opt-in and requires an explicit secret.
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Secret:   "",
		Issuer:   "hearthctl",
		Audience: "hearthctl-agents",
	}
}
