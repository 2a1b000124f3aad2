package config

import "time"

// Config represents the complete pluginhost configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Host       HostConfig       `yaml:"host"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Plugins    PluginsConfig    `yaml:"plugins"`
	Archive    ArchiveConfig    `yaml:"archive"`
	NATS       NATSConfig       `yaml:"nats"`
}

// ServiceConfig defines logging and tracing settings shared by both binaries.
type ServiceConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
}

// TracingConfig selects where OpenTelemetry spans go.
type TracingConfig struct {
	Exporter string `yaml:"exporter"` // none, otlp-http or otlp-grpc
	// Endpoint is host:port of the collector. Empty uses the OTEL_EXPORTER_OTLP_* environment.
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// HostConfig tunes the output fan-out in the child process.
type HostConfig struct {
	BaselineInterval  time.Duration `yaml:"baseline_interval"`
	FastInterval      time.Duration `yaml:"fast_interval"`
	HighWaterMark     int           `yaml:"high_water_mark"`
	BatchSize         int           `yaml:"batch_size"`
	MaxReportedErrors int           `yaml:"max_reported_errors"`
}

// SupervisorConfig defines how the parent launches and drains the host process.
type SupervisorConfig struct {
	HostPath         string        `yaml:"host_path"` // empty: pluginhost next to the running binary
	WorkDir          string        `yaml:"work_dir,omitempty"`
	DrainInterval    time.Duration `yaml:"drain_interval"`
	TerminationGrace time.Duration `yaml:"termination_grace"`
	MaxStderrBytes   int           `yaml:"max_stderr_bytes"`
}

// PluginsConfig lists the plugins the parent starts for each output mode.
type PluginsConfig struct {
	LibraryManifest string   `yaml:"library_manifest"`
	Log             []string `yaml:"log,omitempty"`
	Daemon          []string `yaml:"daemon,omitempty"`
}

// ArchiveConfig is read by the log-archive plugin.
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig is read by the nats-forward plugin. Job variables and a "nats"
// service endpoint take precedence.
type NATSConfig struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing:   TracingConfig{Exporter: "none"},
		},
		Host: HostConfig{
			BaselineInterval:  5 * time.Second,
			FastInterval:      1 * time.Second,
			HighWaterMark:     1000,
			BatchSize:         1000,
			MaxReportedErrors: 10,
		},
		Supervisor: SupervisorConfig{
			DrainInterval:    100 * time.Millisecond,
			TerminationGrace: 5 * time.Second,
			MaxStderrBytes:   64 * 1024,
		},
		Plugins: PluginsConfig{
			LibraryManifest: "plugins.yaml",
		},
		Archive: ArchiveConfig{
			Path: "./data/joblog.db",
		},
		NATS: NATSConfig{
			Subject: "pluginhost.joblog",
		},
	}
}
