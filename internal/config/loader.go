package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up next to the executable.
const FileName = "pluginhost.yaml"

// EnvConfigPath overrides config discovery.
const EnvConfigPath = "PLUGINHOST_CONFIG"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, applying defaults for
// anything the file leaves out.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	resolvePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file.
// Priority order: $PLUGINHOST_CONFIG, pluginhost.yaml next to exeDir.
// It returns "" when neither exists, in which case Defaults apply.
func Discover(exeDir string) (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("$%s points to %s: %w", EnvConfigPath, p, err)
		}
		return p, nil
	}
	if exeDir != "" {
		p := filepath.Join(exeDir, FileName)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return "", nil
}

// LoadOrDefault discovers and loads the config, falling back to defaults with
// library paths anchored at exeDir.
func LoadOrDefault(exeDir string) (*Config, error) {
	path, err := Discover(exeDir)
	if err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Defaults()
		if exeDir != "" {
			resolvePaths(cfg, exeDir)
		}
		return cfg, nil
	}
	return Load(path)
}

func resolvePaths(cfg *Config, baseDir string) {
	if m := cfg.Plugins.LibraryManifest; m != "" && !filepath.IsAbs(m) {
		cfg.Plugins.LibraryManifest = filepath.Join(baseDir, m)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	switch strings.ToLower(cfg.Service.Tracing.Exporter) {
	case "", "none", "otlp-http", "otlp-grpc":
	default:
		return fmt.Errorf("service.tracing.exporter must be none, otlp-http or otlp-grpc (got %q)", cfg.Service.Tracing.Exporter)
	}

	h := cfg.Host
	if h.BaselineInterval <= 0 {
		return fmt.Errorf("host.baseline_interval must be positive")
	}
	if h.FastInterval <= 0 {
		return fmt.Errorf("host.fast_interval must be positive")
	}
	if h.FastInterval > h.BaselineInterval {
		return fmt.Errorf("host.fast_interval (%s) must not exceed host.baseline_interval (%s)", h.FastInterval, h.BaselineInterval)
	}
	if h.HighWaterMark <= 0 {
		return fmt.Errorf("host.high_water_mark must be positive")
	}
	if h.BatchSize <= 0 {
		return fmt.Errorf("host.batch_size must be positive")
	}
	if h.MaxReportedErrors < 0 {
		return fmt.Errorf("host.max_reported_errors must not be negative")
	}

	s := cfg.Supervisor
	if s.DrainInterval <= 0 {
		return fmt.Errorf("supervisor.drain_interval must be positive")
	}
	if s.TerminationGrace <= 0 {
		return fmt.Errorf("supervisor.termination_grace must be positive")
	}
	if s.MaxStderrBytes <= 0 {
		return fmt.Errorf("supervisor.max_stderr_bytes must be positive")
	}
	if envVarPattern.MatchString(s.HostPath) {
		return fmt.Errorf("supervisor.host_path: environment variable ${%s} is not set",
			envVarPattern.FindStringSubmatch(s.HostPath)[1])
	}

	for _, list := range []struct {
		name string
		ids  []string
	}{{"plugins.log", cfg.Plugins.Log}, {"plugins.daemon", cfg.Plugins.Daemon}} {
		for i, id := range list.ids {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("%s[%d] is empty", list.name, i)
			}
		}
	}

	if cfg.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required")
	}
	if envVarPattern.MatchString(cfg.NATS.URL) {
		return fmt.Errorf("nats.url: environment variable ${%s} is not set",
			envVarPattern.FindStringSubmatch(cfg.NATS.URL)[1])
	}
	return nil
}
