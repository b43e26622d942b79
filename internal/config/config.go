// Package config loads the engine's configuration from YAML (or
// JSON5) files. Files may pull in shared fragments with $include, and
// ${VAR} references are expanded from the environment before parsing.
package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/flowline/pkg/models"
)

// Config is the engine's full configuration.
type Config struct {
	Engine        EngineConfig        `yaml:"engine"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Hydration     HydrationConfig     `yaml:"hydration"`
	Navigator     NavigatorConfig     `yaml:"navigator"`
	Store         StoreConfig         `yaml:"store"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// EngineConfig selects and tunes the execution backend.
type EngineConfig struct {
	// Mode is the configured backend: auto, sdk, cli, or stub.
	Mode models.BackendKind `yaml:"mode"`

	// Provider names the SDK provider: "anthropic" or "openai".
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// CLI configures the subprocess backend.
	CLI CLIConfig `yaml:"cli"`
}

// CLIConfig configures the agent-CLI subprocess backend.
type CLIConfig struct {
	// Binary is the agent CLI executable name or path.
	Binary string `yaml:"binary"`

	// Args are prepended to every invocation.
	Args []string `yaml:"args"`

	// Timeout bounds a single phase invocation.
	Timeout time.Duration `yaml:"timeout"`

	// WorkDir is the subprocess working directory.
	WorkDir string `yaml:"workdir"`
}

// ProvidersConfig holds per-provider credentials and defaults.
type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
}

// ProviderConfig configures one LLM provider.
type ProviderConfig struct {
	// APIKey authenticates against the provider. Usually written as
	// ${ANTHROPIC_API_KEY} and expanded at load time.
	APIKey string `yaml:"api_key"`

	// DefaultModel is used when the engine config pins no model.
	DefaultModel string `yaml:"default_model"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`
}

// HydrationConfig sets the context pack's character budgets.
type HydrationConfig struct {
	TotalChars  int `yaml:"total_chars"`
	RecentChars int `yaml:"recent_chars"`
	OlderChars  int `yaml:"older_chars"`
}

// NavigatorConfig tunes routing limits.
type NavigatorConfig struct {
	// MaxIterations caps visits to a single node.
	MaxIterations int `yaml:"max_iterations"`

	// StallWindow is how many identical consecutive verdicts count as
	// a stall.
	StallWindow int `yaml:"stall_window"`
}

// StoreConfig locates the run store.
type StoreConfig struct {
	// Root is the directory run directories are created under.
	Root string `yaml:"root"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus listen address; empty disables the
	// metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// TraceEndpoint is the OTLP collector endpoint; empty disables
	// tracing.
	TraceEndpoint string `yaml:"trace_endpoint"`

	// TraceSamplingRate controls what fraction of traces are recorded.
	TraceSamplingRate float64 `yaml:"trace_sampling_rate"`

	// TraceInsecure disables TLS for the OTLP connection.
	TraceInsecure bool `yaml:"trace_insecure"`

	// Environment tags traces with the deployment environment.
	Environment string `yaml:"environment"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Mode:     models.BackendAuto,
			Provider: "anthropic",
			CLI: CLIConfig{
				Binary:  "claude",
				Timeout: 5 * time.Minute,
			},
		},
		Hydration: HydrationConfig{
			TotalChars:  24000,
			RecentChars: 8000,
			OlderChars:  2000,
		},
		Navigator: NavigatorConfig{
			MaxIterations: 5,
			StallWindow:   3,
		},
		Store: StoreConfig{
			Root: "runs",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			TraceSamplingRate: 1.0,
		},
	}
}

// applyDefaults fills zero-valued fields from Default.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Engine.Mode == "" {
		c.Engine.Mode = def.Engine.Mode
	}
	if c.Engine.Provider == "" {
		c.Engine.Provider = def.Engine.Provider
	}
	if c.Engine.CLI.Binary == "" {
		c.Engine.CLI.Binary = def.Engine.CLI.Binary
	}
	if c.Engine.CLI.Timeout == 0 {
		c.Engine.CLI.Timeout = def.Engine.CLI.Timeout
	}
	if c.Hydration.TotalChars == 0 {
		c.Hydration.TotalChars = def.Hydration.TotalChars
	}
	if c.Hydration.RecentChars == 0 {
		c.Hydration.RecentChars = def.Hydration.RecentChars
	}
	if c.Hydration.OlderChars == 0 {
		c.Hydration.OlderChars = def.Hydration.OlderChars
	}
	if c.Navigator.MaxIterations == 0 {
		c.Navigator.MaxIterations = def.Navigator.MaxIterations
	}
	if c.Navigator.StallWindow == 0 {
		c.Navigator.StallWindow = def.Navigator.StallWindow
	}
	if c.Store.Root == "" {
		c.Store.Root = def.Store.Root
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Observability.TraceSamplingRate == 0 {
		c.Observability.TraceSamplingRate = def.Observability.TraceSamplingRate
	}
}

// Validate checks the configuration for values the engine cannot run
// with.
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case models.BackendAuto, models.BackendSDK, models.BackendCLI, models.BackendStub:
	default:
		return fmt.Errorf("engine.mode must be auto, sdk, cli, or stub; got %q", c.Engine.Mode)
	}
	switch c.Engine.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("engine.provider must be anthropic or openai; got %q", c.Engine.Provider)
	}
	if c.Hydration.RecentChars > c.Hydration.TotalChars {
		return fmt.Errorf("hydration.recent_chars %d exceeds total_chars %d",
			c.Hydration.RecentChars, c.Hydration.TotalChars)
	}
	if c.Navigator.MaxIterations < 1 {
		return fmt.Errorf("navigator.max_iterations must be at least 1")
	}
	if c.Observability.TraceSamplingRate < 0 || c.Observability.TraceSamplingRate > 1 {
		return fmt.Errorf("observability.trace_sampling_rate must be in [0,1]")
	}
	return nil
}

// Load reads, merges, defaults, and validates the configuration file.
// An empty path returns the default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
