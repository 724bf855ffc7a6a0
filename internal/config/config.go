package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"vdstream/internal/logger"
)

// Interpolation selects the resampling kernel used when a frame is resized
// to the target geometry.
type Interpolation string

const (
	// InterpolationBilinear is the default quality.
	InterpolationBilinear Interpolation = "bilinear"
	// InterpolationNearest is the fast-path fallback under resource
	// pressure; never the default.
	InterpolationNearest Interpolation = "nearest"
)

// Duration wraps time.Duration so config files can use human-readable
// values like "50ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// TargetConfig is the remote viewer geometry the sender composites for.
type TargetConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Config is the application configuration.
type Config struct {
	// Sender settings.
	FramebufferPath     string        `yaml:"framebuffer_path"`
	SamplingPeriod      Duration      `yaml:"sampling_period"`
	ResizeInterpolation Interpolation `yaml:"resize_interpolation"`
	DiffThreshold       float64       `yaml:"diff_threshold"`
	MaxStaleness        Duration      `yaml:"max_staleness"`
	Target              TargetConfig  `yaml:"target"`

	// Transport settings.
	ConnectTimeout       Duration `yaml:"connect_timeout"`
	WriteTimeout         Duration `yaml:"write_timeout"`
	ReconnectBackoff     Duration `yaml:"reconnect_backoff"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`

	// Viewer settings.
	ListenPort  int    `yaml:"listen_port"`
	WindowTitle string `yaml:"window_title"`

	LogLevel string `yaml:"log_level"`
}

// Manager handles loading, defaulting, and saving configuration.
type Manager struct {
	configPath string
	config     *Config
}

// NewManager loads the configuration at configFile, creating it with
// defaults when it does not exist yet. An empty configFile selects
// $HOME/.config/vdstream/config.yaml.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		actualConfigPath = filepath.Join(homeDir, ".config", "vdstream", "config.yaml")
	}

	m := &Manager{configPath: actualConfigPath}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := m.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config loaded")
	return m, nil
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		FramebufferPath:      "",
		SamplingPeriod:       Duration(50 * time.Millisecond),
		ResizeInterpolation:  InterpolationBilinear,
		DiffThreshold:        2.0,
		MaxStaleness:         Duration(2 * time.Second),
		Target:               TargetConfig{Width: 100, Height: 100},
		ConnectTimeout:       Duration(3 * time.Second),
		WriteTimeout:         Duration(2 * time.Second),
		ReconnectBackoff:     Duration(500 * time.Millisecond),
		MaxReconnectAttempts: 5,
		ListenPort:           4513,
		WindowTitle:          "vdstream viewer",
		LogLevel:             "info",
	}
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	m.config = cfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Update replaces the configuration after validating it and writes it out.
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config = cfg
	return m.Save()
}

// Save writes the current configuration to disk.
func (m *Manager) Save() error {
	cfg := m.config
	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// GetConfigPath returns the path of the backing config file.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Validate rejects configurations that would make a session misbehave at
// runtime. Target geometry is checked here so a bad geometry surfaces at
// session start instead of mid-stream.
func (c *Config) Validate() error {
	if c.SamplingPeriod <= 0 {
		return fmt.Errorf("sampling_period must be positive, got %s", c.SamplingPeriod.Std())
	}
	switch c.ResizeInterpolation {
	case InterpolationBilinear, InterpolationNearest:
	default:
		return fmt.Errorf("resize_interpolation must be %q or %q, got %q",
			InterpolationBilinear, InterpolationNearest, c.ResizeInterpolation)
	}
	if c.DiffThreshold < 0 {
		return fmt.Errorf("diff_threshold must not be negative, got %f", c.DiffThreshold)
	}
	if c.MaxStaleness <= 0 {
		return fmt.Errorf("max_staleness must be positive, got %s", c.MaxStaleness.Std())
	}
	if c.Target.Width <= 0 || c.Target.Height <= 0 {
		return fmt.Errorf("target geometry must be positive, got %dx%d", c.Target.Width, c.Target.Height)
	}
	if c.ConnectTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("connect_timeout and write_timeout must be positive")
	}
	if c.ReconnectBackoff < 0 {
		return fmt.Errorf("reconnect_backoff must not be negative, got %s", c.ReconnectBackoff.Std())
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative, got %d", c.MaxReconnectAttempts)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port out of range: %d", c.ListenPort)
	}
	return nil
}
