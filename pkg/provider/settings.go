package provider

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRateLimit is the outbound requests/second allowed for providers
// with no explicit rate_limit.
const DefaultRateLimit = 10.0

// Settings is the provider section of the daemon configuration.
type Settings struct {
	DefaultRate float64                 `yaml:"default_rate"`
	Providers   map[Name]ProviderConfig `yaml:"providers"`
}

// ProviderConfig carries credentials and tuning for one backend.
type ProviderConfig struct {
	APIKey    string            `yaml:"api_key"`
	SecretKey string            `yaml:"secret_key"`
	BaseURL   string            `yaml:"base_url"`
	Region    string            `yaml:"region"`
	Model     string            `yaml:"model"`
	RateLimit float64           `yaml:"rate_limit"`
	Interval  Duration          `yaml:"poll_interval"`
	Timeout   Duration          `yaml:"poll_timeout"`
	Extra     map[string]string `yaml:"extra"`
}

// Duration accepts "15s" style strings in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// LoadSettings reads a YAML settings file. ${VAR} references are expanded
// from the environment so secrets can stay out of the file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSettings([]byte(os.ExpandEnv(string(data))))
}

// ParseSettings decodes YAML settings.
func ParseSettings(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse provider settings: %w", err)
	}
	if s.Providers == nil {
		s.Providers = make(map[Name]ProviderConfig)
	}
	return &s, nil
}

// Config returns the configuration for name (zero value if absent).
func (s *Settings) Config(name Name) ProviderConfig {
	if s == nil {
		return ProviderConfig{}
	}
	return s.Providers[name]
}

// RateFor returns the admission rate for name.
func (s *Settings) RateFor(name Name) float64 {
	if s != nil {
		if cfg, ok := s.Providers[name]; ok && cfg.RateLimit > 0 {
			return cfg.RateLimit
		}
		if s.DefaultRate > 0 {
			return s.DefaultRate
		}
	}
	return DefaultRateLimit
}

// Apply overlays the configured interval/timeout on top of base.
func (c ProviderConfig) Apply(base PollConfig) PollConfig {
	if c.Interval > 0 {
		base.Interval = time.Duration(c.Interval)
	}
	if c.Timeout > 0 {
		base.Timeout = time.Duration(c.Timeout)
	}
	return base
}
