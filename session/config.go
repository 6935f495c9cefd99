package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML form of session options, for deployments that keep
// session tuning in configuration files.
type Config struct {
	Timeout       time.Duration `yaml:"timeout"`
	PageRetries   int           `yaml:"page_retries"`
	DirectRetries int           `yaml:"direct_retries"`
	Headful       bool          `yaml:"headful"`
	Stealth       *bool         `yaml:"stealth"`
	Proxy         string        `yaml:"proxy"`
	RemoteBrowser string        `yaml:"remote_browser"`
}

// LoadConfigFile reads a YAML session configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("session: parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.PageRetries <= 0 {
		c.PageRetries = 3
	}
	if c.DirectRetries < 0 {
		c.DirectRetries = 0
	} else if c.DirectRetries == 0 {
		c.DirectRetries = 2
	}
}

// Options converts the config into session options.
func (c *Config) Options() []Option {
	opts := []Option{
		WithTimeout(c.Timeout),
		WithPageRetries(c.PageRetries),
		WithDirectRetries(c.DirectRetries),
	}
	if c.Headful {
		opts = append(opts, WithHeadful())
	}
	if c.Stealth != nil && !*c.Stealth {
		opts = append(opts, WithoutStealth())
	}
	if c.Proxy != "" {
		opts = append(opts, WithProxy(c.Proxy))
	}
	if c.RemoteBrowser != "" {
		opts = append(opts, WithRemoteBrowser(c.RemoteBrowser))
	}
	return opts
}
