package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models civicgrid.yml.
type Config struct {
	Server struct {
		BasePath             string `yaml:"base_path"`
		JWTSecret            string `yaml:"jwt_secret"`
		AllowAnonymousReport *bool  `yaml:"allow_anonymous_report"`
	} `yaml:"server"`
	Storage struct {
		MaxUploadBytes int64    `yaml:"max_upload_bytes"`
		AllowedTypes   []string `yaml:"allowed_types"`
	} `yaml:"storage"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	defaultMaxUploadBytes = 5 << 20 // 5 MB, matches the photo collaborator contract
)

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with civicgrid config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v1"
	}
	if c.Storage.MaxUploadBytes == 0 {
		c.Storage.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(c.Storage.AllowedTypes) == 0 {
		c.Storage.AllowedTypes = []string{"image/jpeg", "image/png"}
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("config.storage.max_upload_bytes must be positive")
	}
	for _, t := range c.Storage.AllowedTypes {
		if !strings.HasPrefix(t, "image/") {
			return fmt.Errorf("config.storage.allowed_types: %s is not an image type", t)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// AnonymousReportAllowed reports whether unauthenticated case reports are accepted.
func (c *Config) AnonymousReportAllowed() bool {
	if c.Server.AllowAnonymousReport == nil {
		return true
	}
	return *c.Server.AllowAnonymousReport
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "civicgrid.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  base_path: /v1
  # HS256 secret for bearer tokens; required for serve.
  jwt_secret: ""
  allow_anonymous_report: true

storage:
  max_upload_bytes: 5242880
  allowed_types: [image/jpeg, image/png]

webhooks: []
  # - url: https://example.org/hooks/civicgrid
  #   secret: change-me
  #   events: [case.closed, case.denied]
  #   timeout_seconds: 5
`
