package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"tasktrack/internal/domain"
)

// Config models tasktrack.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Access struct {
		UpdateLevel         string `yaml:"update_level"`
		MoveLevel           string `yaml:"move_level"`
		DefaultProjectLevel string `yaml:"default_project_level"`
	} `yaml:"access"`
	Broadcast struct {
		Buffer              int `yaml:"buffer"`
		WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	} `yaml:"broadcast"`
	Pagination struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"pagination"`
	TaskTypes []string        `yaml:"task_types"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	if w.Enabled != nil && !*w.Enabled {
		return false
	}
	return strings.TrimSpace(w.URL) != ""
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tt init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	levels := map[string]string{
		"access.update_level":          c.Access.UpdateLevel,
		"access.move_level":            c.Access.MoveLevel,
		"access.default_project_level": c.Access.DefaultProjectLevel,
	}
	for key, v := range levels {
		if _, err := domain.ParseAccessLevel(v); err != nil {
			return fmt.Errorf("config.%s: %w", key, err)
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Broadcast.Buffer < 0 {
		return fmt.Errorf("config.broadcast.buffer must not be negative")
	}
	if c.Pagination.DefaultLimit <= 0 {
		return fmt.Errorf("config.pagination.default_limit must be positive")
	}
	if c.Pagination.MaxLimit < c.Pagination.DefaultLimit {
		return fmt.Errorf("config.pagination.max_limit must be >= default_limit")
	}
	seen := map[string]struct{}{}
	for _, title := range c.TaskTypes {
		title = strings.TrimSpace(title)
		if title == "" {
			return fmt.Errorf("config.task_types contains an empty title")
		}
		if _, ok := seen[title]; ok {
			return fmt.Errorf("config.task_types lists %s twice", title)
		}
		seen[title] = struct{}{}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// UpdateLevel is the project level at which any member may edit a task.
func (c *Config) UpdateLevel() domain.AccessLevel {
	return mustLevel(c.Access.UpdateLevel, domain.AccessYellow)
}

// MoveLevel is the project level at which any member may move a task.
func (c *Config) MoveLevel() domain.AccessLevel {
	return mustLevel(c.Access.MoveLevel, domain.AccessRed)
}

func (c *Config) DefaultProjectLevel() domain.AccessLevel {
	return mustLevel(c.Access.DefaultProjectLevel, domain.AccessRed)
}

func mustLevel(v string, fallback domain.AccessLevel) domain.AccessLevel {
	l, err := domain.ParseAccessLevel(v)
	if err != nil {
		return fallback
	}
	return l
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tasktrack.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

access:
  # Projects at or above update_level let any member edit tasks; below it
  # only the performer may.
  update_level: yellow
  move_level: red
  default_project_level: red

broadcast:
  buffer: 16
  write_timeout_seconds: 5

pagination:
  default_limit: 50
  max_limit: 200

task_types:
  - feature
  - bug
  - chore

webhooks: []
`
