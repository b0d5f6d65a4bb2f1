package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCandidates = 6
	DefaultSessionTTL = 24 * time.Hour
)

// Config models ventureline.yml.
type Config struct {
	Project struct {
		ID string `yaml:"id"`
	} `yaml:"project"`
	Steps struct {
		Catalog []StepConfig `yaml:"catalog"`
	} `yaml:"steps"`
	Wizard    WizardConfig    `yaml:"wizard"`
	Generator GeneratorConfig `yaml:"generator"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

type StepConfig struct {
	Key            string   `yaml:"key"`
	Title          string   `yaml:"title"`
	RequiredInputs []string `yaml:"required_inputs"`
}

type WizardConfig struct {
	Candidates int           `yaml:"candidates"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type GeneratorConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Secret  string   `yaml:"secret"`
	Events  []string `yaml:"events"`
	Enabled *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with vl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
			return Default(""), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure and fills defaults.
func (c *Config) Validate() error {
	if len(c.Steps.Catalog) == 0 {
		return fmt.Errorf("config.steps.catalog must list at least one step")
	}
	seen := map[string]bool{}
	for i, s := range c.Steps.Catalog {
		if s.Key == "" {
			return fmt.Errorf("config.steps.catalog[%d] has empty key", i)
		}
		if seen[s.Key] {
			return fmt.Errorf("config.steps.catalog has duplicate key %s", s.Key)
		}
		seen[s.Key] = true
		if s.Title == "" {
			return fmt.Errorf("step %s has empty title", s.Key)
		}
		for _, f := range s.RequiredInputs {
			if f == "" {
				return fmt.Errorf("step %s has empty required input", s.Key)
			}
		}
	}
	if c.Wizard.Candidates < 0 {
		return fmt.Errorf("config.wizard.candidates must be positive")
	}
	if c.Wizard.Candidates == 0 {
		c.Wizard.Candidates = DefaultCandidates
	}
	if c.Wizard.SessionTTL < 0 {
		return fmt.Errorf("config.wizard.session_ttl must be positive")
	}
	if c.Wizard.SessionTTL == 0 {
		c.Wizard.SessionTTL = DefaultSessionTTL
	}
	for i, hook := range c.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "ventureline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct.
func Default(projectID string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(projectID)))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: "%s"

steps:
  catalog:
    - key: jtbd
      title: Jobs-to-be-Done
      required_inputs: [customer_segment, job_statement]
    - key: vpc
      title: Value Proposition Canvas
      required_inputs: [pains, gains, products]
    - key: bmc
      title: Business Model Canvas
      required_inputs: [revenue_streams, channels]
    - key: pitch
      title: Pitch Deck Outline
      required_inputs: [problem, solution]

wizard:
  candidates: 6
  session_ttl: 24h

generator:
  base_url: http://localhost:8088
  timeout: 60s
`
