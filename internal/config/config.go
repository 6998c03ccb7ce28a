package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models collabline.yml: the marketplace catalog of social platforms
// and the action types a deliverable may name on each.
type Config struct {
	Marketplace struct {
		Name string `yaml:"name" json:"name"`
	} `yaml:"marketplace" json:"marketplace"`
	Platforms map[string]Platform `yaml:"platforms" json:"platforms"`
}

type Platform struct {
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Actions     []string `yaml:"actions" json:"actions"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Marketplace.Name == "" {
		return fmt.Errorf("config.marketplace.name is required")
	}
	if len(c.Platforms) == 0 {
		return fmt.Errorf("config.platforms is required")
	}
	for name, p := range c.Platforms {
		if name == "" {
			return fmt.Errorf("config.platforms contains empty platform id")
		}
		if len(p.Actions) == 0 {
			return fmt.Errorf("platform %s has no action types", name)
		}
		for _, a := range p.Actions {
			if a == "" {
				return fmt.Errorf("platform %s has empty action type", name)
			}
		}
	}
	return nil
}

// AllowsDeliverable reports whether the catalog knows the platform and action
// type combination.
func (c *Config) AllowsDeliverable(platform, actionType string) bool {
	p, ok := c.Platforms[platform]
	if !ok {
		return false
	}
	for _, a := range p.Actions {
		if a == actionType {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "collabline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
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

// Default returns the default Config struct for a marketplace.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, name))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `marketplace:
  name: %s

platforms:
  instagram:
    description: "Instagram feed, stories and reels"
    actions: [post, story, reel]

  tiktok:
    description: "TikTok videos and lives"
    actions: [video, live]

  youtube:
    description: "YouTube long-form, shorts and mentions"
    actions: [video, short, mention]

  twitch:
    description: "Twitch streams and shoutouts"
    actions: [stream, shoutout]
`
