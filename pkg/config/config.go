package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/batchcompose/batchcompose/pkg/cluster"
	"github.com/batchcompose/batchcompose/pkg/renderer"
	"github.com/batchcompose/batchcompose/pkg/types"
)

// Duration wraps time.Duration with YAML support for values like "90s"
// or "5m".
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

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogConfig controls log output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// GatewayConfig controls the Slurm CLI gateway.
type GatewayConfig struct {
	Timeout     Duration `yaml:"timeout"`
	ScriptDir   string   `yaml:"script_dir"`
	ElevatedQOS string   `yaml:"elevated_qos"`
}

// PolicyConfig holds the reconciliation policy tunables. Zero values
// select the documented defaults.
type PolicyConfig struct {
	NotFoundBudget int      `yaml:"not_found_budget"`
	BackoffInitial Duration `yaml:"backoff_initial"`
	BackoffMax     Duration `yaml:"backoff_max"`
	HistoryLimit   int      `yaml:"history_limit"`
}

// CompositionEntry declares one target: N instances of a template on a
// profile.
type CompositionEntry struct {
	Profile   string `yaml:"profile"`
	Template  string `yaml:"template"`
	Instances int    `yaml:"instances"`
}

// Config is the parsed compose file.
type Config struct {
	DataDir     string                     `yaml:"data_dir"`
	MetricsAddr string                     `yaml:"metrics_addr"`
	Interval    Duration                   `yaml:"interval"`
	Log         LogConfig                  `yaml:"log"`
	Gateway     GatewayConfig              `yaml:"gateway"`
	Policy      PolicyConfig               `yaml:"policy"`
	Profiles    []renderer.ResourceProfile `yaml:"profiles"`
	Templates   []renderer.JobTemplate     `yaml:"templates"`
	Composition []CompositionEntry         `yaml:"composition"`
}

// Load reads and validates a compose file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks internal consistency: every composition entry must
// reference a declared profile and template, and targets must be
// non-negative.
func (c *Config) Validate() error {
	profiles := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profile with empty name")
		}
		if profiles[p.Name] {
			return fmt.Errorf("duplicate profile %q", p.Name)
		}
		profiles[p.Name] = true
	}

	templates := make(map[string]bool, len(c.Templates))
	for _, t := range c.Templates {
		if t.Name == "" {
			return fmt.Errorf("template with empty name")
		}
		if templates[t.Name] {
			return fmt.Errorf("duplicate template %q", t.Name)
		}
		templates[t.Name] = true
	}

	seen := make(map[types.CompositionKey]bool, len(c.Composition))
	for _, entry := range c.Composition {
		if !profiles[entry.Profile] {
			return fmt.Errorf("composition references unknown profile %q", entry.Profile)
		}
		if !templates[entry.Template] {
			return fmt.Errorf("composition references unknown template %q", entry.Template)
		}
		if entry.Instances < 0 {
			return fmt.Errorf("composition %s/%s has negative instance count %d",
				entry.Profile, entry.Template, entry.Instances)
		}
		key := types.CompositionKey{ResourceProfile: entry.Profile, JobTemplate: entry.Template}
		if seen[key] {
			return fmt.Errorf("duplicate composition entry %s", key)
		}
		seen[key] = true
	}
	return nil
}

// JobKinds resolves the composition entries into submittable job kinds.
func (c *Config) JobKinds() []cluster.JobKind {
	profiles := make(map[string]renderer.ResourceProfile, len(c.Profiles))
	for _, p := range c.Profiles {
		profiles[p.Name] = p
	}
	templates := make(map[string]renderer.JobTemplate, len(c.Templates))
	for _, t := range c.Templates {
		templates[t.Name] = t
	}

	kinds := make([]cluster.JobKind, 0, len(c.Composition))
	for _, entry := range c.Composition {
		kinds = append(kinds, cluster.JobKind{
			Key:      types.CompositionKey{ResourceProfile: entry.Profile, JobTemplate: entry.Template},
			Profile:  profiles[entry.Profile],
			Template: templates[entry.Template],
		})
	}
	return kinds
}

// Desired returns the declared composition targets.
func (c *Config) Desired() types.DesiredComposition {
	desired := make(types.DesiredComposition, len(c.Composition))
	for _, entry := range c.Composition {
		desired[types.CompositionKey{ResourceProfile: entry.Profile, JobTemplate: entry.Template}] = entry.Instances
	}
	return desired
}

// ClusterConfig maps the policy section onto the cluster tunables.
func (c *Config) ClusterConfig() cluster.Config {
	return cluster.Config{
		GatewayTimeout: c.Gateway.Timeout.Std(),
		NotFoundBudget: c.Policy.NotFoundBudget,
		BackoffInitial: c.Policy.BackoffInitial.Std(),
		BackoffMax:     c.Policy.BackoffMax.Std(),
		HistoryLimit:   c.Policy.HistoryLimit,
	}
}
