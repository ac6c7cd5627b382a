package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default_pipeline.yaml
var defaultYAML []byte

// Load reads and parses a pipeline configuration from the given YAML file path.
// After parsing, it applies defaults for everything the file leaves out.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses pipeline YAML and applies defaults.
func Parse(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the builtin configuration with the default and premium
// definitions.
func Default() *PipelineConfig {
	cfg, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("builtin pipeline config: %v", err))
	}
	return cfg
}

// DefaultYAML returns the builtin configuration document.
func DefaultYAML() []byte {
	return append([]byte(nil), defaultYAML...)
}

// SearchPaths lists where LoadDefault looks, in order.
func SearchPaths() []string {
	candidates := []string{"pipeline.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".factory", "pipeline.yaml"))
	}
	return candidates
}

// LoadDefault loads the first config found in SearchPaths, or the builtin
// one when none exists. The returned path is empty for the builtin config.
func LoadDefault() (*PipelineConfig, string, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	return Default(), "", nil
}

// applyDefaults fills fields the file leaves empty. Definitions are only
// inherited from the builtin config when the file declares none.
func applyDefaults(cfg *PipelineConfig) {
	p := &cfg.Pipeline
	if p.Name == "" {
		p.Name = "postfactory"
	}
	if p.Budget == "" {
		p.Budget = DefaultBudget.String()
	}
	if p.Refinement.MaxAttempts == 0 {
		p.Refinement.MaxAttempts = 2
	}
	p.SEO = p.SEO.WithDefaults()
	if len(p.Definitions) == 0 {
		p.Definitions = builtinDefinitions()
	}
	if p.DefaultDefinition == "" {
		if _, ok := p.Definitions["default"]; ok {
			p.DefaultDefinition = "default"
		} else if len(p.Definitions) == 1 {
			for name := range p.Definitions {
				p.DefaultDefinition = name
			}
		}
	}
}

func builtinDefinitions() map[string][]StageRef {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		return nil
	}
	return cfg.Pipeline.Definitions
}
