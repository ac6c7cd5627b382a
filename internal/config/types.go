package config

import (
	"fmt"
	"time"

	"github.com/lucasnoah/postfactory/internal/seo"
)

// DefaultBudget is the soft wall-clock budget for one run.
const DefaultBudget = 120 * time.Second

// PipelineConfig is the top-level configuration structure parsed from pipeline YAML.
type PipelineConfig struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline holds run budgets, thresholds and the named definitions.
type Pipeline struct {
	Name              string                `yaml:"name"`
	DefaultDefinition string                `yaml:"default_definition"`
	Budget            string                `yaml:"budget"`
	PromptDir         string                `yaml:"prompt_dir"`
	Refinement        Refinement            `yaml:"refinement"`
	Writer            Writer                `yaml:"writer"`
	SEO               seo.Config            `yaml:"seo"`
	Definitions       map[string][]StageRef `yaml:"definitions"`
}

// Refinement bounds the rewrite loops.
type Refinement struct {
	MaxAttempts int `yaml:"max_attempts"`
	// Reconcile enables the final SEO pass after the last stage.
	Reconcile *bool `yaml:"reconcile"`
	MaxTokens int   `yaml:"max_tokens"`
}

// ReconcileEnabled defaults to true.
func (r Refinement) ReconcileEnabled() bool {
	return r.Reconcile == nil || *r.Reconcile
}

// Writer holds model settings for the content-producing stages.
type Writer struct {
	Model            string `yaml:"model"`
	MaxTokens        int    `yaml:"max_tokens"`
	BackgroundTokens int    `yaml:"background_tokens"`
}

// StageRef binds a stage implementation to a logical slot.
type StageRef struct {
	Slot     string `yaml:"slot"`
	Stage    string `yaml:"stage"`
	Required bool   `yaml:"required"`
}

// BudgetDuration parses Budget, falling back to DefaultBudget.
func (p Pipeline) BudgetDuration() time.Duration {
	if p.Budget == "" {
		return DefaultBudget
	}
	d, err := time.ParseDuration(p.Budget)
	if err != nil || d <= 0 {
		return DefaultBudget
	}
	return d
}

// Definition returns the named definition, or the default one when name is empty.
func (p Pipeline) Definition(name string) (string, []StageRef, error) {
	if name == "" {
		name = p.DefaultDefinition
	}
	def, ok := p.Definitions[name]
	if !ok {
		return name, nil, fmt.Errorf("unknown pipeline definition %q", name)
	}
	return name, def, nil
}
