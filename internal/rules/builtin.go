package rules

import (
	"context"
	_ "embed"
	"sync"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

var (
	defaultOnce sync.Once
	defaultSet  *Set
	defaultErr  error
)

// Default returns the builtin rule set. It panics if the embedded table is
// invalid, which the package tests guard against.
func Default() *Set {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Parse(defaultRulesYAML)
	})
	if defaultErr != nil {
		panic("rules: invalid builtin rule table: " + defaultErr.Error())
	}
	return defaultSet
}

// DefaultYAML returns the raw builtin rule document.
func DefaultYAML() []byte {
	out := make([]byte, len(defaultRulesYAML))
	copy(out, defaultRulesYAML)
	return out
}

// StaticSource serves a fixed rule set. A nil Set serves the builtin table.
type StaticSource struct {
	Set *Set
}

// Name identifies the source in logs.
func (s StaticSource) Name() string { return "builtin" }

// Fetch returns the fixed set regardless of key.
func (s StaticSource) Fetch(ctx context.Context, key string) (*Set, error) {
	if s.Set != nil {
		if err := s.Set.Compile(); err != nil {
			return nil, err
		}
		return s.Set, nil
	}
	return Default(), nil
}
