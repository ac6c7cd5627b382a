// Package stage holds the pipeline steps. Each stage reads the run context and
// the snapshot of earlier results and returns a single AgentResult; internal
// failures are reported in the result, never returned as errors.
package stage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lucasnoah/postfactory/internal/pipeline"
)

// Implementation names a pipeline definition may reference.
const (
	NameKeywordExtractor  = "keyword_extractor"
	NameWriter            = "writer"
	NameHighQualityWriter = "high_quality_writer"
	NameTitleWriter       = "title_writer"
	NameCompliance        = "compliance"
	NameSEO               = "seo"
)

var errEmptyOutput = errors.New("model returned empty output")

// Stage is one step of a pipeline.
type Stage interface {
	// Name is the implementation name, not the slot it fills.
	Name() string
	// RequiredContextFields lists fields checked before Run.
	RequiredContextFields() []string
	Run(ctx context.Context, pc *pipeline.Context) pipeline.AgentResult
}

// PromptRecorder persists rendered prompts for later inspection.
// *pipeline.Store satisfies it.
type PromptRecorder interface {
	SavePrompt(runID, stage string, attempt int, prompt string) error
}

func succeed(name string, start time.Time, data pipeline.StageData) pipeline.AgentResult {
	return pipeline.AgentResult{
		Success:  true,
		Data:     data,
		Metadata: pipeline.ResultMetadata{Stage: name, DurationMs: time.Since(start).Milliseconds()},
	}
}

func fail(name string, start time.Time, format string, args ...interface{}) pipeline.AgentResult {
	res := pipeline.Failed(name, fmt.Errorf(format, args...))
	res.Metadata.DurationMs = time.Since(start).Milliseconds()
	return res
}

// Registry maps implementation names to stages.
type Registry struct {
	stages map[string]Stage
}

// NewRegistry registers the given stages.
func NewRegistry(stages ...Stage) *Registry {
	r := &Registry{stages: make(map[string]Stage)}
	for _, s := range stages {
		r.Register(s)
	}
	return r
}

// Register adds s, replacing any stage with the same name.
func (r *Registry) Register(s Stage) {
	r.stages[s.Name()] = s
}

// Get looks up a stage by implementation name.
func (r *Registry) Get(name string) (Stage, bool) {
	s, ok := r.stages[name]
	return s, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stages))
	for n := range r.stages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
