package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/lucasnoah/postfactory/internal/pipeline"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// requiredSlots must appear in every definition.
var requiredSlots = []string{pipeline.SlotWriter}

// Validate checks a PipelineConfig for structural and semantic errors.
// knownStages lists the registered stage implementations; nil skips that
// check. It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *PipelineConfig, knownStages []string) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.name", Message: "is required"})
	}
	if p.Budget != "" {
		if d, err := time.ParseDuration(p.Budget); err != nil || d <= 0 {
			errs = append(errs, ValidationError{Field: "pipeline.budget", Message: fmt.Sprintf("invalid duration %q", p.Budget)})
		}
	}
	if p.Refinement.MaxAttempts < 0 {
		errs = append(errs, ValidationError{Field: "pipeline.refinement.max_attempts", Message: "must not be negative"})
	}
	if p.Writer.MaxTokens < 0 {
		errs = append(errs, ValidationError{Field: "pipeline.writer.max_tokens", Message: "must not be negative"})
	}
	for _, msg := range p.SEO.Validate() {
		errs = append(errs, ValidationError{Field: "pipeline.seo", Message: msg})
	}

	if len(p.Definitions) == 0 {
		errs = append(errs, ValidationError{Field: "pipeline.definitions", Message: "at least one definition is required"})
	}
	if p.DefaultDefinition == "" {
		errs = append(errs, ValidationError{Field: "pipeline.default_definition", Message: "is required"})
	} else if _, ok := p.Definitions[p.DefaultDefinition]; !ok {
		errs = append(errs, ValidationError{
			Field:   "pipeline.default_definition",
			Message: fmt.Sprintf("references undefined definition %q", p.DefaultDefinition),
		})
	}

	known := make(map[string]bool, len(knownStages))
	for _, s := range knownStages {
		known[s] = true
	}

	names := make([]string, 0, len(p.Definitions))
	for name := range p.Definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		validateDefinition(name, p.Definitions[name], known, knownStages != nil, &errs)
	}
	return errs
}

func validateDefinition(name string, refs []StageRef, known map[string]bool, checkStages bool, errs *[]ValidationError) {
	prefix := "pipeline.definitions." + name
	if len(refs) == 0 {
		*errs = append(*errs, ValidationError{Field: prefix, Message: "at least one stage is required"})
		return
	}
	seen := make(map[string]bool)
	for i, ref := range refs {
		field := fmt.Sprintf("%s[%d]", prefix, i)
		switch {
		case ref.Slot == "":
			*errs = append(*errs, ValidationError{Field: field + ".slot", Message: "is required"})
		case !pipeline.IsKnownSlot(ref.Slot):
			*errs = append(*errs, ValidationError{Field: field + ".slot", Message: fmt.Sprintf("unknown slot %q", ref.Slot)})
		case seen[ref.Slot]:
			*errs = append(*errs, ValidationError{Field: field + ".slot", Message: fmt.Sprintf("duplicate slot %q", ref.Slot)})
		}
		seen[ref.Slot] = true

		if ref.Stage == "" {
			*errs = append(*errs, ValidationError{Field: field + ".stage", Message: "is required"})
		} else if checkStages && !known[ref.Stage] {
			*errs = append(*errs, ValidationError{Field: field + ".stage", Message: fmt.Sprintf("unknown stage implementation %q", ref.Stage)})
		}
	}
	for _, slot := range requiredSlots {
		if !seen[slot] {
			*errs = append(*errs, ValidationError{Field: prefix, Message: fmt.Sprintf("missing %q slot", slot)})
		}
	}
}
