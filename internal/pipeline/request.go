package pipeline

import (
	"fmt"
	"strings"
)

// GenerateRequest is the caller-facing input of a run, shared by the HTTP API
// and the generate command.
type GenerateRequest struct {
	Pipeline         string      `json:"pipeline,omitempty" yaml:"pipeline"`
	Topic            string      `json:"topic" yaml:"topic"`
	Category         string      `json:"category,omitempty" yaml:"category"`
	UserProfile      UserProfile `json:"user_profile" yaml:"user_profile"`
	Instructions     string      `json:"instructions,omitempty" yaml:"instructions"`
	Background       string      `json:"background,omitempty" yaml:"background"`
	RequiredKeywords []string    `json:"required_keywords,omitempty" yaml:"required_keywords"`
	TargetWordCount  int         `json:"target_word_count,omitempty" yaml:"target_word_count"`
	AttemptNumber    int         `json:"attempt_number,omitempty" yaml:"attempt_number"`
}

// Validate returns one message per invalid field.
func (r GenerateRequest) Validate() []string {
	var errs []string
	if strings.TrimSpace(r.Topic) == "" {
		errs = append(errs, "topic is required")
	}
	if s := r.UserProfile.CampaignStage; s != "" && !IsValidCampaignStage(string(s)) {
		errs = append(errs, fmt.Sprintf("user_profile.campaign_stage %q is not one of %v", s, ValidCampaignStages))
	}
	if r.TargetWordCount < 0 {
		errs = append(errs, "target_word_count must not be negative")
	}
	if r.AttemptNumber < 0 {
		errs = append(errs, "attempt_number must not be negative")
	}
	for i, kw := range r.RequiredKeywords {
		if strings.TrimSpace(kw) == "" {
			errs = append(errs, fmt.Sprintf("required_keywords[%d] is empty", i))
		}
	}
	return errs
}

// Context builds the per-run context. Keywords are trimmed; the run ID is
// left for the orchestrator to assign.
func (r GenerateRequest) Context() *Context {
	var kws []string
	for _, kw := range r.RequiredKeywords {
		if kw = strings.Join(strings.Fields(kw), " "); kw != "" {
			kws = append(kws, kw)
		}
	}
	return &Context{
		Topic:            strings.TrimSpace(r.Topic),
		Category:         strings.TrimSpace(r.Category),
		Profile:          r.UserProfile,
		Instructions:     r.Instructions,
		Background:       r.Background,
		TargetLength:     r.TargetWordCount,
		RequiredKeywords: kws,
		AttemptNumber:    r.AttemptNumber,
	}
}
