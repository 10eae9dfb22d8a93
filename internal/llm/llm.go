// Package llm abstracts the language-model service used for conversation
// matching and impact analysis. A disabled client is selected when no
// credential is configured; callers must tolerate it.
package llm

import (
	"context"
	"errors"
)

// ErrDisabled is returned by the disabled client for every call.
var ErrDisabled = errors.New("llm: no credential configured")

// MatchCandidate is one file_change event offered to the matcher.
type MatchCandidate struct {
	EventID     int64
	Path        string
	DiffExcerpt string
	TimeDelta   int64
}

// MatchRequest carries a conversation and its candidate events.
type MatchRequest struct {
	UserPrompt string
	AIResponse string
	FileRefs   []string
	Candidates []MatchCandidate
}

// MatchResult is one scored link between the conversation and an event.
type MatchResult struct {
	EventID       int64   `json:"event_id"`
	MatchCategory string  `json:"match_category"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
	FileOverlap   bool    `json:"file_overlap"`
	TimeDelta     int64   `json:"time_delta"`
}

// ImpactRequest carries one code change and the current architecture
// summary for impact analysis.
type ImpactRequest struct {
	ArchitectureSummary string
	Path                string
	DiffExcerpt         string
	ChangeType          string
}

// ImpactResult is the structured impact analysis of one code change.
type ImpactResult struct {
	AffectedFeatures    []string `json:"affected_features"`
	ModifiedClasses     []string `json:"modified_classes"`
	NewClasses          []string `json:"new_classes"`
	ArchitecturalChange bool     `json:"architectural_change"`
	ImpactLevel         string   `json:"impact_level"`
	Summary             string   `json:"summary"`
	Concerns            []string `json:"concerns"`
	Recommendations     []string `json:"recommendations"`
}

// Client is the language-model capability surface.
type Client interface {
	// Enabled reports whether real calls can be made.
	Enabled() bool

	// ScoreMatches scores candidate events against a conversation.
	ScoreMatches(ctx context.Context, req MatchRequest) ([]MatchResult, error)

	// SummarizeImpact analyzes one code change against an architecture
	// summary.
	SummarizeImpact(ctx context.Context, req ImpactRequest) (*ImpactResult, error)

	// Complete performs a free-form completion, used by the summary and
	// analysis endpoints.
	Complete(ctx context.Context, system, user string) (string, error)
}

// Disabled is the no-op client selected when no credential is set.
type Disabled struct{}

// Enabled always reports false.
func (Disabled) Enabled() bool { return false }

// ScoreMatches always fails with ErrDisabled.
func (Disabled) ScoreMatches(context.Context, MatchRequest) ([]MatchResult, error) {
	return nil, ErrDisabled
}

// SummarizeImpact always fails with ErrDisabled.
func (Disabled) SummarizeImpact(context.Context, ImpactRequest) (*ImpactResult, error) {
	return nil, ErrDisabled
}

// Complete always fails with ErrDisabled.
func (Disabled) Complete(context.Context, string, string) (string, error) {
	return "", ErrDisabled
}
