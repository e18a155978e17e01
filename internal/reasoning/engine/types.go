package engine

import (
	"errors"

	"github.com/asktra/asktra/internal/llm/types"
	"github.com/asktra/asktra/internal/resolver"
)

// ErrEmptyBundle is returned when every bundle attempt produced nothing and
// fallback synthesis is disabled. Callers should retry later or enable
// fallback.
var ErrEmptyBundle = errors.New("model returned an empty reconciliation bundle; retry later or enable bundle fallback")

// Request is one reasoning question.
type Request struct {
	Query string

	// IncludeSources filters the evidence; empty or "all" selects everything.
	IncludeSources []string

	// DatasetOverrides replace sources for this request only.
	DatasetOverrides map[string]interface{}

	// PriorContext carries knowledge established earlier in the session.
	PriorContext string

	Image *types.Image
}

// VersionInference is the output of the version inference phase.
type VersionInference struct {
	InferredVersion string   `json:"inferred_version"`
	Confidence      float64  `json:"confidence"`
	Evidence        []string `json:"evidence"`
	AmbiguityNote   string   `json:"ambiguity_note"`
}

// CausalFinding is the output of the causal reconciliation phase.
type CausalFinding struct {
	RootCause      string   `json:"root_cause"`
	Contradictions []string `json:"contradictions"`
	Risk           string   `json:"risk"`
	FixSteps       []string `json:"fix_steps"`
	Verification   string   `json:"verification"`
	Sources        []string `json:"sources"`
	ReasoningTrace []string `json:"reasoning_trace"`
	TruthGaps      []string `json:"truth_gaps"`
}

// Result is the full reasoning payload: both phase outputs flattened, plus
// verification steps and resolved citations.
type Result struct {
	Query string `json:"query"`
	VersionInference
	CausalFinding
	VerificationSteps []string                `json:"verification_steps"`
	SourceDetails     []resolver.SourceDetail `json:"source_details"`
}

// BundleInput is what bundle emission reasons over: a finding and the
// version it applies to.
type BundleInput struct {
	InferredVersion string `json:"inferred_version"`
	CausalFinding
}

// Bundle is the reconciliation bundle. All three fields are non-empty.
type Bundle struct {
	PostMortem string `json:"post_mortem"`
	PRDiff     string `json:"pr_diff"`
	Summary    string `json:"summary"`

	// Fallback is set when the content was synthesized from the finding
	// instead of generated by the model.
	Fallback bool `json:"fallback,omitempty"`
}

// PatchRequest asks for a reconciliation patch for one finding.
type PatchRequest struct {
	FindingID     string `json:"finding_id"`
	Target        string `json:"target"`
	Action        string `json:"action"`
	CausalSummary string `json:"causal_summary,omitempty"`
}

// PatchResult carries the generated Markdown. PatchDescription and PRBody
// hold the same text.
type PatchResult struct {
	Action           string `json:"action"`
	PatchDescription string `json:"patch_description"`
	PRBody           string `json:"pr_body"`
}

// EventKind distinguishes stream events.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
	EventError    EventKind = "error"
)

// Event is one streaming notification. Exactly one result or error event
// terminates a stream.
type Event struct {
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventResult || e.Kind == EventError
}
