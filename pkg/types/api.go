// Package types defines the public HTTP API types of the asktra service.
//
// These types define the REST, SSE and websocket contracts. They are kept
// separate from the engine types so the wire format can stay stable while
// the engine evolves.
package types

// Request types

// AskRequest asks a causal question. Used by POST /ask, POST /ask-stream
// and as the first websocket message on /ws/ask.
type AskRequest struct {
	Query string `json:"query" validate:"required,max=16384"`

	// IncludeSources limits the evidence: chat, commits, issues, docs,
	// release_notes (or slack, git, jira, releases), or "all". Unknown
	// names are ignored.
	IncludeSources []string `json:"include_sources,omitempty" validate:"omitempty,max=16,dive,max=32"`

	// DatasetOverrides replaces sources for this request only.
	DatasetOverrides map[string]interface{} `json:"dataset_overrides,omitempty"`

	// PriorContext carries findings from earlier in the session.
	PriorContext string `json:"prior_context,omitempty" validate:"max=65536"`

	// ImageBase64 is an optional screenshot, standard base64 encoded.
	ImageBase64   string `json:"image_base64,omitempty"`
	ImageMIMEType string `json:"image_mime_type,omitempty" validate:"omitempty,startswith=image/"`

	// ImageMIME is the older name of ImageMIMEType.
	ImageMIME string `json:"image_mime,omitempty" validate:"omitempty,startswith=image/"`
}

// FindingRequest carries a causal finding back to the service. Used by
// POST /emit-docs and POST /reconciliation-bundle.
type FindingRequest struct {
	InferredVersion string   `json:"inferred_version"`
	RootCause       string   `json:"root_cause"`
	Contradictions  []string `json:"contradictions"`
	Risk            string   `json:"risk"`
	FixSteps        []string `json:"fix_steps"`
	Verification    string   `json:"verification"`
	Sources         []string `json:"sources"`
	ReasoningTrace  []string `json:"reasoning_trace,omitempty"`
	TruthGaps       []string `json:"truth_gaps,omitempty"`
}

// PatchRequest asks for a reconciliation patch.
type PatchRequest struct {
	FindingID     string `json:"finding_id" validate:"required"`
	Target        string `json:"target" validate:"required"`
	Action        string `json:"action" validate:"required"`
	CausalSummary string `json:"causal_summary,omitempty"`
}

// Response types

// SourceDetail is a citation resolved to its evidence.
type SourceDetail struct {
	Type    string `json:"type"` // chat | commit | issue | document
	Label   string `json:"label"`
	Content string `json:"content"`
}

// AskResponse is the full reasoning result.
type AskResponse struct {
	Query             string         `json:"query"`
	InferredVersion   string         `json:"inferred_version"`
	Confidence        float64        `json:"confidence"`
	Evidence          []string       `json:"evidence"`
	AmbiguityNote     string         `json:"ambiguity_note"`
	RootCause         string         `json:"root_cause"`
	Contradictions    []string       `json:"contradictions"`
	Risk              string         `json:"risk"`
	FixSteps          []string       `json:"fix_steps"`
	Verification      string         `json:"verification"`
	Sources           []string       `json:"sources"`
	SourceDetails     []SourceDetail `json:"source_details"`
	ReasoningTrace    []string       `json:"reasoning_trace"`
	TruthGaps         []string       `json:"truth_gaps"`
	VerificationSteps []string       `json:"verification_steps"`
}

// EmitDocsResponse carries generated documentation.
type EmitDocsResponse struct {
	Markdown string `json:"markdown"`
}

// PatchResponse carries a generated reconciliation patch. PatchDescription
// and PRBody hold the same Markdown.
type PatchResponse struct {
	Action           string `json:"action"`
	PatchDescription string `json:"patch_description"`
	PRBody           string `json:"pr_body"`
}

// BundleResponse is the reconciliation bundle. Summary and SlackSummary
// hold the same text.
type BundleResponse struct {
	PostMortem   string `json:"post_mortem"`
	PRDiff       string `json:"pr_diff"`
	Summary      string `json:"summary"`
	SlackSummary string `json:"slack_summary"`
	Fallback     bool   `json:"fallback,omitempty"`
}

// ProgressEvent is the payload of an SSE "progress" event.
type ProgressEvent struct {
	Message string `json:"message"`
}

// ErrorResponse is returned with every non-2xx status and as the payload
// of an SSE "error" event.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// HealthResponse reports liveness and the configured models.
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Version     string `json:"version"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	BundleModel string `json:"bundle_model"`
	Configured  bool   `json:"configured"`
}

// ServiceInfo is returned from GET /.
type ServiceInfo struct {
	Service   string   `json:"service"`
	Status    string   `json:"status"`
	Health    string   `json:"health"`
	Endpoints []string `json:"endpoints"`
}

// WebSocket types

// WebSocket message types
const (
	WSMessageProgress  = "progress"
	WSMessageResult    = "result"
	WSMessageError     = "error"
	WSMessageHeartbeat = "heartbeat"
)

// WSMessage is one server-to-client websocket frame on /ws/ask.
type WSMessage struct {
	Type      string       `json:"type"`
	Message   string       `json:"message,omitempty"`
	Result    *AskResponse `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	Kind      string       `json:"kind,omitempty"`
	Timestamp int64        `json:"timestamp"` // unix milliseconds
}
