package types

import "strings"

// Image is an optional attachment sent alongside the user prompt.
type Image struct {
	Data     []byte `json:"-"`         // raw bytes
	MIMEType string `json:"mime_type"` // e.g. image/png
}

// Request is a single generation call against the LLM capability.
type Request struct {
	System            string `json:"system"`             // phase instructions
	Prompt            string `json:"prompt"`             // user turn
	JSONMode          bool   `json:"json_mode"`          // ask for a JSON object response
	ExtendedReasoning bool   `json:"extended_reasoning"` // allow internal deliberation before answering
	Image             *Image `json:"image,omitempty"`
	MaxTokens         int    `json:"max_tokens,omitempty"` // 0 means provider default
}

// Response carries every non-empty text fragment of the first candidate, in
// the order the provider returned them. Reasoning-capable models may emit
// "thinking" fragments before (or around) the final answer.
//
// Thoughts[i] reports whether Parts[i] is model deliberation rather than
// answer text. A missing entry means answer text.
type Response struct {
	Parts    []string   `json:"parts"`
	Thoughts []bool     `json:"thoughts,omitempty"`
	Usage    TokenUsage `json:"usage"`
}

// AddPart appends a fragment, skipping blank ones.
func (r *Response) AddPart(text string, thought bool) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if thought && len(r.Thoughts) < len(r.Parts) {
		r.Thoughts = append(r.Thoughts, make([]bool, len(r.Parts)-len(r.Thoughts))...)
	}
	r.Parts = append(r.Parts, text)
	if thought || len(r.Thoughts) > 0 {
		r.Thoughts = append(r.Thoughts, thought)
	}
}

// IsThought reports whether fragment i is deliberation.
func (r *Response) IsThought(i int) bool {
	return i >= 0 && i < len(r.Thoughts) && r.Thoughts[i]
}

// Answer returns the fragments that are not deliberation, in order.
func (r *Response) Answer() []string {
	if r == nil {
		return nil
	}
	var out []string
	for i, p := range r.Parts {
		if !r.IsThought(i) {
			out = append(out, p)
		}
	}
	return out
}

// Text joins all fragments with newlines.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Parts, "\n")
}

// Last returns the final fragment, or "" for an empty candidate list.
func (r *Response) Last() string {
	if r == nil || len(r.Parts) == 0 {
		return ""
	}
	return r.Parts[len(r.Parts)-1]
}

// TokenUsage tracks token usage reported by the provider
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`     // input tokens
	CompletionTokens int `json:"completion_tokens"` // output tokens
	TotalTokens      int `json:"total_tokens"`      // total tokens
}
