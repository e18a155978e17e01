package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/asktra/asktra/internal/dataset"
	"github.com/asktra/asktra/internal/llm/adapter"
	"github.com/asktra/asktra/internal/llm/types"
	"github.com/asktra/asktra/internal/reasoning/engine"
	"github.com/asktra/asktra/internal/resolver"
)

// ─── Fakes ────────────────────────────────────────────────────────────────────

type reply struct {
	parts    []string
	thoughts []bool
	err      error
}

// fakeClient returns scripted replies in order and records every request.
// Once the script is exhausted the last reply repeats.
type fakeClient struct {
	model string

	mu      sync.Mutex
	replies []reply
	calls   []types.Request
}

func (c *fakeClient) Generate(_ context.Context, req types.Request) (*types.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req)
	idx := len(c.calls) - 1
	if idx >= len(c.replies) {
		idx = len(c.replies) - 1
	}
	if idx < 0 {
		return &types.Response{}, nil
	}
	r := c.replies[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &types.Response{Parts: r.parts, Thoughts: r.thoughts}, nil
}

func (c *fakeClient) Provider() adapter.ProviderType { return adapter.ProviderGemini }

func (c *fakeClient) Model() string { return c.model }

func (c *fakeClient) Calls() []types.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Request(nil), c.calls...)
}

type fakeClients map[adapter.Slot]adapter.Client

func (f fakeClients) Client(slot adapter.Slot) (adapter.Client, error) {
	c, ok := f[slot]
	if !ok {
		return nil, &adapter.ConfigurationError{Slot: slot, Message: "API key is not configured"}
	}
	return c, nil
}

func text(parts ...string) reply { return reply{parts: parts} }

// thinking is a reply whose first fragment is model deliberation.
func thinking(thought string, answer ...string) reply {
	return reply{
		parts:    append([]string{thought}, answer...),
		thoughts: []bool{true},
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func testStore() *dataset.Store {
	return &dataset.Store{
		Chat: []dataset.ChatRecord{
			{Timestamp: "2024-03-01", Channel: "security", Author: "lee", Message: "keep the 15 minute timeout"},
		},
		Commits: []dataset.CommitRecord{
			{Hash: "8a2f91c4d0", ShortHash: "8a2f", Timestamp: "2024-03-02", Author: "sam", Message: "raise session timeout", Change: "15m -> 60m"},
		},
		Issues: []dataset.IssueRecord{
			{ID: "SEC-442", Title: "Session timeout policy", Status: "Open", Comment: "must be 15 minutes"},
		},
		Docs:         "Sessions expire after 15 minutes.",
		ReleaseNotes: "v2.3: performance fixes.",
	}
}

func newEngine(t *testing.T, cfg engine.Config, clients fakeClients, sleeper *sleepRecorder) *engine.Engine {
	t.Helper()
	if sleeper == nil {
		sleeper = &sleepRecorder{}
	}
	return engine.New(cfg, engine.Deps{
		Dataset:  dataset.NewLoader(dataset.StaticSource{Store: testStore()}, zap.NewNop()),
		Clients:  clients,
		Resolver: resolver.New(resolver.Options{}),
		Logger:   zap.NewNop(),
		Sleep:    sleeper.Sleep,
	})
}

const (
	versionJSON = `{"inferred_version": "v2.3", "confidence": 0.82, "evidence": ["release notes v2.3", "commit 8a2f", "Slack #security", "SEC-442"], "ambiguity_note": ""}`

	causalNoContradictions = `{"root_cause": "timeout raised in commit 8a2f", "contradictions": [], "risk": "sessions live too long",
		"fix_steps": ["revert timeout"], "verification": "check config", "sources": ["Commit 8a2f", "SEC-442", "SEC-442"],
		"reasoning_trace": ["read chat", "compared commit"], "truth_gaps": ["chat says 15m, code says 60m"]}`

	causalWithContradictions = `{"root_cause": "timeout raised in commit 8a2f", "contradictions": ["docs say 15m but commit sets 60m"],
		"risk": "sessions live too long", "fix_steps": ["revert timeout"], "sources": ["Docs"]}`
)

// ─── Run ──────────────────────────────────────────────────────────────────────

func TestRunSkipsVerificationWithoutContradictions(t *testing.T) {
	client := &fakeClient{replies: []reply{text(versionJSON), text(causalNoContradictions)}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	res, err := e.Run(context.Background(), engine.Request{Query: "  why did sessions get longer?  "})
	require.NoError(t, err)

	assert.Len(t, client.Calls(), 2, "no verification call")
	assert.Equal(t, "why did sessions get longer?", res.Query)
	assert.Equal(t, "v2.3", res.InferredVersion)
	assert.InDelta(t, 0.82, res.Confidence, 1e-9)
	assert.Equal(t, "timeout raised in commit 8a2f", res.RootCause)
	assert.Empty(t, res.Contradictions)
	assert.Empty(t, res.VerificationSteps)
	assert.Equal(t, []string{"chat says 15m, code says 60m"}, res.TruthGaps)

	require.Len(t, res.SourceDetails, 2, "duplicate citation resolved once")
	assert.Equal(t, resolver.TypeCommit, res.SourceDetails[0].Type)
	assert.Contains(t, res.SourceDetails[0].Content, "raise session timeout")
	assert.Equal(t, resolver.TypeIssue, res.SourceDetails[1].Type)
}

func TestRunVerifiesWhenContradictionsFound(t *testing.T) {
	client := &fakeClient{replies: []reply{
		text(versionJSON),
		text(causalWithContradictions),
		text("Thinking about which checks to run...", `{"verification_steps": ["grep config for SESSION_TIMEOUT", "compare docs"]}`),
	}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	res, err := e.Run(context.Background(), engine.Request{Query: "why?"})
	require.NoError(t, err)

	calls := client.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[2].Prompt, `["docs say 15m but commit sets 60m"]`)
	assert.True(t, calls[2].JSONMode)
	assert.False(t, calls[2].ExtendedReasoning)
	assert.Equal(t, []string{"grep config for SESSION_TIMEOUT", "compare docs"}, res.VerificationSteps)
}

func TestRunVerificationContextIsTruncated(t *testing.T) {
	client := &fakeClient{replies: []reply{text(versionJSON), text(causalWithContradictions), text(`{"verification_steps": []}`)}}
	cfg := engine.DefaultConfig()
	cfg.VerifyContextBudget = 40
	e := newEngine(t, cfg, fakeClients{adapter.SlotDefault: client}, nil)

	_, err := e.Run(context.Background(), engine.Request{Query: "why?"})
	require.NoError(t, err)

	calls := client.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0].Prompt, "## Release notes")
	assert.NotContains(t, calls[2].Prompt, "## Release notes")
}

func TestRunSwallowsVerificationFailure(t *testing.T) {
	client := &fakeClient{replies: []reply{
		text(versionJSON),
		text(causalWithContradictions),
		{err: errors.New("upstream exploded")},
	}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	res, err := e.Run(context.Background(), engine.Request{Query: "why?"})
	require.NoError(t, err)
	assert.Empty(t, res.VerificationSteps)
	assert.Equal(t, []string{"docs say 15m but commit sets 60m"}, res.Contradictions)
}

func TestRunDefaultsOnUnparsableOutput(t *testing.T) {
	client := &fakeClient{replies: []reply{text("not json at all")}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	res, err := e.Run(context.Background(), engine.Request{Query: "why?"})
	require.NoError(t, err)

	assert.Len(t, client.Calls(), 2)
	assert.Equal(t, "unknown", res.InferredVersion)
	assert.Zero(t, res.Confidence)
	assert.NotNil(t, res.Evidence)
	assert.Empty(t, res.Evidence)
	assert.Empty(t, res.RootCause)
	assert.NotNil(t, res.Sources)
	assert.Empty(t, res.SourceDetails)
}

func TestRunRequestShape(t *testing.T) {
	client := &fakeClient{replies: []reply{text(versionJSON), text(causalNoContradictions)}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	image := &types.Image{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}
	_, err := e.Run(context.Background(), engine.Request{
		Query:          "why?",
		IncludeSources: []string{"jira"},
		PriorContext:   "  v2.3 raised the timeout  ",
		Image:          image,
	})
	require.NoError(t, err)

	calls := client.Calls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.True(t, call.JSONMode)
		assert.True(t, call.ExtendedReasoning)
		assert.Same(t, image, call.Image)
		assert.Contains(t, call.Prompt, "## Issues")
		assert.NotContains(t, call.Prompt, "## Chat")
		assert.NotContains(t, call.Prompt, "## Commits")
		assert.Contains(t, call.Prompt, "An image is attached")
		assert.NotEmpty(t, call.System)
	}
	assert.NotContains(t, calls[0].Prompt, "Prior established knowledge")
	assert.Contains(t, calls[1].Prompt, "Prior established knowledge (from this session):\nv2.3 raised the timeout\n")
	assert.Contains(t, calls[1].Prompt, "Inferred version: v2.3")
}

func TestRunAppliesDatasetOverrides(t *testing.T) {
	client := &fakeClient{replies: []reply{text(versionJSON), text(`{"sources": ["OPS-7"]}`)}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	res, err := e.Run(context.Background(), engine.Request{
		Query:            "why?",
		DatasetOverrides: map[string]interface{}{"issues": `[{"id": "OPS-7", "title": "Pager storm", "status": "Closed", "comment": "fixed"}]`},
	})
	require.NoError(t, err)

	assert.Contains(t, client.Calls()[0].Prompt, "Pager storm")
	require.Len(t, res.SourceDetails, 1)
	assert.Equal(t, resolver.TypeIssue, res.SourceDetails[0].Type)
	assert.Contains(t, res.SourceDetails[0].Content, "OPS-7 — Pager storm (Closed)")

	assert.Len(t, e.Dataset(context.Background()).Issues, 1, "overrides are request scoped")
	assert.Equal(t, "SEC-442", e.Dataset(context.Background()).Issues[0].ID)
}

func TestRunErrors(t *testing.T) {
	rateLimited := &types.RateLimitError{Provider: "gemini", StatusCode: 429, Message: "RESOURCE_EXHAUSTED"}

	tests := []struct {
		name    string
		clients fakeClients
		query   string
		kind    string
	}{
		{name: "empty query", clients: fakeClients{}, query: "  ", kind: engine.KindInvalidRequest},
		{name: "missing credential", clients: fakeClients{}, query: "why?", kind: engine.KindConfiguration},
		{
			name:    "rate limited",
			clients: fakeClients{adapter.SlotDefault: &fakeClient{replies: []reply{{err: rateLimited}}}},
			query:   "why?",
			kind:    engine.KindRateLimited,
		},
		{
			name:    "other failure",
			clients: fakeClients{adapter.SlotDefault: &fakeClient{replies: []reply{text(versionJSON), {err: errors.New("boom")}}}},
			query:   "why?",
			kind:    engine.KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, engine.DefaultConfig(), tt.clients, nil)
			_, err := e.Run(context.Background(), engine.Request{Query: tt.query})
			require.Error(t, err)
			assert.Equal(t, tt.kind, engine.ErrorKind(err))
		})
	}
}

// ─── Stream ───────────────────────────────────────────────────────────────────

func collect(t *testing.T, events <-chan engine.Event) []engine.Event {
	t.Helper()
	var out []engine.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func messages(events []engine.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == engine.EventProgress {
			out = append(out, ev.Message)
		}
	}
	return out
}

func TestStreamEmitsProgressThenSingleResult(t *testing.T) {
	client := &fakeClient{replies: []reply{
		text(versionJSON),
		text(causalWithContradictions),
		text(`{"verification_steps": ["grep config"]}`),
	}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	events := collect(t, e.Stream(context.Background(), engine.Request{
		Query:        "why?",
		PriorContext: "earlier finding",
		Image:        &types.Image{Data: []byte("x"), MIMEType: "image/jpeg"},
	}))
	require.NotEmpty(t, events)

	terminal := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)

	last := events[len(events)-1]
	require.Equal(t, engine.EventResult, last.Kind)
	require.NotNil(t, last.Result)
	assert.Equal(t, []string{"grep config"}, last.Result.VerificationSteps)

	assert.Equal(t, []string{
		"Loading dataset (chat, commits, issues, docs, release_notes)…",
		"Image attached: image/jpeg",
		"Using prior context from this session",
		"Inferring version from timestamps and release notes…",
		"Inferred version: v2.3 (82% confidence)",
		"  evidence: release notes v2.3",
		"  evidence: commit 8a2f",
		"  evidence: Slack #security",
		"Reasoning over chat intent vs commit implementation vs docs…",
		"Causal analysis complete",
		"Verifying inferred truth (self-correction loop)…",
		"  grep config",
		"Verification complete",
		"Resolving source citations…",
		"Sources resolved",
	}, messages(events))
}

func TestStreamVerificationSkipped(t *testing.T) {
	client := &fakeClient{replies: []reply{
		text(versionJSON),
		text(causalWithContradictions),
		{err: errors.New("timeout")},
	}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	events := collect(t, e.Stream(context.Background(), engine.Request{Query: "why?"}))
	msgs := messages(events)
	assert.Contains(t, msgs, "Verification skipped")
	assert.NotContains(t, msgs, "Verification complete")
	assert.Equal(t, engine.EventResult, events[len(events)-1].Kind)
}

func TestStreamNoVerificationMessagesWithoutContradictions(t *testing.T) {
	client := &fakeClient{replies: []reply{text(versionJSON), text(causalNoContradictions)}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	msgs := messages(collect(t, e.Stream(context.Background(), engine.Request{Query: "why?"})))
	for _, m := range msgs {
		assert.False(t, strings.HasPrefix(m, "Verif"), m)
	}
	assert.Contains(t, msgs, "  read chat")
	assert.Contains(t, msgs, "  compared commit")
}

func TestStreamEndsWithSingleError(t *testing.T) {
	client := &fakeClient{replies: []reply{{err: &types.RateLimitError{Provider: "gemini", StatusCode: 503}}}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	events := collect(t, e.Stream(context.Background(), engine.Request{Query: "why?"}))
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, engine.EventError, last.Kind)
	assert.Equal(t, engine.KindRateLimited, last.ErrorKind)
	assert.NotEmpty(t, last.Error)

	msgs := messages(events)
	assert.Equal(t, "Inferring version from timestamps and release notes…", msgs[len(msgs)-1],
		"no notification for phases that did not run")
	for _, ev := range events[:len(events)-1] {
		assert.False(t, ev.Terminal())
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	client := &fakeClient{replies: []reply{text(versionJSON), text(causalNoContradictions)}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events := collect(t, e.Stream(ctx, engine.Request{Query: "why?"}))
	assert.Empty(t, events)
}

// ─── Emission ─────────────────────────────────────────────────────────────────

func TestEmitDocumentation(t *testing.T) {
	client := &fakeClient{replies: []reply{text("\n# Session timeout\n\nSessions now expire after 60 minutes.\n")}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	md, err := e.EmitDocumentation(context.Background(), "v2.3", engine.CausalFinding{RootCause: "timeout raised"})
	require.NoError(t, err)
	assert.Equal(t, "# Session timeout\n\nSessions now expire after 60 minutes.", md)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].JSONMode)
	assert.Contains(t, calls[0].Prompt, "Version: v2.3")
	assert.Contains(t, calls[0].Prompt, `"root_cause": "timeout raised"`)
	assert.Contains(t, calls[0].Prompt, "## Documentation")
}

func TestEmitDocumentationDropsThoughts(t *testing.T) {
	client := &fakeClient{replies: []reply{thinking(
		"**Planning** The config uses {\"timeout\": 60} so the docs need a new section.",
		"# Session timeout\n\nSessions expire after 60 minutes.",
	)}}
	cfg := engine.DefaultConfig()
	cfg.ExtendedReasoning = true
	e := newEngine(t, cfg, fakeClients{adapter.SlotDefault: client}, nil)

	md, err := e.EmitDocumentation(context.Background(), "v2.3", engine.CausalFinding{RootCause: "timeout raised"})
	require.NoError(t, err)
	assert.Equal(t, "# Session timeout\n\nSessions expire after 60 minutes.", md)
	assert.True(t, client.Calls()[0].ExtendedReasoning)
}

func TestEmitReconciliationPatchJoinsAnswerFragments(t *testing.T) {
	client := &fakeClient{replies: []reply{thinking("weighing {docs} vs {code}", "## Align docs", " with v2.3\n")}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	res, err := e.EmitReconciliationPatch(context.Background(), engine.PatchRequest{Action: "update_docs"})
	require.NoError(t, err)
	assert.Equal(t, "## Align docs with v2.3", res.PRBody)
}

func TestEmitDocumentationDoesNotRetry(t *testing.T) {
	client := &fakeClient{replies: []reply{{err: &types.RateLimitError{Provider: "gemini", StatusCode: 429}}}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	_, err := e.EmitDocumentation(context.Background(), "", engine.CausalFinding{})
	assert.True(t, types.IsRateLimited(err))
	assert.Len(t, client.Calls(), 1)
}

func TestEmitReconciliationPatch(t *testing.T) {
	client := &fakeClient{replies: []reply{text("## Align docs with v2.3\n")}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: client}, nil)

	res, err := e.EmitReconciliationPatch(context.Background(), engine.PatchRequest{
		FindingID: " doc-drift-1 ",
		Target:    "docs",
		Action:    " update_docs ",
	})
	require.NoError(t, err)
	assert.Equal(t, "update_docs", res.Action)
	assert.Equal(t, "## Align docs with v2.3", res.PatchDescription)
	assert.Equal(t, res.PatchDescription, res.PRBody)

	prompt := client.Calls()[0].Prompt
	assert.Contains(t, prompt, "Finding: doc-drift-1\n")
	assert.Contains(t, prompt, "No prior causal summary provided.")
}

// ─── Bundle ───────────────────────────────────────────────────────────────────

func timeoutFinding() engine.BundleInput {
	return engine.BundleInput{
		InferredVersion: "v2.3",
		CausalFinding: engine.CausalFinding{
			RootCause: "timeout misconfigured",
			Risk:      "sessions outlive policy",
			FixSteps:  []string{"raise timeout", "add retry"},
		},
	}
}

func TestEmitBundleEmptyWithoutFallback(t *testing.T) {
	bundleClient := &fakeClient{model: "gemini-2.5-flash", replies: []reply{text("{}")}}
	sleeper := &sleepRecorder{}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotBundle: bundleClient}, sleeper)

	_, err := e.EmitBundle(context.Background(), timeoutFinding())
	require.ErrorIs(t, err, engine.ErrEmptyBundle)
	assert.Equal(t, engine.KindEmptyBundle, engine.ErrorKind(err))
	assert.Len(t, bundleClient.Calls(), 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestEmitBundleFallback(t *testing.T) {
	bundleClient := &fakeClient{model: "gemini-2.5-flash", replies: []reply{text("{}")}}
	cfg := engine.DefaultConfig()
	cfg.BundleFallback = true
	e := newEngine(t, cfg, fakeClients{adapter.SlotBundle: bundleClient}, nil)

	b, err := e.EmitBundle(context.Background(), timeoutFinding())
	require.NoError(t, err)
	assert.Len(t, bundleClient.Calls(), 3)
	assert.True(t, b.Fallback)
	assert.Contains(t, b.PostMortem, "timeout misconfigured")
	assert.Contains(t, b.PostMortem, "# Incident report (fallback)")
	assert.Contains(t, b.PostMortem, "1. raise timeout\n2. add retry")
	assert.Contains(t, b.PRDiff, "# Remedy patch (fallback)")
	assert.Contains(t, b.PRDiff, "- add retry")
	assert.True(t, strings.HasPrefix(b.Summary, "Causal analysis complete. Root cause: timeout misconfigured."))
}

func TestEmitBundleFallbackTruncates(t *testing.T) {
	in := timeoutFinding()
	in.RootCause = strings.Repeat("r", 250)
	in.FixSteps = []string{"1", "2", "3", "4", "5", "6", "7"}

	bundleClient := &fakeClient{replies: []reply{text("")}}
	cfg := engine.DefaultConfig()
	cfg.BundleFallback = true
	e := newEngine(t, cfg, fakeClients{adapter.SlotBundle: bundleClient}, nil)

	b, err := e.EmitBundle(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, b.Summary, strings.Repeat("r", 200)+"…")
	assert.NotContains(t, b.Summary, strings.Repeat("r", 201))
	assert.Contains(t, b.PostMortem, "5. 5")
	assert.NotContains(t, b.PostMortem, "6. 6")
}

func TestEmitBundleRetriesUntilContent(t *testing.T) {
	bundleClient := &fakeClient{model: "gemini-2.5-flash", replies: []reply{
		text(`{"post_mortem": "", "pr_diff": "", "slack_summary": ""}`),
		text("Let me think about the incident first.", "```json\n{\"incident_report\": \"# Incident\", \"stakeholder_summary\": \"All good now.\"}\n```"),
	}}
	sleeper := &sleepRecorder{}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotBundle: bundleClient}, sleeper)

	b, err := e.EmitBundle(context.Background(), timeoutFinding())
	require.NoError(t, err)
	assert.Equal(t, "# Incident", b.PostMortem)
	assert.Equal(t, engine.NoContentPlaceholder, b.PRDiff)
	assert.Equal(t, "All good now.", b.Summary)
	assert.False(t, b.Fallback)
	assert.Len(t, bundleClient.Calls(), 2)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.delays)
}

func TestEmitBundleRateLimitedOnLastAttempt(t *testing.T) {
	bundleClient := &fakeClient{replies: []reply{
		text("{}"),
		text("{}"),
		{err: &types.RateLimitError{Provider: "gemini", StatusCode: 429}},
	}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotBundle: bundleClient}, nil)

	_, err := e.EmitBundle(context.Background(), timeoutFinding())
	assert.True(t, types.IsRateLimited(err))
	assert.NotErrorIs(t, err, engine.ErrEmptyBundle)
}

func TestEmitBundleRecoversFromRateLimit(t *testing.T) {
	bundleClient := &fakeClient{replies: []reply{
		{err: &types.RateLimitError{Provider: "gemini", StatusCode: 503}},
		text(`{"post_mortem": "pm", "pr_diff": "diff", "summary": "sum"}`),
	}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotBundle: bundleClient}, nil)

	b, err := e.EmitBundle(context.Background(), timeoutFinding())
	require.NoError(t, err)
	assert.Equal(t, &engine.Bundle{PostMortem: "pm", PRDiff: "diff", Summary: "sum"}, b)
}

func TestEmitBundleHardErrorIsNotRetried(t *testing.T) {
	bundleClient := &fakeClient{replies: []reply{{err: errors.New("invalid argument")}}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotBundle: bundleClient}, nil)

	_, err := e.EmitBundle(context.Background(), timeoutFinding())
	require.Error(t, err)
	assert.Equal(t, engine.KindInternal, engine.ErrorKind(err))
	assert.Len(t, bundleClient.Calls(), 1)
}

func TestEmitBundleExtendedReasoningByModel(t *testing.T) {
	tests := []struct {
		model    string
		extended bool
	}{
		{model: "gemini-3-flash-preview", extended: true},
		{model: "gemini-2.5-flash", extended: false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			bundleClient := &fakeClient{model: tt.model, replies: []reply{text(`{"post_mortem": "pm"}`)}}
			e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotBundle: bundleClient}, nil)

			_, err := e.EmitBundle(context.Background(), timeoutFinding())
			require.NoError(t, err)
			calls := bundleClient.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.extended, calls[0].ExtendedReasoning)
			assert.True(t, calls[0].JSONMode)
			assert.Contains(t, calls[0].Prompt, "Inferred version: v2.3")
		})
	}
}

func TestEmitBundleUsesBundleSlot(t *testing.T) {
	defaultClient := &fakeClient{replies: []reply{text(`{"post_mortem": "wrong slot"}`)}}
	e := newEngine(t, engine.DefaultConfig(), fakeClients{adapter.SlotDefault: defaultClient}, nil)

	_, err := e.EmitBundle(context.Background(), timeoutFinding())
	var cfgErr *adapter.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, adapter.SlotBundle, cfgErr.Slot)
	assert.Empty(t, defaultClient.Calls())
}

func TestEmitBundleStopsWhenSleepCancelled(t *testing.T) {
	bundleClient := &fakeClient{replies: []reply{text("{}")}}
	e := engine.New(engine.DefaultConfig(), engine.Deps{
		Dataset: dataset.NewLoader(dataset.StaticSource{Store: testStore()}, nil),
		Clients: fakeClients{adapter.SlotBundle: bundleClient},
		Sleep: func(context.Context, time.Duration) error {
			return context.Canceled
		},
	})

	_, err := e.EmitBundle(context.Background(), timeoutFinding())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, bundleClient.Calls(), 1)
}
