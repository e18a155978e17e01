// Package engine runs the Asktra reasoning pipeline.
//
// A reasoning run is a strictly ordered sequence of LLM calls:
//
//	0. Version inference      which release the question is about
//	1. Causal reconciliation  intent vs implementation vs docs
//	2. Verification           only when phase 1 found contradictions
//
// followed by citation resolution. Documentation, patch and bundle emission
// are separate operations invoked on demand with a finding produced by a
// previous run.
//
// Model output is untrusted: every phase parses its response through the
// extract package and falls back to typed defaults field by field, so a
// malformed answer degrades to a partial result instead of an error.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/asktra/asktra/internal/audit"
	"github.com/asktra/asktra/internal/dataset"
	"github.com/asktra/asktra/internal/llm/adapter"
	"github.com/asktra/asktra/internal/llm/types"
	"github.com/asktra/asktra/internal/metrics"
	rcontext "github.com/asktra/asktra/internal/reasoning/context"
	"github.com/asktra/asktra/internal/reasoning/extract"
	"github.com/asktra/asktra/internal/reasoning/prompt"
	"github.com/asktra/asktra/internal/resolver"
	"github.com/asktra/asktra/internal/tracing"
)

// ErrEmptyQuery is returned when a run is requested without a question.
var ErrEmptyQuery = errors.New("query is required")

const (
	DefaultBundleAttempts      = 3
	DefaultBundleBackoff       = time.Second
	DefaultVerifyContextBudget = 2000
)

// Config tunes the pipeline.
type Config struct {
	// ExtendedReasoning enables model-side deliberation for the version and
	// causal phases.
	ExtendedReasoning bool

	// BundleThinkingModels lists model-name substrings for which bundle
	// emission also uses extended reasoning.
	BundleThinkingModels []string

	BundleAttempts int
	BundleBackoff  time.Duration // multiplied by the attempt number

	// BundleFallback synthesizes a bundle from the finding when every
	// attempt came back empty.
	BundleFallback bool

	// VerifyContextBudget caps the evidence excerpt sent to verification.
	VerifyContextBudget int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ExtendedReasoning:    true,
		BundleThinkingModels: []string{"gemini-3"},
		BundleAttempts:       DefaultBundleAttempts,
		BundleBackoff:        DefaultBundleBackoff,
		VerifyContextBudget:  DefaultVerifyContextBudget,
	}
}

// DatasetLoader supplies the base evidence store.
type DatasetLoader interface {
	Load(ctx context.Context) *dataset.Store
}

// Deps are the engine's collaborators. Dataset and Clients are required.
type Deps struct {
	Dataset  DatasetLoader
	Clients  adapter.ClientSource
	Prompts  prompt.Manager
	Resolver *resolver.Resolver
	Audit    audit.Logger
	Logger   *zap.Logger

	// Sleep waits between bundle attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine is safe for concurrent use. It holds no per-request state.
type Engine struct {
	cfg      Config
	dataset  DatasetLoader
	clients  adapter.ClientSource
	prompts  prompt.Manager
	resolver *resolver.Resolver
	audit    audit.Logger
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates an engine, filling unset config values and optional
// dependencies with defaults.
func New(cfg Config, deps Deps) *Engine {
	if cfg.BundleAttempts <= 0 {
		cfg.BundleAttempts = DefaultBundleAttempts
	}
	if cfg.BundleBackoff < 0 {
		cfg.BundleBackoff = 0
	}
	if cfg.VerifyContextBudget <= 0 {
		cfg.VerifyContextBudget = DefaultVerifyContextBudget
	}

	e := &Engine{
		cfg:      cfg,
		dataset:  deps.Dataset,
		clients:  deps.Clients,
		prompts:  deps.Prompts,
		resolver: deps.Resolver,
		audit:    deps.Audit,
		logger:   deps.Logger,
		sleep:    deps.Sleep,
	}
	if e.prompts == nil {
		e.prompts = prompt.NewManager()
	}
	if e.resolver == nil {
		e.resolver = resolver.New(resolver.Options{})
	}
	if e.audit == nil {
		e.audit = audit.NewNopLogger()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	return e
}

// Dataset returns the base evidence store (without request overrides).
func (e *Engine) Dataset(ctx context.Context) *dataset.Store {
	return e.dataset.Load(ctx)
}

// Run executes the full pipeline and resolves citations.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, req, "sync", func(string) {})
}

// ─── Pipeline ─────────────────────────────────────────────────────────────────

// run drives the phases. notify receives progress text strictly before or
// after the phase it describes; Run passes a no-op.
func (e *Engine) run(ctx context.Context, req Request, mode string, notify func(string)) (res *Result, err error) {
	ctx, runID := ensureCorrelationID(ctx)
	start := time.Now()
	log := e.logger.With(zap.String("run_id", runID), zap.String("mode", mode))

	ctx, span := tracing.StartSpan(ctx, "reasoning.run", attribute.String("mode", mode))
	_ = e.audit.LogReasoningStarted(ctx, runID, mode)
	defer func() {
		tracing.EndSpan(span, err)
		if err != nil {
			metrics.ReasoningRunsTotal.WithLabelValues(mode, ErrorKind(err)).Inc()
			_ = e.audit.LogReasoningFailed(ctx, runID, mode, err)
			log.Warn("reasoning run failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		metrics.ReasoningRunsTotal.WithLabelValues(mode, "success").Inc()
		_ = e.audit.LogReasoningCompleted(ctx, runID, mode, time.Since(start))
		log.Info("reasoning run completed",
			zap.String("version", res.InferredVersion),
			zap.Int("contradictions", len(res.Contradictions)),
			zap.Int("sources", len(res.SourceDetails)),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	store := dataset.Merge(e.dataset.Load(ctx), req.DatasetOverrides)
	notify(fmt.Sprintf("Loading dataset (%s)…", describeSources(rcontext.SelectedNames(store, req.IncludeSources))))
	if req.Image != nil {
		notify("Image attached: " + req.Image.MIMEType)
	}
	prior := strings.TrimSpace(req.PriorContext)
	if prior != "" {
		notify("Using prior context from this session")
	}

	evidence := rcontext.Assemble(store, req.IncludeSources)
	tokens := rcontext.EstimateTokens(evidence)
	metrics.ContextTokens.Observe(float64(tokens))
	log.Debug("context assembled", zap.Int("chars", len(evidence)), zap.Int("tokens", tokens))

	notify("Inferring version from timestamps and release notes…")
	version, err := e.InferVersion(ctx, query, evidence, req.Image)
	if err != nil {
		return nil, err
	}
	notify(fmt.Sprintf("Inferred version: %s (%d%% confidence)", version.InferredVersion, int(math.Round(version.Confidence*100))))
	for i, ev := range version.Evidence {
		if i == 3 {
			break
		}
		notify("  evidence: " + ev)
	}

	notify("Reasoning over chat intent vs commit implementation vs docs…")
	finding, err := e.ReasonCausally(ctx, query, version.InferredVersion, evidence, prior, req.Image)
	if err != nil {
		return nil, err
	}
	notify("Causal analysis complete")
	for _, step := range finding.ReasoningTrace {
		notify("  " + step)
	}

	steps := []string{}
	if len(finding.Contradictions) > 0 {
		notify("Verifying inferred truth (self-correction loop)…")
		verified, verr := e.Verify(ctx, version.InferredVersion, finding.Contradictions, evidence)
		if verr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("verification skipped", zap.Error(verr))
			_ = e.audit.LogVerificationSkipped(ctx, runID, verr)
			notify("Verification skipped")
		} else {
			steps = verified
			for _, s := range steps {
				notify("  " + s)
			}
			notify("Verification complete")
		}
	}

	notify("Resolving source citations…")
	details := e.resolver.Resolve(store, finding.Sources)
	notify("Sources resolved")

	return &Result{
		Query:             query,
		VersionInference:  *version,
		CausalFinding:     *finding,
		VerificationSteps: steps,
		SourceDetails:     details,
	}, nil
}

// InferVersion runs phase 0.
func (e *Engine) InferVersion(ctx context.Context, query, evidence string, image *types.Image) (*VersionInference, error) {
	user, err := e.prompts.User(prompt.PhaseInferVersion, prompt.Vars{
		"Context":   evidence,
		"Query":     query,
		"ImageNote": imageNote(image),
	})
	if err != nil {
		return nil, err
	}

	obj, err := e.callJSON(ctx, prompt.PhaseInferVersion, adapter.SlotDefault, user, image, e.cfg.ExtendedReasoning)
	if err != nil {
		return nil, err
	}
	return &VersionInference{
		InferredVersion: obj.String("inferred_version", "unknown"),
		Confidence:      obj.Confidence("confidence"),
		Evidence:        obj.Strings("evidence"),
		AmbiguityNote:   obj.String("ambiguity_note", ""),
	}, nil
}

// ReasonCausally runs phase 1. prior is prepended as established session
// knowledge when non-empty.
func (e *Engine) ReasonCausally(ctx context.Context, query, version, evidence, prior string, image *types.Image) (*CausalFinding, error) {
	priorBlock := ""
	if p := strings.TrimSpace(prior); p != "" {
		priorBlock = prompt.Render(prompt.PriorBlock, prompt.Vars{"Prior": p})
	}
	user, err := e.prompts.User(prompt.PhaseCausalReasoning, prompt.Vars{
		"Version":   version,
		"Prior":     priorBlock,
		"Context":   evidence,
		"Query":     query,
		"ImageNote": imageNote(image),
	})
	if err != nil {
		return nil, err
	}

	obj, err := e.callJSON(ctx, prompt.PhaseCausalReasoning, adapter.SlotDefault, user, image, e.cfg.ExtendedReasoning)
	if err != nil {
		return nil, err
	}
	return findingFrom(obj), nil
}

// Verify runs phase 2 over a truncated evidence excerpt. Callers treat any
// error as "verification skipped".
func (e *Engine) Verify(ctx context.Context, version string, contradictions []string, evidence string) ([]string, error) {
	if len(contradictions) == 0 {
		return []string{}, nil
	}
	listed, _ := json.Marshal(contradictions)
	user, err := e.prompts.User(prompt.PhaseVerify, prompt.Vars{
		"Version":        version,
		"Contradictions": string(listed),
		"Context":        truncateRunes(evidence, e.cfg.VerifyContextBudget),
	})
	if err != nil {
		return nil, err
	}

	obj, err := e.callJSON(ctx, prompt.PhaseVerify, adapter.SlotDefault, user, nil, false)
	if err != nil {
		return nil, err
	}
	return obj.Strings("verification_steps"), nil
}

func findingFrom(obj extract.Object) *CausalFinding {
	return &CausalFinding{
		RootCause:      obj.String("root_cause", ""),
		Contradictions: obj.Strings("contradictions"),
		Risk:           obj.String("risk", ""),
		FixSteps:       obj.Strings("fix_steps"),
		Verification:   obj.String("verification", ""),
		Sources:        obj.Strings("sources"),
		ReasoningTrace: obj.Strings("reasoning_trace"),
		TruthGaps:      obj.Strings("truth_gaps"),
	}
}

// ─── LLM calls ────────────────────────────────────────────────────────────────

// answerKeys are the top-level keys that mark a fragment as the answer.
var answerKeys = map[prompt.Phase][]string{
	prompt.PhaseInferVersion:    {"inferred_version", "confidence"},
	prompt.PhaseCausalReasoning: {"root_cause", "contradictions", "fix_steps"},
	prompt.PhaseVerify:          {"verification_steps"},
	prompt.PhaseBundle:          {"post_mortem", "pr_diff", "slack_summary", "incident_report", "remedy_patch", "stakeholder_summary"},
}

// generate makes one LLM call for phase.
func (e *Engine) generate(ctx context.Context, phase prompt.Phase, slot adapter.Slot, user string, image *types.Image, jsonMode, extended bool) (resp *types.Response, err error) {
	ctx, span := tracing.StartSpan(ctx, "reasoning.phase",
		attribute.String("phase", string(phase)),
		attribute.String("slot", string(slot)),
	)
	start := time.Now()
	defer func() {
		metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
		tracing.EndSpan(span, err)
	}()

	client, err := e.clients.Client(slot)
	if err != nil {
		return nil, err
	}
	system, err := e.prompts.System(phase)
	if err != nil {
		return nil, err
	}

	resp, err = client.Generate(ctx, types.Request{
		System:            system,
		Prompt:            user,
		JSONMode:          jsonMode,
		ExtendedReasoning: extended,
		Image:             image,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", phase, err)
	}
	if resp == nil {
		resp = &types.Response{}
	}
	return resp, nil
}

// callJSON makes a JSON-mode call and extracts the answer object. An
// unparsable answer is not an error: it is counted and yields an empty
// object so every field falls back to its default.
func (e *Engine) callJSON(ctx context.Context, phase prompt.Phase, slot adapter.Slot, user string, image *types.Image, extended bool) (extract.Object, error) {
	resp, err := e.generate(ctx, phase, slot, user, image, true, extended)
	if err != nil {
		return nil, err
	}
	parts := resp.Parts

	raw := extract.SelectAnswerFragment(parts, answerKeys[phase])
	obj, ok := extract.Parse(raw)
	if !ok {
		metrics.ExtractionFailuresTotal.WithLabelValues(string(phase)).Inc()
		e.logger.Warn("model answer held no JSON object; using defaults",
			zap.String("phase", string(phase)),
			zap.Int("fragments", len(parts)),
			zap.Int("chars", len(raw)),
		)
	}
	return obj, nil
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func ensureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := audit.GetCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := audit.GenerateCorrelationID()
	return audit.WithCorrelationID(ctx, id), id
}

func describeSources(names []dataset.SourceName) string {
	if len(names) == 0 {
		return "no sources"
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return strings.Join(out, ", ")
}

func imageNote(image *types.Image) string {
	if image == nil {
		return ""
	}
	return prompt.ImageNote
}

// truncateRunes cuts s to at most max characters without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
