package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/asktra/asktra/internal/audit"
	"github.com/asktra/asktra/internal/llm/adapter"
	"github.com/asktra/asktra/internal/llm/types"
	"github.com/asktra/asktra/internal/metrics"
	rcontext "github.com/asktra/asktra/internal/reasoning/context"
	"github.com/asktra/asktra/internal/reasoning/extract"
	"github.com/asktra/asktra/internal/reasoning/prompt"
)

// NoContentPlaceholder fills bundle sections the model left empty.
const NoContentPlaceholder = "(No content generated for this section.)"

const noCausalSummary = "No prior causal summary provided."

// EmitDocumentation renders PR-ready Markdown documentation for finding.
// It makes a single free-text call and does not retry.
func (e *Engine) EmitDocumentation(ctx context.Context, version string, finding CausalFinding) (string, error) {
	if strings.TrimSpace(version) == "" {
		version = "unknown"
	}
	summary, err := json.MarshalIndent(finding, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding finding: %w", err)
	}
	user, err := e.prompts.User(prompt.PhaseEmitDocs, prompt.Vars{
		"Version": version,
		"Context": rcontext.Assemble(e.dataset.Load(ctx), nil),
		"Finding": string(summary),
	})
	if err != nil {
		return "", err
	}
	return e.callText(ctx, prompt.PhaseEmitDocs, user)
}

// EmitReconciliationPatch renders a Markdown PR body for one finding. It
// makes a single free-text call and does not retry.
func (e *Engine) EmitReconciliationPatch(ctx context.Context, req PatchRequest) (*PatchResult, error) {
	summary := strings.TrimSpace(req.CausalSummary)
	if summary == "" {
		summary = noCausalSummary
	}
	user, err := e.prompts.User(prompt.PhaseEmitPatch, prompt.Vars{
		"FindingID": strings.TrimSpace(req.FindingID),
		"Target":    strings.TrimSpace(req.Target),
		"Action":    strings.TrimSpace(req.Action),
		"Summary":   summary,
	})
	if err != nil {
		return nil, err
	}

	markdown, err := e.callText(ctx, prompt.PhaseEmitPatch, user)
	if err != nil {
		return nil, err
	}
	return &PatchResult{
		Action:           strings.TrimSpace(req.Action),
		PatchDescription: markdown,
		PRBody:           markdown,
	}, nil
}

// callText makes a free-text call and returns the answer fragments joined
// as one document. Deliberation fragments are dropped.
func (e *Engine) callText(ctx context.Context, phase prompt.Phase, user string) (string, error) {
	resp, err := e.generate(ctx, phase, adapter.SlotDefault, user, nil, false, e.cfg.ExtendedReasoning)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(resp.Answer(), "")), nil
}

// ─── Bundle ───────────────────────────────────────────────────────────────────

// EmitBundle produces the reconciliation bundle on the bundle slot.
//
// An attempt succeeds when at least one of the three sections is non-empty;
// empty sections get NoContentPlaceholder. Empty or rate-limited attempts
// are retried with linear backoff. When every attempt fails the result is
// the fallback bundle if enabled, the rate-limit error if the last attempt
// was rate limited, and ErrEmptyBundle otherwise.
func (e *Engine) EmitBundle(ctx context.Context, in BundleInput) (*Bundle, error) {
	ctx, runID := ensureCorrelationID(ctx)
	log := e.logger.With(zap.String("run_id", runID))

	client, err := e.clients.Client(adapter.SlotBundle)
	if err != nil {
		return nil, err
	}
	extended := e.bundleThinking(client.Model())

	version := strings.TrimSpace(in.InferredVersion)
	if version == "" {
		version = "unknown"
	}
	finding, err := json.MarshalIndent(in.CausalFinding, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding finding: %w", err)
	}
	user, err := e.prompts.User(prompt.PhaseBundle, prompt.Vars{
		"Version": version,
		"Finding": string(finding),
	})
	if err != nil {
		return nil, err
	}

	var lastErr error
	attempts := e.cfg.BundleAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		obj, cerr := e.callJSON(ctx, prompt.PhaseBundle, adapter.SlotBundle, user, nil, extended)
		switch {
		case cerr != nil && types.IsRateLimited(cerr):
			metrics.BundleAttemptsTotal.WithLabelValues("rate_limited").Inc()
			log.Warn("bundle attempt rate limited", zap.Int("attempt", attempt), zap.Error(cerr))
			lastErr = cerr
		case cerr != nil:
			metrics.BundleAttemptsTotal.WithLabelValues("error").Inc()
			_ = e.audit.LogBundle(ctx, runID, audit.EventBundleFailed, attempt, cerr)
			return nil, cerr
		default:
			if bundle, ok := bundleFrom(obj); ok {
				metrics.BundleAttemptsTotal.WithLabelValues("success").Inc()
				_ = e.audit.LogBundle(ctx, runID, audit.EventBundleGenerated, attempt, nil)
				return bundle, nil
			}
			metrics.BundleAttemptsTotal.WithLabelValues("empty").Inc()
			log.Warn("bundle attempt came back empty", zap.Int("attempt", attempt))
			lastErr = nil
		}

		if attempt < attempts {
			if serr := e.sleep(ctx, time.Duration(attempt)*e.cfg.BundleBackoff); serr != nil {
				return nil, serr
			}
		}
	}

	if e.cfg.BundleFallback {
		metrics.BundleAttemptsTotal.WithLabelValues("fallback").Inc()
		_ = e.audit.LogBundle(ctx, runID, audit.EventBundleFallback, attempts, nil)
		log.Info("bundle synthesized from finding", zap.Int("attempts", attempts))
		return fallbackBundle(in.CausalFinding), nil
	}
	if lastErr == nil {
		lastErr = ErrEmptyBundle
	}
	_ = e.audit.LogBundle(ctx, runID, audit.EventBundleFailed, attempts, lastErr)
	return nil, lastErr
}

func (e *Engine) bundleThinking(model string) bool {
	model = strings.ToLower(model)
	for _, m := range e.cfg.BundleThinkingModels {
		if m != "" && strings.Contains(model, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// bundleFrom reads the three sections, accepting the alternative key names
// models use. It reports false when all three are empty.
func bundleFrom(obj extract.Object) (*Bundle, bool) {
	postMortem := strings.TrimSpace(obj.FirstString("", "post_mortem", "incident_report"))
	prDiff := strings.TrimSpace(obj.FirstString("", "pr_diff", "remedy_patch"))
	summary := strings.TrimSpace(obj.FirstString("", "slack_summary", "stakeholder_summary", "summary"))
	if postMortem == "" && prDiff == "" && summary == "" {
		return nil, false
	}
	return &Bundle{
		PostMortem: orPlaceholder(postMortem),
		PRDiff:     orPlaceholder(prDiff),
		Summary:    orPlaceholder(summary),
	}, true
}

func orPlaceholder(s string) string {
	if s == "" {
		return NoContentPlaceholder
	}
	return s
}

// fallbackBundle builds a deterministic bundle from the finding alone.
func fallbackBundle(f CausalFinding) *Bundle {
	steps := f.FixSteps
	if len(steps) > 5 {
		steps = steps[:5]
	}

	root := strings.TrimSpace(f.RootCause)
	risk := strings.TrimSpace(f.Risk)

	var pm strings.Builder
	pm.WriteString("# Incident report (fallback)\n\n## Root cause\n")
	pm.WriteString(orDefault(root, "Not determined."))
	pm.WriteString("\n\n## Risk\n")
	pm.WriteString(orDefault(risk, "See root cause."))
	pm.WriteString("\n\n## Recommended fix steps")
	for i, s := range steps {
		fmt.Fprintf(&pm, "\n%d. %s", i+1, s)
	}

	var diff strings.Builder
	diff.WriteString("# Remedy patch (fallback)\n\n## Summary\n")
	diff.WriteString(orDefault(root, "No root cause provided. Run a query and generate the bundle again."))
	diff.WriteString("\n\n## Suggested changes")
	for _, s := range steps {
		diff.WriteString("\n- " + s)
	}

	summary := fmt.Sprintf("Causal analysis complete. Root cause: %s. Risk: %s. Review the Reconciliation Bundle for full post-mortem and PR diff.",
		ellipsize(orDefault(root, "Unknown"), 200),
		ellipsize(orDefault(risk, "See investigation."), 150),
	)

	return &Bundle{
		PostMortem: pm.String(),
		PRDiff:     diff.String(),
		Summary:    summary,
		Fallback:   true,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ellipsize truncates s to max characters, marking the cut with "…".
func ellipsize(s string, max int) string {
	if len([]rune(s)) <= max {
		return s
	}
	return truncateRunes(s, max) + "…"
}
