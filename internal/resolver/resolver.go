// Package resolver maps citation labels chosen by the model back to the
// evidence they point at.
//
// Citations are opaque strings ("Slack #security 2024-03-01", "Commit 8a2f",
// "SEC-442", "Docs §3"). Each one is run through an ordered list of rules;
// the first rule whose pattern matches and which finds a record wins. A
// citation no typed rule can place becomes a document excerpt, so every
// citation resolves to something non-empty.
package resolver

import (
	"strings"

	"github.com/asktra/asktra/internal/dataset"
	"github.com/asktra/asktra/internal/metrics"
)

// SourceType is the kind of evidence a citation resolved to.
type SourceType string

const (
	TypeChat     SourceType = "chat"
	TypeCommit   SourceType = "commit"
	TypeIssue    SourceType = "issue"
	TypeDocument SourceType = "document"
)

// SourceDetail is one resolved citation.
type SourceDetail struct {
	Type    SourceType `json:"type"`
	Label   string     `json:"label"`
	Content string     `json:"content"`
}

const (
	DefaultDocBudget     = 800
	DefaultReleaseBudget = 400
)

// Options tune the document fallback excerpt.
type Options struct {
	DocBudget     int // characters of documentation kept
	ReleaseBudget int // characters of release notes appended
}

// Resolver applies the rule list to citations.
type Resolver struct {
	rules []Rule
	opts  Options
}

// New creates a resolver with the standard rule order: chat, commit,
// issue. The document fallback is applied after all rules.
func New(opts Options) *Resolver {
	if opts.DocBudget <= 0 {
		opts.DocBudget = DefaultDocBudget
	}
	if opts.ReleaseBudget <= 0 {
		opts.ReleaseBudget = DefaultReleaseBudget
	}
	return &Resolver{rules: DefaultRules(), opts: opts}
}

// Rules returns the rule list in priority order.
func (r *Resolver) Rules() []Rule {
	return r.rules
}

// Resolve resolves citations against store. Citations are trimmed, blank
// ones skipped and duplicates dropped (first occurrence wins).
func (r *Resolver) Resolve(store *dataset.Store, citations []string) []SourceDetail {
	out := []SourceDetail{}
	seen := make(map[string]bool, len(citations))

	for _, raw := range citations {
		label := strings.TrimSpace(raw)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true

		detail, ok := r.classify(store, label)
		if !ok {
			detail = r.document(store, label)
		}
		metrics.CitationsResolvedTotal.WithLabelValues(string(detail.Type)).Inc()
		out = append(out, detail)
	}
	return out
}

func (r *Resolver) classify(store *dataset.Store, label string) (SourceDetail, bool) {
	if store == nil {
		return SourceDetail{}, false
	}
	for _, rule := range r.rules {
		if !rule.Pattern.MatchString(label) {
			continue
		}
		if content, ok := rule.Find(store, label); ok {
			return SourceDetail{Type: rule.Type, Label: label, Content: content}, true
		}
	}
	return SourceDetail{}, false
}

// document builds the fallback excerpt: truncated docs, then a divider and
// truncated release notes. Without docs the citation itself is the content.
func (r *Resolver) document(store *dataset.Store, label string) SourceDetail {
	detail := SourceDetail{Type: TypeDocument, Label: label, Content: label}
	if store == nil || strings.TrimSpace(store.Docs) == "" {
		return detail
	}

	content := truncate(strings.TrimSpace(store.Docs), r.opts.DocBudget)
	if notes := strings.TrimSpace(store.ReleaseNotes); notes != "" {
		content += "\n\n---\n\n" + truncate(notes, r.opts.ReleaseBudget)
	}
	detail.Content = content
	return detail
}

// truncate cuts s to at most max characters without splitting a rune.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
