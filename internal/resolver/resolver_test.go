package resolver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asktra/asktra/internal/dataset"
)

func testStore() *dataset.Store {
	return &dataset.Store{
		Chat: []dataset.ChatRecord{
			{Timestamp: "2024-02-27 10:02", Channel: "#platform", Author: "dana", Message: "bumping the session timeout"},
			{Timestamp: "2024-03-01 09:15", Channel: "security", Author: "lee", Message: "timeout must stay at 15 minutes"},
		},
		Commits: []dataset.CommitRecord{
			{Hash: "8a2f91c4d0", Timestamp: "2024-03-02", Author: "sam", Message: "raise session timeout", Change: "timeout 15m -> 60m", Diff: "-15m\n+60m"},
			{Hash: "c0ffee1234", ShortHash: "c0ffee1", Timestamp: "2024-03-04", Author: "ari", Message: "docs", Change: "readme"},
		},
		Issues: []dataset.IssueRecord{
			{ID: "SEC-442", Title: "Session timeout policy", Status: "Open", Comment: "must be 15 minutes"},
		},
		Docs:         "Sessions expire after 15 minutes of inactivity.",
		ReleaseNotes: "v2.4: session timeout configurable.",
	}
}

func TestResolveTypedRules(t *testing.T) {
	r := New(Options{})

	tests := []struct {
		name     string
		citation string
		typ      SourceType
		contains []string
	}{
		{
			name:     "chat by channel",
			citation: "Slack #security 2024-03-01",
			typ:      TypeChat,
			contains: []string{"[2024-03-01 09:15] #security — lee: timeout must stay at 15 minutes"},
		},
		{
			name:     "chat by timestamp",
			citation: "chat 2024-02-27 10:02",
			typ:      TypeChat,
			contains: []string{"#platform — dana"},
		},
		{
			name:     "chat by date of a full timestamp",
			citation: "Slack 2024-03-01",
			typ:      TypeChat,
			contains: []string{"[2024-03-01 09:15] #security — lee"},
		},
		{
			name:     "chat by ISO date",
			citation: "chat thread from 2024-02-27",
			typ:      TypeChat,
			contains: []string{"#platform — dana"},
		},
		{
			name:     "chat falls back to first message",
			citation: "Slack thread",
			typ:      TypeChat,
			contains: []string{"dana"},
		},
		{
			name:     "commit by short prefix of hash",
			citation: "Commit 8a2f91c",
			typ:      TypeCommit,
			contains: []string{"commit 8a2f91c4d0 (2024-03-02) — sam", "  raise session timeout", "\n  Diff:\n  -15m"},
		},
		{
			name:     "commit by declared short hash",
			citation: "see C0FFEE1",
			typ:      TypeCommit,
			contains: []string{"commit c0ffee1234 (2024-03-04) — ari"},
		},
		{
			name:     "issue",
			citation: "Jira sec-442",
			typ:      TypeIssue,
			contains: []string{"SEC-442 — Session timeout policy (Open)\n  must be 15 minutes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(testStore(), []string{tt.citation})
			require.Len(t, got, 1)
			assert.Equal(t, tt.typ, got[0].Type)
			assert.Equal(t, tt.citation, got[0].Label)
			for _, want := range tt.contains {
				assert.Contains(t, got[0].Content, want)
			}
		})
	}
}

func TestResolveCommitWithoutDiff(t *testing.T) {
	got := New(Options{}).Resolve(testStore(), []string{"commit c0ffee1"})
	require.Len(t, got, 1)
	assert.NotContains(t, got[0].Content, "Diff:")
}

func TestResolveUnmatchedCommitFallsThrough(t *testing.T) {
	// "Commit 8a2f" matches the commit pattern but no hash; with no docs
	// the citation itself is the content.
	store := &dataset.Store{Commits: []dataset.CommitRecord{{Hash: "deadbeef00"}}}

	got := New(Options{}).Resolve(store, []string{"Commit 8a2f"})
	require.Len(t, got, 1)
	assert.Equal(t, TypeDocument, got[0].Type)
	assert.Equal(t, "Commit 8a2f", got[0].Content)
}

func TestResolveDocumentFallback(t *testing.T) {
	store := testStore()
	store.Docs = strings.Repeat("d", 1000)
	store.ReleaseNotes = strings.Repeat("r", 600)

	got := New(Options{}).Resolve(store, []string{"Docs §3"})
	require.Len(t, got, 1)
	assert.Equal(t, TypeDocument, got[0].Type)

	parts := strings.Split(got[0].Content, "\n\n---\n\n")
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], DefaultDocBudget)
	assert.Len(t, parts[1], DefaultReleaseBudget)
}

func TestResolveDocumentBudgets(t *testing.T) {
	store := &dataset.Store{Docs: "ééééé", ReleaseNotes: "notes"}

	got := New(Options{DocBudget: 3, ReleaseBudget: 2}).Resolve(store, []string{"architecture doc"})
	require.Len(t, got, 1)
	assert.Equal(t, "ééé\n\n---\n\nno", got[0].Content)
}

func TestResolveDocumentWithoutReleaseNotes(t *testing.T) {
	store := &dataset.Store{Docs: "only docs"}

	got := New(Options{}).Resolve(store, []string{"Docs"})
	require.Len(t, got, 1)
	assert.Equal(t, "only docs", got[0].Content)
}

func TestResolveEmptyAndDuplicates(t *testing.T) {
	r := New(Options{})

	assert.Empty(t, r.Resolve(testStore(), nil))
	assert.Empty(t, r.Resolve(testStore(), []string{"", "   "}))

	got := r.Resolve(testStore(), []string{"SEC-442", " SEC-442 ", "Docs", "SEC-442"})
	require.Len(t, got, 2)
	assert.Equal(t, "SEC-442", got[0].Label)
	assert.Equal(t, TypeIssue, got[0].Type)
	assert.Equal(t, "Docs", got[1].Label)
}

func TestResolveNilStore(t *testing.T) {
	got := New(Options{}).Resolve(nil, []string{"Slack #security"})
	require.Len(t, got, 1)
	assert.Equal(t, TypeDocument, got[0].Type)
	assert.Equal(t, "Slack #security", got[0].Content)
}

func TestRulesOrder(t *testing.T) {
	rules := New(Options{}).Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, []SourceType{TypeChat, TypeCommit, TypeIssue},
		[]SourceType{rules[0].Type, rules[1].Type, rules[2].Type})
}

func TestResolveCommitByShortHashField(t *testing.T) {
	store := &dataset.Store{Commits: []dataset.CommitRecord{
		{Hash: "8a2f3b9e", ShortHash: "8a2f", Author: "sam", Message: "raise session timeout"},
	}}

	got := New(Options{}).Resolve(store, []string{"Commit 8a2f"})
	require.Len(t, got, 1)
	assert.Equal(t, TypeCommit, got[0].Type)
	assert.Contains(t, got[0].Content, "raise session timeout")
}
