package resolver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/asktra/asktra/internal/dataset"
)

// Rule is one typed classifier: Pattern decides whether the citation looks
// like this kind of evidence, Find searches the store and renders the
// snippet. A rule that matches but finds nothing lets later rules try.
type Rule struct {
	Type    SourceType
	Pattern *regexp.Regexp
	Find    func(store *dataset.Store, citation string) (string, bool)
}

var (
	chatPattern   = regexp.MustCompile(`(?i)slack|chat|#\w+`)
	commitPattern = regexp.MustCompile(`(?i)commit|[0-9a-f]{4,}`)
	issuePattern  = regexp.MustCompile(`(?i)\b[a-z]{2,6}-\d+\b`)
)

// DefaultRules returns chat, commit and issue rules in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{Type: TypeChat, Pattern: chatPattern, Find: findChat},
		{Type: TypeCommit, Pattern: commitPattern, Find: findCommit},
		{Type: TypeIssue, Pattern: issuePattern, Find: findIssue},
	}
}

// findChat prefers a message whose full timestamp or channel appears in the
// citation, then one whose date appears, and otherwise falls back to the
// first message.
//
// TODO: commit and issue rules fall through when nothing matches; decide
// whether an unmatched chat citation should do the same.
func findChat(store *dataset.Store, citation string) (string, bool) {
	if len(store.Chat) == 0 {
		return "", false
	}
	lower := strings.ToLower(citation)

	for _, rec := range store.Chat {
		channel := strings.ToLower(strings.TrimPrefix(rec.Channel, "#"))
		if (rec.Timestamp != "" && strings.Contains(citation, rec.Timestamp)) ||
			(channel != "" && strings.Contains(lower, channel)) {
			return formatChat(rec), true
		}
	}
	for _, rec := range store.Chat {
		if date := chatDate(rec.Timestamp); date != "" && strings.Contains(citation, date) {
			return formatChat(rec), true
		}
	}
	return formatChat(store.Chat[0]), true
}

// chatDate returns the date part of a timestamp: everything before the
// first 'T' or space.
func chatDate(ts string) string {
	ts = strings.TrimSpace(ts)
	if i := strings.IndexAny(ts, "T "); i > 0 {
		return ts[:i]
	}
	return ts
}

func formatChat(rec dataset.ChatRecord) string {
	return fmt.Sprintf("[%s] #%s — %s: %s", rec.Timestamp, strings.TrimPrefix(rec.Channel, "#"), rec.Author, rec.Message)
}

// findCommit matches the full or short hash as a substring or suffix of the
// citation, case-insensitively.
func findCommit(store *dataset.Store, citation string) (string, bool) {
	lower := strings.ToLower(citation)
	for _, rec := range store.Commits {
		if hashMatches(lower, strings.ToLower(rec.Hash)) || hashMatches(lower, strings.ToLower(rec.Short())) {
			return formatCommit(rec), true
		}
	}
	return "", false
}

func hashMatches(citation, hash string) bool {
	return hash != "" && (strings.Contains(citation, hash) || strings.HasSuffix(citation, hash))
}

func formatCommit(rec dataset.CommitRecord) string {
	hash := rec.Hash
	if hash == "" {
		hash = rec.ShortHash
	}
	s := fmt.Sprintf("commit %s (%s) — %s\n  %s\n  %s", hash, rec.Timestamp, rec.Author, rec.Message, rec.Change)
	if strings.TrimSpace(rec.Diff) != "" {
		s += "\n  Diff:\n  " + rec.Diff
	}
	return s
}

// findIssue matches an issue whose id appears in the citation.
func findIssue(store *dataset.Store, citation string) (string, bool) {
	upper := strings.ToUpper(citation)
	for _, rec := range store.Issues {
		id := strings.ToUpper(strings.TrimSpace(rec.ID))
		if id != "" && strings.Contains(upper, id) {
			return fmt.Sprintf("%s — %s (%s)\n  %s", rec.ID, rec.Title, rec.Status, rec.Comment), true
		}
	}
	return "", false
}
