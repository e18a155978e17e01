package dataset

import (
	"encoding/json"
	"strings"
)

// SourceName identifies one of the five evidence sources.
type SourceName string

const (
	SourceChat         SourceName = "chat"
	SourceCommits      SourceName = "commits"
	SourceIssues       SourceName = "issues"
	SourceReleaseNotes SourceName = "release_notes"
	SourceDocs         SourceName = "docs"
)

// SourceAll selects every source when passed as an include filter.
const SourceAll = "all"

// Sources lists every source in rendering order.
var Sources = []SourceName{SourceChat, SourceCommits, SourceIssues, SourceDocs, SourceReleaseNotes}

var aliases = map[string]SourceName{
	"chat":          SourceChat,
	"slack":         SourceChat,
	"commits":       SourceCommits,
	"git":           SourceCommits,
	"issues":        SourceIssues,
	"jira":          SourceIssues,
	"release_notes": SourceReleaseNotes,
	"releases":      SourceReleaseNotes,
	"docs":          SourceDocs,
}

// ParseSourceName normalises a source name, accepting the legacy aliases
// slack, git, jira and releases.
func ParseSourceName(s string) (SourceName, bool) {
	name, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	return name, ok
}

// IsRecordSource reports whether the source holds a record sequence rather
// than a text blob.
func (n SourceName) IsRecordSource() bool {
	return n == SourceChat || n == SourceCommits || n == SourceIssues
}

// ChatRecord is one chat message.
type ChatRecord struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
	Author    string `json:"author"`
	Message   string `json:"message"`
}

// UnmarshalJSON accepts "date" as a synonym for "timestamp".
func (r *ChatRecord) UnmarshalJSON(data []byte) error {
	type plain ChatRecord
	var aux struct {
		plain
		Date string `json:"date"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = ChatRecord(aux.plain)
	if r.Timestamp == "" {
		r.Timestamp = aux.Date
	}
	return nil
}

// CommitRecord is one commit from the commit log.
type CommitRecord struct {
	Hash      string `json:"hash"`
	ShortHash string `json:"short_hash,omitempty"`
	Timestamp string `json:"timestamp"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	Change    string `json:"change"`
	Diff      string `json:"diff,omitempty"`
}

// UnmarshalJSON accepts "date" as a synonym for "timestamp".
func (r *CommitRecord) UnmarshalJSON(data []byte) error {
	type plain CommitRecord
	var aux struct {
		plain
		Date string `json:"date"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = CommitRecord(aux.plain)
	if r.Timestamp == "" {
		r.Timestamp = aux.Date
	}
	return nil
}

// Short returns the abbreviated hash, deriving it from the full hash when
// the record does not carry one.
func (r CommitRecord) Short() string {
	if r.ShortHash != "" {
		return r.ShortHash
	}
	if len(r.Hash) > 7 {
		return r.Hash[:7]
	}
	return r.Hash
}

// IssueRecord is one issue-tracker ticket.
type IssueRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

// Store is the in-memory evidence set. A Store is never mutated after it is
// built; Merge returns a new one.
type Store struct {
	Chat         []ChatRecord
	Commits      []CommitRecord
	Issues       []IssueRecord
	ReleaseNotes string
	Docs         string

	// Raw holds record-source content that could not be parsed into
	// records. It is rendered verbatim and ignored by citation lookup.
	Raw map[SourceName]string
}

// Has reports whether the source is present and non-empty.
func (s *Store) Has(name SourceName) bool {
	if s == nil {
		return false
	}
	if raw, ok := s.Raw[name]; ok && strings.TrimSpace(raw) != "" {
		return true
	}
	switch name {
	case SourceChat:
		return len(s.Chat) > 0
	case SourceCommits:
		return len(s.Commits) > 0
	case SourceIssues:
		return len(s.Issues) > 0
	case SourceReleaseNotes:
		return strings.TrimSpace(s.ReleaseNotes) != ""
	case SourceDocs:
		return strings.TrimSpace(s.Docs) != ""
	}
	return false
}

// Present lists the non-empty sources in rendering order.
func (s *Store) Present() []SourceName {
	var out []SourceName
	for _, name := range Sources {
		if s.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

// clone returns a shallow copy. Record slices are shared; nothing writes to
// them after load.
func (s *Store) clone() *Store {
	if s == nil {
		return &Store{}
	}
	c := *s
	if s.Raw != nil {
		c.Raw = make(map[SourceName]string, len(s.Raw))
		for k, v := range s.Raw {
			c.Raw[k] = v
		}
	}
	return &c
}

// MarshalJSON renders the store as a source-name keyed object containing
// only the sources that are present.
func (s *Store) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(Sources))
	for _, name := range s.Present() {
		if raw, ok := s.Raw[name]; ok {
			out[string(name)] = raw
			continue
		}
		switch name {
		case SourceChat:
			out[string(name)] = s.Chat
		case SourceCommits:
			out[string(name)] = s.Commits
		case SourceIssues:
			out[string(name)] = s.Issues
		case SourceReleaseNotes:
			out[string(name)] = s.ReleaseNotes
		case SourceDocs:
			out[string(name)] = s.Docs
		}
	}
	return json.Marshal(out)
}
