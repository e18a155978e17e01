package dataset

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Merge returns a copy of store with each present, non-empty override
// applied. Record-source overrides may be serialized JSON text or already
// decoded values; when they cannot be parsed the text is kept as raw
// content for that source. Unknown keys are ignored. When a source is given
// under both its canonical name and a legacy alias, the canonical key wins.
// Merge never fails and never modifies store.
func Merge(store *Store, overrides map[string]interface{}) *Store {
	out := store.clone()
	if len(overrides) == 0 {
		return out
	}

	chosen := selectOverrides(overrides)
	for _, name := range Sources {
		value, ok := chosen[name]
		if !ok {
			continue
		}

		if !name.IsRecordSource() {
			text := blobText(value)
			if name == SourceDocs {
				out.Docs = text
			} else {
				out.ReleaseNotes = text
			}
			continue
		}

		data, text := recordPayload(value)
		if err := out.setRecords(name, data); err != nil {
			if out.Raw == nil {
				out.Raw = make(map[SourceName]string)
			}
			out.Raw[name] = text
			out.clearRecords(name)
			continue
		}
		delete(out.Raw, name)
	}
	return out
}

// selectOverrides picks one non-empty value per source. The canonical key
// beats any alias; between aliases the lexically smallest key wins.
func selectOverrides(overrides map[string]interface{}) map[SourceName]interface{} {
	chosen := make(map[SourceName]interface{})
	keys := make(map[SourceName]string)
	for key, value := range overrides {
		name, ok := ParseSourceName(key)
		if !ok || isEmptyOverride(value) {
			continue
		}
		norm := strings.ToLower(strings.TrimSpace(key))
		if prev, seen := keys[name]; seen && !preferKey(name, norm, prev) {
			continue
		}
		keys[name] = norm
		chosen[name] = value
	}
	return chosen
}

func preferKey(name SourceName, key, current string) bool {
	canonical := string(name)
	switch {
	case current == canonical:
		return false
	case key == canonical:
		return true
	}
	return key < current
}

func (s *Store) setRecords(name SourceName, data []byte) error {
	switch name {
	case SourceChat:
		var recs []ChatRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return err
		}
		s.Chat = recs
	case SourceCommits:
		var recs []CommitRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return err
		}
		s.Commits = recs
	case SourceIssues:
		var recs []IssueRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return err
		}
		s.Issues = recs
	default:
		return fmt.Errorf("%s is not a record source", name)
	}
	return nil
}

func (s *Store) clearRecords(name SourceName) {
	switch name {
	case SourceChat:
		s.Chat = nil
	case SourceCommits:
		s.Commits = nil
	case SourceIssues:
		s.Issues = nil
	}
}

// recordPayload returns the bytes to decode and the text to keep if
// decoding fails.
func recordPayload(value interface{}) ([]byte, string) {
	if s, ok := value.(string); ok {
		return []byte(strings.TrimSpace(s)), s
	}
	data, err := json.Marshal(value)
	if err != nil {
		text := fmt.Sprint(value)
		return []byte(text), text
	}
	return data, string(data)
}

func blobText(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}

func isEmptyOverride(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}
