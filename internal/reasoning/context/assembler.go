package context

// Package context renders the evidence store into the single text block
// that every reasoning phase receives as its "Sources".
//
// Section order is fixed (chat, commits, issues, docs, release notes) and
// independent of the order in which a caller lists sources. Absent or empty
// sources produce no section at all, so an empty selection yields "".

import (
	"encoding/json"
	"strings"

	"github.com/asktra/asktra/internal/dataset"
)

var sectionTitles = map[dataset.SourceName]string{
	dataset.SourceChat:         "## Chat",
	dataset.SourceCommits:      "## Commits",
	dataset.SourceIssues:       "## Issues",
	dataset.SourceDocs:         "## Documentation",
	dataset.SourceReleaseNotes: "## Release notes",
}

// Selection resolves an include filter into a set of sources. An empty
// filter or one containing "all" selects every source. Unknown names are
// ignored.
func Selection(include []string) map[dataset.SourceName]bool {
	selected := make(map[dataset.SourceName]bool, len(dataset.Sources))
	all := len(include) == 0
	for _, name := range include {
		if strings.EqualFold(strings.TrimSpace(name), dataset.SourceAll) {
			all = true
			break
		}
		if src, ok := dataset.ParseSourceName(name); ok {
			selected[src] = true
		}
	}
	if all {
		for _, src := range dataset.Sources {
			selected[src] = true
		}
	}
	return selected
}

// Assemble renders the selected, non-empty sources of store.
func Assemble(store *dataset.Store, include []string) string {
	if store == nil {
		return ""
	}
	selected := Selection(include)

	var sections []string
	for _, name := range dataset.Sources {
		if !selected[name] || !store.Has(name) {
			continue
		}
		body := renderSource(store, name)
		if strings.TrimSpace(body) == "" {
			continue
		}
		sections = append(sections, sectionTitles[name]+"\n"+body)
	}
	return strings.Join(sections, "\n\n")
}

// SelectedNames lists the sources Assemble would render, in render order.
func SelectedNames(store *dataset.Store, include []string) []dataset.SourceName {
	selected := Selection(include)
	var out []dataset.SourceName
	for _, name := range store.Present() {
		if selected[name] {
			out = append(out, name)
		}
	}
	return out
}

func renderSource(store *dataset.Store, name dataset.SourceName) string {
	if raw, ok := store.Raw[name]; ok {
		return raw
	}
	switch name {
	case dataset.SourceChat:
		return renderRecords(store.Chat)
	case dataset.SourceCommits:
		return renderRecords(store.Commits)
	case dataset.SourceIssues:
		return renderRecords(store.Issues)
	case dataset.SourceDocs:
		return store.Docs
	case dataset.SourceReleaseNotes:
		return store.ReleaseNotes
	}
	return ""
}

// renderRecords serializes records as indented JSON. Struct field order
// keeps the output stable across runs.
func renderRecords(records interface{}) string {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
