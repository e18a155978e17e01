package dataset

// Package dataset loads the evidence sources a reasoning run draws on:
// chat messages, commits, issues, release notes and documentation.
//
// The store is read once per process and shared read-only between
// requests. Per-request overrides go through Merge, which always returns a
// fresh Store.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Source reads a complete evidence store from some backing medium.
// A source that is missing entirely should return an empty Store, not an
// error; errors are reserved for unreadable media.
type Source interface {
	Name() string
	Read(ctx context.Context) (*Store, error)
}

// Loader caches the store produced by its Source for the process lifetime.
type Loader struct {
	source Source
	logger *zap.Logger

	once  sync.Once
	store *Store
}

// NewLoader creates a loader over source.
func NewLoader(source Source, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{source: source, logger: logger}
}

// Load returns the cached store, reading it on first use. Load never fails:
// read errors are logged and an empty (or partial) store is returned.
//
// The read ignores cancellation of ctx: the result is cached for every
// later caller, so one aborted request must not leave it empty.
func (l *Loader) Load(ctx context.Context) *Store {
	l.once.Do(func() {
		store, err := l.source.Read(context.WithoutCancel(ctx))
		if err != nil {
			l.logger.Warn("dataset read failed; continuing with partial evidence",
				zap.String("source", l.source.Name()),
				zap.Error(err),
			)
		}
		if store == nil {
			store = &Store{}
		}
		l.store = store
		l.logger.Info("dataset loaded",
			zap.String("source", l.source.Name()),
			zap.Int("chat", len(store.Chat)),
			zap.Int("commits", len(store.Commits)),
			zap.Int("issues", len(store.Issues)),
			zap.Bool("docs", store.Has(SourceDocs)),
			zap.Bool("release_notes", store.Has(SourceReleaseNotes)),
		)
	})
	return l.store
}

// ─── Directory source ─────────────────────────────────────────────────────────

// fileNames lists candidate file names per source; the first one that
// exists wins.
var fileNames = map[SourceName][]string{
	SourceChat:         {"chat.json", "slack.json"},
	SourceCommits:      {"commits.json", "git.json"},
	SourceIssues:       {"issues.json", "jira.json"},
	SourceReleaseNotes: {"release_notes.md", "releases.md"},
	SourceDocs:         {"docs.md"},
}

// DirSource reads JSON record files and Markdown blobs from a directory.
type DirSource struct {
	Dir string
}

func (d DirSource) Name() string { return "dir:" + d.Dir }

// Read loads every source file found. Missing files are skipped. A file that
// exists but cannot be read or parsed contributes an error, and the other
// sources are still returned.
func (d DirSource) Read(ctx context.Context) (*Store, error) {
	store := &Store{}
	var errs []error

	for _, name := range Sources {
		if err := ctx.Err(); err != nil {
			return store, err
		}
		data, path, err := d.readFirst(fileNames[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if data == nil {
			continue
		}

		switch name {
		case SourceDocs:
			store.Docs = string(data)
		case SourceReleaseNotes:
			store.ReleaseNotes = string(data)
		default:
			if err := store.setRecords(name, data); err != nil {
				errs = append(errs, fmt.Errorf("parse %s: %w", path, err))
			}
		}
	}
	return store, errors.Join(errs...)
}

func (d DirSource) readFirst(candidates []string) ([]byte, string, error) {
	for _, file := range candidates {
		path := filepath.Join(d.Dir, file)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, path, fmt.Errorf("read %s: %w", path, err)
		}
		return data, path, nil
	}
	return nil, "", nil
}

// ─── Static source ────────────────────────────────────────────────────────────

// StaticSource serves a fixed store. Used by the CLI when a dataset is
// passed inline and by tests.
type StaticSource struct {
	Store *Store
}

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Read(context.Context) (*Store, error) {
	return s.Store.clone(), nil
}

// DecodeStore builds a Store from a source-name keyed JSON object, using the
// same rules as Merge.
func DecodeStore(data []byte) (*Store, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return Merge(&Store{}, raw), nil
}
