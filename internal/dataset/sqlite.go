package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// SQLiteSource reads evidence from a SQLite file. Expected tables:
//
//	chat_messages(timestamp, channel, author, message)
//	commits(hash, short_hash, timestamp, author, message, change, diff)
//	issues(id, title, status, comment)
//	documents(kind, body)  -- kind is 'docs' or 'release_notes'
//
// Missing tables omit the corresponding source; a missing file yields an
// empty store.
type SQLiteSource struct {
	Path string
}

func (s SQLiteSource) Name() string { return "sqlite:" + s.Path }

func (s SQLiteSource) Read(ctx context.Context) (*Store, error) {
	if _, err := os.Stat(s.Path); errors.Is(err, fs.ErrNotExist) {
		return &Store{}, nil
	}

	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return &Store{}, fmt.Errorf("open sqlite %s: %w", s.Path, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return &Store{}, fmt.Errorf("ping sqlite %s: %w", s.Path, err)
	}

	tables, err := listTables(ctx, db)
	if err != nil {
		return &Store{}, err
	}

	store := &Store{}
	if tables["chat_messages"] {
		if store.Chat, err = readChat(ctx, db); err != nil {
			return store, err
		}
	}
	if tables["commits"] {
		if store.Commits, err = readCommits(ctx, db); err != nil {
			return store, err
		}
	}
	if tables["issues"] {
		if store.Issues, err = readIssues(ctx, db); err != nil {
			return store, err
		}
	}
	if tables["documents"] {
		if err := readDocuments(ctx, db, store); err != nil {
			return store, err
		}
	}
	return store, nil
}

func listTables(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables[name] = true
	}
	return tables, rows.Err()
}

func readChat(ctx context.Context, db *sql.DB) ([]ChatRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT COALESCE(timestamp, ''), COALESCE(channel, ''), COALESCE(author, ''), COALESCE(message, '')
		FROM chat_messages ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query chat_messages: %w", err)
	}
	defer rows.Close()

	var out []ChatRecord
	for rows.Next() {
		var r ChatRecord
		if err := rows.Scan(&r.Timestamp, &r.Channel, &r.Author, &r.Message); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func readCommits(ctx context.Context, db *sql.DB) ([]CommitRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT COALESCE(hash, ''), COALESCE(short_hash, ''), COALESCE(timestamp, ''),
		       COALESCE(author, ''), COALESCE(message, ''), COALESCE(change, ''), COALESCE(diff, '')
		FROM commits ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	var out []CommitRecord
	for rows.Next() {
		var r CommitRecord
		if err := rows.Scan(&r.Hash, &r.ShortHash, &r.Timestamp, &r.Author, &r.Message, &r.Change, &r.Diff); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func readIssues(ctx context.Context, db *sql.DB) ([]IssueRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT COALESCE(id, ''), COALESCE(title, ''), COALESCE(status, ''), COALESCE(comment, '')
		FROM issues ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	var out []IssueRecord
	for rows.Next() {
		var r IssueRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Status, &r.Comment); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// readDocuments concatenates every body of the same kind in insertion order.
func readDocuments(ctx context.Context, db *sql.DB, store *Store) error {
	rows, err := db.QueryContext(ctx, `SELECT COALESCE(kind, ''), COALESCE(body, '') FROM documents ORDER BY rowid ASC`)
	if err != nil {
		return fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs, notes []string
	for rows.Next() {
		var kind, body string
		if err := rows.Scan(&kind, &body); err != nil {
			return err
		}
		name, ok := ParseSourceName(kind)
		if !ok {
			continue
		}
		switch name {
		case SourceDocs:
			docs = append(docs, body)
		case SourceReleaseNotes:
			notes = append(notes, body)
		}
	}
	store.Docs = strings.Join(docs, "\n\n")
	store.ReleaseNotes = strings.Join(notes, "\n\n")
	return rows.Err()
}
