package workers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// fuzzyMinLength keeps short tokens exact; edits on them match too much.
	fuzzyMinLength = 4
)

// searchIndex is an inverted token index stored in SQLite.
type searchIndex struct {
	db *sql.DB
}

func openSearchIndex(path string) (*searchIndex, error) {
	if strings.TrimSpace(path) == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS docs (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			token TEXT NOT NULL,
			doc_id TEXT NOT NULL REFERENCES docs(id) ON DELETE CASCADE,
			PRIMARY KEY (token, doc_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_doc ON tokens(doc_id)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init search schema: %w", err)
		}
	}
	return &searchIndex{db: db}, nil
}

func (s *searchIndex) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add stores or replaces one document and its tokens.
func (s *searchIndex) Add(ctx context.Context, id, text string) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `INSERT INTO docs (id, text) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET text = excluded.text`, id, text); err != nil {
			return fmt.Errorf("store doc %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tokens WHERE doc_id = ?`, id); err != nil {
			return fmt.Errorf("reset tokens for %s: %w", id, err)
		}
		for _, tok := range uniqueTokens(text) {
			if _, err := tx.ExecContext(ctx, `INSERT INTO tokens (token, doc_id) VALUES (?, ?)`, tok, id); err != nil {
				return fmt.Errorf("store token for %s: %w", id, err)
			}
		}
		return tx.Commit()
	})
}

// Search returns the IDs of documents matching every token of query, sorted.
// With distance > 0, tokens of sufficient length also match indexed tokens
// within that edit distance.
func (s *searchIndex) Search(ctx context.Context, query string, distance int) ([]string, error) {
	terms := uniqueTokens(query)
	if len(terms) == 0 {
		return []string{}, nil
	}

	var vocabulary []string
	if distance > 0 {
		var err error
		if vocabulary, err = s.vocabulary(ctx); err != nil {
			return nil, err
		}
	}

	var result map[string]struct{}
	for _, term := range terms {
		variants := []string{term}
		if distance > 0 && len([]rune(term)) >= fuzzyMinLength {
			for _, candidate := range vocabulary {
				if candidate != term && levenshtein.ComputeDistance(term, candidate) <= distance {
					variants = append(variants, candidate)
				}
			}
		}
		docs, err := s.docsFor(ctx, variants)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = docs
		} else {
			for id := range result {
				if _, ok := docs[id]; !ok {
					delete(result, id)
				}
			}
		}
		if len(result) == 0 {
			break
		}
	}

	ids := make([]string, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *searchIndex) docsFor(ctx context.Context, tokens []string) (map[string]struct{}, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tokens)), ",")
	args := make([]any, len(tokens))
	for i, tok := range tokens {
		args[i] = tok
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT doc_id FROM tokens WHERE token IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (s *searchIndex) vocabulary(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT token FROM tokens`)
	if err != nil {
		return nil, fmt.Errorf("query vocabulary: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

// Count returns the number of indexed documents.
func (s *searchIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs`).Scan(&n)
	return n, err
}

// Clear removes every document.
func (s *searchIndex) Clear(ctx context.Context) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM docs`)
		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
