package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// FTS5KeywordIndex implements KeywordIndex with an external-content FTS5
// table over the chunks table. Stemming uses the porter tokenizer.
//
// Triggers on chunks update chunks_fts for every insert, upsert and delete,
// so the keyword index commits or rolls back with the chunk writes.
type FTS5KeywordIndex struct {
	db *sql.DB
}

var _ KeywordIndex = (*FTS5KeywordIndex)(nil)

// The 'delete' command must see the exact content that was indexed, which
// old.content provides.
const fts5Schema = `
	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		content='chunks',
		content_rowid='seq',
		tokenize='porter unicode61'
	);
	CREATE TRIGGER IF NOT EXISTS chunks_fts_insert AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, content) VALUES (new.seq, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_fts_update AFTER UPDATE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.seq, old.content);
		INSERT INTO chunks_fts(rowid, content) VALUES (new.seq, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_fts_delete AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.seq, old.content);
	END;`

// NewFTS5KeywordIndex creates the FTS5 table and its triggers on db if
// needed. The chunks table must already exist.
func NewFTS5KeywordIndex(ctx context.Context, db *sql.DB) (*FTS5KeywordIndex, error) {
	if _, err := db.ExecContext(ctx, fts5Schema); err != nil {
		return nil, fmt.Errorf("failed to create fts5 table: %w", err)
	}
	return &FTS5KeywordIndex{db: db}, nil
}

// Search returns documents matching every query term, best BM25 first.
// Queries that reduce to no terms, or that FTS5 rejects, return no results.
func (f *FTS5KeywordIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordHit, error) {
	match := ftsMatchQuery(query)
	limit = searchLimit(limit)
	if match == "" {
		return []*KeywordHit{}, nil
	}

	// bm25() is negative, lower is better
	rows, err := f.db.QueryContext(ctx, `
		SELECT c.id, m.score
		FROM (
			SELECT rowid, bm25(chunks_fts) AS score
			FROM chunks_fts
			WHERE chunks_fts MATCH ?
			ORDER BY score
			LIMIT ?
		) AS m
		JOIN chunks c ON c.seq = m.rowid
		ORDER BY m.score`, match, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*KeywordHit{}, nil
		}
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	hits := make([]*KeywordHit, 0, limit)
	for rows.Next() {
		var hit KeywordHit
		if err := rows.Scan(&hit.ID, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		hit.Score = -hit.Score
		hits = append(hits, &hit)
	}
	return hits, rows.Err()
}

// Verify checks chunks_fts against the chunks table and rebuilds it when
// they disagree.
func (f *FTS5KeywordIndex) Verify(ctx context.Context) error {
	_, err := f.db.ExecContext(ctx, `INSERT INTO chunks_fts(chunks_fts, rank) VALUES ('integrity-check', 1)`)
	if err == nil {
		return nil
	}
	slog.Warn("keyword_index_rebuild", slog.String("reason", err.Error()))
	return f.Rebuild(ctx)
}

// Rebuild reindexes chunks_fts from the chunks table.
func (f *FTS5KeywordIndex) Rebuild(ctx context.Context) error {
	if _, err := f.db.ExecContext(ctx, `INSERT INTO chunks_fts(chunks_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("failed to rebuild fts: %w", err)
	}
	return nil
}

// Close is a no-op; the database handle belongs to SQLiteStorage.
func (f *FTS5KeywordIndex) Close() error {
	return nil
}

// inClause expands a single %s in format into one placeholder per id.
func inClause(format string, ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return fmt.Sprintf(format, strings.Join(placeholders, ",")), args
}
