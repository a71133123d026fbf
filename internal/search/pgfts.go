package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks a board's cards with plainto_tsquery/ts_rank over the
// generated search_tsv column and builds snippets with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	where := "col.board_id = $1 AND c.search_tsv @@ plainto_tsquery('english', $2)"
	if !q.IncludeArchived {
		where += " AND c.archived_at IS NULL"
	}
	from := " FROM cards c JOIN columns col ON col.id = c.column_id WHERE " + where

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*)"+from, q.BoardID, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT c.id, c.column_id, c.title,
			ts_headline('english', coalesce(c.description, ''), plainto_tsquery('english', $2), 'MaxFragments=1,MaxWords=30') AS snippet,
			c.archived_at IS NOT NULL AS archived
		%s
		ORDER BY ts_rank(c.search_tsv, plainto_tsquery('english', $2)) DESC, c.id
		LIMIT %d OFFSET %d`, from, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, q.BoardID, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.CardID, &r.ColumnID, &r.Title, &r.Snippet, &r.Archived); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllCards returns every card for full reindexing.
func (p *PgFTS) LoadAllCards(ctx context.Context) ([]CardRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id, col.board_id, c.column_id, c.title, c.description,
			coalesce(c.priority, ''), c.archived_at IS NOT NULL
		FROM cards c
		JOIN columns col ON col.id = c.column_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	defer rows.Close()

	cards := make([]CardRecord, 0)
	for rows.Next() {
		var c CardRecord
		if err := rows.Scan(&c.ID, &c.BoardID, &c.ColumnID, &c.Title, &c.Description, &c.Priority, &c.Archived); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}
