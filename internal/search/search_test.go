package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgFTSSearchScopesToBoard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM cards c JOIN columns col .* AND c.archived_at IS NULL`).
		WithArgs(int64(3), "deploy").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT c.id, c.column_id, c.title,.*LIMIT 20 OFFSET 0`).
		WithArgs(int64(3), "deploy").
		WillReturnRows(sqlmock.NewRows([]string{"id", "column_id", "title", "snippet", "archived"}).
			AddRow(int64(11), int64(2), "Deploy API", "<b>deploy</b> to prod", false))

	results, total, err := NewPgFTS(db).Search(context.Background(), Query{BoardID: 3, Text: "deploy"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, int64(11), results[0].CardID)
	assert.Equal(t, int64(2), results[0].ColumnID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFTSBlankQuery(t *testing.T) {
	results, total, err := NewPgFTS(nil).Search(context.Background(), Query{BoardID: 1, Text: "   "})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, results)
}

type stubSearcher struct {
	results []Result
	err     error
	seen    Query
}

func (s *stubSearcher) Search(_ context.Context, q Query) ([]Result, int, error) {
	s.seen = q
	return s.results, len(s.results), s.err
}

func (s *stubSearcher) Healthy() bool { return true }

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	fallback := &stubSearcher{results: []Result{{CardID: 1, Title: "one"}}}
	resp := NewService(nil, fallback, nil).Search(context.Background(), Query{BoardID: 9, Text: "one"})

	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "one", resp.Query)
	assert.Equal(t, int64(9), fallback.seen.BoardID)
}

func TestServiceSwallowsFallbackErrors(t *testing.T) {
	resp := NewService(nil, &stubSearcher{err: errors.New("boom")}, nil).Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestHitToResultPrefersHighlight(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`12`),
		"columnId":   json.RawMessage(`4`),
		"title":      json.RawMessage(`"Fix login"`),
		"archived":   json.RawMessage(`true`),
		"_formatted": json.RawMessage(`{"title":"Fix <mark>login</mark>","id":"12"}`),
	}
	r := hitToResult(hit)
	assert.Equal(t, int64(12), r.CardID)
	assert.Equal(t, int64(4), r.ColumnID)
	assert.Equal(t, "Fix <mark>login</mark>", r.Title)
	assert.True(t, r.Archived)
}

func TestQueryBounds(t *testing.T) {
	assert.Equal(t, 20, Query{}.limit())
	assert.Equal(t, 20, Query{Limit: 1000}.limit())
	assert.Equal(t, 5, Query{Limit: 5}.limit())
	assert.Equal(t, 0, Query{Offset: -3}.offset())
}
