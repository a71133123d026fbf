package search

import "context"

// Result is a single card hit returned to the caller.
type Result struct {
	CardID   int64  `json:"cardId"`
	ColumnID int64  `json:"columnId"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Archived bool   `json:"archived"`
}

// Query describes a card search within one board.
type Query struct {
	BoardID         int64
	Text            string
	Limit           int
	Offset          int
	IncludeArchived bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID          int64  `json:"id"`
	BoardID     int64  `json:"boardId"`
	ColumnID    int64  `json:"columnId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Archived    bool   `json:"archived"`
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
