package search

import (
	"context"
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili    *Meili
	fallback Searcher
	log      *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{meili: meili, fallback: fallback, log: log.With("component", "search")}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to pgfts", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("pgfts search", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCard indexes a card (fire-and-forget to Meilisearch).
func (s *Service) IndexCard(card CardRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexCards([]CardRecord{card}); err != nil {
			s.log.Warn("index card", "card_id", card.ID, "error", err)
		}
	}()
}

// DeleteCard removes a card from the search index (fire-and-forget).
func (s *Service) DeleteCard(id int64) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteCard(id); err != nil {
			s.log.Warn("delete card from index", "card_id", id, "error", err)
		}
	}()
}

// ReindexAllFromPG pushes every card from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context, pg *PgFTS) {
	if !s.meiliReady() || pg == nil {
		return
	}
	cards, err := pg.LoadAllCards(ctx)
	if err != nil {
		s.log.Error("reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexCards(cards); err != nil {
		s.log.Error("reindex cards", "error", err)
		return
	}
	s.log.Info("reindexed cards", "count", len(cards))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
