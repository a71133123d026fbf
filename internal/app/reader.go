package app

import (
	"context"
	"sort"

	"kanban/api/internal/store"
)

// BoardDetail is the nested board view: columns in position order, each with
// its active cards in position order.
type BoardDetail struct {
	BoardView
	Columns []ColumnDetail `json:"columns"`
	Members []MemberView   `json:"members"`
	Labels  []LabelView    `json:"labels"`
}

type ColumnDetail struct {
	ColumnView
	Cards []CardDetail `json:"cards"`
}

// CardDetail resolves a card's labels and assignee. Assignee is null, not
// omitted, when unset or when the user no longer exists.
type CardDetail struct {
	CardView
	Labels   []LabelView `json:"labels"`
	Assignee *PublicUser `json:"assignee"`
}

// GetBoard returns the board aggregate. Non-members get NotFound.
func (s *Service) GetBoard(ctx context.Context, p Principal, boardID int64) (BoardDetail, error) {
	if _, err := s.guard.RequireRead(ctx, boardID, p.UserID); err != nil {
		return BoardDetail{}, translate(err, "Board")
	}
	return s.readBoard(ctx, boardID)
}

func (s *Service) readBoard(ctx context.Context, boardID int64) (BoardDetail, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return BoardDetail{}, translate(err, "Board")
	}
	columns, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return BoardDetail{}, err
	}
	cards, err := s.store.ListCards(ctx, boardID)
	if err != nil {
		return BoardDetail{}, err
	}
	members, err := s.store.ListMembers(ctx, boardID)
	if err != nil {
		return BoardDetail{}, err
	}
	labels, err := s.store.ListLabels(ctx, boardID)
	if err != nil {
		return BoardDetail{}, err
	}

	details, err := s.cardDetails(ctx, cards)
	if err != nil {
		return BoardDetail{}, err
	}

	sort.SliceStable(columns, func(i, j int) bool {
		if columns[i].Position != columns[j].Position {
			return columns[i].Position < columns[j].Position
		}
		return columns[i].ID < columns[j].ID
	})
	byColumn := make(map[int64][]CardDetail, len(columns))
	for _, card := range details {
		if card.ArchivedAt != nil {
			continue
		}
		byColumn[card.ColumnID] = append(byColumn[card.ColumnID], card)
	}

	out := BoardDetail{
		BoardView: boardView(board),
		Columns:   make([]ColumnDetail, 0, len(columns)),
		Members:   make([]MemberView, 0, len(members)),
		Labels:    labelViews(labels),
	}
	for _, col := range columns {
		colCards := byColumn[col.ID]
		sort.SliceStable(colCards, func(i, j int) bool {
			if colCards[i].Position != colCards[j].Position {
				return colCards[i].Position < colCards[j].Position
			}
			return colCards[i].ID < colCards[j].ID
		})
		if colCards == nil {
			colCards = []CardDetail{}
		}
		out.Columns = append(out.Columns, ColumnDetail{ColumnView: columnView(col), Cards: colCards})
	}
	for _, m := range members {
		out.Members = append(out.Members, memberView(m))
	}
	return out, nil
}

// cardDetails resolves labels and assignees for cards with one query each.
func (s *Service) cardDetails(ctx context.Context, cards []store.Card) ([]CardDetail, error) {
	if len(cards) == 0 {
		return []CardDetail{}, nil
	}
	cardIDs := make([]int64, 0, len(cards))
	assigneeSet := map[int64]struct{}{}
	for _, c := range cards {
		cardIDs = append(cardIDs, c.ID)
		if c.AssigneeID != nil {
			assigneeSet[*c.AssigneeID] = struct{}{}
		}
	}

	cardLabels, err := s.store.ListCardLabels(ctx, cardIDs)
	if err != nil {
		return nil, err
	}
	labelsByCard := make(map[int64][]LabelView, len(cards))
	for _, cl := range cardLabels {
		labelsByCard[cl.CardID] = append(labelsByCard[cl.CardID], labelView(cl.Label))
	}

	users := map[int64]PublicUser{}
	if len(assigneeSet) > 0 {
		ids := make([]int64, 0, len(assigneeSet))
		for id := range assigneeSet {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		found, err := s.store.ListUsersByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, u := range found {
			users[u.ID] = publicUser(u)
		}
	}

	out := make([]CardDetail, 0, len(cards))
	for _, c := range cards {
		detail := CardDetail{CardView: cardView(c), Labels: labelsByCard[c.ID]}
		if detail.Labels == nil {
			detail.Labels = []LabelView{}
		}
		if c.AssigneeID != nil {
			if u, ok := users[*c.AssigneeID]; ok {
				detail.Assignee = &u
			}
		}
		out = append(out, detail)
	}
	return out, nil
}

func (s *Service) cardDetail(ctx context.Context, card store.Card) (CardDetail, error) {
	details, err := s.cardDetails(ctx, []store.Card{card})
	if err != nil {
		return CardDetail{}, err
	}
	return details[0], nil
}
