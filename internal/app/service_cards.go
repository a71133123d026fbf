package app

import (
	"context"
	"time"

	"kanban/api/internal/events"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

// CreateCard appends a card to the tail of the column.
func (s *Service) CreateCard(ctx context.Context, p Principal, columnID int64, in CreateCardInput) (CardDetail, error) {
	col, err := s.columnForWrite(ctx, p, columnID)
	if err != nil {
		return CardDetail{}, err
	}
	if err := in.Validate(); err != nil {
		return CardDetail{}, err
	}
	if in.AssigneeID != nil {
		if err := s.checkAssignee(ctx, col.BoardID, *in.AssigneeID); err != nil {
			return CardDetail{}, err
		}
	}
	for _, labelID := range in.LabelIDs {
		if err := s.checkBoardLabel(ctx, col.BoardID, labelID); err != nil {
			return CardDetail{}, err
		}
	}

	card, err := s.store.CreateCard(ctx, store.Card{
		ColumnID:    col.ID,
		BoardID:     col.BoardID,
		Title:       in.Title,
		Description: in.Description,
		DueDate:     in.dueDate,
		Priority:    in.Priority,
		Color:       in.Color,
		AssigneeID:  in.AssigneeID,
	}, in.LabelIDs)
	if err != nil {
		return CardDetail{}, translate(err, "Column")
	}

	detail, err := s.cardDetail(ctx, card)
	if err != nil {
		return CardDetail{}, err
	}
	s.indexCard(card)
	s.emit(ctx, p, card.BoardID, events.CardCreated, detail)
	return detail, nil
}

func (s *Service) checkAssignee(ctx context.Context, boardID, userID int64) error {
	ok, err := s.guard.IsMember(ctx, boardID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return validationFailed("Assignee must be a board member", map[string]string{"assigneeId": "is not a board member"})
	}
	return nil
}

func (s *Service) checkBoardLabel(ctx context.Context, boardID, labelID int64) error {
	label, err := s.store.GetLabel(ctx, labelID)
	if err != nil {
		return translate(err, "Label")
	}
	if label.BoardID != boardID {
		return validationFailed("Label belongs to another board", map[string]string{"labelId": "belongs to another board"})
	}
	return nil
}

// GetCard returns one card, archived or not, with its labels and assignee.
func (s *Service) GetCard(ctx context.Context, p Principal, cardID int64) (CardDetail, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return CardDetail{}, translate(err, "Card")
	}
	if _, err := s.guard.RequireRead(ctx, card.BoardID, p.UserID); err != nil {
		return CardDetail{}, translate(err, "Card")
	}
	return s.cardDetail(ctx, card)
}

func (s *Service) ListArchivedCards(ctx context.Context, p Principal, boardID int64) ([]CardDetail, error) {
	if _, err := s.guard.RequireRead(ctx, boardID, p.UserID); err != nil {
		return nil, translate(err, "Board")
	}
	cards, err := s.store.ListArchivedCards(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return s.cardDetails(ctx, cards)
}

func (s *Service) cardForWrite(ctx context.Context, p Principal, cardID int64) (store.Card, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return store.Card{}, translate(err, "Card")
	}
	if _, err := s.guard.RequireMember(ctx, card.BoardID, p.UserID); err != nil {
		return store.Card{}, translate(err, "Card")
	}
	return card, nil
}

func (s *Service) UpdateCard(ctx context.Context, p Principal, cardID int64, in UpdateCardInput) (CardDetail, error) {
	card, err := s.cardForWrite(ctx, p, cardID)
	if err != nil {
		return CardDetail{}, err
	}
	if err := in.Validate(); err != nil {
		return CardDetail{}, err
	}

	patch := store.CardPatch{Title: in.Title, Description: in.Description}
	if in.DueDate.Set {
		patch.DueDate, patch.ClearDueDate = in.dueDate, !in.DueDate.Valid
	}
	if in.Priority.Set {
		if in.Priority.Valid {
			patch.Priority = &in.Priority.Value
		} else {
			patch.ClearPriority = true
		}
	}
	if in.Color.Set {
		if in.Color.Valid {
			patch.Color = &in.Color.Value
		} else {
			patch.ClearColor = true
		}
	}
	if in.AssigneeID.Set {
		if in.AssigneeID.Valid {
			if err := s.checkAssignee(ctx, card.BoardID, in.AssigneeID.Value); err != nil {
				return CardDetail{}, err
			}
			patch.AssigneeID = &in.AssigneeID.Value
		} else {
			patch.ClearAssignee = true
		}
	}

	updated, err := s.store.UpdateCard(ctx, cardID, patch)
	if err != nil {
		return CardDetail{}, translate(err, "Card")
	}
	return s.cardChanged(ctx, p, updated)
}

// cardChanged reindexes the card and announces it as card.updated.
func (s *Service) cardChanged(ctx context.Context, p Principal, card store.Card) (CardDetail, error) {
	detail, err := s.cardDetail(ctx, card)
	if err != nil {
		return CardDetail{}, err
	}
	s.indexCard(card)
	s.emit(ctx, p, card.BoardID, events.CardUpdated, detail)
	return detail, nil
}

// MoveCard places the card at in.Position of in.ColumnID, which must be on
// the same board. Positions past the end of the column land at the tail.
func (s *Service) MoveCard(ctx context.Context, p Principal, cardID int64, in MoveCardInput) (MoveResult, error) {
	card, err := s.cardForWrite(ctx, p, cardID)
	if err != nil {
		return MoveResult{}, err
	}
	if err := in.Validate(); err != nil {
		return MoveResult{}, err
	}
	dest, err := s.store.GetColumn(ctx, in.ColumnID)
	if err != nil {
		return MoveResult{}, translate(err, "Column")
	}
	if dest.BoardID != card.BoardID {
		return MoveResult{}, validationFailed("Column belongs to another board", map[string]string{"columnId": "belongs to another board"})
	}

	moved, err := s.store.MoveCard(ctx, cardID, dest.ID, *in.Position)
	if err != nil {
		return MoveResult{}, translate(err, "Card")
	}
	result := MoveResult{
		Card:         cardView(moved),
		FromColumnID: card.ColumnID,
		ToColumnID:   moved.ColumnID,
		FromPosition: card.Position,
		Position:     moved.Position,
	}
	s.indexCard(moved)
	s.emit(ctx, p, moved.BoardID, events.CardMoved, result)
	return result, nil
}

// ArchiveCard hides the card from the board and closes its gap.
func (s *Service) ArchiveCard(ctx context.Context, p Principal, cardID int64) (CardDetail, error) {
	if _, err := s.cardForWrite(ctx, p, cardID); err != nil {
		return CardDetail{}, err
	}
	archived, err := s.store.ArchiveCard(ctx, cardID)
	if err != nil {
		return CardDetail{}, translate(err, "Card")
	}
	return s.cardChanged(ctx, p, archived)
}

// UnarchiveCard restores the card at the tail of in.ColumnID, or of the
// column it was archived from.
func (s *Service) UnarchiveCard(ctx context.Context, p Principal, cardID int64, in UnarchiveCardInput) (CardDetail, error) {
	card, err := s.cardForWrite(ctx, p, cardID)
	if err != nil {
		return CardDetail{}, err
	}
	if card.ArchivedAt == nil {
		return CardDetail{}, conflict("Card is not archived")
	}
	columnID := card.ColumnID
	if in.ColumnID != nil {
		dest, err := s.store.GetColumn(ctx, *in.ColumnID)
		if err != nil {
			return CardDetail{}, translate(err, "Column")
		}
		if dest.BoardID != card.BoardID {
			return CardDetail{}, validationFailed("Column belongs to another board", map[string]string{"columnId": "belongs to another board"})
		}
		columnID = dest.ID
	}
	restored, err := s.store.UnarchiveCard(ctx, cardID, columnID)
	if err != nil {
		return CardDetail{}, translate(err, "Card")
	}
	return s.cardChanged(ctx, p, restored)
}

// DeleteCard removes the card permanently. Siblings keep their positions.
func (s *Service) DeleteCard(ctx context.Context, p Principal, cardID int64) error {
	card, err := s.cardForWrite(ctx, p, cardID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCard(ctx, cardID); err != nil {
		return translate(err, "Card")
	}
	if s.search != nil {
		s.search.DeleteCard(cardID)
	}
	s.emit(ctx, p, card.BoardID, events.CardDeleted, map[string]int64{"id": cardID, "columnId": card.ColumnID})
	return nil
}

// Subtasks and comments live on the card row.

func (s *Service) mutateCard(ctx context.Context, p Principal, cardID int64, fn func(card *store.Card) error) (CardDetail, error) {
	if _, err := s.cardForWrite(ctx, p, cardID); err != nil {
		return CardDetail{}, err
	}
	card, err := s.store.MutateCard(ctx, cardID, fn)
	if err != nil {
		return CardDetail{}, translate(err, "Card")
	}
	return s.cardChanged(ctx, p, card)
}

func (s *Service) AddSubtask(ctx context.Context, p Principal, cardID int64, in CreateSubtaskInput) (CardDetail, error) {
	if err := in.Validate(); err != nil {
		return CardDetail{}, err
	}
	return s.mutateCard(ctx, p, cardID, func(card *store.Card) error {
		card.Subtasks = append(card.Subtasks, store.Subtask{
			ID:        util.NewID("sub"),
			Title:     in.Title,
			CreatedAt: time.Now().UTC(),
		})
		return nil
	})
}

func (s *Service) UpdateSubtask(ctx context.Context, p Principal, cardID int64, subtaskID string, in UpdateSubtaskInput) (CardDetail, error) {
	if err := in.Validate(); err != nil {
		return CardDetail{}, err
	}
	return s.mutateCard(ctx, p, cardID, func(card *store.Card) error {
		for i := range card.Subtasks {
			if card.Subtasks[i].ID != subtaskID {
				continue
			}
			if in.Title != nil {
				card.Subtasks[i].Title = *in.Title
			}
			if in.Completed != nil {
				card.Subtasks[i].Completed = *in.Completed
			}
			return nil
		}
		return notFound("Subtask")
	})
}

func (s *Service) DeleteSubtask(ctx context.Context, p Principal, cardID int64, subtaskID string) (CardDetail, error) {
	return s.mutateCard(ctx, p, cardID, func(card *store.Card) error {
		for i, st := range card.Subtasks {
			if st.ID == subtaskID {
				card.Subtasks = append(card.Subtasks[:i], card.Subtasks[i+1:]...)
				return nil
			}
		}
		return notFound("Subtask")
	})
}

func (s *Service) AddComment(ctx context.Context, p Principal, cardID int64, in CreateCommentInput) (CardDetail, error) {
	if err := in.Validate(); err != nil {
		return CardDetail{}, err
	}
	return s.mutateCard(ctx, p, cardID, func(card *store.Card) error {
		now := time.Now().UTC()
		card.Comments = append(card.Comments, store.Comment{
			ID:        util.NewID("cmt"),
			AuthorID:  p.UserID,
			Content:   in.Content,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return nil
	})
}

// DeleteComment removes a comment. Only its author may delete it.
func (s *Service) DeleteComment(ctx context.Context, p Principal, cardID int64, commentID string) (CardDetail, error) {
	return s.mutateCard(ctx, p, cardID, func(card *store.Card) error {
		for i, c := range card.Comments {
			if c.ID != commentID {
				continue
			}
			if c.AuthorID != p.UserID {
				return forbidden("Only the author can delete a comment")
			}
			card.Comments = append(card.Comments[:i], card.Comments[i+1:]...)
			return nil
		}
		return notFound("Comment")
	})
}

// Card labels

func (s *Service) AttachLabel(ctx context.Context, p Principal, cardID, labelID int64) (CardDetail, error) {
	card, err := s.cardForWrite(ctx, p, cardID)
	if err != nil {
		return CardDetail{}, err
	}
	if err := s.checkBoardLabel(ctx, card.BoardID, labelID); err != nil {
		return CardDetail{}, err
	}
	if err := s.store.AttachLabel(ctx, cardID, labelID); err != nil {
		return CardDetail{}, translate(err, "Label")
	}
	return s.cardChanged(ctx, p, card)
}

func (s *Service) DetachLabel(ctx context.Context, p Principal, cardID, labelID int64) (CardDetail, error) {
	card, err := s.cardForWrite(ctx, p, cardID)
	if err != nil {
		return CardDetail{}, err
	}
	if err := s.store.DetachLabel(ctx, cardID, labelID); err != nil {
		return CardDetail{}, translate(err, "Label")
	}
	return s.cardChanged(ctx, p, card)
}
