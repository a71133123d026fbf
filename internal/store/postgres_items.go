package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"kanban/api/internal/position"
)

const (
	columnColumns = `id, board_id, name, position, is_done, created_at`
	cardColumns   = `c.id, c.column_id, col.board_id, c.title, c.description, c.due_date, c.priority, c.color,
		c.assignee_id, c.position, c.subtasks, c.comments, c.archived_at, c.created_at, c.updated_at`
	cardFrom = ` FROM cards c JOIN columns col ON col.id = c.column_id`

	lockColumnSiblings = `SELECT id, position FROM columns WHERE board_id=$1 ORDER BY position, id FOR UPDATE`
	lockCardSiblings   = `SELECT id, position FROM cards WHERE column_id=$1 AND archived_at IS NULL ORDER BY position, id FOR UPDATE`
)

func lockSiblings(ctx context.Context, tx *sqlx.Tx, query string, parentID int64) ([]position.Item, error) {
	items := make([]position.Item, 0)
	if err := tx.SelectContext(ctx, &items, query, parentID); err != nil {
		return nil, dbError("lock siblings", err)
	}
	return items, nil
}

func applyPositions(ctx context.Context, tx *sqlx.Tx, table string, changes []position.Change) error {
	for _, change := range changes {
		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET position=$1 WHERE id=$2`, change.Position, change.ID); err != nil {
			return dbError("update "+table+" position", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListColumns(ctx context.Context, boardID int64) ([]Column, error) {
	columns := make([]Column, 0)
	err := s.db.SelectContext(ctx, &columns, `SELECT `+columnColumns+` FROM columns WHERE board_id=$1 ORDER BY position, id`, boardID)
	if err != nil {
		return nil, dbError("list columns", err)
	}
	return columns, nil
}

func (s *PostgresStore) GetColumn(ctx context.Context, columnID int64) (Column, error) {
	var column Column
	if err := s.db.GetContext(ctx, &column, `SELECT `+columnColumns+` FROM columns WHERE id=$1`, columnID); err != nil {
		return Column{}, dbError("get column", err)
	}
	return column, nil
}

// CreateColumn appends a column at the tail of its board.
func (s *PostgresStore) CreateColumn(ctx context.Context, boardID int64, name string, isDone bool) (Column, error) {
	var column Column
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		siblings, err := lockSiblings(ctx, tx, lockColumnSiblings, boardID)
		if err != nil {
			return err
		}
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO columns (board_id, name, position, is_done)
			VALUES ($1, $2, $3, $4)
			RETURNING `+columnColumns,
			boardID, name, position.Next(siblings), isDone,
		).StructScan(&column)
		return dbError("insert column", err)
	})
	if err != nil {
		return Column{}, err
	}
	return column, nil
}

type ColumnPatch struct {
	Name     *string
	IsDone   *bool
	Position *int
}

// UpdateColumn applies field changes and, when Position is set, moves the
// column within its board.
func (s *PostgresStore) UpdateColumn(ctx context.Context, columnID int64, patch ColumnPatch) (Column, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var boardID int64
		if err := tx.GetContext(ctx, &boardID, `SELECT board_id FROM columns WHERE id=$1`, columnID); err != nil {
			return dbError("get column", err)
		}
		if patch.Name != nil || patch.IsDone != nil {
			update := psql.Update("columns").Where(squirrel.Eq{"id": columnID})
			if patch.Name != nil {
				update = update.Set("name", *patch.Name)
			}
			if patch.IsDone != nil {
				update = update.Set("is_done", *patch.IsDone)
			}
			query, args, err := update.ToSql()
			if err != nil {
				return fmt.Errorf("build column update: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return dbError("update column", err)
			}
		}
		if patch.Position == nil {
			return nil
		}
		siblings, err := lockSiblings(ctx, tx, lockColumnSiblings, boardID)
		if err != nil {
			return err
		}
		changes, err := position.MoveWithin(siblings, columnID, *patch.Position)
		if err != nil {
			return err
		}
		return applyPositions(ctx, tx, "columns", changes)
	})
	if err != nil {
		return Column{}, err
	}
	return s.GetColumn(ctx, columnID)
}

// ReorderColumns sets every column's position to its index in ids.
func (s *PostgresStore) ReorderColumns(ctx context.Context, boardID int64, ids []int64) ([]Column, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		siblings, err := lockSiblings(ctx, tx, lockColumnSiblings, boardID)
		if err != nil {
			return err
		}
		changes, err := position.Reorder(siblings, ids)
		if err != nil {
			return err
		}
		return applyPositions(ctx, tx, "columns", changes)
	})
	if err != nil {
		return nil, err
	}
	return s.ListColumns(ctx, boardID)
}

// DeleteColumn removes the column and its cards. Remaining siblings keep
// their positions.
func (s *PostgresStore) DeleteColumn(ctx context.Context, columnID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM columns WHERE id=$1`, columnID)
	if err != nil {
		return dbError("delete column", err)
	}
	return requireAffected("delete column", result)
}

// ListCards returns the active cards of a board ordered by column and position.
func (s *PostgresStore) ListCards(ctx context.Context, boardID int64) ([]Card, error) {
	cards := make([]Card, 0)
	err := s.db.SelectContext(ctx, &cards, `SELECT `+cardColumns+cardFrom+`
		WHERE col.board_id=$1 AND c.archived_at IS NULL
		ORDER BY col.position, c.column_id, c.position, c.id`, boardID)
	if err != nil {
		return nil, dbError("list cards", err)
	}
	return cards, nil
}

func (s *PostgresStore) ListArchivedCards(ctx context.Context, boardID int64) ([]Card, error) {
	cards := make([]Card, 0)
	err := s.db.SelectContext(ctx, &cards, `SELECT `+cardColumns+cardFrom+`
		WHERE col.board_id=$1 AND c.archived_at IS NOT NULL
		ORDER BY c.archived_at DESC, c.id`, boardID)
	if err != nil {
		return nil, dbError("list archived cards", err)
	}
	return cards, nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID int64) (Card, error) {
	var card Card
	if err := s.db.GetContext(ctx, &card, `SELECT `+cardColumns+cardFrom+` WHERE c.id=$1`, cardID); err != nil {
		return Card{}, dbError("get card", err)
	}
	return card, nil
}

// CreateCard appends card at the tail of its column's active cards and tags
// it with labelIDs in the same transaction.
func (s *PostgresStore) CreateCard(ctx context.Context, card Card, labelIDs []int64) (Card, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		siblings, err := lockSiblings(ctx, tx, lockCardSiblings, card.ColumnID)
		if err != nil {
			return err
		}
		if card.Subtasks == nil {
			card.Subtasks = Subtasks{}
		}
		if card.Comments == nil {
			card.Comments = Comments{}
		}
		err = tx.GetContext(ctx, &id, `
			INSERT INTO cards (column_id, title, description, due_date, priority, color, assignee_id, position, subtasks, comments)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
			card.ColumnID, card.Title, card.Description, card.DueDate, card.Priority, card.Color, card.AssigneeID,
			position.Next(siblings), card.Subtasks, card.Comments,
		)
		if err != nil {
			return dbError("insert card", err)
		}
		for _, labelID := range labelIDs {
			if _, err := tx.ExecContext(ctx, attachLabelSQL, id, labelID); err != nil {
				return dbError("attach label", err)
			}
		}
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	return s.GetCard(ctx, id)
}

func (s *PostgresStore) UpdateCard(ctx context.Context, cardID int64, patch CardPatch) (Card, error) {
	update := psql.Update("cards").Set("updated_at", squirrel.Expr("NOW()")).Where(squirrel.Eq{"id": cardID})
	if patch.Title != nil {
		update = update.Set("title", *patch.Title)
	}
	if patch.Description != nil {
		update = update.Set("description", *patch.Description)
	}
	switch {
	case patch.ClearDueDate:
		update = update.Set("due_date", nil)
	case patch.DueDate != nil:
		update = update.Set("due_date", *patch.DueDate)
	}
	switch {
	case patch.ClearPriority:
		update = update.Set("priority", nil)
	case patch.Priority != nil:
		update = update.Set("priority", *patch.Priority)
	}
	switch {
	case patch.ClearColor:
		update = update.Set("color", nil)
	case patch.Color != nil:
		update = update.Set("color", *patch.Color)
	}
	switch {
	case patch.ClearAssignee:
		update = update.Set("assignee_id", nil)
	case patch.AssigneeID != nil:
		update = update.Set("assignee_id", *patch.AssigneeID)
	}
	query, args, err := update.ToSql()
	if err != nil {
		return Card{}, fmt.Errorf("build card update: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Card{}, dbError("update card", err)
	}
	if err := requireAffected("update card", result); err != nil {
		return Card{}, err
	}
	return s.GetCard(ctx, cardID)
}

type cardState struct {
	ColumnID   int64      `db:"column_id"`
	Position   int        `db:"position"`
	ArchivedAt *time.Time `db:"archived_at"`
}

func lockCard(ctx context.Context, tx *sqlx.Tx, cardID int64) (cardState, error) {
	var state cardState
	err := tx.GetContext(ctx, &state, `SELECT column_id, position, archived_at FROM cards WHERE id=$1 FOR UPDATE`, cardID)
	if err != nil {
		return cardState{}, dbError("lock card", err)
	}
	return state, nil
}

// MoveCard moves an active card to target within columnID, which may be its
// current column. Both affected columns stay densely ordered.
func (s *PostgresStore) MoveCard(ctx context.Context, cardID, columnID int64, target int) (Card, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		state, err := lockCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if state.ArchivedAt != nil {
			return ErrArchived
		}
		if state.ColumnID == columnID {
			siblings, err := lockSiblings(ctx, tx, lockCardSiblings, columnID)
			if err != nil {
				return err
			}
			changes, err := position.MoveWithin(siblings, cardID, target)
			if err != nil {
				return err
			}
			return applyPositions(ctx, tx, "cards", changes)
		}

		// Lock parents in id order so concurrent opposite moves cannot deadlock.
		var source, dest []position.Item
		if state.ColumnID < columnID {
			if source, err = lockSiblings(ctx, tx, lockCardSiblings, state.ColumnID); err != nil {
				return err
			}
			if dest, err = lockSiblings(ctx, tx, lockCardSiblings, columnID); err != nil {
				return err
			}
		} else {
			if dest, err = lockSiblings(ctx, tx, lockCardSiblings, columnID); err != nil {
				return err
			}
			if source, err = lockSiblings(ctx, tx, lockCardSiblings, state.ColumnID); err != nil {
				return err
			}
		}
		sourceChanges, destChanges, err := position.MoveAcross(source, dest, cardID, target)
		if err != nil {
			return err
		}
		if err := applyPositions(ctx, tx, "cards", sourceChanges); err != nil {
			return err
		}
		for _, change := range destChanges {
			if change.ID != cardID {
				if err := applyPositions(ctx, tx, "cards", []position.Change{change}); err != nil {
					return err
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, `UPDATE cards SET column_id=$1, position=$2, updated_at=NOW() WHERE id=$3`,
				columnID, change.Position, cardID); err != nil {
				return dbError("move card", err)
			}
		}
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	return s.GetCard(ctx, cardID)
}

// ArchiveCard marks the card archived and closes the gap it leaves.
func (s *PostgresStore) ArchiveCard(ctx context.Context, cardID int64) (Card, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		state, err := lockCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if state.ArchivedAt != nil {
			return ErrArchived
		}
		if _, err := tx.ExecContext(ctx, `UPDATE cards SET archived_at=NOW(), updated_at=NOW() WHERE id=$1`, cardID); err != nil {
			return dbError("archive card", err)
		}
		siblings, err := lockSiblings(ctx, tx, lockCardSiblings, state.ColumnID)
		if err != nil {
			return err
		}
		return applyPositions(ctx, tx, "cards", position.Close(siblings, state.Position))
	})
	if err != nil {
		return Card{}, err
	}
	return s.GetCard(ctx, cardID)
}

// UnarchiveCard restores an archived card at the tail of columnID.
func (s *PostgresStore) UnarchiveCard(ctx context.Context, cardID, columnID int64) (Card, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		state, err := lockCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if state.ArchivedAt == nil {
			return fmt.Errorf("unarchive card: %w", ErrConflict)
		}
		siblings, err := lockSiblings(ctx, tx, lockCardSiblings, columnID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE cards SET archived_at=NULL, column_id=$1, position=$2, updated_at=NOW()
			WHERE id=$3
		`, columnID, position.Next(siblings), cardID)
		return dbError("unarchive card", err)
	})
	if err != nil {
		return Card{}, err
	}
	return s.GetCard(ctx, cardID)
}

// DeleteCard hard-deletes the card. Remaining siblings keep their positions.
func (s *PostgresStore) DeleteCard(ctx context.Context, cardID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id=$1`, cardID)
	if err != nil {
		return dbError("delete card", err)
	}
	return requireAffected("delete card", result)
}

// MutateCard runs fn against the locked card and persists its subtasks and
// comments.
func (s *PostgresStore) MutateCard(ctx context.Context, cardID int64, fn func(card *Card) error) (Card, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var card Card
		if err := tx.GetContext(ctx, &card, `SELECT `+cardColumns+cardFrom+` WHERE c.id=$1 FOR UPDATE OF c`, cardID); err != nil {
			return dbError("lock card", err)
		}
		if err := fn(&card); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE cards SET subtasks=$1, comments=$2, updated_at=NOW() WHERE id=$3`,
			card.Subtasks, card.Comments, cardID)
		return dbError("save card lists", err)
	})
	if err != nil {
		return Card{}, err
	}
	return s.GetCard(ctx, cardID)
}

func (s *PostgresStore) ListLabels(ctx context.Context, boardID int64) ([]Label, error) {
	labels := make([]Label, 0)
	if err := s.db.SelectContext(ctx, &labels, `SELECT id, board_id, name, color FROM labels WHERE board_id=$1 ORDER BY id`, boardID); err != nil {
		return nil, dbError("list labels", err)
	}
	return labels, nil
}

func (s *PostgresStore) GetLabel(ctx context.Context, labelID int64) (Label, error) {
	var label Label
	if err := s.db.GetContext(ctx, &label, `SELECT id, board_id, name, color FROM labels WHERE id=$1`, labelID); err != nil {
		return Label{}, dbError("get label", err)
	}
	return label, nil
}

func (s *PostgresStore) CreateLabel(ctx context.Context, boardID int64, name, color string) (Label, error) {
	var label Label
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO labels (board_id, name, color) VALUES ($1, $2, $3)
		RETURNING id, board_id, name, color
	`, boardID, name, color).StructScan(&label)
	if err != nil {
		return Label{}, dbError("insert label", err)
	}
	return label, nil
}

func (s *PostgresStore) UpdateLabel(ctx context.Context, labelID int64, name, color *string) (Label, error) {
	if name == nil && color == nil {
		return s.GetLabel(ctx, labelID)
	}
	update := psql.Update("labels").Where(squirrel.Eq{"id": labelID})
	if name != nil {
		update = update.Set("name", *name)
	}
	if color != nil {
		update = update.Set("color", *color)
	}
	query, args, err := update.ToSql()
	if err != nil {
		return Label{}, fmt.Errorf("build label update: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Label{}, dbError("update label", err)
	}
	if err := requireAffected("update label", result); err != nil {
		return Label{}, err
	}
	return s.GetLabel(ctx, labelID)
}

func (s *PostgresStore) DeleteLabel(ctx context.Context, labelID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM labels WHERE id=$1`, labelID)
	if err != nil {
		return dbError("delete label", err)
	}
	return requireAffected("delete label", result)
}

// ListCardLabels resolves the labels attached to each of cardIDs.
func (s *PostgresStore) ListCardLabels(ctx context.Context, cardIDs []int64) ([]CardLabel, error) {
	out := make([]CardLabel, 0)
	if len(cardIDs) == 0 {
		return out, nil
	}
	query, args, err := psql.
		Select("cl.card_id", "l.id", "l.board_id", "l.name", "l.color").
		From("card_labels cl").
		Join("labels l ON l.id = cl.label_id").
		Where(squirrel.Eq{"cl.card_id": cardIDs}).
		OrderBy("cl.card_id", "l.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build card labels query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, dbError("list card labels", err)
	}
	return out, nil
}

const attachLabelSQL = `INSERT INTO card_labels (card_id, label_id) VALUES ($1, $2) ON CONFLICT (card_id, label_id) DO NOTHING`

func (s *PostgresStore) AttachLabel(ctx context.Context, cardID, labelID int64) error {
	_, err := s.db.ExecContext(ctx, attachLabelSQL, cardID, labelID)
	return dbError("attach label", err)
}

func (s *PostgresStore) DetachLabel(ctx context.Context, cardID, labelID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM card_labels WHERE card_id=$1 AND label_id=$2`, cardID, labelID)
	if err != nil {
		return dbError("detach label", err)
	}
	return requireAffected("detach label", result)
}
