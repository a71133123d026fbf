package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type User struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	DisplayName  string    `db:"display_name"`
	AvatarURL    string    `db:"avatar_url"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

type Board struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	OwnerID     int64     `db:"owner_id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// BoardMember is a membership row joined with the member's public profile.
type BoardMember struct {
	BoardID     int64     `db:"board_id"`
	UserID      int64     `db:"user_id"`
	Role        string    `db:"role"`
	AddedAt     time.Time `db:"added_at"`
	Username    string    `db:"username"`
	DisplayName string    `db:"display_name"`
	AvatarURL   string    `db:"avatar_url"`
}

type Column struct {
	ID        int64     `db:"id"`
	BoardID   int64     `db:"board_id"`
	Name      string    `db:"name"`
	Position  int       `db:"position"`
	IsDone    bool      `db:"is_done"`
	CreatedAt time.Time `db:"created_at"`
}

type Card struct {
	ID          int64      `db:"id"`
	ColumnID    int64      `db:"column_id"`
	BoardID     int64      `db:"board_id"`
	Title       string     `db:"title"`
	Description string     `db:"description"`
	DueDate     *time.Time `db:"due_date"`
	Priority    *string    `db:"priority"`
	Color       *string    `db:"color"`
	AssigneeID  *int64     `db:"assignee_id"`
	Position    int        `db:"position"`
	Subtasks    Subtasks   `db:"subtasks"`
	Comments    Comments   `db:"comments"`
	ArchivedAt  *time.Time `db:"archived_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

type Subtask struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	AuthorID  int64     `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Subtasks is stored as a JSONB array on the card row.
type Subtasks []Subtask

func (s Subtasks) Value() (driver.Value, error) { return jsonValue(s) }
func (s *Subtasks) Scan(src any) error          { return scanJSON(src, s) }

// Comments is stored as a JSONB array on the card row.
type Comments []Comment

func (c Comments) Value() (driver.Value, error) { return jsonValue(c) }
func (c *Comments) Scan(src any) error          { return scanJSON(src, c) }

type Label struct {
	ID      int64  `db:"id"`
	BoardID int64  `db:"board_id"`
	Name    string `db:"name"`
	Color   string `db:"color"`
}

// CardLabel is a label resolved for one card.
type CardLabel struct {
	CardID int64 `db:"card_id"`
	Label
}

type Webhook struct {
	ID     int64  `db:"id"`
	UserID int64  `db:"user_id"`
	URL    string `db:"url"`
	Secret string `db:"secret"`
	Active bool   `db:"active"`
}

// CardPatch carries the optional fields of a card update. Clear* flags set
// the corresponding nullable column to NULL.
type CardPatch struct {
	Title         *string
	Description   *string
	DueDate       *time.Time
	ClearDueDate  bool
	Priority      *string
	ClearPriority bool
	Color         *string
	ClearColor    bool
	AssigneeID    *int64
	ClearAssignee bool
}

func (p CardPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.DueDate == nil && !p.ClearDueDate &&
		p.Priority == nil && !p.ClearPriority && p.Color == nil && !p.ClearColor &&
		p.AssigneeID == nil && !p.ClearAssignee
}

func jsonValue(v any) (driver.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	if string(raw) == "null" {
		return "[]", nil
	}
	return string(raw), nil
}

func scanJSON(src any, dst any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan json column: unsupported type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
