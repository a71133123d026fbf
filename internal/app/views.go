package app

import (
	"time"

	"kanban/api/internal/search"
	"kanban/api/internal/store"
)

// PublicUser is the profile other users may see.
type PublicUser struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Account is the caller's own profile.
type Account struct {
	PublicUser
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Account   `json:"user"`
}

type BoardView struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     int64     `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type MemberView struct {
	Role    string     `json:"role"`
	AddedAt time.Time  `json:"addedAt"`
	User    PublicUser `json:"user"`
}

type ColumnView struct {
	ID        int64     `json:"id"`
	BoardID   int64     `json:"boardId"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	IsDone    bool      `json:"isDone"`
	CreatedAt time.Time `json:"createdAt"`
}

type LabelView struct {
	ID      int64  `json:"id"`
	BoardID int64  `json:"boardId"`
	Name    string `json:"name"`
	Color   string `json:"color"`
}

type CardView struct {
	ID          int64           `json:"id"`
	ColumnID    int64           `json:"columnId"`
	BoardID     int64           `json:"boardId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	DueDate     *time.Time      `json:"dueDate"`
	Priority    *string         `json:"priority"`
	Color       *string         `json:"color"`
	AssigneeID  *int64          `json:"assigneeId"`
	Position    int             `json:"position"`
	Subtasks    []store.Subtask `json:"subtasks"`
	Comments    []store.Comment `json:"comments"`
	ArchivedAt  *time.Time      `json:"archivedAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type MoveResult struct {
	Card         CardView `json:"card"`
	FromColumnID int64    `json:"fromColumnId"`
	ToColumnID   int64    `json:"toColumnId"`
	FromPosition int      `json:"fromPosition"`
	Position     int      `json:"position"`
}

func publicUser(u store.User) PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}

func accountView(u store.User) Account {
	return Account{PublicUser: publicUser(u), Email: u.Email, CreatedAt: u.CreatedAt}
}

func boardView(b store.Board) BoardView {
	return BoardView{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		OwnerID:     b.OwnerID,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func memberView(m store.BoardMember) MemberView {
	return MemberView{
		Role:    m.Role,
		AddedAt: m.AddedAt,
		User: PublicUser{
			ID:          m.UserID,
			Username:    m.Username,
			DisplayName: m.DisplayName,
			AvatarURL:   m.AvatarURL,
		},
	}
}

func columnView(c store.Column) ColumnView {
	return ColumnView{ID: c.ID, BoardID: c.BoardID, Name: c.Name, Position: c.Position, IsDone: c.IsDone, CreatedAt: c.CreatedAt}
}

func columnViews(cols []store.Column) []ColumnView {
	out := make([]ColumnView, 0, len(cols))
	for _, c := range cols {
		out = append(out, columnView(c))
	}
	return out
}

func labelView(l store.Label) LabelView {
	return LabelView{ID: l.ID, BoardID: l.BoardID, Name: l.Name, Color: l.Color}
}

func labelViews(labels []store.Label) []LabelView {
	out := make([]LabelView, 0, len(labels))
	for _, l := range labels {
		out = append(out, labelView(l))
	}
	return out
}

func cardView(c store.Card) CardView {
	subtasks := []store.Subtask(c.Subtasks)
	if subtasks == nil {
		subtasks = []store.Subtask{}
	}
	comments := []store.Comment(c.Comments)
	if comments == nil {
		comments = []store.Comment{}
	}
	return CardView{
		ID:          c.ID,
		ColumnID:    c.ColumnID,
		BoardID:     c.BoardID,
		Title:       c.Title,
		Description: c.Description,
		DueDate:     c.DueDate,
		Priority:    c.Priority,
		Color:       c.Color,
		AssigneeID:  c.AssigneeID,
		Position:    c.Position,
		Subtasks:    subtasks,
		Comments:    comments,
		ArchivedAt:  c.ArchivedAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func cardRecord(c store.Card) search.CardRecord {
	rec := search.CardRecord{
		ID:          c.ID,
		BoardID:     c.BoardID,
		ColumnID:    c.ColumnID,
		Title:       c.Title,
		Description: c.Description,
		Archived:    c.ArchivedAt != nil,
	}
	if c.Priority != nil {
		rec.Priority = *c.Priority
	}
	return rec
}
