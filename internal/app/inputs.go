package app

import (
	"encoding/json"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxNameLength        = 100
	maxCardTitleLength   = 200
	maxDescriptionLength = 10000
	maxCommentLength     = 5000
	maxSubtaskLength     = 200
)

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)
	colorPattern    = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	priorities      = map[string]struct{}{"low": {}, "medium": {}, "high": {}, "urgent": {}}
)

// Nullable distinguishes an absent JSON field (Set false) from an explicit
// null (Set true, Valid false).
type Nullable[T any] struct {
	Set   bool
	Valid bool
	Value T
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// fieldErrors collects per-field validation messages.
type fieldErrors map[string]string

func (f fieldErrors) add(field, message string) {
	if _, exists := f[field]; !exists {
		f[field] = message
	}
}

func (f fieldErrors) text(field, value string, min, max int) {
	n := utf8.RuneCountInString(value)
	switch {
	case n < min && min == 1:
		f.add(field, "is required")
	case n < min:
		f.add(field, "is too short")
	case n > max:
		f.add(field, "is too long")
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return validationFailed("Invalid input", map[string]string(f))
}

type RegisterInput struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

func (in *RegisterInput) Validate() error {
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)

	errs := fieldErrors{}
	if !usernamePattern.MatchString(in.Username) {
		errs.add("username", "must be 3-32 characters of a-z, 0-9, '_', '.', '-'")
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		errs.add("email", "must be a valid address")
	}
	if len(in.Password) < 8 {
		errs.add("password", "must be at least 8 characters")
	}
	if utf8.RuneCountInString(in.DisplayName) > maxNameLength {
		errs.add("displayName", "is too long")
	}
	return errs.err()
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (in *LoginInput) Validate() error {
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	errs := fieldErrors{}
	if in.Username == "" {
		errs.add("username", "is required")
	}
	if in.Password == "" {
		errs.add("password", "is required")
	}
	return errs.err()
}

type CreateBoardInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (in *CreateBoardInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	errs := fieldErrors{}
	errs.text("name", in.Name, 1, maxNameLength)
	errs.text("description", in.Description, 0, maxDescriptionLength)
	return errs.err()
}

type UpdateBoardInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (in *UpdateBoardInput) Validate() error {
	errs := fieldErrors{}
	if in.Name == nil && in.Description == nil {
		errs.add("body", "must change name or description")
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
		errs.text("name", name, 1, maxNameLength)
	}
	if in.Description != nil {
		errs.text("description", *in.Description, 0, maxDescriptionLength)
	}
	return errs.err()
}

// AddMemberInput names the user by id or username.
type AddMemberInput struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

func (in *AddMemberInput) Validate() error {
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	errs := fieldErrors{}
	if in.UserID <= 0 && in.Username == "" {
		errs.add("userId", "userId or username is required")
	}
	return errs.err()
}

type CreateColumnInput struct {
	Name   string `json:"name"`
	IsDone bool   `json:"isDone"`
}

func (in *CreateColumnInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	errs := fieldErrors{}
	errs.text("name", in.Name, 1, maxNameLength)
	return errs.err()
}

type UpdateColumnInput struct {
	Name     *string `json:"name"`
	IsDone   *bool   `json:"isDone"`
	Position *int    `json:"position"`
}

func (in *UpdateColumnInput) Validate() error {
	errs := fieldErrors{}
	if in.Name == nil && in.IsDone == nil && in.Position == nil {
		errs.add("body", "must change name, isDone or position")
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
		errs.text("name", name, 1, maxNameLength)
	}
	if in.Position != nil && *in.Position < 0 {
		errs.add("position", "must be >= 0")
	}
	return errs.err()
}

type ReorderColumnsInput struct {
	ColumnIDs []int64 `json:"columnIds"`
}

func (in *ReorderColumnsInput) Validate() error {
	errs := fieldErrors{}
	for _, id := range in.ColumnIDs {
		if id <= 0 {
			errs.add("columnIds", "must contain only positive ids")
			break
		}
	}
	return errs.err()
}

type CreateCardInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	DueDate     *string `json:"dueDate"`
	Priority    *string `json:"priority"`
	Color       *string `json:"color"`
	AssigneeID  *int64  `json:"assigneeId"`
	LabelIDs    []int64 `json:"labelIds"`

	dueDate *time.Time
}

func (in *CreateCardInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	errs := fieldErrors{}
	errs.text("title", in.Title, 1, maxCardTitleLength)
	errs.text("description", in.Description, 0, maxDescriptionLength)
	if in.DueDate != nil {
		t, err := time.Parse(time.RFC3339, *in.DueDate)
		if err != nil {
			errs.add("dueDate", "must be RFC3339")
		} else {
			in.dueDate = &t
		}
	}
	if in.Priority != nil {
		checkPriority(errs, *in.Priority)
	}
	if in.Color != nil {
		checkColor(errs, "color", *in.Color)
	}
	return errs.err()
}

// UpdateCardInput uses Nullable for fields that can be cleared with null.
type UpdateCardInput struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	DueDate     Nullable[string] `json:"dueDate"`
	Priority    Nullable[string] `json:"priority"`
	Color       Nullable[string] `json:"color"`
	AssigneeID  Nullable[int64]  `json:"assigneeId"`

	dueDate *time.Time
}

func (in *UpdateCardInput) Validate() error {
	errs := fieldErrors{}
	if in.Title == nil && in.Description == nil && !in.DueDate.Set && !in.Priority.Set && !in.Color.Set && !in.AssigneeID.Set {
		errs.add("body", "must change at least one field")
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		in.Title = &title
		errs.text("title", title, 1, maxCardTitleLength)
	}
	if in.Description != nil {
		errs.text("description", *in.Description, 0, maxDescriptionLength)
	}
	if in.DueDate.Valid {
		t, err := time.Parse(time.RFC3339, in.DueDate.Value)
		if err != nil {
			errs.add("dueDate", "must be RFC3339")
		} else {
			in.dueDate = &t
		}
	}
	if in.Priority.Valid {
		checkPriority(errs, in.Priority.Value)
	}
	if in.Color.Valid {
		checkColor(errs, "color", in.Color.Value)
	}
	return errs.err()
}

type MoveCardInput struct {
	ColumnID int64 `json:"columnId"`
	Position *int  `json:"position"`
}

func (in *MoveCardInput) Validate() error {
	errs := fieldErrors{}
	if in.ColumnID <= 0 {
		errs.add("columnId", "is required")
	}
	if in.Position == nil {
		errs.add("position", "is required")
	} else if *in.Position < 0 {
		errs.add("position", "must be >= 0")
	}
	return errs.err()
}

// UnarchiveCardInput optionally names the destination column; the card's
// previous column is used otherwise.
type UnarchiveCardInput struct {
	ColumnID *int64 `json:"columnId"`
}

type CreateSubtaskInput struct {
	Title string `json:"title"`
}

func (in *CreateSubtaskInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	errs := fieldErrors{}
	errs.text("title", in.Title, 1, maxSubtaskLength)
	return errs.err()
}

type UpdateSubtaskInput struct {
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
}

func (in *UpdateSubtaskInput) Validate() error {
	errs := fieldErrors{}
	if in.Title == nil && in.Completed == nil {
		errs.add("body", "must change title or completed")
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		in.Title = &title
		errs.text("title", title, 1, maxSubtaskLength)
	}
	return errs.err()
}

type CreateCommentInput struct {
	Content string `json:"content"`
}

func (in *CreateCommentInput) Validate() error {
	in.Content = strings.TrimSpace(in.Content)
	errs := fieldErrors{}
	errs.text("content", in.Content, 1, maxCommentLength)
	return errs.err()
}

type CreateLabelInput struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (in *CreateLabelInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	errs := fieldErrors{}
	errs.text("name", in.Name, 1, maxNameLength)
	checkColor(errs, "color", in.Color)
	return errs.err()
}

type UpdateLabelInput struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

func (in *UpdateLabelInput) Validate() error {
	errs := fieldErrors{}
	if in.Name == nil && in.Color == nil {
		errs.add("body", "must change name or color")
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
		errs.text("name", name, 1, maxNameLength)
	}
	if in.Color != nil {
		checkColor(errs, "color", *in.Color)
	}
	return errs.err()
}

type SearchInput struct {
	Query           string
	Limit           int
	Offset          int
	IncludeArchived bool
}

func (in *SearchInput) Validate() error {
	in.Query = strings.TrimSpace(in.Query)
	errs := fieldErrors{}
	errs.text("q", in.Query, 1, 200)
	if in.Limit < 0 || in.Limit > 100 {
		errs.add("limit", "must be between 0 and 100")
	}
	if in.Offset < 0 {
		errs.add("offset", "must be >= 0")
	}
	return errs.err()
}

func checkPriority(errs fieldErrors, priority string) {
	if _, ok := priorities[priority]; !ok {
		errs.add("priority", "must be one of low, medium, high, urgent")
	}
}

func checkColor(errs fieldErrors, field, color string) {
	if !colorPattern.MatchString(color) {
		errs.add(field, "must be a #rrggbb hex color")
	}
}
