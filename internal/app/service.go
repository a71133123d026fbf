package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"kanban/api/internal/auth"
	"kanban/api/internal/authpw"
	"kanban/api/internal/config"
	"kanban/api/internal/email"
	"kanban/api/internal/events"
	"kanban/api/internal/export"
	"kanban/api/internal/rbac"
	"kanban/api/internal/search"
	"kanban/api/internal/store"
)

// Principal is the authenticated caller. ConnID is the caller's websocket
// connection, if any, which is skipped when the mutation is broadcast.
type Principal struct {
	UserID   int64
	Username string
	ConnID   string
}

func (p Principal) actor() events.Actor {
	return events.Actor{UserID: p.UserID, ConnID: p.ConnID}
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByID(ctx context.Context, userID int64) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	ListUsersByIDs(ctx context.Context, ids []int64) ([]store.User, error)

	CreateBoard(ctx context.Context, ownerID int64, name, description string) (store.Board, error)
	GetBoard(ctx context.Context, boardID int64) (store.Board, error)
	ListBoardsForUser(ctx context.Context, userID int64) ([]store.Board, error)
	UpdateBoard(ctx context.Context, boardID int64, name, description *string) (store.Board, error)
	DeleteBoard(ctx context.Context, boardID int64) error

	MemberRole(ctx context.Context, boardID, userID int64) (rbac.Role, bool, error)
	ListMembers(ctx context.Context, boardID int64) ([]store.BoardMember, error)
	AddMember(ctx context.Context, boardID, userID int64) (store.BoardMember, error)
	RemoveMember(ctx context.Context, boardID, userID int64) error

	ListColumns(ctx context.Context, boardID int64) ([]store.Column, error)
	GetColumn(ctx context.Context, columnID int64) (store.Column, error)
	CreateColumn(ctx context.Context, boardID int64, name string, isDone bool) (store.Column, error)
	UpdateColumn(ctx context.Context, columnID int64, patch store.ColumnPatch) (store.Column, error)
	ReorderColumns(ctx context.Context, boardID int64, ids []int64) ([]store.Column, error)
	DeleteColumn(ctx context.Context, columnID int64) error

	ListCards(ctx context.Context, boardID int64) ([]store.Card, error)
	ListArchivedCards(ctx context.Context, boardID int64) ([]store.Card, error)
	GetCard(ctx context.Context, cardID int64) (store.Card, error)
	CreateCard(ctx context.Context, card store.Card, labelIDs []int64) (store.Card, error)
	UpdateCard(ctx context.Context, cardID int64, patch store.CardPatch) (store.Card, error)
	MoveCard(ctx context.Context, cardID, columnID int64, target int) (store.Card, error)
	ArchiveCard(ctx context.Context, cardID int64) (store.Card, error)
	UnarchiveCard(ctx context.Context, cardID, columnID int64) (store.Card, error)
	DeleteCard(ctx context.Context, cardID int64) error
	MutateCard(ctx context.Context, cardID int64, fn func(card *store.Card) error) (store.Card, error)

	ListLabels(ctx context.Context, boardID int64) ([]store.Label, error)
	GetLabel(ctx context.Context, labelID int64) (store.Label, error)
	CreateLabel(ctx context.Context, boardID int64, name, color string) (store.Label, error)
	UpdateLabel(ctx context.Context, labelID int64, name, color *string) (store.Label, error)
	DeleteLabel(ctx context.Context, labelID int64) error
	ListCardLabels(ctx context.Context, cardIDs []int64) ([]store.CardLabel, error)
	AttachLabel(ctx context.Context, cardID, labelID int64) error
	DetachLabel(ctx context.Context, cardID, labelID int64) error
}

type eventEmitter interface {
	Emit(ctx context.Context, actor events.Actor, boardID int64, name events.Name, payload any)
	Revoke(ctx context.Context, boardID, userID int64)
}

type cardIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexCard(card search.CardRecord)
	DeleteCard(id int64)
}

type boardExporter interface {
	Export(ctx context.Context, board export.Board, format export.Format) (*export.Result, error)
	ExportAndArchive(ctx context.Context, board export.Board, format export.Format) (export.Archived, error)
}

type mailer interface {
	IsConfigured() bool
	SendMemberAdded(to string, data email.MemberAddedData) error
}

// Deps carries the optional collaborators. Nil fields disable the feature.
type Deps struct {
	Events *events.Emitter
	Search *search.Service
	Export *export.Service
	Mail   *email.Service
	Log    *slog.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	guard     *rbac.Guard
	passwords *authpw.Service
	events    eventEmitter
	search    cardIndex
	export    boardExporter
	mail      mailer
	log       *slog.Logger
	// async runs side work that must not delay the response.
	async func(fn func())
}

func New(cfg config.Config, data dataStore, deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		cfg:       cfg,
		store:     data,
		guard:     rbac.NewGuard(data),
		passwords: authpw.NewService(data),
		log:       log.With("component", "service"),
		async:     func(fn func()) { go fn() },
	}
	if deps.Events != nil {
		s.events = deps.Events
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Export != nil {
		s.export = deps.Export
	}
	if deps.Mail != nil {
		s.mail = deps.Mail
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// IsMember lets the realtime protocol authorize board subscriptions.
func (s *Service) IsMember(ctx context.Context, boardID, userID int64) (bool, error) {
	return s.guard.IsMember(ctx, boardID, userID)
}

func (s *Service) emit(ctx context.Context, p Principal, boardID int64, name events.Name, payload any) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, p.actor(), boardID, name, payload)
}

// revoke stops realtime delivery of boardID to userID, or to every
// subscriber when userID is 0.
func (s *Service) revoke(ctx context.Context, boardID, userID int64) {
	if s.events == nil {
		return
	}
	s.events.Revoke(ctx, boardID, userID)
}

func (s *Service) indexCard(card store.Card) {
	if s.search != nil {
		s.search.IndexCard(cardRecord(card))
	}
}

// Accounts

func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	if err := in.Validate(); err != nil {
		return AuthResult{}, err
	}
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Username:    in.Username,
		Email:       in.Email,
		Password:    in.Password,
		DisplayName: in.DisplayName,
	})
	if errors.Is(err, store.ErrConflict) {
		return AuthResult{}, conflict("Username or email already registered")
	}
	if err != nil {
		return AuthResult{}, translate(err, "User")
	}
	s.log.Info("user registered", "user_id", user.ID)
	return s.issue(user)
}

func (s *Service) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	if err := in.Validate(); err != nil {
		return AuthResult{}, err
	}
	user, err := s.passwords.Login(ctx, in.Username, in.Password)
	if err != nil {
		return AuthResult{}, translate(err, "User")
	}
	return s.issue(user)
}

func (s *Service) issue(user store.User) (AuthResult, error) {
	token, expiresAt, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Identity{UserID: user.ID, Username: user.Username}, s.cfg.AccessTTL)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	return AuthResult{Token: token, ExpiresAt: expiresAt, User: accountView(user)}, nil
}

// PrincipalFromToken verifies an access token.
func (s *Service) PrincipalFromToken(token string) (Principal, error) {
	id, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: id.UserID, Username: id.Username}, nil
}

func (s *Service) Me(ctx context.Context, p Principal) (Account, error) {
	user, err := s.store.GetUserByID(ctx, p.UserID)
	if err != nil {
		return Account{}, translate(err, "User")
	}
	return accountView(user), nil
}

// Boards

func (s *Service) ListBoards(ctx context.Context, p Principal) ([]BoardView, error) {
	boards, err := s.store.ListBoardsForUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]BoardView, 0, len(boards))
	for _, b := range boards {
		out = append(out, boardView(b))
	}
	return out, nil
}

// CreateBoard creates the board and its single owner membership atomically.
func (s *Service) CreateBoard(ctx context.Context, p Principal, in CreateBoardInput) (BoardView, error) {
	if err := in.Validate(); err != nil {
		return BoardView{}, err
	}
	board, err := s.store.CreateBoard(ctx, p.UserID, in.Name, in.Description)
	if err != nil {
		return BoardView{}, translate(err, "Board")
	}
	s.log.Info("board created", "board_id", board.ID, "owner_id", p.UserID)
	return boardView(board), nil
}

func (s *Service) UpdateBoard(ctx context.Context, p Principal, boardID int64, in UpdateBoardInput) (BoardView, error) {
	if err := s.guard.RequireOwner(ctx, boardID, p.UserID); err != nil {
		return BoardView{}, translate(err, "Board")
	}
	if err := in.Validate(); err != nil {
		return BoardView{}, err
	}
	board, err := s.store.UpdateBoard(ctx, boardID, in.Name, in.Description)
	if err != nil {
		return BoardView{}, translate(err, "Board")
	}
	view := boardView(board)
	s.emit(ctx, p, boardID, events.BoardUpdated, view)
	return view, nil
}

func (s *Service) DeleteBoard(ctx context.Context, p Principal, boardID int64) error {
	if err := s.guard.RequireOwner(ctx, boardID, p.UserID); err != nil {
		return translate(err, "Board")
	}
	if err := s.store.DeleteBoard(ctx, boardID); err != nil {
		return translate(err, "Board")
	}
	s.revoke(ctx, boardID, 0)
	s.log.Info("board deleted", "board_id", boardID, "user_id", p.UserID)
	return nil
}

// Members

func (s *Service) ListMembers(ctx context.Context, p Principal, boardID int64) ([]MemberView, error) {
	if _, err := s.guard.RequireRead(ctx, boardID, p.UserID); err != nil {
		return nil, translate(err, "Board")
	}
	members, err := s.store.ListMembers(ctx, boardID)
	if err != nil {
		return nil, err
	}
	out := make([]MemberView, 0, len(members))
	for _, m := range members {
		out = append(out, memberView(m))
	}
	return out, nil
}

func (s *Service) AddMember(ctx context.Context, p Principal, boardID int64, in AddMemberInput) (MemberView, error) {
	if err := s.guard.RequireOwner(ctx, boardID, p.UserID); err != nil {
		return MemberView{}, translate(err, "Board")
	}
	if err := in.Validate(); err != nil {
		return MemberView{}, err
	}

	var (
		user store.User
		err  error
	)
	if in.UserID > 0 {
		user, err = s.store.GetUserByID(ctx, in.UserID)
	} else {
		user, err = s.store.GetUserByUsername(ctx, in.Username)
	}
	if err != nil {
		return MemberView{}, translate(err, "User")
	}

	member, err := s.store.AddMember(ctx, boardID, user.ID)
	if errors.Is(err, store.ErrConflict) {
		return MemberView{}, conflict("User is already a member")
	}
	if err != nil {
		return MemberView{}, translate(err, "Board")
	}

	view := memberView(member)
	s.emit(ctx, p, boardID, events.MemberAdded, view)
	s.notifyMemberAdded(ctx, p, boardID, user)
	return view, nil
}

func (s *Service) notifyMemberAdded(ctx context.Context, p Principal, boardID int64, user store.User) {
	if s.mail == nil || !s.mail.IsConfigured() || user.Email == "" {
		return
	}
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		s.log.Warn("member added email: load board", "board_id", boardID, "error", err)
		return
	}
	data := email.MemberAddedData{
		UserName:  firstNonEmpty(user.DisplayName, user.Username),
		AddedBy:   p.Username,
		BoardName: board.Name,
	}
	if s.cfg.AppURL != "" {
		data.BoardURL = fmt.Sprintf("%s/boards/%d", strings.TrimRight(s.cfg.AppURL, "/"), boardID)
	}
	s.async(func() {
		if err := s.mail.SendMemberAdded(user.Email, data); err != nil {
			s.log.Warn("member added email", "board_id", boardID, "user_id", user.ID, "error", err)
		}
	})
}

// RemoveMember removes a non-owner member. The owner row cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, p Principal, boardID, userID int64) error {
	if err := s.guard.RequireOwner(ctx, boardID, p.UserID); err != nil {
		return translate(err, "Board")
	}
	owner, err := s.guard.IsOwner(ctx, boardID, userID)
	if err != nil {
		return err
	}
	if owner {
		return forbidden("The board owner cannot be removed")
	}
	if err := s.store.RemoveMember(ctx, boardID, userID); err != nil {
		return translate(err, "Member")
	}
	s.emit(ctx, p, boardID, events.MemberRemoved, map[string]int64{"userId": userID})
	s.revoke(ctx, boardID, userID)
	return nil
}

// Columns

func (s *Service) CreateColumn(ctx context.Context, p Principal, boardID int64, in CreateColumnInput) (ColumnView, error) {
	if _, err := s.guard.RequireMember(ctx, boardID, p.UserID); err != nil {
		return ColumnView{}, translate(err, "Board")
	}
	if err := in.Validate(); err != nil {
		return ColumnView{}, err
	}
	col, err := s.store.CreateColumn(ctx, boardID, in.Name, in.IsDone)
	if err != nil {
		return ColumnView{}, translate(err, "Board")
	}
	view := columnView(col)
	s.emit(ctx, p, boardID, events.ColumnCreated, view)
	return view, nil
}

func (s *Service) columnForWrite(ctx context.Context, p Principal, columnID int64) (store.Column, error) {
	col, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return store.Column{}, translate(err, "Column")
	}
	if _, err := s.guard.RequireMember(ctx, col.BoardID, p.UserID); err != nil {
		return store.Column{}, translate(err, "Column")
	}
	return col, nil
}

func (s *Service) UpdateColumn(ctx context.Context, p Principal, columnID int64, in UpdateColumnInput) (ColumnView, error) {
	col, err := s.columnForWrite(ctx, p, columnID)
	if err != nil {
		return ColumnView{}, err
	}
	if err := in.Validate(); err != nil {
		return ColumnView{}, err
	}
	updated, err := s.store.UpdateColumn(ctx, columnID, store.ColumnPatch{Name: in.Name, IsDone: in.IsDone, Position: in.Position})
	if err != nil {
		return ColumnView{}, translate(err, "Column")
	}
	view := columnView(updated)
	s.emit(ctx, p, col.BoardID, events.ColumnUpdated, view)
	return view, nil
}

// ReorderColumns assigns each column its index in in.ColumnIDs. The list
// must name every column of the board exactly once.
func (s *Service) ReorderColumns(ctx context.Context, p Principal, boardID int64, in ReorderColumnsInput) ([]ColumnView, error) {
	if _, err := s.guard.RequireMember(ctx, boardID, p.UserID); err != nil {
		return nil, translate(err, "Board")
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	cols, err := s.store.ReorderColumns(ctx, boardID, in.ColumnIDs)
	if err != nil {
		return nil, translate(err, "Column")
	}
	views := columnViews(cols)
	s.emit(ctx, p, boardID, events.ColumnReordered, map[string]any{"columns": views})
	return views, nil
}

func (s *Service) DeleteColumn(ctx context.Context, p Principal, columnID int64) error {
	col, err := s.columnForWrite(ctx, p, columnID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteColumn(ctx, columnID); err != nil {
		return translate(err, "Column")
	}
	s.emit(ctx, p, col.BoardID, events.ColumnDeleted, map[string]int64{"id": columnID})
	return nil
}

// Labels

func (s *Service) CreateLabel(ctx context.Context, p Principal, boardID int64, in CreateLabelInput) (LabelView, error) {
	if _, err := s.guard.RequireMember(ctx, boardID, p.UserID); err != nil {
		return LabelView{}, translate(err, "Board")
	}
	if err := in.Validate(); err != nil {
		return LabelView{}, err
	}
	label, err := s.store.CreateLabel(ctx, boardID, in.Name, in.Color)
	if err != nil {
		return LabelView{}, translate(err, "Label")
	}
	view := labelView(label)
	s.emit(ctx, p, boardID, events.LabelCreated, view)
	return view, nil
}

func (s *Service) labelForWrite(ctx context.Context, p Principal, labelID int64) (store.Label, error) {
	label, err := s.store.GetLabel(ctx, labelID)
	if err != nil {
		return store.Label{}, translate(err, "Label")
	}
	if _, err := s.guard.RequireMember(ctx, label.BoardID, p.UserID); err != nil {
		return store.Label{}, translate(err, "Label")
	}
	return label, nil
}

func (s *Service) UpdateLabel(ctx context.Context, p Principal, labelID int64, in UpdateLabelInput) (LabelView, error) {
	label, err := s.labelForWrite(ctx, p, labelID)
	if err != nil {
		return LabelView{}, err
	}
	if err := in.Validate(); err != nil {
		return LabelView{}, err
	}
	updated, err := s.store.UpdateLabel(ctx, labelID, in.Name, in.Color)
	if err != nil {
		return LabelView{}, translate(err, "Label")
	}
	view := labelView(updated)
	s.emit(ctx, p, label.BoardID, events.LabelUpdated, view)
	return view, nil
}

func (s *Service) DeleteLabel(ctx context.Context, p Principal, labelID int64) error {
	label, err := s.labelForWrite(ctx, p, labelID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteLabel(ctx, labelID); err != nil {
		return translate(err, "Label")
	}
	s.emit(ctx, p, label.BoardID, events.LabelDeleted, map[string]int64{"id": labelID})
	return nil
}

// Search and export

func (s *Service) SearchCards(ctx context.Context, p Principal, boardID int64, in SearchInput) (search.Response, error) {
	if _, err := s.guard.RequireRead(ctx, boardID, p.UserID); err != nil {
		return search.Response{}, translate(err, "Board")
	}
	if err := in.Validate(); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: in.Query}, nil
	}
	return s.search.Search(ctx, search.Query{
		BoardID:         boardID,
		Text:            in.Query,
		Limit:           in.Limit,
		Offset:          in.Offset,
		IncludeArchived: in.IncludeArchived,
	}), nil
}

func (s *Service) ExportBoard(ctx context.Context, p Principal, boardID int64, format string) (*export.Result, error) {
	snapshot, f, err := s.exportSnapshot(ctx, p, boardID, format)
	if err != nil {
		return nil, err
	}
	res, err := s.export.Export(ctx, snapshot, f)
	if err != nil {
		return nil, translate(err, "Board")
	}
	return res, nil
}

// ArchiveExport renders the board and stores it in object storage.
func (s *Service) ArchiveExport(ctx context.Context, p Principal, boardID int64, format string) (export.Archived, error) {
	snapshot, f, err := s.exportSnapshot(ctx, p, boardID, format)
	if err != nil {
		return export.Archived{}, err
	}
	archived, err := s.export.ExportAndArchive(ctx, snapshot, f)
	if err != nil {
		return export.Archived{}, translate(err, "Board")
	}
	return archived, nil
}

func (s *Service) exportSnapshot(ctx context.Context, p Principal, boardID int64, format string) (export.Board, export.Format, error) {
	detail, err := s.GetBoard(ctx, p, boardID)
	if err != nil {
		return export.Board{}, "", err
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return export.Board{}, "", translate(err, "Board")
	}
	if s.export == nil {
		return export.Board{}, "", domainError(503, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	return snapshotOf(detail), f, nil
}

// snapshotOf flattens the board aggregate into the export model.
func snapshotOf(detail BoardDetail) export.Board {
	out := export.Board{
		ID:          detail.ID,
		Name:        detail.Name,
		Description: detail.Description,
	}
	for _, m := range detail.Members {
		if m.Role == string(rbac.RoleOwner) {
			out.Owner = m.User.Username
		}
		out.Members = append(out.Members, export.Member{
			Username:    m.User.Username,
			DisplayName: firstNonEmpty(m.User.DisplayName, m.User.Username),
			Role:        m.Role,
		})
	}
	for _, l := range detail.Labels {
		out.Labels = append(out.Labels, export.Label{Name: l.Name, Color: l.Color})
	}
	for _, col := range detail.Columns {
		ec := export.Column{Name: col.Name, IsDone: col.IsDone}
		for _, card := range col.Cards {
			c := export.Card{
				Title:       card.Title,
				Description: card.Description,
				DueDate:     card.DueDate,
				Comments:    len(card.Comments),
			}
			if card.Priority != nil {
				c.Priority = *card.Priority
			}
			if card.Color != nil {
				c.Color = *card.Color
			}
			if card.Assignee != nil {
				c.Assignee = firstNonEmpty(card.Assignee.DisplayName, card.Assignee.Username)
			}
			for _, l := range card.Labels {
				c.Labels = append(c.Labels, l.Name)
			}
			for _, st := range card.Subtasks {
				c.Subtasks = append(c.Subtasks, export.Subtask{Title: st.Title, Completed: st.Completed})
			}
			ec.Cards = append(ec.Cards, c)
		}
		out.Columns = append(out.Columns, ec)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
