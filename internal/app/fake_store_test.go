package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"kanban/api/internal/events"
	"kanban/api/internal/position"
	"kanban/api/internal/rbac"
	"kanban/api/internal/search"
	"kanban/api/internal/store"
)

// memStore is an in-memory dataStore that keeps sibling positions with the
// same planners the Postgres store uses.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	pingErr error

	users    map[int64]store.User
	boards   map[int64]store.Board
	members  map[int64]map[int64]store.BoardMember
	columns  map[int64]store.Column
	cards    map[int64]store.Card
	labels   map[int64]store.Label
	cardTags map[int64]map[int64]struct{}
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[int64]store.User{},
		boards:   map[int64]store.Board{},
		members:  map[int64]map[int64]store.BoardMember{},
		columns:  map[int64]store.Column{},
		cards:    map[int64]store.Card{},
		labels:   map[int64]store.Label{},
		cardTags: map[int64]map[int64]struct{}{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username || (user.Email != "" && u.Email == user.Email) {
			return store.User{}, store.ErrConflict
		}
	}
	user.ID = m.id()
	user.CreatedAt = time.Now().UTC()
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) GetUserByID(_ context.Context, userID int64) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) ListUsersByIDs(_ context.Context, ids []int64) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) CreateBoard(_ context.Context, ownerID int64, name, description string) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	b := store.Board{ID: m.id(), Name: name, Description: description, OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	m.boards[b.ID] = b
	m.members[b.ID] = map[int64]store.BoardMember{}
	m.addMemberLocked(b.ID, ownerID, rbac.RoleOwner)
	return b, nil
}

func (m *memStore) GetBoard(_ context.Context, boardID int64) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok {
		return store.Board{}, store.ErrNotFound
	}
	return b, nil
}

func (m *memStore) ListBoardsForUser(_ context.Context, userID int64) ([]store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Board
	for boardID, members := range m.members {
		if _, ok := members[userID]; ok {
			out = append(out, m.boards[boardID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateBoard(_ context.Context, boardID int64, name, description *string) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok {
		return store.Board{}, store.ErrNotFound
	}
	if name != nil {
		b.Name = *name
	}
	if description != nil {
		b.Description = *description
	}
	b.UpdatedAt = time.Now().UTC()
	m.boards[boardID] = b
	return b, nil
}

func (m *memStore) DeleteBoard(_ context.Context, boardID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[boardID]; !ok {
		return store.ErrNotFound
	}
	delete(m.boards, boardID)
	delete(m.members, boardID)
	for id, c := range m.columns {
		if c.BoardID == boardID {
			delete(m.columns, id)
		}
	}
	for id, c := range m.cards {
		if c.BoardID == boardID {
			delete(m.cards, id)
		}
	}
	return nil
}

func (m *memStore) MemberRole(_ context.Context, boardID, userID int64) (rbac.Role, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[boardID][userID]
	if !ok {
		return "", false, nil
	}
	return rbac.Role(member.Role), true, nil
}

func (m *memStore) ListMembers(_ context.Context, boardID int64) ([]store.BoardMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.BoardMember
	for _, member := range m.members[boardID] {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memStore) addMemberLocked(boardID, userID int64, role rbac.Role) store.BoardMember {
	u := m.users[userID]
	member := store.BoardMember{
		BoardID:     boardID,
		UserID:      userID,
		Role:        string(role),
		AddedAt:     time.Now().UTC(),
		Username:    u.Username,
		DisplayName: u.DisplayName,
	}
	m.members[boardID][userID] = member
	return member
}

func (m *memStore) AddMember(_ context.Context, boardID, userID int64) (store.BoardMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[boardID]; !ok {
		return store.BoardMember{}, store.ErrNotFound
	}
	if _, ok := m.members[boardID][userID]; ok {
		return store.BoardMember{}, store.ErrConflict
	}
	return m.addMemberLocked(boardID, userID, rbac.RoleMember), nil
}

func (m *memStore) RemoveMember(_ context.Context, boardID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[boardID][userID]; !ok {
		return store.ErrNotFound
	}
	delete(m.members[boardID], userID)
	return nil
}

func (m *memStore) ListColumns(_ context.Context, boardID int64) ([]store.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.columnsLocked(boardID), nil
}

// columnsLocked returns the board's columns in map order, so readers must sort.
func (m *memStore) columnsLocked(boardID int64) []store.Column {
	var out []store.Column
	for _, c := range m.columns {
		if c.BoardID == boardID {
			out = append(out, c)
		}
	}
	return out
}

func (m *memStore) GetColumn(_ context.Context, columnID int64) (store.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.columns[columnID]
	if !ok {
		return store.Column{}, store.ErrNotFound
	}
	return c, nil
}

func (m *memStore) CreateColumn(_ context.Context, boardID int64, name string, isDone bool) (store.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[boardID]; !ok {
		return store.Column{}, store.ErrNotFound
	}
	c := store.Column{
		ID:        m.id(),
		BoardID:   boardID,
		Name:      name,
		IsDone:    isDone,
		Position:  position.Next(columnItems(m.columnsLocked(boardID))),
		CreatedAt: time.Now().UTC(),
	}
	m.columns[c.ID] = c
	return c, nil
}

func (m *memStore) UpdateColumn(_ context.Context, columnID int64, patch store.ColumnPatch) (store.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.columns[columnID]
	if !ok {
		return store.Column{}, store.ErrNotFound
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.IsDone != nil {
		c.IsDone = *patch.IsDone
	}
	m.columns[columnID] = c
	if patch.Position != nil {
		changes, err := position.MoveWithin(columnItems(m.columnsLocked(c.BoardID)), columnID, *patch.Position)
		if err != nil {
			return store.Column{}, err
		}
		m.applyColumnsLocked(changes)
	}
	return m.columns[columnID], nil
}

func (m *memStore) ReorderColumns(_ context.Context, boardID int64, ids []int64) ([]store.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changes, err := position.Reorder(columnItems(m.columnsLocked(boardID)), ids)
	if err != nil {
		return nil, err
	}
	m.applyColumnsLocked(changes)
	out := m.columnsLocked(boardID)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memStore) applyColumnsLocked(changes []position.Change) {
	for _, ch := range changes {
		c := m.columns[ch.ID]
		c.Position = ch.Position
		m.columns[ch.ID] = c
	}
}

func (m *memStore) DeleteColumn(_ context.Context, columnID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.columns[columnID]; !ok {
		return store.ErrNotFound
	}
	delete(m.columns, columnID)
	for id, c := range m.cards {
		if c.ColumnID == columnID {
			delete(m.cards, id)
		}
	}
	return nil
}

func (m *memStore) listCards(boardID int64, archived bool) []store.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Card
	for _, c := range m.cards {
		if c.BoardID == boardID && (c.ArchivedAt != nil) == archived {
			out = append(out, c)
		}
	}
	return out
}

func (m *memStore) ListCards(_ context.Context, boardID int64) ([]store.Card, error) {
	return m.listCards(boardID, false), nil
}

func (m *memStore) ListArchivedCards(_ context.Context, boardID int64) ([]store.Card, error) {
	return m.listCards(boardID, true), nil
}

func (m *memStore) GetCard(_ context.Context, cardID int64) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return store.Card{}, store.ErrNotFound
	}
	return c, nil
}

// activeSiblingsLocked lists the active cards of a column.
func (m *memStore) activeSiblingsLocked(columnID int64) []position.Item {
	var items []position.Item
	for _, c := range m.cards {
		if c.ColumnID == columnID && c.ArchivedAt == nil {
			items = append(items, position.Item{ID: c.ID, Position: c.Position})
		}
	}
	return items
}

func (m *memStore) applyCardsLocked(changes []position.Change) {
	for _, ch := range changes {
		c := m.cards[ch.ID]
		c.Position = ch.Position
		m.cards[ch.ID] = c
	}
}

func (m *memStore) CreateCard(_ context.Context, card store.Card, labelIDs []int64) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.columns[card.ColumnID]
	if !ok {
		return store.Card{}, store.ErrNotFound
	}
	for _, labelID := range labelIDs {
		if _, ok := m.labels[labelID]; !ok {
			return store.Card{}, store.ErrNotFound
		}
	}
	now := time.Now().UTC()
	card.ID = m.id()
	card.BoardID = col.BoardID
	card.Position = position.Next(m.activeSiblingsLocked(col.ID))
	card.CreatedAt, card.UpdatedAt = now, now
	m.cards[card.ID] = card
	if len(labelIDs) > 0 {
		m.cardTags[card.ID] = map[int64]struct{}{}
		for _, labelID := range labelIDs {
			m.cardTags[card.ID][labelID] = struct{}{}
		}
	}
	return card, nil
}

func (m *memStore) UpdateCard(_ context.Context, cardID int64, patch store.CardPatch) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return store.Card{}, store.ErrNotFound
	}
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	switch {
	case patch.ClearDueDate:
		c.DueDate = nil
	case patch.DueDate != nil:
		c.DueDate = patch.DueDate
	}
	switch {
	case patch.ClearPriority:
		c.Priority = nil
	case patch.Priority != nil:
		c.Priority = patch.Priority
	}
	switch {
	case patch.ClearColor:
		c.Color = nil
	case patch.Color != nil:
		c.Color = patch.Color
	}
	switch {
	case patch.ClearAssignee:
		c.AssigneeID = nil
	case patch.AssigneeID != nil:
		c.AssigneeID = patch.AssigneeID
	}
	m.cards[cardID] = c
	return c, nil
}

func (m *memStore) MoveCard(_ context.Context, cardID, columnID int64, target int) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return store.Card{}, store.ErrNotFound
	}
	if c.ArchivedAt != nil {
		return store.Card{}, store.ErrArchived
	}
	if c.ColumnID == columnID {
		changes, err := position.MoveWithin(m.activeSiblingsLocked(columnID), cardID, target)
		if err != nil {
			return store.Card{}, err
		}
		m.applyCardsLocked(changes)
		return m.cards[cardID], nil
	}
	source, dest := m.activeSiblingsLocked(c.ColumnID), m.activeSiblingsLocked(columnID)
	sourceChanges, destChanges, err := position.MoveAcross(source, dest, cardID, target)
	if err != nil {
		return store.Card{}, err
	}
	c.ColumnID = columnID
	m.cards[cardID] = c
	m.applyCardsLocked(sourceChanges)
	m.applyCardsLocked(destChanges)
	return m.cards[cardID], nil
}

func (m *memStore) ArchiveCard(_ context.Context, cardID int64) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return store.Card{}, store.ErrNotFound
	}
	if c.ArchivedAt != nil {
		return store.Card{}, store.ErrArchived
	}
	now := time.Now().UTC()
	c.ArchivedAt = &now
	m.cards[cardID] = c
	m.applyCardsLocked(position.Close(m.activeSiblingsLocked(c.ColumnID), c.Position))
	return m.cards[cardID], nil
}

func (m *memStore) UnarchiveCard(_ context.Context, cardID, columnID int64) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return store.Card{}, store.ErrNotFound
	}
	if c.ArchivedAt == nil {
		return store.Card{}, store.ErrConflict
	}
	c.Position = position.Next(m.activeSiblingsLocked(columnID))
	c.ColumnID = columnID
	c.ArchivedAt = nil
	m.cards[cardID] = c
	return c, nil
}

func (m *memStore) DeleteCard(_ context.Context, cardID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[cardID]; !ok {
		return store.ErrNotFound
	}
	delete(m.cards, cardID)
	delete(m.cardTags, cardID)
	return nil
}

func (m *memStore) MutateCard(_ context.Context, cardID int64, fn func(card *store.Card) error) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return store.Card{}, store.ErrNotFound
	}
	c.Subtasks = append(store.Subtasks(nil), c.Subtasks...)
	c.Comments = append(store.Comments(nil), c.Comments...)
	if err := fn(&c); err != nil {
		return store.Card{}, err
	}
	m.cards[cardID] = c
	return c, nil
}

func (m *memStore) ListLabels(_ context.Context, boardID int64) ([]store.Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Label
	for _, l := range m.labels {
		if l.BoardID == boardID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetLabel(_ context.Context, labelID int64) (store.Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.labels[labelID]
	if !ok {
		return store.Label{}, store.ErrNotFound
	}
	return l, nil
}

func (m *memStore) CreateLabel(_ context.Context, boardID int64, name, color string) (store.Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.labels {
		if l.BoardID == boardID && l.Name == name {
			return store.Label{}, store.ErrConflict
		}
	}
	l := store.Label{ID: m.id(), BoardID: boardID, Name: name, Color: color}
	m.labels[l.ID] = l
	return l, nil
}

func (m *memStore) UpdateLabel(_ context.Context, labelID int64, name, color *string) (store.Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.labels[labelID]
	if !ok {
		return store.Label{}, store.ErrNotFound
	}
	if name != nil {
		l.Name = *name
	}
	if color != nil {
		l.Color = *color
	}
	m.labels[labelID] = l
	return l, nil
}

func (m *memStore) DeleteLabel(_ context.Context, labelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.labels[labelID]; !ok {
		return store.ErrNotFound
	}
	delete(m.labels, labelID)
	for _, tags := range m.cardTags {
		delete(tags, labelID)
	}
	return nil
}

func (m *memStore) ListCardLabels(_ context.Context, cardIDs []int64) ([]store.CardLabel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.CardLabel
	for _, cardID := range cardIDs {
		var ids []int64
		for labelID := range m.cardTags[cardID] {
			ids = append(ids, labelID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, labelID := range ids {
			out = append(out, store.CardLabel{CardID: cardID, Label: m.labels[labelID]})
		}
	}
	return out, nil
}

func (m *memStore) AttachLabel(_ context.Context, cardID, labelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[cardID]; !ok {
		return store.ErrNotFound
	}
	if m.cardTags[cardID] == nil {
		m.cardTags[cardID] = map[int64]struct{}{}
	}
	m.cardTags[cardID][labelID] = struct{}{}
	return nil
}

func (m *memStore) DetachLabel(_ context.Context, cardID, labelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cardTags[cardID][labelID]; !ok {
		return store.ErrNotFound
	}
	delete(m.cardTags[cardID], labelID)
	return nil
}

func columnItems(cols []store.Column) []position.Item {
	items := make([]position.Item, 0, len(cols))
	for _, c := range cols {
		items = append(items, position.Item{ID: c.ID, Position: c.Position})
	}
	return items
}

// recordedEvent is one Emit call captured by eventRecorder.
type recordedEvent struct {
	Actor   events.Actor
	BoardID int64
	Name    events.Name
	Payload any
}

type eventRecorder struct {
	mu      sync.Mutex
	events  []recordedEvent
	revoked [][2]int64
}

func (r *eventRecorder) Revoke(_ context.Context, boardID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, [2]int64{boardID, userID})
}

func (r *eventRecorder) Emit(_ context.Context, actor events.Actor, boardID int64, name events.Name, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Actor: actor, BoardID: boardID, Name: name, Payload: payload})
}

func (r *eventRecorder) names() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Name, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

func (r *eventRecorder) last() recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return recordedEvent{}
	}
	return r.events[len(r.events)-1]
}

type indexRecorder struct {
	mu      sync.Mutex
	indexed []int64
	deleted []int64
	resp    search.Response
	seen    search.Query
}

func (r *indexRecorder) Search(_ context.Context, q search.Query) search.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = q
	return r.resp
}

func (r *indexRecorder) IndexCard(card search.CardRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, card.ID)
}

func (r *indexRecorder) DeleteCard(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
}

var errPing = errors.New("database unavailable")
