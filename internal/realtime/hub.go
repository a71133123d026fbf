// Package realtime fans board events out to subscribed websocket connections.
//
// Each connection watches at most one board at a time. The Hub keeps the
// connection registry and the per-board subscription index behind a single
// mutex; callers only ever see counts.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Conn is a live client connection.
type Conn interface {
	ID() string
	Send(frame []byte) error
}

// Message is the envelope delivered to subscribers.
type Message struct {
	Type    string `json:"type"`
	BoardID int64  `json:"boardId"`
	Payload any    `json:"payload,omitempty"`
}

// Publisher delivers a board message to every subscriber except excludeID,
// and revokes subscriptions once access to a board ends. Revoke with userID 0
// drops every subscriber of the board. *Hub acts locally; *Relay routes
// through Redis to every instance.
type Publisher interface {
	Publish(ctx context.Context, boardID int64, msg Message, excludeID string) error
	Revoke(ctx context.Context, boardID, userID int64) error
}

type entry struct {
	conn       Conn
	userID     int64
	boardID    int64
	subscribed bool
}

type Hub struct {
	mu     sync.Mutex
	conns  map[string]*entry
	boards map[int64]map[string]Conn
	log    *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]*entry),
		boards: make(map[int64]map[string]Conn),
		log:    log.With("component", "realtime"),
	}
}

// Register adds an anonymous conn to the registry without subscribing it.
func (h *Hub) Register(conn Conn) {
	h.RegisterUser(conn, 0)
}

// RegisterUser adds conn on behalf of userID, so that Evict can find it.
func (h *Hub) RegisterUser(conn Conn, userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.conns[conn.ID()]; ok {
		e.userID = userID
		return
	}
	h.conns[conn.ID()] = &entry{conn: conn, userID: userID}
}

// Subscribe points conn at boardID, leaving any board it was watching.
func (h *Hub) Subscribe(conn Conn, boardID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.conns[conn.ID()]
	if !ok {
		e = &entry{conn: conn}
		h.conns[conn.ID()] = e
	}
	if e.subscribed {
		if e.boardID == boardID {
			return
		}
		h.leaveLocked(e)
	}
	subs, ok := h.boards[boardID]
	if !ok {
		subs = make(map[string]Conn)
		h.boards[boardID] = subs
	}
	subs[conn.ID()] = conn
	e.boardID = boardID
	e.subscribed = true
}

// Unsubscribe removes conn from its board. The board entry is dropped once
// its last subscriber leaves.
func (h *Hub) Unsubscribe(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.conns[conn.ID()]; ok && e.subscribed {
		h.leaveLocked(e)
	}
}

// Disconnect unsubscribes conn and forgets it.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.conns[conn.ID()]
	if !ok {
		return
	}
	if e.subscribed {
		h.leaveLocked(e)
	}
	delete(h.conns, conn.ID())
}

func (h *Hub) leaveLocked(e *entry) {
	if subs, ok := h.boards[e.boardID]; ok {
		delete(subs, e.conn.ID())
		if len(subs) == 0 {
			delete(h.boards, e.boardID)
		}
	}
	e.boardID = 0
	e.subscribed = false
}

// Broadcast serializes msg once and sends it to every subscriber of boardID
// except excludeID. It returns the number of successful sends.
func (h *Hub) Broadcast(boardID int64, msg Message, excludeID string) int {
	msg.BoardID = boardID
	frame, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encode broadcast", "board_id", boardID, "type", msg.Type, "error", err)
		return 0
	}
	return h.BroadcastFrame(boardID, frame, excludeID)
}

// BroadcastFrame sends an already encoded frame. Sends happen outside the
// lock; a failing connection does not affect the others.
func (h *Hub) BroadcastFrame(boardID int64, frame []byte, excludeID string) int {
	h.mu.Lock()
	targets := make([]Conn, 0, len(h.boards[boardID]))
	for id, conn := range h.boards[boardID] {
		if id != excludeID {
			targets = append(targets, conn)
		}
	}
	h.mu.Unlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(frame); err != nil {
			h.log.Warn("broadcast send failed", "board_id", boardID, "conn_id", conn.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Evict unsubscribes every connection userID holds on boardID and tells each
// one its access was revoked. It returns the number of evicted connections.
func (h *Hub) Evict(boardID, userID int64) int {
	return h.revoke(boardID, func(e *entry) bool { return e.userID == userID })
}

// CloseBoard unsubscribes every connection watching boardID.
func (h *Hub) CloseBoard(boardID int64) int {
	return h.revoke(boardID, func(*entry) bool { return true })
}

func (h *Hub) revoke(boardID int64, match func(*entry) bool) int {
	h.mu.Lock()
	var evicted []Conn
	for id := range h.boards[boardID] {
		e, ok := h.conns[id]
		if !ok || !match(e) {
			continue
		}
		h.leaveLocked(e)
		evicted = append(evicted, e.conn)
	}
	h.mu.Unlock()

	if len(evicted) == 0 {
		return 0
	}
	frame, err := json.Marshal(Message{Type: FrameRevoked, BoardID: boardID})
	if err != nil {
		return len(evicted)
	}
	for _, conn := range evicted {
		if err := conn.Send(frame); err != nil {
			h.log.Warn("revoke notice failed", "board_id", boardID, "conn_id", conn.ID(), "error", err)
		}
	}
	return len(evicted)
}

// Revoke implements Publisher for single-instance deployments.
func (h *Hub) Revoke(_ context.Context, boardID, userID int64) error {
	if userID == 0 {
		h.CloseBoard(boardID)
		return nil
	}
	h.Evict(boardID, userID)
	return nil
}

// Publish implements Publisher for single-instance deployments.
func (h *Hub) Publish(_ context.Context, boardID int64, msg Message, excludeID string) error {
	h.Broadcast(boardID, msg, excludeID)
	return nil
}

func (h *Hub) SubscriberCount(boardID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.boards[boardID])
}

func (h *Hub) BoardCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.boards)
}

func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// BoardOf reports which board conn is watching.
func (h *Hub) BoardOf(connID string) (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.conns[connID]
	if !ok || !e.subscribed {
		return 0, false
	}
	return e.boardID, true
}
