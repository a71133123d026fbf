package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Inbound control frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
)

// Outbound control frame types.
const (
	FrameConnected    = "connected"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FramePong         = "pong"
	FrameError        = "error"
	FrameRevoked      = "revoked"
)

// Authorizer decides whether a user may watch a board.
type Authorizer interface {
	IsMember(ctx context.Context, boardID, userID int64) (bool, error)
}

type controlFrame struct {
	Type    string `json:"type"`
	BoardID int64  `json:"boardId,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Session applies one connection's control frames to the hub.
type Session struct {
	hub    *Hub
	conn   Conn
	userID int64
	authz  Authorizer
	log    *slog.Logger
}

func NewSession(hub *Hub, conn Conn, userID int64, authz Authorizer) *Session {
	hub.RegisterUser(conn, userID)
	return &Session{
		hub:    hub,
		conn:   conn,
		userID: userID,
		authz:  authz,
		log:    hub.log.With("conn_id", conn.ID(), "user_id", userID),
	}
}

// Handle processes one inbound frame. Malformed or unknown frames are logged
// and ignored.
func (s *Session) Handle(ctx context.Context, raw []byte) {
	var frame controlFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.log.Debug("ignoring malformed frame", "error", err)
		return
	}

	switch frame.Type {
	case FrameSubscribe:
		s.subscribe(ctx, frame.BoardID)
	case FrameUnsubscribe:
		s.hub.Unsubscribe(s.conn)
		s.reply(Message{Type: FrameUnsubscribed})
	case FramePing:
		s.reply(Message{Type: FramePong})
	default:
		s.log.Debug("ignoring unknown frame", "type", frame.Type)
	}
}

func (s *Session) subscribe(ctx context.Context, boardID int64) {
	if boardID <= 0 {
		s.reply(Message{Type: FrameError, Payload: errorPayload{Message: "boardId is required"}})
		return
	}
	ok, err := s.authz.IsMember(ctx, boardID, s.userID)
	if err != nil {
		s.log.Error("subscribe membership check", "board_id", boardID, "error", err)
		s.reply(Message{Type: FrameError, Payload: errorPayload{Message: "subscription failed"}})
		return
	}
	if !ok {
		s.reply(Message{Type: FrameError, Payload: errorPayload{Message: "board not found"}})
		return
	}
	s.hub.Subscribe(s.conn, boardID)
	// A removal that committed between the check and Subscribe has already
	// run its eviction, so look again now that the subscription is visible.
	if ok, err := s.authz.IsMember(ctx, boardID, s.userID); err != nil || !ok {
		s.hub.Unsubscribe(s.conn)
		s.reply(Message{Type: FrameError, Payload: errorPayload{Message: "board not found"}})
		return
	}
	s.reply(Message{Type: FrameSubscribed, BoardID: boardID})
}

// Greet tells the client its connection id, which it echoes in the
// X-Connection-ID header so its own mutations are not sent back to it.
func (s *Session) Greet() {
	s.reply(Message{Type: FrameConnected, Payload: map[string]string{"connectionId": s.conn.ID()}})
}

// Close detaches the connection from the hub.
func (s *Session) Close() {
	s.hub.Disconnect(s.conn)
}

func (s *Session) reply(msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode control reply", "type", msg.Type, "error", err)
		return
	}
	if err := s.conn.Send(frame); err != nil {
		s.log.Warn("control reply failed", "type", msg.Type, "error", err)
	}
}
