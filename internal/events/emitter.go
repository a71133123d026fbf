// Package events announces successful board mutations to realtime
// subscribers and to the acting user's webhooks.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"kanban/api/internal/realtime"
)

type Name string

const (
	BoardUpdated    Name = "board.updated"
	ColumnCreated   Name = "column.created"
	ColumnUpdated   Name = "column.updated"
	ColumnDeleted   Name = "column.deleted"
	ColumnReordered Name = "column.reordered"
	CardCreated     Name = "card.created"
	CardUpdated     Name = "card.updated"
	CardDeleted     Name = "card.deleted"
	CardMoved       Name = "card.moved"
	LabelCreated    Name = "label.created"
	LabelUpdated    Name = "label.updated"
	LabelDeleted    Name = "label.deleted"
	MemberAdded     Name = "member.added"
	MemberRemoved   Name = "member.removed"
)

// Names lists every event the service emits.
var Names = []Name{
	BoardUpdated,
	ColumnCreated, ColumnUpdated, ColumnDeleted, ColumnReordered,
	CardCreated, CardUpdated, CardDeleted, CardMoved,
	LabelCreated, LabelUpdated, LabelDeleted,
	MemberAdded, MemberRemoved,
}

// Actor identifies who caused an event. ConnID, when set, is the actor's own
// websocket connection, which does not receive its echo.
type Actor struct {
	UserID int64
	ConnID string
}

type WebhookDispatcher interface {
	Dispatch(ctx context.Context, userID int64, event string, payload any) int
}

type Emitter struct {
	publisher realtime.Publisher
	webhooks  WebhookDispatcher
	log       *slog.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewEmitter wires the fan-out publisher and an optional webhook dispatcher.
func NewEmitter(publisher realtime.Publisher, webhooks WebhookDispatcher, timeout time.Duration, log *slog.Logger) *Emitter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{
		publisher: publisher,
		webhooks:  webhooks,
		log:       log.With("component", "events"),
		timeout:   timeout,
	}
}

// Emit announces name for boardID. The realtime publish happens inline so
// subscribers see one board's events in mutation order; webhook delivery runs
// in the background. Both are detached from ctx cancellation and errors are
// only logged.
func (e *Emitter) Emit(ctx context.Context, actor Actor, boardID int64, name Name, payload any) {
	if e == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	msg := realtime.Message{Type: string(name), BoardID: boardID, Payload: payload}

	if e.publisher != nil {
		pubCtx, cancel := context.WithTimeout(base, e.timeout)
		if err := e.publisher.Publish(pubCtx, boardID, msg, actor.ConnID); err != nil {
			e.log.Warn("publish event", "event", name, "board_id", boardID, "error", err)
		}
		cancel()
	}
	if e.webhooks != nil && actor.UserID != 0 {
		e.dispatch(base, func(ctx context.Context) {
			e.webhooks.Dispatch(ctx, actor.UserID, string(name), msg)
		})
	}
}

// Revoke ends realtime delivery of boardID to userID, or to everyone when
// userID is 0. It runs inline, after any event already emitted for the board.
func (e *Emitter) Revoke(ctx context.Context, boardID, userID int64) {
	if e == nil || e.publisher == nil {
		return
	}
	revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.publisher.Revoke(revokeCtx, boardID, userID); err != nil {
		e.log.Warn("revoke subscriptions", "board_id", boardID, "user_id", userID, "error", err)
	}
}

func (e *Emitter) dispatch(base context.Context, fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("event delivery panicked", "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(base, e.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until in-flight deliveries finish.
func (e *Emitter) Wait() {
	if e != nil {
		e.wg.Wait()
	}
}
