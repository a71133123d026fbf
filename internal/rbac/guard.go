package rbac

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound hides the board from callers who are not members.
	ErrNotFound = errors.New("board not found")
	// ErrForbidden is returned to members lacking the required role, and to
	// non-members attempting entity mutations.
	ErrForbidden = errors.New("forbidden")
)

// MembershipStore resolves a user's role on a board. ok is false when the
// user holds no membership row.
type MembershipStore interface {
	MemberRole(ctx context.Context, boardID, userID int64) (role Role, ok bool, err error)
}

// Guard authorizes board-scoped operations before they run.
type Guard struct {
	store MembershipStore
}

func NewGuard(store MembershipStore) *Guard {
	return &Guard{store: store}
}

func (g *Guard) IsMember(ctx context.Context, boardID, userID int64) (bool, error) {
	_, ok, err := g.role(ctx, boardID, userID)
	return ok, err
}

func (g *Guard) IsOwner(ctx context.Context, boardID, userID int64) (bool, error) {
	role, ok, err := g.role(ctx, boardID, userID)
	return ok && role == RoleOwner, err
}

// RequireRead admits any member and reports ErrNotFound otherwise.
func (g *Guard) RequireRead(ctx context.Context, boardID, userID int64) (Role, error) {
	role, ok, err := g.role(ctx, boardID, userID)
	if err != nil {
		return "", err
	}
	if !ok || !Can(role, ActionRead) {
		return "", ErrNotFound
	}
	return role, nil
}

// RequireMember admits any member for column, card and label mutations.
func (g *Guard) RequireMember(ctx context.Context, boardID, userID int64) (Role, error) {
	role, ok, err := g.role(ctx, boardID, userID)
	if err != nil {
		return "", err
	}
	if !ok || !Can(role, ActionWrite) {
		return "", ErrForbidden
	}
	return role, nil
}

// RequireOwner admits only the board owner. Non-members get ErrNotFound so the
// board's existence is not revealed; plain members get ErrForbidden.
func (g *Guard) RequireOwner(ctx context.Context, boardID, userID int64) error {
	role, ok, err := g.role(ctx, boardID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if !Can(role, ActionAdmin) {
		return ErrForbidden
	}
	return nil
}

func (g *Guard) role(ctx context.Context, boardID, userID int64) (Role, bool, error) {
	role, ok, err := g.store.MemberRole(ctx, boardID, userID)
	if err != nil {
		return "", false, fmt.Errorf("resolve board role: %w", err)
	}
	return role, ok, nil
}
