package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"kanban/api/internal/rbac"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "pgx")}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db.DB
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const userColumns = `id, username, email, display_name, avatar_url, password_hash, created_at`

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO users (username, email, display_name, avatar_url, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		user.Username, user.Email, user.DisplayName, user.AvatarURL, user.PasswordHash,
	).StructScan(&user)
	if err != nil {
		return User{}, dbError("insert user", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	if err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID); err != nil {
		return User{}, dbError("get user", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	if err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username=$1`, username); err != nil {
		return User{}, dbError("get user by username", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsersByIDs(ctx context.Context, ids []int64) ([]User, error) {
	users := make([]User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	query, args, err := psql.Select(userColumns).From("users").Where(squirrel.Eq{"id": ids}).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build users query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, dbError("list users", err)
	}
	return users, nil
}

const boardColumns = `b.id, b.name, b.description, b.owner_id, b.created_at, b.updated_at`

// CreateBoard inserts the board and its owner membership in one transaction.
func (s *PostgresStore) CreateBoard(ctx context.Context, ownerID int64, name, description string) (Board, error) {
	var board Board
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO boards AS b (name, description, owner_id)
			VALUES ($1, $2, $3)
			RETURNING `+boardColumns,
			name, description, ownerID,
		).StructScan(&board)
		if err != nil {
			return dbError("insert board", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO board_members (board_id, user_id, role)
			VALUES ($1, $2, $3)
		`, board.ID, ownerID, string(rbac.RoleOwner)); err != nil {
			return dbError("insert board owner", err)
		}
		return nil
	})
	if err != nil {
		return Board{}, err
	}
	return board, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID int64) (Board, error) {
	var board Board
	if err := s.db.GetContext(ctx, &board, `SELECT `+boardColumns+` FROM boards b WHERE b.id=$1`, boardID); err != nil {
		return Board{}, dbError("get board", err)
	}
	return board, nil
}

func (s *PostgresStore) ListBoardsForUser(ctx context.Context, userID int64) ([]Board, error) {
	boards := make([]Board, 0)
	err := s.db.SelectContext(ctx, &boards, `
		SELECT `+boardColumns+`
		FROM boards b
		JOIN board_members bm ON bm.board_id = b.id
		WHERE bm.user_id = $1
		ORDER BY b.updated_at DESC, b.id DESC
	`, userID)
	if err != nil {
		return nil, dbError("list boards", err)
	}
	return boards, nil
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, boardID int64, name, description *string) (Board, error) {
	update := psql.Update("boards").Set("updated_at", squirrel.Expr("NOW()")).Where(squirrel.Eq{"id": boardID})
	if name != nil {
		update = update.Set("name", *name)
	}
	if description != nil {
		update = update.Set("description", *description)
	}
	query, args, err := update.ToSql()
	if err != nil {
		return Board{}, fmt.Errorf("build board update: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Board{}, dbError("update board", err)
	}
	if err := requireAffected("update board", result); err != nil {
		return Board{}, err
	}
	return s.GetBoard(ctx, boardID)
}

func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, boardID)
	if err != nil {
		return dbError("delete board", err)
	}
	return requireAffected("delete board", result)
}

// MemberRole implements rbac.MembershipStore.
func (s *PostgresStore) MemberRole(ctx context.Context, boardID, userID int64) (rbac.Role, bool, error) {
	var role string
	err := s.db.GetContext(ctx, &role, `SELECT role FROM board_members WHERE board_id=$1 AND user_id=$2`, boardID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read board role: %w", err)
	}
	return rbac.Normalize(role), true, nil
}

const memberColumns = `bm.board_id, bm.user_id, bm.role, bm.added_at, u.username, u.display_name, u.avatar_url`

func (s *PostgresStore) ListMembers(ctx context.Context, boardID int64) ([]BoardMember, error) {
	members := make([]BoardMember, 0)
	err := s.db.SelectContext(ctx, &members, `
		SELECT `+memberColumns+`
		FROM board_members bm
		JOIN users u ON u.id = bm.user_id
		WHERE bm.board_id = $1
		ORDER BY bm.role = 'owner' DESC, bm.added_at, bm.user_id
	`, boardID)
	if err != nil {
		return nil, dbError("list members", err)
	}
	return members, nil
}

// AddMember grants the member role. A duplicate membership is ErrConflict.
func (s *PostgresStore) AddMember(ctx context.Context, boardID, userID int64) (BoardMember, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO board_members (board_id, user_id, role)
		VALUES ($1, $2, $3)
	`, boardID, userID, string(rbac.RoleMember)); err != nil {
		return BoardMember{}, dbError("insert member", err)
	}
	var member BoardMember
	err := s.db.GetContext(ctx, &member, `
		SELECT `+memberColumns+`
		FROM board_members bm
		JOIN users u ON u.id = bm.user_id
		WHERE bm.board_id = $1 AND bm.user_id = $2
	`, boardID, userID)
	if err != nil {
		return BoardMember{}, dbError("get member", err)
	}
	return member, nil
}

// RemoveMember deletes a non-owner membership. The owner row is never removed.
func (s *PostgresStore) RemoveMember(ctx context.Context, boardID, userID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM board_members
		WHERE board_id=$1 AND user_id=$2 AND role <> $3
	`, boardID, userID, string(rbac.RoleOwner))
	if err != nil {
		return dbError("delete member", err)
	}
	return requireAffected("delete member", result)
}

func (s *PostgresStore) ListActiveWebhooks(ctx context.Context, userID int64) ([]Webhook, error) {
	hooks := make([]Webhook, 0)
	err := s.db.SelectContext(ctx, &hooks, `
		SELECT id, user_id, url, secret, active
		FROM webhooks
		WHERE user_id=$1 AND active
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, dbError("list webhooks", err)
	}
	return hooks, nil
}
