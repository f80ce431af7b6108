package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"entadmin.org/internal/auth"
	"entadmin.org/internal/ids"
)

const userColumns = `id, name, email, password_hash, role, avatar, team_id, created_at, updated_at`

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.findUser(ctx, `email`, email)
}

func (s *Store) FindUserByID(ctx context.Context, id string) (auth.User, error) {
	return s.findUser(ctx, `id`, id)
}

func (s *Store) findUser(ctx context.Context, column, value string) (auth.User, error) {
	query := s.db.Rebind(`select ` + userColumns + ` from users where ` + column + ` = ?`)
	var u auth.User
	err := s.db.GetContext(ctx, &u, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("select user by %s: %w", column, err)
	}
	return u, nil
}

// InsertUser is one statement; the unique index on email arbitrates concurrent inserts.
func (s *Store) InsertUser(ctx context.Context, nu auth.NewUser) (auth.User, error) {
	now := s.timestamp()
	u := auth.User{
		ID:           ids.New(),
		Name:         nu.Name,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		Avatar:       nu.Avatar,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	query := s.db.Rebind(`
		insert into users (id, name, email, password_hash, role, avatar, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.Avatar, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.User{}, fmt.Errorf("%w: email %q already exists", auth.ErrConflict, nu.Email)
		}
		return auth.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}
