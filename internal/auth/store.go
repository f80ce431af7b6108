package auth

import "context"

// UserStore describes persistence operations required by the auth subsystem. Each call
// is a single atomic statement.
//
// Lookups return ErrNotFound when no row matches. InsertUser returns ErrConflict when
// the email is already taken; any other error is treated as an upstream failure.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id string) (User, error)
	InsertUser(ctx context.Context, u NewUser) (User, error)
}
