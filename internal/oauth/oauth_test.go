package oauth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"entadmin.org/internal/auth"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]auth.User
}

func newMemUsers() *memUsers { return &memUsers{users: map[string]auth.User{}} }

func (m *memUsers) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) FindUserByID(_ context.Context, id string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (m *memUsers) InsertUser(_ context.Context, nu auth.NewUser) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := nu.Email
	if _, ok := m.users[key]; ok {
		return auth.User{}, auth.ErrConflict
	}
	now := time.Now().UTC()
	u := auth.User{
		ID:           fmt.Sprintf("u-%d", len(m.users)+1),
		Name:         nu.Name,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		Avatar:       nu.Avatar,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.users[key] = u
	return u, nil
}

func newTestResolver(t *testing.T) (*auth.Resolver, *memUsers) {
	t.Helper()
	users := newMemUsers()
	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	resolver, err := auth.NewResolver(users, hasher)
	require.NoError(t, err)
	return resolver, users
}
