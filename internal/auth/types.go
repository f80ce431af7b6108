package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is one of the fixed account roles.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
)

// DefaultRole is assigned when registration omits a role and to new federated accounts.
const DefaultRole = RoleCustomer

// FederatedPasswordHash marks accounts created through an OAuth provider. It is not a
// valid bcrypt digest, so local login can never succeed against it.
const FederatedPasswordHash = "oauth-user"

var knownRoles = []Role{RoleAdmin, RoleManager, RoleStaff, RoleCustomer}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	for _, known := range knownRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole validates a raw role value. An empty value yields DefaultRole.
func ParseRole(raw string) (Role, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return DefaultRole, nil
	}
	role := Role(raw)
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return role, nil
}

// User is the canonical identity record.
type User struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         Role      `json:"role" db:"role"`
	Avatar       *string   `json:"avatar,omitempty" db:"avatar"`
	TeamID       *string   `json:"team_id,omitempty" db:"team_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Public returns a copy of the user without the password digest.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// FederatedOnly reports whether the account can only sign in through a provider.
func (u User) FederatedOnly() bool {
	return u.PasswordHash == FederatedPasswordHash
}

// NewUser carries the fields required to insert a user.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Avatar       *string
}

// FederatedProfile is the identity an OAuth provider vouches for during a callback.
type FederatedProfile struct {
	Subject   string
	Username  string
	Email     string
	Name      string
	AvatarURL string
}

// LookupEmail returns the email used to match the profile to a local account. Providers
// that expose no email get a synthesized placeholder address.
func (p FederatedProfile) LookupEmail(provider string) string {
	if email := strings.TrimSpace(p.Email); email != "" {
		return email
	}
	handle := strings.TrimSpace(p.Username)
	if handle == "" {
		handle = strings.TrimSpace(p.Subject)
	}
	return fmt.Sprintf("%s@%s.placeholder", handle, strings.ToLower(provider))
}

// DisplayName falls back to the username, then a generic label.
func (p FederatedProfile) DisplayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	if handle := strings.TrimSpace(p.Username); handle != "" {
		return handle
	}
	return "User"
}
