package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"entadmin.org/internal/obs"
)

const decoyPassword = "entadmin-decoy-password"

// Registration is the input of a local sign-up.
type Registration struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Resolver maps local credentials or federated profiles to exactly one User.
type Resolver struct {
	users  UserStore
	hasher *Hasher
	tracer trace.Tracer

	decoyOnce sync.Once
	decoy     string
}

// NewResolver wires the resolver to its store and hasher.
func NewResolver(users UserStore, hasher *Hasher) (*Resolver, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: password hasher is required")
	}
	return &Resolver{
		users:  users,
		hasher: hasher,
		tracer: otel.Tracer("entadmin.org/internal/auth"),
	}, nil
}

// Register creates a local account. A taken email yields ErrConflict.
func (r *Resolver) Register(ctx context.Context, reg Registration) (user User, err error) {
	ctx, span := r.tracer.Start(ctx, "auth.Register")
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(reg.Name)
	email := strings.TrimSpace(reg.Email)
	if name == "" || email == "" || reg.Password == "" {
		return User{}, fmt.Errorf("%w: name, email and password are required", ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	role, err := ParseRole(reg.Role)
	if err != nil {
		return User{}, err
	}

	_, err = r.users.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		return User{}, fmt.Errorf("%w: email already registered", ErrConflict)
	case !errors.Is(err, ErrNotFound):
		return User{}, upstream("find user", err)
	}

	hash, err := r.hasher.Hash(reg.Password)
	if err != nil {
		return User{}, err
	}
	created, err := r.users.InsertUser(ctx, NewUser{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return User{}, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return User{}, upstream("insert user", err)
	}
	obs.IdentityCreated("local")
	return created.Public(), nil
}

// Login checks local credentials. Unknown emails, federated-only accounts and wrong
// passwords all produce the same ErrUnauthenticated after one bcrypt comparison.
func (r *Resolver) Login(ctx context.Context, email, password string) (user User, err error) {
	ctx, span := r.tracer.Start(ctx, "auth.Login")
	defer func() { endSpan(span, err) }()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	found, err := r.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.hasher.Verify(password, r.decoyDigest())
			return User{}, ErrUnauthenticated
		}
		return User{}, upstream("find user", err)
	}
	if found.FederatedOnly() {
		r.hasher.Verify(password, r.decoyDigest())
		return User{}, ErrUnauthenticated
	}
	if !r.hasher.Verify(password, found.PasswordHash) {
		return User{}, ErrUnauthenticated
	}
	return found.Public(), nil
}

// ResolveFederated returns the account matching the provider profile, creating a
// federated-only account on first sight. Existing accounts are returned untouched.
// Concurrent first logins for the same email converge on a single record: the losing
// insert sees ErrConflict and re-reads the winner.
func (r *Resolver) ResolveFederated(ctx context.Context, provider string, profile FederatedProfile) (user User, err error) {
	provider = strings.TrimSpace(strings.ToLower(provider))
	ctx, span := r.tracer.Start(ctx, "auth.ResolveFederated", trace.WithAttributes(attribute.String("auth.provider", provider)))
	defer func() { endSpan(span, err) }()

	if provider == "" {
		return User{}, fmt.Errorf("%w: provider is required", ErrInvalidInput)
	}
	if strings.TrimSpace(profile.Email) == "" && strings.TrimSpace(profile.Username) == "" && strings.TrimSpace(profile.Subject) == "" {
		return User{}, fmt.Errorf("%w: provider profile carries no identity", ErrInvalidInput)
	}
	email := profile.LookupEmail(provider)

	found, err := r.users.FindUserByEmail(ctx, email)
	if err == nil {
		return found.Public(), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, upstream("find user", err)
	}

	var avatar *string
	if url := strings.TrimSpace(profile.AvatarURL); url != "" {
		avatar = &url
	}
	created, err := r.users.InsertUser(ctx, NewUser{
		Name:         profile.DisplayName(),
		Email:        email,
		PasswordHash: FederatedPasswordHash,
		Role:         DefaultRole,
		Avatar:       avatar,
	})
	if err == nil {
		obs.IdentityCreated(provider)
		return created.Public(), nil
	}
	if !errors.Is(err, ErrConflict) {
		return User{}, upstream("insert user", err)
	}

	existing, err := r.users.FindUserByEmail(ctx, email)
	if err != nil {
		return User{}, upstream("refetch user after conflict", err)
	}
	return existing.Public(), nil
}

// FindUser loads a user by id for authenticated callers.
func (r *Resolver) FindUser(ctx context.Context, id string) (User, error) {
	user, err := r.users.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, err
		}
		return User{}, upstream("find user", err)
	}
	return user.Public(), nil
}

func (r *Resolver) decoyDigest() string {
	r.decoyOnce.Do(func() {
		r.decoy, _ = r.hasher.Hash(decoyPassword)
	})
	return r.decoy
}

func upstream(op string, err error) error {
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
