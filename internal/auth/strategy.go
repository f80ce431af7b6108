package auth

import (
	"context"
	"fmt"
)

// StrategyKind names a sign-in mechanism.
type StrategyKind string

const (
	StrategyLocal  StrategyKind = "local"
	StrategyGoogle StrategyKind = "google"
	StrategyGitHub StrategyKind = "github"
)

// Credentials is the closed set of inputs a Strategy accepts.
type Credentials interface {
	isCredentials()
}

// PasswordCredentials drive LocalStrategy.
type PasswordCredentials struct {
	Email    string
	Password string
}

// AuthorizationCode drives the OAuth strategies.
type AuthorizationCode struct {
	Code string
}

func (PasswordCredentials) isCredentials() {}
func (AuthorizationCode) isCredentials()   {}

// Strategy resolves credentials to a canonical user. Routes hold the concrete strategy
// they serve; there is no lookup by name.
type Strategy interface {
	Kind() StrategyKind
	ResolveIdentity(ctx context.Context, creds Credentials) (User, error)
}

// LocalStrategy authenticates email and password pairs.
type LocalStrategy struct {
	resolver *Resolver
}

var _ Strategy = (*LocalStrategy)(nil)

func NewLocalStrategy(resolver *Resolver) *LocalStrategy {
	return &LocalStrategy{resolver: resolver}
}

func (s *LocalStrategy) Kind() StrategyKind { return StrategyLocal }

func (s *LocalStrategy) ResolveIdentity(ctx context.Context, creds Credentials) (User, error) {
	pc, ok := creds.(PasswordCredentials)
	if !ok {
		return User{}, fmt.Errorf("%w: local strategy expects password credentials", ErrInvalidInput)
	}
	return s.resolver.Login(ctx, pc.Email, pc.Password)
}
