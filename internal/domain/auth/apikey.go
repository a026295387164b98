// Package auth models API key principals and their roles.
package auth

import (
	"context"
	"slices"
)

// Role is the kind of user an API key acts for.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleManager Role = "manager"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleManager:
		return true
	}
	return false
}

// APIKeyInfo holds the identity bound to a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	UserID  int64
	Role    Role
	Scopes  []string
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID int64
	Role   Role
	KeyID  string
	Scopes []string
}

// Is reports whether the principal acts in one of the given roles.
func (p Principal) Is(roles ...Role) bool {
	return slices.Contains(roles, p.Role)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
