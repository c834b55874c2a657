package auth

import (
	"context"
	"slices"
	"strings"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is a verified end customer. Sessions are issued elsewhere; the order core only needs
// the user id, and the admin routes need the role.
type Identity struct {
	UserID   string
	Email    string
	Role     string
	Provider string
}

// HasAnyRole matches case-insensitively. A nil identity has no roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	if i == nil {
		return false
	}
	held := strings.TrimSpace(i.Role)
	return held != "" && slices.ContainsFunc(roles, func(role string) bool {
		return strings.EqualFold(strings.TrimSpace(role), held)
	})
}

// IsAdmin gates partner API key management.
func (i *Identity) IsAdmin() bool { return i.HasAnyRole(RoleAdmin) }

type identityContextKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok && identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
