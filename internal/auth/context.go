package auth

import "context"

type identityKey struct{}

// Identity is the authenticated caller attached to a request context.
// Meters is an optional scope narrowing the token to specific devices; an
// empty scope covers the tenant's whole fleet. Plan mirrors the tenant's
// subscription tier so read surfaces can gate features without a device
// lookup.
type Identity struct {
	TenantID string
	Subject  string
	Role     Role
	Plan     string
	Meters   []string
}

// AllowsMeter reports whether the identity's meter scope covers deviceID.
func (id Identity) AllowsMeter(deviceID string) bool {
	if len(id.Meters) == 0 {
		return true
	}
	for _, meter := range id.Meters {
		if meter == deviceID {
			return true
		}
	}
	return false
}

// WithIdentity attaches the authenticated caller to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller, or the zero Identity for
// unauthenticated requests (exempt paths, internal calls).
func IdentityFromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Identity{}
	}
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return Identity{}
}

// TenantIDFromContext extracts the caller's tenant id.
func TenantIDFromContext(ctx context.Context) string {
	return IdentityFromContext(ctx).TenantID
}

// RoleFromContext extracts the caller's role.
func RoleFromContext(ctx context.Context) Role {
	return IdentityFromContext(ctx).Role
}

// SubjectFromContext extracts the caller's subject.
func SubjectFromContext(ctx context.Context) string {
	return IdentityFromContext(ctx).Subject
}
