package auth

import "context"

type principalContextKey struct{}

// SetPrincipalContext stores the authenticated principal on the context for
// downstream consumers.
func SetPrincipalContext(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// GetPrincipalFromContext retrieves the authenticated principal from the
// context.
func GetPrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}

type permissionsContextKey struct{}

// SetPermissionsContext stores the principal's effective permissions on the
// context. They are resolved once during authentication and consumed by the
// authorization middleware and the whoami handler.
func SetPermissionsContext(ctx context.Context, permissions []string) context.Context {
	copied := append([]string(nil), permissions...)
	return context.WithValue(ctx, permissionsContextKey{}, copied)
}

// GetPermissionsFromContext retrieves the effective permissions from the
// context.
func GetPermissionsFromContext(ctx context.Context) []string {
	permissions, ok := ctx.Value(permissionsContextKey{}).([]string)
	if !ok {
		return nil
	}
	return append([]string(nil), permissions...)
}
