package auth

import "context"

// Method identifies how a request authenticated.
type Method string

const (
	MethodAPIKey        Method = "api_key"
	MethodBearerToken   Method = "bearer_token"
	MethodExecutorToken Method = "executor_token"
)

// AuthContext is the authenticated principal attached to a request.
// Never logged verbatim; only Identity is safe to log.
type AuthContext struct {
	Identity    string
	Method      Method
	Permissions []string
}

// HasPermission reports whether the principal carries a scope. An empty
// permission set means unrestricted (operator keys without scopes).
func (a *AuthContext) HasPermission(scope string) bool {
	if len(a.Permissions) == 0 {
		return true
	}
	for _, p := range a.Permissions {
		if p == scope || p == "*" {
			return true
		}
	}
	return false
}

type contextKey string

const authKey contextKey = "auth"

// WithAuth returns a context carrying the authenticated principal.
func WithAuth(ctx context.Context, a *AuthContext) context.Context {
	return context.WithValue(ctx, authKey, a)
}

// FromContext returns the principal from the context, or nil.
func FromContext(ctx context.Context) *AuthContext {
	v := ctx.Value(authKey)
	if v == nil {
		return nil
	}
	a, _ := v.(*AuthContext)
	return a
}
