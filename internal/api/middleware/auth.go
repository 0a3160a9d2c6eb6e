package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/pkg/metrics"
)

// SkipRule allows requests past authentication for a path (exact or trailing
// wildcard) and method set. An empty method list allows every method.
type SkipRule struct {
	Path    string
	Methods []string
}

func (s SkipRule) matches(r *http.Request) bool {
	if prefix, ok := strings.CutSuffix(s.Path, "*"); ok {
		if !strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
	} else if r.URL.Path != s.Path {
		return false
	}
	if len(s.Methods) == 0 {
		return true
	}
	for _, m := range s.Methods {
		if strings.EqualFold(m, r.Method) {
			return true
		}
	}
	return false
}

// DefaultSkipRules covers health, metrics, discovery, and the agent card.
func DefaultSkipRules() []SkipRule {
	return []SkipRule{
		{Path: "/health"},
		{Path: "/healthz"},
		{Path: "/metrics", Methods: []string{"GET"}},
		{Path: "/.well-known/*", Methods: []string{"GET"}},
		{Path: "/jwks", Methods: []string{"GET"}},
		{Path: "/a2a/", Methods: []string{"GET"}},
	}
}

// Authenticator bundles the credential validators the middleware consults.
type Authenticator struct {
	Keys     *auth.KeyTable
	Bearer   *auth.BearerVerifier
	Executor *auth.ExecutorTokens
}

// Authenticate resolves the request's principal or returns nil.
// Bearer tokens are preferred; a failed bearer falls through to the API key
// so key-only clients keep working during a token rollout.
func (a *Authenticator) Authenticate(r *http.Request) *auth.AuthContext {
	bearer := extractBearer(r)
	if bearer != "" && a.Bearer != nil {
		if ac, err := a.Bearer.Verify(r.Context(), bearer); err == nil {
			metrics.AuthValidationsTotal.WithLabelValues(string(auth.MethodBearerToken), "success").Inc()
			return ac
		}
		metrics.AuthValidationsTotal.WithLabelValues(string(auth.MethodBearerToken), "failure").Inc()
	}
	if key := extractAPIKey(r); key != "" && a.Keys != nil {
		if ac := a.Keys.Validate(key); ac != nil {
			metrics.AuthValidationsTotal.WithLabelValues(string(auth.MethodAPIKey), "success").Inc()
			return ac
		}
		metrics.AuthValidationsTotal.WithLabelValues(string(auth.MethodAPIKey), "failure").Inc()
	}
	return nil
}

// AuthenticateExecutor validates the executor channel credentials: bearer
// token matching the cluster named by X-Cluster-ID.
func (a *Authenticator) AuthenticateExecutor(r *http.Request) (*auth.AuthContext, string) {
	clusterID := r.Header.Get("X-Cluster-ID")
	token := extractBearer(r)
	if clusterID == "" || token == "" || a.Executor == nil {
		return nil, clusterID
	}
	ac := a.Executor.Validate(clusterID, token)
	outcome := "failure"
	if ac != nil {
		outcome = "success"
	}
	metrics.AuthValidationsTotal.WithLabelValues(string(auth.MethodExecutorToken), outcome).Inc()
	return ac, clusterID
}

// Auth enforces dual-mode authentication with skip rules. Executor endpoints
// are validated against per-cluster tokens; everything else against bearer
// tokens and API keys.
func Auth(a *Authenticator, skip []SkipRule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, rule := range skip {
				if rule.matches(r) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if strings.HasPrefix(r.URL.Path, "/executor/") {
				ac, _ := a.AuthenticateExecutor(r)
				if ac == nil {
					unauthorized(w, r)
					return
				}
				next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
				return
			}
			ac := a.Authenticate(r)
			if ac == nil {
				unauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

// unauthorized writes a 401 shaped for the endpoint's protocol: a JSON-RPC
// error envelope on the agent surface, plain JSON elsewhere.
func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if strings.HasPrefix(r.URL.Path, "/a2a") {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      nil,
			"error": map[string]interface{}{
				"code":    -32000,
				"message": "Authentication failed: Invalid credentials",
			},
		})
		return
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  "Authentication failed: Invalid credentials",
		"status": http.StatusUnauthorized,
	})
}

func extractBearer(r *http.Request) string {
	s := r.Header.Get("Authorization")
	if s == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):])
	}
	return ""
}

func extractAPIKey(r *http.Request) string {
	// Header lookup is case-insensitive by construction in net/http.
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
