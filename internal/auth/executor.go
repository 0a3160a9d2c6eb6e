package auth

import (
	"crypto/subtle"
)

// ExecutorTokens validates the static per-cluster bearer tokens presented by
// in-cluster executors. These are machine credentials provisioned alongside
// the executor deployment, not user tokens.
type ExecutorTokens struct {
	tokens map[string]string // cluster_id -> token
}

func NewExecutorTokens(tokens map[string]string) *ExecutorTokens {
	if tokens == nil {
		tokens = map[string]string{}
	}
	return &ExecutorTokens{tokens: tokens}
}

// Validate checks the token for a cluster; constant-time compare.
func (e *ExecutorTokens) Validate(clusterID, presented string) *AuthContext {
	want, ok := e.tokens[clusterID]
	if !ok || want == "" || presented == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(presented)) != 1 {
		return nil
	}
	return &AuthContext{
		Identity:    "executor:" + clusterID,
		Method:      MethodExecutorToken,
		Permissions: []string{"executor"},
	}
}

// Known reports whether a cluster has a registered executor credential.
func (e *ExecutorTokens) Known(clusterID string) bool {
	_, ok := e.tokens[clusterID]
	return ok
}
