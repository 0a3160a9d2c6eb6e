package rest

import (
	"net/http"
)

// Health handles GET /health: liveness (process is up). No auth.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Healthz handles GET /healthz: readiness, the keyed store must answer.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": "store_unavailable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AuthDiscovery handles GET /.well-known/kubently-auth: the discovery
// document pointing CLIs at the supported credential methods and, when
// configured, the external provider's device-authorization endpoints.
// The control plane never mints tokens itself.
func (h *Handler) AuthDiscovery(w http.ResponseWriter, r *http.Request) {
	methods := []string{}
	if h.auth != nil && h.auth.Keys != nil && !h.auth.Keys.Empty() {
		methods = append(methods, "api_key")
	}
	if h.cfg.OIDCIssuerURL != "" || h.cfg.JWTSecret != "" {
		methods = append(methods, "bearer_token")
	}
	doc := map[string]interface{}{
		"authentication_methods": methods,
	}
	if h.cfg.OAuthDeviceURL != "" && h.cfg.OAuthTokenURL != "" {
		doc["oauth"] = map[string]string{
			"device_authorization_endpoint": h.cfg.OAuthDeviceURL,
			"token_endpoint":                h.cfg.OAuthTokenURL,
			"client_id":                     h.cfg.OAuthClientID,
			"issuer":                        h.cfg.OIDCIssuerURL,
		}
	}
	respondJSON(w, http.StatusOK, doc)
}
