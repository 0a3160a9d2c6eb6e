package rest

import (
	"log/slog"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kubently/kubently/internal/api/middleware"
	"github.com/kubently/kubently/internal/config"
	"github.com/kubently/kubently/internal/queue"
	"github.com/kubently/kubently/internal/session"
	"github.com/kubently/kubently/internal/store"
)

// Handler wires the dispatcher, executor channel, and discovery endpoints.
type Handler struct {
	cfg      *config.Config
	store    *store.Store
	sessions *session.Manager
	queue    *queue.Queue
	auth     *middleware.Authenticator
	log      *slog.Logger
	serverID string
}

func NewHandler(cfg *config.Config, st *store.Store, sm *session.Manager, q *queue.Queue, a *middleware.Authenticator, log *slog.Logger, serverID string) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    st,
		sessions: sm,
		queue:    q,
		auth:     a,
		log:      log,
		serverID: serverID,
	}
}

// SetupRoutes configures the control-plane HTTP surface (the agent protocol
// binding registers its own routes under /a2a/).
func SetupRoutes(router *mux.Router, h *Handler) {
	// Health and observability
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.HandleFunc("/healthz", h.Healthz).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Discovery
	router.HandleFunc("/.well-known/kubently-auth", h.AuthDiscovery).Methods("GET")

	// Dispatcher (debug API)
	router.HandleFunc("/debug/session", h.CreateSession).Methods("POST")
	router.HandleFunc("/debug/session/{id}", h.CloseSession).Methods("DELETE")
	router.HandleFunc("/debug/execute", h.Execute).Methods("POST")
	router.HandleFunc("/debug/clusters", h.ListClusters).Methods("GET")

	// Executor channel
	router.HandleFunc("/executor/stream", h.ExecutorStream).Methods("GET")
	router.HandleFunc("/executor/results", h.ExecutorResults).Methods("POST")
}
