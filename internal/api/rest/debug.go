package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/audit"
	"github.com/kubently/kubently/internal/pkg/logger"
	"github.com/kubently/kubently/internal/pkg/validate"
	"github.com/kubently/kubently/internal/queue"
	"github.com/kubently/kubently/internal/session"
	"github.com/kubently/kubently/internal/store"
)

// mutatingVerbs are rejected regardless of command type. The executor
// enforces the same list; the dispatcher is the first line.
var mutatingVerbs = map[string]bool{
	"delete": true, "apply": true, "create": true, "edit": true,
	"patch": true, "replace": true, "scale": true, "annotate": true,
	"label": true, "cordon": true, "uncordon": true, "drain": true,
	"taint": true, "exec": true, "cp": true, "attach": true,
	"port-forward": true, "proxy": true, "rollout": true, "set": true,
}

// CreateSession handles POST /debug/session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClusterID  string `json:"cluster_id"`
		TTLSeconds int    `json:"ttl_seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidArgument, "Invalid request body")
		return
	}
	if !validate.ClusterID(req.ClusterID) {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidArgument, "Invalid cluster_id")
		return
	}
	identity := identityFrom(r)
	ttl := time.Duration(req.TTLSeconds) * time.Second
	s, err := h.sessions.Create(r.Context(), req.ClusterID, identity, ttl)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	audit.LogSession(logger.FromContext(r.Context()), identity, req.ClusterID, s.ID, "session_create", "success")
	respondJSON(w, http.StatusCreated, s)
}

// CloseSession handles DELETE /debug/session/{id}.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !validate.SessionID(id) {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidArgument, "Invalid session id")
		return
	}
	err := h.sessions.Close(r.Context(), id)
	if errors.Is(err, session.ErrSessionExpired) {
		respondErrorWithCode(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	audit.LogSession(logger.FromContext(r.Context()), identityFrom(r), "", id, "session_close", "success")
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	SessionID      string   `json:"session_id,omitempty"`
	ClusterID      string   `json:"cluster_id"`
	CommandType    string   `json:"command_type"`
	Args           []string `json:"args"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// Execute handles POST /debug/execute: validate, authorize, enqueue, await.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := logger.FromContext(r.Context())
	identity := identityFrom(r)

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidArgument, "Invalid request body")
		return
	}
	if !validate.ClusterID(req.ClusterID) {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidArgument, "Invalid cluster_id")
		return
	}
	cmdType := models.CommandType(req.CommandType)
	if !cmdType.Valid() {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidArgument, "Unknown command_type")
		return
	}
	if !validate.Args(req.Args) {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidArgument, "args must be a non-empty list of non-blank strings")
		return
	}
	verb := strings.ToLower(req.Args[0])
	if mutatingVerbs[verb] {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidArgument, "Mutating verbs are not permitted")
		return
	}
	if !cmdType.VerbAllowed(verb) {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidArgument, "args[0] does not match command_type")
		return
	}
	if ac := auth.FromContext(r.Context()); ac != nil && !ac.HasPermission("execute") {
		respondErrorWithCode(w, http.StatusForbidden, ErrCodeForbidden, "Identity lacks the execute scope")
		return
	}

	// A session is optional; when present it must be live, and dispatching
	// through it refreshes its TTL.
	if req.SessionID != "" {
		if _, err := h.sessions.Touch(r.Context(), req.SessionID); err != nil {
			if errors.Is(err, session.ErrSessionExpired) {
				respondErrorWithCode(w, http.StatusNotFound, ErrCodeNotFound, "Session expired or unknown")
				return
			}
			h.respondStoreError(w, err)
			return
		}
	}

	timeout := h.cfg.DispatchTimeout()
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	cmd := queue.NewCommand(req.ClusterID, req.SessionID, cmdType, req.Args, timeout)
	if err := h.queue.Enqueue(r.Context(), cmd); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			respondErrorWithCode(w, http.StatusTooManyRequests, ErrCodeResourceExhausted, "Cluster command queue is full")
			return
		}
		h.respondStoreError(w, err)
		return
	}

	result, err := h.queue.AwaitResult(r.Context(), cmd.CommandID, timeout)
	if err != nil && result == nil {
		h.respondStoreError(w, err)
		return
	}
	outcome := "success"
	if result.Status != models.StatusSuccess {
		outcome = strings.ToLower(string(result.Status))
	}
	audit.LogCommand(requestID, identity, req.ClusterID, cmd.CommandID, req.CommandType, req.Args, outcome, "", time.Since(start))
	respondJSON(w, http.StatusOK, result)
}

// ListClusters handles GET /debug/clusters: clusters with a live executor.
func (h *Handler) ListClusters(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ScanKeys(r.Context(), executorPresencePrefix+"*")
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	clusters := make([]string, 0, len(keys))
	for _, k := range keys {
		clusters = append(clusters, strings.TrimPrefix(k, executorPresencePrefix))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"clusters": clusters})
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrUnavailable) {
		respondErrorWithCode(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Backing store unavailable; retry")
		return
	}
	h.log.Error("internal error", "error", err)
	respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternal, "Internal error")
}

func identityFrom(r *http.Request) string {
	if ac := auth.FromContext(r.Context()); ac != nil {
		return ac.Identity
	}
	return ""
}
