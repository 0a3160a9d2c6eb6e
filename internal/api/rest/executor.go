package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/metrics"
	"github.com/kubently/kubently/internal/queue"
	"github.com/kubently/kubently/internal/store"
)

const executorPresencePrefix = "executor:"

// Event names on the executor stream. Framing is text/event-stream: an
// "event:" line, a single "data:" line of JSON, then a blank line.
const (
	eventConnected = "connected"
	eventCommand   = "command"
	eventKeepalive = "keepalive"
)

// Connection states for the executor stream. Logged at debug level; the
// machine is OPENING → CONNECTED → DRAINING ↔ IDLE → CLOSING → CLOSED.
const (
	stateOpening   = "OPENING"
	stateConnected = "CONNECTED"
	stateDraining  = "DRAINING"
	stateIdle      = "IDLE"
	stateClosing   = "CLOSING"
	stateClosed    = "CLOSED"
)

// ExecutorStream handles GET /executor/stream: the long-lived server-push
// channel delivering commands to one executor connection. At-most-one
// delivery across connections is guaranteed by the queue's atomic pop.
func (h *Handler) ExecutorStream(w http.ResponseWriter, r *http.Request) {
	clusterID := r.Header.Get("X-Cluster-ID")
	ac := auth.FromContext(r.Context())
	if ac == nil || ac.Method != auth.MethodExecutorToken || ac.Identity != "executor:"+clusterID {
		respondError(w, http.StatusForbidden, "Executor identity does not match cluster")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	state := stateOpening
	logState := func(next string) {
		h.log.Debug("executor stream state", "cluster_id", clusterID, "from", state, "to", next)
		state = next
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	keepalive := h.cfg.Keepalive()
	presenceKey := executorPresencePrefix + clusterID
	presenceTTL := 3 * keepalive

	hot, _ := h.sessions.IsHot(ctx, clusterID)
	connected := map[string]interface{}{
		"cluster_id": clusterID,
		"server_id":  h.serverID,
		"now":        time.Now().UTC().Format(time.RFC3339Nano),
		"hot":        hot,
	}
	if err := writeEvent(w, flusher, eventConnected, connected); err != nil {
		return
	}
	logState(stateConnected)
	_ = h.store.SetTTL(ctx, presenceKey, []byte(h.serverID), presenceTTL)

	metrics.ExecutorStreamsActive.Inc()
	defer metrics.ExecutorStreamsActive.Dec()
	h.log.Info("executor connected", "cluster_id", clusterID)

	cmdMsgs, closeCmd := h.store.Subscribe(ctx, queue.CommandChannel(clusterID))
	defer closeCmd()
	doneMsgs, closeDone := h.store.Subscribe(ctx, queue.DoneChannel(clusterID))
	defer closeDone()

	// Bounded in-flight window: no further pops until earlier commands have
	// produced results or exceeded their own timeout.
	window := h.cfg.InflightWindow
	if window <= 0 {
		window = 8
	}
	inflight := make(map[string]time.Time) // command_id -> per-command deadline

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	drain := func() error {
		logState(stateDraining)
		for len(inflight) < window {
			cmd, err := h.queue.PopNext(ctx, clusterID, 100*time.Millisecond)
			if err != nil || cmd == nil {
				break
			}
			if err := writeEvent(w, flusher, eventCommand, cmd); err != nil {
				// The command was popped but never reached the executor:
				// return it to the head of the queue.
				requeueCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				if rqErr := h.queue.Requeue(requeueCtx, cmd); rqErr != nil {
					h.log.Error("requeue after write failure", "command_id", cmd.CommandID, "error", rqErr)
				}
				cancel()
				return err
			}
			inflight[cmd.CommandID] = time.Now().Add(time.Duration(cmd.TimeoutMs) * time.Millisecond)
		}
		logState(stateIdle)
		return nil
	}

	if err := drain(); err != nil {
		logState(stateClosing)
		logState(stateClosed)
		return
	}

	for {
		select {
		case <-ctx.Done():
			logState(stateClosing)
			logState(stateClosed)
			h.log.Info("executor disconnected", "cluster_id", clusterID)
			return
		case _, open := <-cmdMsgs:
			if !open {
				logState(stateClosing)
				return
			}
			if err := drain(); err != nil {
				logState(stateClosing)
				return
			}
		case id, open := <-doneMsgs:
			if !open {
				logState(stateClosing)
				return
			}
			delete(inflight, id)
			if err := drain(); err != nil {
				logState(stateClosing)
				return
			}
		case <-ticker.C:
			// Reap in-flight slots whose commands exceeded their own timeout.
			now := time.Now()
			for id, deadline := range inflight {
				if now.After(deadline) {
					delete(inflight, id)
				}
			}
			_ = h.store.SetTTL(ctx, presenceKey, []byte(h.serverID), presenceTTL)
			payload := map[string]interface{}{"now": time.Now().UTC().Format(time.RFC3339Nano)}
			if err := writeEvent(w, flusher, eventKeepalive, payload); err != nil {
				logState(stateClosing)
				return
			}
			if err := drain(); err != nil {
				logState(stateClosing)
				return
			}
		}
	}
}

// ExecutorResults handles POST /executor/results: validates the posting
// executor owns the command's cluster and completes the rendezvous.
// Idempotent; duplicates are no-ops.
func (h *Handler) ExecutorResults(w http.ResponseWriter, r *http.Request) {
	clusterID := r.Header.Get("X-Cluster-ID")
	ac := auth.FromContext(r.Context())
	if ac == nil || ac.Method != auth.MethodExecutorToken || ac.Identity != "executor:"+clusterID {
		respondError(w, http.StatusForbidden, "Executor identity does not match cluster")
		return
	}

	var result models.Result
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidArgument, "Invalid result body")
		return
	}
	if result.CommandID == "" {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidArgument, "command_id is required")
		return
	}

	owner, err := h.queue.ClusterForCommand(r.Context(), result.CommandID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Command metadata expired (e.g. long-timed-out command); accept and
		// discard, the tombstone in Deliver handles the rest.
		h.log.Debug("result for unknown command", "command_id", result.CommandID, "cluster_id", clusterID)
	case err != nil:
		h.respondStoreError(w, err)
		return
	case owner != clusterID:
		respondError(w, http.StatusForbidden, "Result cluster does not match command")
		return
	}

	result.ClusterID = clusterID
	if err := h.queue.Deliver(r.Context(), &result); err != nil {
		h.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeEvent frames one SSE event: event name, single data line, blank line.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
