package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/kubently/kubently/internal/pkg/metrics"
)

// Server is the agent protocol binding. It accepts JSON-RPC envelopes,
// drives the reasoning layer through the Planner port, and multiplexes
// status/artifact/tool events back to the caller, preserving producer order
// per context.
type Server struct {
	planner       Planner
	contexts      *ContextStore
	log           *slog.Logger
	streamTimeout time.Duration

	// Per-context serialization: a later call on the same contextId does not
	// begin emitting until the earlier call's final event was observed. Locks
	// come from a fixed shard set keyed by hash, so the table stays bounded
	// however many contexts a long-lived server has seen. Two contexts may
	// share a shard; that only serializes more, never less.
	locks [lockShards]sync.Mutex
}

const lockShards = 64

func (s *Server) lockFor(contextID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(contextID))
	return &s.locks[h.Sum32()%lockShards]
}

func NewServer(planner Planner, contexts *ContextStore, log *slog.Logger, streamTimeout time.Duration) *Server {
	if streamTimeout <= 0 {
		streamTimeout = 300 * time.Second
	}
	return &Server{
		planner:       planner,
		contexts:      contexts,
		log:           log,
		streamTimeout: streamTimeout,
	}
}

// Routes registers the binding under the given prefix (normally /a2a).
func (s *Server) Routes(router *mux.Router, prefix string) {
	router.HandleFunc(prefix+"/", s.HandleRPC).Methods("POST")
	router.HandleFunc(prefix+"/", s.AgentCard).Methods("GET")
}

// AgentCard handles GET: a JSON description of the agent surface.
func (s *Server) AgentCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"name":               "kubently",
		"description":        "Multi-cluster Kubernetes diagnostics over read-only inspection commands.",
		"version":            "1.0.0",
		"defaultInputModes":  []string{"text/plain"},
		"defaultOutputModes": []string{"application/json", "text/event-stream"},
		"methods":            []string{"message/send", "message/stream", "invoke"},
		"capabilities": map[string]bool{
			"streaming": true,
		},
	})
}

// HandleRPC handles POST: the JSON-RPC 2.0 envelope.
func (s *Server) HandleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, newError(nil, CodeInvalidRequest, "invalid JSON-RPC request"))
		return
	}
	if req.JSONRPC != "2.0" {
		writeResponse(w, newError(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\""))
		return
	}
	switch req.Method {
	case "message/send", "invoke":
		s.handleSend(w, r, &req)
	case "message/stream":
		s.handleStream(w, r, &req)
	default:
		writeResponse(w, newError(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method)))
	}
}

// handleSend runs the full turn and returns one aggregated response.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, req *Request) {
	params, err := parseMessageParams(req.Params)
	if err != nil {
		writeResponse(w, newError(req.ID, CodeInvalidParams, err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.streamTimeout)
	defer cancel()

	var events []Event
	final, err := s.runTurn(ctx, params, func(e Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		s.log.Error("agent turn failed", "error", err)
		writeResponse(w, newError(req.ID, CodeInternalError, "agent turn failed"))
		return
	}
	writeResponse(w, newResponse(req.ID, map[string]interface{}{
		"contextId": final.ContextID,
		"status":    final.State,
		"events":    events,
	}))
}

// handleStream emits each event as a JSON-RPC response frame over SSE,
// terminating on the final status-update.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, req *Request) {
	params, err := parseMessageParams(req.Params)
	if err != nil {
		writeResponse(w, newError(req.ID, CodeInvalidParams, err.Error()))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeResponse(w, newError(req.ID, CodeInternalError, "streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithTimeout(r.Context(), s.streamTimeout)
	defer cancel()

	_, err = s.runTurn(ctx, params, func(e Event) error {
		// A write failure means the client went away: stop producing, and
		// emit nothing further for this context in this call.
		frame, err := json.Marshal(newResponse(req.ID, e))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			cancel()
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.log.Error("agent stream failed", "error", err)
	}
}

// runTurn serializes on the context, stamps events, drives the planner, and
// persists the updated conversational state. Returns the final event.
func (s *Server) runTurn(ctx context.Context, params *MessageParams, forward func(Event) error) (Event, error) {
	contextID := params.ContextID
	if contextID == "" {
		contextID = uuid.New().String()
	}

	mu := s.lockFor(contextID)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.contexts.Load(ctx, contextID)
	if err != nil {
		return Event{}, err
	}

	var final Event
	emit := func(e Event) error {
		state.Seq++
		e.ContextID = contextID
		e.Seq = state.Seq
		metrics.A2AStreamEventsTotal.WithLabelValues(e.Kind).Inc()
		if e.Kind == KindStatusUpdate && e.Final {
			final = e
		}
		return forward(e)
	}

	planErr := s.planner.Plan(ctx, state.Turns, params.Message, emit)
	if planErr != nil && ctx.Err() != nil {
		// Client disconnect or deadline: derived work was cancelled; record
		// nothing and surface no more events for this context in this call.
		final = StatusEvent(StateCancelled, "", true)
		final.ContextID = contextID
		return final, nil
	}
	if planErr != nil {
		return Event{}, planErr
	}

	state.Turns = append(state.Turns, Turn{Role: params.Message.Role, Text: params.Message.Text(), At: time.Now().UTC()})
	if final.Kind != "" {
		state.Turns = append(state.Turns, Turn{Role: "agent", Text: final.State, At: time.Now().UTC()})
	}
	if err := s.contexts.Save(context.WithoutCancel(ctx), state); err != nil {
		s.log.Warn("failed to persist context state", "context_id", contextID, "error", err)
	}
	return final, nil
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
