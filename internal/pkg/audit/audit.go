// Package audit logs one structured event per dispatched command.
// Records who (identity), what (cluster, command), when, and outcome.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Event represents one audit event (structured for compliance and retention).
type Event struct {
	Time        string `json:"time"` // ISO8601
	Action      string `json:"action"`
	RequestID   string `json:"request_id,omitempty"`
	Identity    string `json:"identity,omitempty"`
	ClusterID   string `json:"cluster_id,omitempty"`
	CommandID   string `json:"command_id,omitempty"`
	CommandType string `json:"command_type,omitempty"`
	Args        string `json:"args,omitempty"`
	Outcome     string `json:"outcome"` // "success" | "failure" | "timeout"
	Message     string `json:"message,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
}

var auditLog = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// LogCommand records a dispatched command and its outcome.
func LogCommand(requestID, identity, clusterID, commandID, commandType string, args []string, outcome, message string, duration time.Duration) {
	e := Event{
		Time:        time.Now().UTC().Format(time.RFC3339Nano),
		Action:      "execute",
		RequestID:   requestID,
		Identity:    identity,
		ClusterID:   clusterID,
		CommandID:   commandID,
		CommandType: commandType,
		Args:        strings.Join(args, " "),
		Outcome:     outcome,
		Message:     message,
		DurationMs:  duration.Milliseconds(),
	}
	auditLog.Info("audit", "event", mustMarshal(e))
}

// LogSession records session lifecycle (create/close).
func LogSession(requestID, identity, clusterID, sessionID, action, outcome string) {
	e := Event{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		Action:    action,
		RequestID: requestID,
		Identity:  identity,
		ClusterID: clusterID,
		CommandID: sessionID,
		Outcome:   outcome,
	}
	auditLog.Info("audit", "event", mustMarshal(e))
}

func mustMarshal(e Event) string {
	b, err := json.Marshal(e)
	if err != nil {
		return `{"error":"marshal failed"}`
	}
	return string(b)
}
