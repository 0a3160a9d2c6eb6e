// Package models holds the wire types shared by the control plane and the
// in-cluster executor.
package models

import "time"

// CommandType enumerates the structured diagnostic operations.
type CommandType string

const (
	CommandGet      CommandType = "get"
	CommandDescribe CommandType = "describe"
	CommandLogs     CommandType = "logs"
	CommandEvents   CommandType = "events"
	CommandTop      CommandType = "top"
	CommandVersion  CommandType = "version"
	CommandExplain  CommandType = "explain"
)

// AllowedVerbs maps each command type to the kubectl verbs its args[0] may
// carry. All verbs are read-only by construction; mutating verbs are rejected
// before a command is ever enqueued.
var AllowedVerbs = map[CommandType][]string{
	CommandGet:      {"get"},
	CommandDescribe: {"describe"},
	CommandLogs:     {"logs"},
	CommandEvents:   {"events", "get"},
	CommandTop:      {"top"},
	CommandVersion:  {"version"},
	CommandExplain:  {"explain"},
}

// VerbAllowed reports whether verb is acceptable as args[0] for t.
func (t CommandType) VerbAllowed(verb string) bool {
	for _, v := range AllowedVerbs[t] {
		if v == verb {
			return true
		}
	}
	return false
}

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	_, ok := AllowedVerbs[t]
	return ok
}

// Command is one read-only inspection command bound for a cluster executor.
type Command struct {
	CommandID   string      `json:"command_id"`
	ClusterID   string      `json:"cluster_id"`
	SessionID   string      `json:"session_id,omitempty"`
	CommandType CommandType `json:"command_type"`
	Args        []string    `json:"args"`
	TimeoutMs   int64       `json:"timeout_ms"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
}

// ResultStatus is the terminal state of a command.
type ResultStatus string

const (
	StatusSuccess   ResultStatus = "SUCCESS"
	StatusFailed    ResultStatus = "FAILED"
	StatusTimeout   ResultStatus = "TIMEOUT"
	StatusError     ResultStatus = "ERROR"
	StatusCancelled ResultStatus = "CANCELLED"
)

// Result is the executor's answer for one command. Consumed exactly once by
// the rendezvous in the command queue.
type Result struct {
	CommandID       string       `json:"command_id"`
	ClusterID       string       `json:"cluster_id,omitempty"`
	Success         bool         `json:"success"`
	Stdout          string       `json:"stdout"`
	Stderr          string       `json:"stderr"`
	ReturnCode      int          `json:"return_code"`
	Status          ResultStatus `json:"status"`
	ExecutedAt      time.Time    `json:"executed_at"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
}

// TimeoutResult builds the synthetic result returned when no executor
// answered within the deadline.
func TimeoutResult(commandID string) *Result {
	return &Result{
		CommandID:  commandID,
		Success:    false,
		Stderr:     "command timed out waiting for executor",
		ReturnCode: -1,
		Status:     StatusTimeout,
		ExecutedAt: time.Now().UTC(),
	}
}

// CancelledResult builds the synthetic result used when the caller went away.
func CancelledResult(commandID string) *Result {
	return &Result{
		CommandID:  commandID,
		Success:    false,
		ReturnCode: -1,
		Status:     StatusCancelled,
		ExecutedAt: time.Now().UTC(),
	}
}
