package a2a

// Event kinds. Unknown kinds MUST be ignored by clients (forward
// compatibility); the server only emits the ones below.
const (
	KindStatusUpdate   = "status-update"
	KindArtifactUpdate = "artifact-update"
	KindToolCall       = "tool-call"
	KindToolResponse   = "tool-response"
	KindThinking       = "thinking"
)

// Status states for status-update events.
const (
	StateWorking   = "working"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// Event is the tagged variant streamed to agent-protocol clients. Kind
// discriminates which of the per-variant fields are populated. ContextID and
// Seq are stamped by the server; Seq increases monotonically within a context.
type Event struct {
	Kind      string `json:"kind"`
	ContextID string `json:"context_id,omitempty"`
	Seq       int64  `json:"seq,omitempty"`

	// status-update
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Final   bool   `json:"final,omitempty"`

	// artifact-update
	ArtifactID string `json:"artifact_id,omitempty"`
	Parts      []Part `json:"parts,omitempty"`

	// tool-call
	Tool       string                 `json:"tool,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// tool-response / thinking
	Content string `json:"content,omitempty"`
}

func StatusEvent(state, message string, final bool) Event {
	return Event{Kind: KindStatusUpdate, State: state, Message: message, Final: final}
}

func ArtifactEvent(artifactID string, parts ...Part) Event {
	return Event{Kind: KindArtifactUpdate, ArtifactID: artifactID, Parts: parts}
}

func ToolCallEvent(tool string, parameters map[string]interface{}) Event {
	return Event{Kind: KindToolCall, Tool: tool, Parameters: parameters}
}

func ToolResponseEvent(content string) Event {
	return Event{Kind: KindToolResponse, Content: content}
}

func ThinkingEvent(content string) Event {
	return Event{Kind: KindThinking, Content: content}
}
