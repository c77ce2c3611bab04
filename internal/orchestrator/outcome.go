package orchestrator

// Outcome is the closed result union of every orchestration entry point:
// a final agent reply, a batch of bridged calls for the remote actor, or
// a waiting status while resolutions are still outstanding.
type Outcome interface {
	outcome()
}

// AgentReply is the terminal outcome: the assistant's final text plus the
// log of tool executions that produced it.
type AgentReply struct {
	Text         string          `json:"text"`
	ExecutionLog []ToolExecution `json:"executionLog,omitempty"`
}

// BridgeRequestBatch asks the caller to relay the listed calls to the
// remote telemetry actor. The conversation is suspended until every call
// is resolved through ResolveOne or ResolveBatch.
type BridgeRequestBatch struct {
	SessionID string       `json:"sessionId"`
	Calls     []BridgeCall `json:"calls"`
}

// WaitingStatus reports that resolutions were accepted but the
// conversation still has unresolved bridged calls.
type WaitingStatus struct {
	RemainingCount int `json:"remaining"`
}

func (AgentReply) outcome()         {}
func (BridgeRequestBatch) outcome() {}
func (WaitingStatus) outcome()      {}

// BridgeCall is one bridged tool invocation handed to the remote actor.
type BridgeCall struct {
	CallID     string                 `json:"call_id"`
	ToolName   string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolExecution is one entry in a conversation's execution log.
type ToolExecution struct {
	Tool       string `json:"tool"`
	DurationMs int64  `json:"durationMs"`
	Status     string `json:"status"` // completed or error
}

// ToolEvent is pushed to WebSocket subscribers during a turn, giving
// real-time visibility into what the agent is doing.
type ToolEvent struct {
	// Phase is the lifecycle phase: "calling" | "result" | "error" |
	// "bridge_requested" | "bridge_resolved"
	Phase string `json:"phase"`
	// CallID is the LLM-assigned id for this specific tool call.
	CallID string `json:"call_id"`
	// ToolName is the name of the tool being called.
	ToolName string `json:"tool_name"`
	// Args are the arguments the LLM passed to the tool.
	Args map[string]interface{} `json:"args,omitempty"`
	// Result is the serialized tool output (set when Phase == "result").
	Result string `json:"result,omitempty"`
	// Error is the error message (set when Phase == "error").
	Error string `json:"error,omitempty"`
	// Iteration is which loop iteration this event belongs to (1-based).
	Iteration int `json:"iteration"`
}
