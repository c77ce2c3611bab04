package orchestrator

import (
	"time"

	"github.com/skylens/skylens-ai/internal/llm/types"
)

// resolveStatus classifies one resolution attempt.
type resolveStatus int

const (
	resolveAccepted resolveStatus = iota
	resolveDuplicate
	resolveUnknown
)

// PendingCall is a registered bridged tool invocation. Its result is set
// exactly once; later resolutions for the same call id are duplicates and
// are ignored so retransmissions from the remote actor stay harmless.
type PendingCall struct {
	CallID     string
	ToolName   string
	Parameters map[string]interface{}
	Result     map[string]interface{}
	Resolved   bool
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// PendingConversation is a conversation turn parked on ≥1 unresolved
// bridged call. At most one exists per session id; it is destroyed when
// every call resolves and the loop advances past them, or when a new
// top-level request for the session discards it.
type PendingConversation struct {
	SessionID     string
	CorrelationID string
	Messages      []types.Message
	Calls         map[string]*PendingCall
	order         []string // call ids in insertion order
	Iteration     int
	StartTime     time.Time
	ExecutionLog  []ToolExecution
}

func newPendingConversation(sessionID, correlationID string, messages []types.Message) *PendingConversation {
	return &PendingConversation{
		SessionID:     sessionID,
		CorrelationID: correlationID,
		Messages:      messages,
		Calls:         make(map[string]*PendingCall),
		StartTime:     time.Now(),
	}
}

// register records a bridged call with no result yet.
func (c *PendingConversation) register(call types.ToolCall) {
	if _, exists := c.Calls[call.ID]; exists {
		return
	}
	c.Calls[call.ID] = &PendingCall{
		CallID:     call.ID,
		ToolName:   call.Name,
		Parameters: call.Arguments,
		CreatedAt:  time.Now(),
	}
	c.order = append(c.order, call.ID)
}

// resolve stores a result into the matching call.
func (c *PendingConversation) resolve(callID string, result map[string]interface{}) resolveStatus {
	pc, ok := c.Calls[callID]
	if !ok {
		return resolveUnknown
	}
	if pc.Resolved {
		return resolveDuplicate
	}
	pc.Result = result
	pc.Resolved = true
	pc.ResolvedAt = time.Now()
	return resolveAccepted
}

// unresolvedCount counts calls still waiting for a result.
func (c *PendingConversation) unresolvedCount() int {
	n := 0
	for _, pc := range c.Calls {
		if !pc.Resolved {
			n++
		}
	}
	return n
}

// batch lists every unresolved call in insertion order, ready to hand to
// the remote actor.
func (c *PendingConversation) batch() []BridgeCall {
	calls := make([]BridgeCall, 0, len(c.order))
	for _, id := range c.order {
		pc := c.Calls[id]
		if pc.Resolved {
			continue
		}
		calls = append(calls, BridgeCall{
			CallID:     pc.CallID,
			ToolName:   pc.ToolName,
			Parameters: pc.Parameters,
		})
	}
	return calls
}

// lastAssistantToolCalls returns the tool-call list of the most recently
// appended assistant message. Replay after resolution is restricted to
// this set so stale ids from earlier, already-resolved turns are ignored.
func (c *PendingConversation) lastAssistantToolCalls() []types.ToolCall {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == "assistant" {
			return c.Messages[i].ToolCalls
		}
	}
	return nil
}

// hasToolMessage reports whether the transcript already carries a tool
// result for the given call id. The duplicate guard for replay.
func (c *PendingConversation) hasToolMessage(callID string) bool {
	for _, msg := range c.Messages {
		if msg.Role == "tool" && msg.ToolCallID == callID {
			return true
		}
	}
	return false
}
