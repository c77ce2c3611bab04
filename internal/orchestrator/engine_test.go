package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens/skylens-ai/internal/llm/types"
	"github.com/skylens/skylens-ai/internal/session"
	"github.com/skylens/skylens-ai/internal/tools"
)

// scriptedClient replays canned completion responses and records every
// transcript it was handed, so tests can assert on exactly what the
// completion service saw.
type scriptedClient struct {
	responses   []*types.CompletionResponse
	calls       int
	transcripts [][]types.Message
	err         error
}

func (c *scriptedClient) Complete(ctx context.Context, messages []types.Message, _ []types.Tool) (*types.CompletionResponse, error) {
	snapshot := make([]types.Message, len(messages))
	copy(snapshot, messages)
	c.transcripts = append(c.transcripts, snapshot)
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if c.calls > len(c.responses) {
		return &types.CompletionResponse{Content: "exhausted"}, nil
	}
	return c.responses[c.calls-1], nil
}

func textResponse(text string) *types.CompletionResponse {
	return &types.CompletionResponse{Content: text}
}

func toolResponse(content string, calls ...types.ToolCall) *types.CompletionResponse {
	return &types.CompletionResponse{Content: content, ToolCalls: calls}
}

func bridgedCall(id string, args map[string]interface{}) types.ToolCall {
	return types.ToolCall{ID: id, Name: tools.BridgedToolName, Arguments: args}
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	store := session.NewMemoryStore()
	require.NoError(t, store.Put(&session.Session{
		SessionID: "f1",
		Events: []session.Event{
			{TMs: 1000, Kind: "boot", Severity: "info"},
		},
		Downsample1Hz: map[string][]session.Record{
			"ALT": {{TMs: 1000, Fields: map[string]float64{"altitude": 12}}},
		},
	}))
	registry, err := tools.NewRegistry(tools.FlightTools(store))
	require.NoError(t, err)
	return registry
}

func newTestEngine(t *testing.T, client *scriptedClient, opts Options) *Engine {
	t.Helper()
	return NewEngine(client, testRegistry(t), nil, nil, opts)
}

func userMessage(text string) []types.Message {
	return []types.Message{{Role: "user", Content: text}}
}

func TestPlainReply(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		textResponse("The flight lasted ten minutes."),
	}}
	e := newTestEngine(t, client, Options{})

	out, err := e.StartConversation(context.Background(), "f1", userMessage("how long was the flight?"))
	require.NoError(t, err)

	reply, ok := out.(AgentReply)
	require.True(t, ok)
	assert.Equal(t, "The flight lasted ten minutes.", reply.Text)
	assert.Empty(t, reply.ExecutionLog)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, 0, e.PendingCount())

	// The transcript starts with the system instruction.
	require.NotEmpty(t, client.transcripts[0])
	assert.Equal(t, "system", client.transcripts[0][0].Role)
}

func TestLocalToolRoundTrip(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("", types.ToolCall{
			ID:        "call_1",
			Name:      "get_metric",
			Arguments: map[string]interface{}{"metric": "max_altitude"},
		}),
		textResponse("Max altitude was 12 m."),
	}}
	e := newTestEngine(t, client, Options{})

	out, err := e.StartConversation(context.Background(), "f1", userMessage("max altitude?"))
	require.NoError(t, err)

	reply := out.(AgentReply)
	assert.Equal(t, "Max altitude was 12 m.", reply.Text)
	require.Len(t, reply.ExecutionLog, 1)
	assert.Equal(t, "get_metric", reply.ExecutionLog[0].Tool)
	assert.Equal(t, "completed", reply.ExecutionLog[0].Status)

	// Second completion sees assistant tool call plus its tool result.
	second := client.transcripts[1]
	last := second[len(second)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Contains(t, last.Content, `"ok":true`)
}

func TestUnknownToolBecomesErrorPayload(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("", types.ToolCall{ID: "call_1", Name: "no_such_tool"}),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, Options{})

	out, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.NoError(t, err)

	reply := out.(AgentReply)
	require.Len(t, reply.ExecutionLog, 1)
	assert.Equal(t, "error", reply.ExecutionLog[0].Status)

	second := client.transcripts[1]
	last := second[len(second)-1]
	assert.Contains(t, last.Content, `"status":"error"`)
	assert.Contains(t, last.Content, "no_such_tool")
}

func TestIterationCapFallback(t *testing.T) {
	// The model keeps requesting the same local tool forever; the engine
	// must stop after the cap and return the fixed fallback (no assistant
	// message ever carried text).
	loop := toolResponse("", types.ToolCall{
		ID: "call_x", Name: "get_metric",
		Arguments: map[string]interface{}{"metric": "max_altitude"},
	})
	client := &scriptedClient{responses: []*types.CompletionResponse{loop, loop, loop, loop, loop, loop, loop}}
	e := newTestEngine(t, client, Options{MaxIterations: 3})

	out, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.NoError(t, err)

	reply := out.(AgentReply)
	assert.Equal(t, 3, client.calls)
	assert.Equal(t, fallbackReply, reply.Text)
}

func TestIterationCapUsesLastAssistantText(t *testing.T) {
	loop := toolResponse("Let me check that.", types.ToolCall{
		ID: "call_x", Name: "get_metric",
		Arguments: map[string]interface{}{"metric": "max_altitude"},
	})
	client := &scriptedClient{responses: []*types.CompletionResponse{loop, loop}}
	e := newTestEngine(t, client, Options{MaxIterations: 2})

	out, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.NoError(t, err)
	assert.Equal(t, "Let me check that.", out.(AgentReply).Text)
}

func TestBridgedCallSuspendsAndResumes(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("", bridgedCall("call_b1", map[string]interface{}{
			"stream": "ALT", "start_ms": float64(0), "end_ms": float64(5000),
		})),
		textResponse("The slice shows a steady climb."),
	}}
	e := newTestEngine(t, client, Options{})

	out, err := e.StartConversation(context.Background(), "f1", userMessage("show me raw altitude"))
	require.NoError(t, err)

	batch, ok := out.(BridgeRequestBatch)
	require.True(t, ok)
	assert.Equal(t, "f1", batch.SessionID)
	require.Len(t, batch.Calls, 1)
	assert.Equal(t, "call_b1", batch.Calls[0].CallID)
	assert.Equal(t, tools.BridgedToolName, batch.Calls[0].ToolName)
	assert.Equal(t, 1, e.PendingCount())

	out, err = e.ResolveOne(context.Background(), "f1", "call_b1",
		map[string]interface{}{"points": []interface{}{1.0, 2.0}})
	require.NoError(t, err)

	reply, ok := out.(AgentReply)
	require.True(t, ok)
	assert.Equal(t, "The slice shows a steady climb.", reply.Text)
	require.Len(t, reply.ExecutionLog, 1)
	assert.Equal(t, tools.BridgedToolName, reply.ExecutionLog[0].Tool)
	assert.Equal(t, 0, e.PendingCount())

	// Resumed transcript carries the bridged result keyed by call id.
	second := client.transcripts[1]
	last := second[len(second)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call_b1", last.ToolCallID)
	assert.Contains(t, last.Content, "points")
}

func TestPartialResolutionWaits(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("",
			bridgedCall("call_a", map[string]interface{}{"stream": "ALT", "start_ms": float64(0), "end_ms": float64(1)}),
			bridgedCall("call_b", map[string]interface{}{"stream": "GPS", "start_ms": float64(0), "end_ms": float64(1)}),
		),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, Options{})

	out, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.NoError(t, err)
	require.Len(t, out.(BridgeRequestBatch).Calls, 2)

	// Resolve out of order: call_b first.
	out, err = e.ResolveOne(context.Background(), "f1", "call_b", map[string]interface{}{"n": 2.0})
	require.NoError(t, err)
	waiting, ok := out.(WaitingStatus)
	require.True(t, ok)
	assert.Equal(t, 1, waiting.RemainingCount)
	assert.Equal(t, 1, client.calls) // loop has not resumed

	out, err = e.ResolveOne(context.Background(), "f1", "call_a", map[string]interface{}{"n": 1.0})
	require.NoError(t, err)
	_, ok = out.(AgentReply)
	require.True(t, ok)

	// Replay appends results in registration order, not arrival order.
	second := client.transcripts[1]
	var toolIDs []string
	for _, msg := range second {
		if msg.Role == "tool" {
			toolIDs = append(toolIDs, msg.ToolCallID)
		}
	}
	assert.Equal(t, []string{"call_a", "call_b"}, toolIDs)
}

func TestResolveBatch(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("",
			bridgedCall("call_a", map[string]interface{}{"stream": "ALT", "start_ms": float64(0), "end_ms": float64(1)}),
			bridgedCall("call_b", map[string]interface{}{"stream": "GPS", "start_ms": float64(0), "end_ms": float64(1)}),
		),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, Options{})

	_, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.NoError(t, err)

	out, err := e.ResolveBatch(context.Background(), "f1", []CallResult{
		{CallID: "call_b", Result: map[string]interface{}{"n": 2.0}},
		{CallID: "unknown_id", Result: map[string]interface{}{}}, // skipped, not fatal
		{CallID: "call_a", Result: map[string]interface{}{"n": 1.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out.(AgentReply).Text)
}

func TestDuplicateResolutionIgnored(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("",
			bridgedCall("call_a", map[string]interface{}{"stream": "ALT", "start_ms": float64(0), "end_ms": float64(1)}),
			bridgedCall("call_b", map[string]interface{}{"stream": "GPS", "start_ms": float64(0), "end_ms": float64(1)}),
		),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, Options{})

	_, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.NoError(t, err)

	_, err = e.ResolveOne(context.Background(), "f1", "call_a", map[string]interface{}{"v": "first"})
	require.NoError(t, err)

	// A retransmission of the same call id must not overwrite the stored
	// result or change the waiting count.
	out, err := e.ResolveOne(context.Background(), "f1", "call_a", map[string]interface{}{"v": "second"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(WaitingStatus).RemainingCount)

	out, err = e.ResolveOne(context.Background(), "f1", "call_b", map[string]interface{}{"v": "b"})
	require.NoError(t, err)
	_, ok := out.(AgentReply)
	require.True(t, ok)

	// The transcript carries exactly one tool message per call id, with
	// the first-resolution payload.
	second := client.transcripts[1]
	count := 0
	for _, msg := range second {
		if msg.Role == "tool" && msg.ToolCallID == "call_a" {
			count++
			assert.Contains(t, msg.Content, "first")
			assert.NotContains(t, msg.Content, "second")
		}
	}
	assert.Equal(t, 1, count)
}

func TestResolveUnknownCall(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("", bridgedCall("call_a", map[string]interface{}{"stream": "ALT", "start_ms": float64(0), "end_ms": float64(1)})),
	}}
	e := newTestEngine(t, client, Options{})

	_, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.NoError(t, err)

	_, err = e.ResolveOne(context.Background(), "f1", "call_zzz", map[string]interface{}{})
	assert.True(t, errors.Is(err, ErrCallNotFound))
}

func TestResolveWithoutPendingConversation(t *testing.T) {
	e := newTestEngine(t, &scriptedClient{}, Options{})

	_, err := e.ResolveOne(context.Background(), "f1", "call_a", map[string]interface{}{})
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	_, err = e.ResolveBatch(context.Background(), "f1", []CallResult{{CallID: "call_a"}})
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestNewConversationDiscardsSuspendedOne(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("", bridgedCall("call_a", map[string]interface{}{"stream": "ALT", "start_ms": float64(0), "end_ms": float64(1)})),
		textResponse("fresh answer"),
	}}
	e := newTestEngine(t, client, Options{})

	_, err := e.StartConversation(context.Background(), "f1", userMessage("first question"))
	require.NoError(t, err)
	assert.Equal(t, 1, e.PendingCount())

	out, err := e.StartConversation(context.Background(), "f1", userMessage("second question"))
	require.NoError(t, err)
	assert.Equal(t, "fresh answer", out.(AgentReply).Text)
	assert.Equal(t, 0, e.PendingCount())

	// A late resolution for the discarded turn fails loudly.
	_, err = e.ResolveOne(context.Background(), "f1", "call_a", map[string]interface{}{})
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestIterationBudgetPersistsAcrossSuspension(t *testing.T) {
	// Iterations 1-2 each dispatch a bridged call; with MaxIterations=3
	// the loop may make exactly one more completion call after the second
	// resume.
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("", bridgedCall("call_1", map[string]interface{}{"stream": "ALT", "start_ms": float64(0), "end_ms": float64(1)})),
		toolResponse("", bridgedCall("call_2", map[string]interface{}{"stream": "ALT", "start_ms": float64(1), "end_ms": float64(2)})),
		toolResponse("still not done", bridgedCall("call_3", map[string]interface{}{"stream": "ALT", "start_ms": float64(2), "end_ms": float64(3)})),
	}}
	e := newTestEngine(t, client, Options{MaxIterations: 3})

	out, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.NoError(t, err)
	require.IsType(t, BridgeRequestBatch{}, out)

	out, err = e.ResolveOne(context.Background(), "f1", "call_1", map[string]interface{}{"n": 1.0})
	require.NoError(t, err)
	require.IsType(t, BridgeRequestBatch{}, out)

	out, err = e.ResolveOne(context.Background(), "f1", "call_2", map[string]interface{}{"n": 2.0})
	require.NoError(t, err)

	// Third completion requested yet another bridged call, but the cap is
	// spent, so the engine suspends once more and then falls back when
	// that one resolves.
	batch, ok := out.(BridgeRequestBatch)
	require.True(t, ok)
	require.Len(t, batch.Calls, 1)
	assert.Equal(t, "call_3", batch.Calls[0].CallID)

	out, err = e.ResolveOne(context.Background(), "f1", "call_3", map[string]interface{}{"n": 3.0})
	require.NoError(t, err)
	assert.Equal(t, "still not done", out.(AgentReply).Text)
	assert.Equal(t, 3, client.calls)
}

func TestBridgedResultSanitized(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("", bridgedCall("call_a", map[string]interface{}{"stream": "ALT", "start_ms": float64(0), "end_ms": float64(1)})),
		textResponse("done"),
	}}
	e := newTestEngine(t, client, Options{})

	_, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.NoError(t, err)

	_, err = e.ResolveOne(context.Background(), "f1", "call_a", map[string]interface{}{
		"good": 1.5,
		"bad":  math.NaN(),
		"inf":  math.Inf(1),
		"nested": map[string]interface{}{
			"values": []interface{}{1.0, math.NaN(), 3.0},
		},
	})
	require.NoError(t, err)

	second := client.transcripts[1]
	last := second[len(second)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Contains(t, last.Content, `"bad":null`)
	assert.Contains(t, last.Content, `"inf":null`)
	assert.Contains(t, last.Content, `[1,null,3]`)
	assert.False(t, strings.Contains(last.Content, "NaN"))
}

func TestCompletionFailureClearsState(t *testing.T) {
	client := &scriptedClient{err: fmt.Errorf("upstream 500")}
	e := newTestEngine(t, client, Options{})

	_, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.Error(t, err)
	assert.Equal(t, 0, e.PendingCount())
}

func TestSweepExpiredEvictsOldSuspensions(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("", bridgedCall("call_a", map[string]interface{}{"stream": "ALT", "start_ms": float64(0), "end_ms": float64(1)})),
	}}
	e := newTestEngine(t, client, Options{SuspendTTL: time.Millisecond})

	_, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.NoError(t, err)
	require.Equal(t, 1, e.PendingCount())

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, e.SweepExpired())
	assert.Equal(t, 0, e.PendingCount())

	_, err = e.ResolveOne(context.Background(), "f1", "call_a", map[string]interface{}{})
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestSweepLeavesFreshSuspensionsAlone(t *testing.T) {
	client := &scriptedClient{responses: []*types.CompletionResponse{
		toolResponse("", bridgedCall("call_a", map[string]interface{}{"stream": "ALT", "start_ms": float64(0), "end_ms": float64(1)})),
	}}
	e := newTestEngine(t, client, Options{SuspendTTL: time.Hour})

	_, err := e.StartConversation(context.Background(), "f1", userMessage("?"))
	require.NoError(t, err)

	assert.Equal(t, 0, e.SweepExpired())
	assert.Equal(t, 1, e.PendingCount())
}

func TestEmptySessionIDRejected(t *testing.T) {
	e := newTestEngine(t, &scriptedClient{}, Options{})
	_, err := e.StartConversation(context.Background(), "", userMessage("?"))
	assert.Error(t, err)
}
