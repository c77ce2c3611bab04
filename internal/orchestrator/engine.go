package orchestrator

// Package orchestrator drives the agent's multi-step reasoning loop over
// a flight-telemetry session. It asks the completion service for the next
// step, executes local tools synchronously, and for the bridged telemetry
// tool suspends the conversation: the transcript and pending calls are
// parked under the session id, a batch of bridge requests goes back to the
// caller, and the loop resumes only once every call has been resolved by
// a later, unrelated request. The engine guarantees the transcript never
// carries duplicate, missing, or mismatched tool results across those
// suspensions.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skylens/skylens-ai/internal/audit"
	"github.com/skylens/skylens-ai/internal/llm/types"
	"github.com/skylens/skylens-ai/internal/metrics"
	"github.com/skylens/skylens-ai/internal/tools"
)

var (
	// ErrSessionNotFound is returned when a resolution references a
	// session with no suspended conversation.
	ErrSessionNotFound = errors.New("no pending conversation for session")

	// ErrCallNotFound is returned when ResolveOne references a call id
	// the suspended conversation does not know.
	ErrCallNotFound = errors.New("pending call not found")
)

const (
	// DefaultMaxIterations caps completion-service round trips per
	// conversation, counted across suspensions.
	DefaultMaxIterations = 5

	// DefaultSuspendTTL bounds how long a suspended conversation may
	// wait for the remote actor before the janitor evicts it.
	DefaultSuspendTTL = 30 * time.Minute

	// fallbackReply is returned when the iteration cap is reached with
	// no assistant text to show.
	fallbackReply = "I'm sorry — I couldn't finish analyzing this flight within the allowed number of steps. Please try a more specific question."

	systemPrompt = `You are SkyLens, a flight-telemetry analysis assistant. You answer questions about one ingested flight using the provided tools: named metrics, rolling-window baselines, outlier detection, event listing, timestamp-proximity event correlation, and high-resolution telemetry slices. Prefer tools over guessing; cite timestamps in milliseconds since boot. When a tool reports ok=false or insufficient data, say so plainly instead of inventing values.`
)

// CallResult pairs a bridged call id with the result supplied by the
// remote actor.
type CallResult struct {
	CallID string                 `json:"call_id"`
	Result map[string]interface{} `json:"result"`
}

// Options tunes the engine.
type Options struct {
	MaxIterations int
	SuspendTTL    time.Duration
	// OnToolEvent, when set, receives tool lifecycle events for
	// streaming to WebSocket subscribers.
	OnToolEvent func(sessionID string, ev ToolEvent)
}

// Engine is the tool-call orchestration and bridging engine.
type Engine struct {
	llm      types.CompletionClient
	registry *tools.Registry
	schema   []types.Tool
	logger   *zap.Logger
	auditLog audit.Logger

	maxIterations int
	suspendTTL    time.Duration
	onToolEvent   func(sessionID string, ev ToolEvent)

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState serializes all orchestration for one session id. Holding
// its lock across completion-service calls is intentional: a session's
// progress is single-file, while other sessions proceed independently.
type sessionState struct {
	mu      sync.Mutex
	pending *PendingConversation
}

// NewEngine wires the orchestration engine.
func NewEngine(llm types.CompletionClient, registry *tools.Registry, logger *zap.Logger, auditLog audit.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.SuspendTTL <= 0 {
		opts.SuspendTTL = DefaultSuspendTTL
	}
	return &Engine{
		llm:           llm,
		registry:      registry,
		schema:        registry.Schema(),
		logger:        logger,
		auditLog:      auditLog,
		maxIterations: opts.MaxIterations,
		suspendTTL:    opts.SuspendTTL,
		onToolEvent:   opts.OnToolEvent,
		sessions:      make(map[string]*sessionState),
	}
}

// state returns the per-session state, creating it on first use.
func (e *Engine) state(sessionID string) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		e.sessions[sessionID] = st
	}
	return st
}

// lookup returns the per-session state only if it already exists.
func (e *Engine) lookup(sessionID string) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[sessionID]
}

// StartConversation seeds the system instruction, appends the supplied
// history, and runs the loop. A suspended conversation for the same
// session is unconditionally discarded first: a fresh top-level request
// always wins over a stale suspended one, and any late resolution for
// the discarded turn will fail with ErrSessionNotFound.
func (e *Engine) StartConversation(ctx context.Context, sessionID string, history []types.Message) (Outcome, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	st := e.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pending != nil {
		e.logger.Warn("discarding suspended conversation on new chat request",
			zap.String("session_id", sessionID),
			zap.Int("unresolved_calls", st.pending.unresolvedCount()),
		)
		_ = e.auditLog.Log(ctx, audit.NewEvent(audit.EventConversationDiscarded).
			WithSession(sessionID).
			WithResult(audit.ResultSuccess).
			WithDescription("suspended conversation replaced by new chat request"))
		metrics.ConversationsTotal.WithLabelValues("discarded").Inc()
		e.clearPending(st)
	}

	correlationID := audit.GenerateCorrelationID()
	messages := make([]types.Message, 0, len(history)+1)
	messages = append(messages, types.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)

	conv := newPendingConversation(sessionID, correlationID, messages)
	_ = e.auditLog.LogConversationStarted(ctx, sessionID, correlationID)

	return e.runLoop(ctx, st, conv)
}

// ResolveOne stores a single bridged-call result. It fails with
// ErrSessionNotFound when the session has no suspended conversation and
// ErrCallNotFound when the call id is unknown to it.
func (e *Engine) ResolveOne(ctx context.Context, sessionID, callID string, result map[string]interface{}) (Outcome, error) {
	st := e.lookup(sessionID)
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	conv := st.pending
	if conv == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	switch conv.resolve(callID, result) {
	case resolveUnknown:
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	case resolveDuplicate:
		e.logger.Warn("ignoring duplicate resolution for call",
			zap.String("session_id", sessionID),
			zap.String("call_id", callID),
		)
		metrics.BridgeCallsResolved.WithLabelValues("duplicate").Inc()
		_ = e.auditLog.Log(ctx, audit.NewEvent(audit.EventBridgeDuplicate).
			WithSession(sessionID).WithCall(callID).WithResult(audit.ResultSuccess))
	default:
		metrics.BridgeCallsResolved.WithLabelValues("resolved").Inc()
		_ = e.auditLog.Log(ctx, audit.NewEvent(audit.EventBridgeResolved).
			WithSession(sessionID).WithCall(callID).WithResult(audit.ResultSuccess))
	}

	return e.afterResolve(ctx, st, conv)
}

// ResolveBatch stores several bridged-call results at once. Unknown call
// ids inside the batch are skipped with a warning, not fatal.
func (e *Engine) ResolveBatch(ctx context.Context, sessionID string, results []CallResult) (Outcome, error) {
	st := e.lookup(sessionID)
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	conv := st.pending
	if conv == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	for _, r := range results {
		switch conv.resolve(r.CallID, r.Result) {
		case resolveUnknown:
			e.logger.Warn("skipping unknown call id in resolution batch",
				zap.String("session_id", sessionID),
				zap.String("call_id", r.CallID),
			)
			metrics.BridgeCallsResolved.WithLabelValues("unknown").Inc()
		case resolveDuplicate:
			e.logger.Warn("ignoring duplicate resolution for call",
				zap.String("session_id", sessionID),
				zap.String("call_id", r.CallID),
			)
			metrics.BridgeCallsResolved.WithLabelValues("duplicate").Inc()
		default:
			metrics.BridgeCallsResolved.WithLabelValues("resolved").Inc()
			_ = e.auditLog.Log(ctx, audit.NewEvent(audit.EventBridgeResolved).
				WithSession(sessionID).WithCall(r.CallID).WithResult(audit.ResultSuccess))
		}
	}

	return e.afterResolve(ctx, st, conv)
}

// afterResolve decides whether the conversation can resume. With any call
// still unresolved it returns WaitingStatus and leaves the transcript
// untouched. Otherwise it replays the results of the current turn into
// the transcript — restricted to the last assistant message's tool calls,
// guarded against duplicates, appended in pending-call insertion order
// regardless of arrival order — and resumes the loop at the stored
// iteration.
func (e *Engine) afterResolve(ctx context.Context, st *sessionState, conv *PendingConversation) (Outcome, error) {
	if remaining := conv.unresolvedCount(); remaining > 0 {
		return WaitingStatus{RemainingCount: remaining}, nil
	}

	currentTurn := make(map[string]bool)
	for _, call := range conv.lastAssistantToolCalls() {
		if _, ok := conv.Calls[call.ID]; ok {
			currentTurn[call.ID] = true
		}
	}

	for _, id := range conv.order {
		if !currentTurn[id] || conv.hasToolMessage(id) {
			continue
		}
		pc := conv.Calls[id]
		payload, err := json.Marshal(sanitizeValue(map[string]interface{}(pc.Result)))
		if err != nil {
			e.clearPending(st)
			return nil, fmt.Errorf("serialize bridged result for call %s: %w", id, err)
		}
		conv.Messages = append(conv.Messages, types.Message{
			Role:       "tool",
			Content:    string(payload),
			ToolCallID: id,
		})
		conv.ExecutionLog = append(conv.ExecutionLog, ToolExecution{
			Tool:       pc.ToolName,
			DurationMs: pc.ResolvedAt.Sub(pc.CreatedAt).Milliseconds(),
			Status:     "completed",
		})
		e.emitToolEvent(conv.SessionID, ToolEvent{
			Phase:     "bridge_resolved",
			CallID:    id,
			ToolName:  pc.ToolName,
			Result:    string(payload),
			Iteration: conv.Iteration,
		})
	}

	_ = e.auditLog.Log(ctx, audit.NewEvent(audit.EventConversationResumed).
		WithCorrelationID(conv.CorrelationID).
		WithSession(conv.SessionID).
		WithResult(audit.ResultSuccess).
		WithMetadata("iteration", conv.Iteration))

	return e.runLoop(ctx, st, conv)
}

// runLoop advances the conversation until the completion service stops
// requesting tools, a bridged call forces a suspension, or the iteration
// cap is hit. Caller holds the session lock.
func (e *Engine) runLoop(ctx context.Context, st *sessionState, conv *PendingConversation) (Outcome, error) {
	for conv.Iteration < e.maxIterations {
		conv.Iteration++

		resp, err := e.complete(ctx, conv.Messages)
		if err != nil {
			e.clearPending(st)
			metrics.ConversationsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("completion service: %w", err)
		}

		// The transcript format requires content to be present even when
		// the assistant emitted none; Go's zero string covers that.
		conv.Messages = append(conv.Messages, types.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			return e.finish(ctx, st, conv, resp.Content, "completed"), nil
		}

		bridged := false
		for _, call := range resp.ToolCalls { // strictly in the order received
			def, known := e.registry.Lookup(call.Name)
			if known && def.Kind == tools.KindBridged {
				conv.register(call)
				bridged = true
				e.emitToolEvent(conv.SessionID, ToolEvent{
					Phase:     "bridge_requested",
					CallID:    call.ID,
					ToolName:  call.Name,
					Args:      call.Arguments,
					Iteration: conv.Iteration,
				})
				continue
			}
			if err := e.executeLocal(ctx, conv, def, known, call); err != nil {
				e.clearPending(st)
				metrics.ConversationsTotal.WithLabelValues("error").Inc()
				return nil, err
			}
		}

		if bridged {
			e.setPending(st, conv)
			batch := conv.batch()
			metrics.BridgeCallsDispatched.Add(float64(len(batch)))
			metrics.ConversationsTotal.WithLabelValues("suspended").Inc()
			_ = e.auditLog.LogConversationSuspended(ctx, conv.SessionID, len(batch))
			for _, bc := range batch {
				_ = e.auditLog.Log(ctx, audit.NewEvent(audit.EventBridgeDispatched).
					WithCorrelationID(conv.CorrelationID).
					WithSession(conv.SessionID).
					WithCall(bc.CallID).
					WithTool(bc.ToolName).
					WithResult(audit.ResultPending))
			}
			return BridgeRequestBatch{SessionID: conv.SessionID, Calls: batch}, nil
		}
	}

	// Iteration cap reached: best effort instead of an error. Reply with
	// the last assistant message that carried text, or the fixed fallback.
	text := fallbackReply
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == "assistant" && conv.Messages[i].Content != "" {
			text = conv.Messages[i].Content
			break
		}
	}
	return e.finish(ctx, st, conv, text, "fallback"), nil
}

// executeLocal runs one local tool call and appends its result to the
// transcript. Tool failures become structured error payloads, so the
// completion service can react instead of the whole request failing; only
// an unserializable result is fatal.
func (e *Engine) executeLocal(ctx context.Context, conv *PendingConversation, def tools.Definition, known bool, call types.ToolCall) error {
	e.emitToolEvent(conv.SessionID, ToolEvent{
		Phase:     "calling",
		CallID:    call.ID,
		ToolName:  call.Name,
		Args:      call.Arguments,
		Iteration: conv.Iteration,
	})

	start := time.Now()
	var result interface{}
	var execErr error
	if !known {
		execErr = fmt.Errorf("unknown tool %q", call.Name)
	} else {
		result, execErr = def.Execute(ctx, conv.SessionID, call.Arguments)
	}
	elapsed := time.Since(start)

	status := "completed"
	if execErr != nil {
		status = "error"
		result = map[string]interface{}{
			"status": "error",
			"tool":   call.Name,
			"error":  execErr.Error(),
		}
		e.logger.Warn("tool execution failed",
			zap.String("session_id", conv.SessionID),
			zap.String("tool", call.Name),
			zap.Error(execErr),
		)
		_ = e.auditLog.LogToolFailed(ctx, conv.SessionID, call.Name, execErr)
	} else {
		_ = e.auditLog.LogToolExecuted(ctx, conv.SessionID, call.Name, elapsed)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("serialize result of tool %q: %w", call.Name, err)
	}

	conv.Messages = append(conv.Messages, types.Message{
		Role:       "tool",
		Content:    string(payload),
		ToolCallID: call.ID,
	})
	conv.ExecutionLog = append(conv.ExecutionLog, ToolExecution{
		Tool:       call.Name,
		DurationMs: elapsed.Milliseconds(),
		Status:     status,
	})

	metrics.ToolCalls.WithLabelValues(call.Name, status).Inc()
	metrics.ToolDuration.WithLabelValues(call.Name).Observe(elapsed.Seconds())

	phase := "result"
	if status == "error" {
		phase = "error"
	}
	e.emitToolEvent(conv.SessionID, ToolEvent{
		Phase:     phase,
		CallID:    call.ID,
		ToolName:  call.Name,
		Result:    string(payload),
		Error:     errString(execErr),
		Iteration: conv.Iteration,
	})
	return nil
}

// finish produces the terminal reply and removes any suspended state.
func (e *Engine) finish(ctx context.Context, st *sessionState, conv *PendingConversation, text, status string) AgentReply {
	e.clearPending(st)
	metrics.ConversationsTotal.WithLabelValues(status).Inc()
	metrics.ConversationIterations.Observe(float64(conv.Iteration))

	if status == "fallback" {
		_ = e.auditLog.Log(ctx, audit.NewEvent(audit.EventConversationFallback).
			WithCorrelationID(conv.CorrelationID).
			WithSession(conv.SessionID).
			WithResult(audit.ResultSuccess).
			WithMetadata("iteration", conv.Iteration))
	} else {
		_ = e.auditLog.LogConversationCompleted(ctx, conv.SessionID, time.Since(conv.StartTime))
	}

	return AgentReply{Text: text, ExecutionLog: conv.ExecutionLog}
}

// complete calls the completion service with the static tool schema.
func (e *Engine) complete(ctx context.Context, messages []types.Message) (*types.CompletionResponse, error) {
	start := time.Now()
	resp, err := e.llm.Complete(ctx, messages, e.schema)
	metrics.LLMRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.LLMRequestsTotal.WithLabelValues("ok").Inc()
	metrics.LLMTokensUsed.WithLabelValues("input").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues("output").Add(float64(resp.Usage.CompletionTokens))
	return resp, nil
}

// SweepExpired evicts suspended conversations older than the configured
// TTL and returns how many were removed. A session whose remote actor
// never replies would otherwise hold its state forever.
func (e *Engine) SweepExpired() int {
	e.mu.Lock()
	states := make(map[string]*sessionState, len(e.sessions))
	for id, st := range e.sessions {
		states[id] = st
	}
	e.mu.Unlock()

	evicted := 0
	cutoff := time.Now().Add(-e.suspendTTL)
	for sessionID, st := range states {
		st.mu.Lock()
		if st.pending != nil && st.pending.StartTime.Before(cutoff) {
			e.logger.Warn("evicting expired suspended conversation",
				zap.String("session_id", sessionID),
				zap.Time("started", st.pending.StartTime),
			)
			_ = e.auditLog.Log(context.Background(), audit.NewEvent(audit.EventConversationEvicted).
				WithSession(sessionID).
				WithResult(audit.ResultSuccess).
				WithDescription("suspended conversation exceeded TTL"))
			metrics.SuspendedEvicted.Inc()
			e.clearPending(st)
			evicted++
		}
		st.mu.Unlock()
	}
	return evicted
}

// PendingCount reports how many sessions currently hold a suspended
// conversation.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, st := range e.sessions {
		if st.pending != nil {
			n++
		}
	}
	return n
}

func (e *Engine) setPending(st *sessionState, conv *PendingConversation) {
	if st.pending == nil {
		metrics.PendingConversations.Inc()
	}
	st.pending = conv
}

func (e *Engine) clearPending(st *sessionState) {
	if st.pending != nil {
		metrics.PendingConversations.Dec()
	}
	st.pending = nil
}

func (e *Engine) emitToolEvent(sessionID string, ev ToolEvent) {
	if e.onToolEvent != nil {
		e.onToolEvent(sessionID, ev)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
