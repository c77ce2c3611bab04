package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/skylens/skylens-ai/internal/db"
	"github.com/skylens/skylens-ai/internal/llm/types"
	"github.com/skylens/skylens-ai/internal/orchestrator"
)

// chatToolsRequest is the POST /chat-tools body: the session the agent
// should reason about plus the caller's conversation history.
type chatToolsRequest struct {
	SessionID string          `json:"sessionId"`
	Messages  []types.Message `json:"messages"`
}

// chatToolsResponse covers all three orchestration outcomes. Exactly one
// of Reply or Calls is populated depending on Status.
type chatToolsResponse struct {
	Status       string                       `json:"status"`
	Reply        string                       `json:"reply,omitempty"`
	ExecutionLog []orchestrator.ToolExecution `json:"executionLog,omitempty"`
	SessionID    string                       `json:"sessionId,omitempty"`
	Calls        []orchestrator.BridgeCall    `json:"calls,omitempty"`
	Remaining    int                          `json:"remaining,omitempty"`
}

type toolReplyRequest struct {
	CallID    string                 `json:"call_id"`
	Tool      string                 `json:"tool"`
	SessionID string                 `json:"sessionId"`
	Result    map[string]interface{} `json:"result"`
}

type toolReplyBatchRequest struct {
	SessionID string `json:"sessionId"`
	Results   []struct {
		CallID string                 `json:"call_id"`
		Result map[string]interface{} `json:"result"`
	} `json:"results"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"sessions": s.store.Count(),
		"pending":  s.engine.PendingCount(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleChatTools(w http.ResponseWriter, r *http.Request) {
	var req chatToolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages cannot be empty")
		return
	}

	outcome, err := s.engine.StartConversation(r.Context(), req.SessionID, req.Messages)
	if err != nil {
		s.logger.Error("chat-tools failed",
			zap.String("sessionId", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "conversation failed")
		return
	}
	s.writeOutcome(w, r, req.SessionID, outcome)
}

func (s *Server) handleToolReply(w http.ResponseWriter, r *http.Request) {
	var req toolReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.CallID == "" {
		writeError(w, http.StatusBadRequest, "sessionId and call_id are required")
		return
	}

	outcome, err := s.engine.ResolveOne(r.Context(), req.SessionID, req.CallID, req.Result)
	if err != nil {
		s.resolveError(w, req.SessionID, req.CallID, err)
		return
	}
	s.writeOutcome(w, r, req.SessionID, outcome)
}

func (s *Server) handleToolReplyBatch(w http.ResponseWriter, r *http.Request) {
	var req toolReplyBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if len(req.Results) == 0 {
		writeError(w, http.StatusBadRequest, "results cannot be empty")
		return
	}

	results := make([]orchestrator.CallResult, 0, len(req.Results))
	for _, res := range req.Results {
		results = append(results, orchestrator.CallResult{
			CallID: res.CallID,
			Result: res.Result,
		})
	}

	outcome, err := s.engine.ResolveBatch(r.Context(), req.SessionID, results)
	if err != nil {
		s.resolveError(w, req.SessionID, "", err)
		return
	}
	s.writeOutcome(w, r, req.SessionID, outcome)
}

func (s *Server) resolveError(w http.ResponseWriter, sessionID, callID string, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "no pending conversation for session")
	case errors.Is(err, orchestrator.ErrCallNotFound):
		writeError(w, http.StatusNotFound, "pending call not found")
	default:
		s.logger.Error("tool reply failed",
			zap.String("sessionId", sessionID),
			zap.String("callId", callID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "resolution failed")
	}
}

// writeOutcome maps the orchestration outcome union onto the wire.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, sessionID string, outcome orchestrator.Outcome) {
	switch o := outcome.(type) {
	case orchestrator.AgentReply:
		s.archiveExecutions(r, sessionID, o.ExecutionLog)
		writeJSON(w, http.StatusOK, chatToolsResponse{
			Status:       "completed",
			Reply:        o.Text,
			ExecutionLog: o.ExecutionLog,
		})
	case orchestrator.BridgeRequestBatch:
		writeJSON(w, http.StatusOK, chatToolsResponse{
			Status:    "awaiting_tool_results",
			SessionID: o.SessionID,
			Calls:     o.Calls,
		})
	case orchestrator.WaitingStatus:
		writeJSON(w, http.StatusOK, chatToolsResponse{
			Status:    "waiting",
			Remaining: o.RemainingCount,
		})
	default:
		s.logger.Error("unexpected outcome type", zap.String("sessionId", sessionID))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// archiveExecutions persists a completed turn's tool executions. Archive
// failures are logged, never surfaced to the caller.
func (s *Server) archiveExecutions(r *http.Request, sessionID string, log []orchestrator.ToolExecution) {
	now := time.Now().UTC()
	for _, entry := range log {
		err := s.archive.InsertToolExecution(r.Context(), db.ToolExecution{
			SessionID:  sessionID,
			Tool:       entry.Tool,
			Status:     entry.Status,
			DurationMs: entry.DurationMs,
			ExecutedAt: now,
		})
		if err != nil {
			s.logger.Warn("archive tool execution",
				zap.String("sessionId", sessionID),
				zap.String("tool", entry.Tool),
				zap.Error(err))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
