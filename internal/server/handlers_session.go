package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/skylens/skylens-ai/internal/audit"
	"github.com/skylens/skylens-ai/internal/metrics"
	"github.com/skylens/skylens-ai/internal/session"
)

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// handleCreateSession accepts a full telemetry bundle from the uploader.
// Re-uploading the same session id replaces the stored bundle.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var bundle session.Session
	if err := json.NewDecoder(r.Body).Decode(&bundle); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session bundle")
		return
	}
	if bundle.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := s.store.Put(&bundle); err != nil {
		s.logger.Error("store session", zap.String("sessionId", bundle.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store session")
		return
	}
	metrics.SessionsStored.Set(float64(s.store.Count()))

	_ = s.auditLog.Log(r.Context(), audit.NewEvent(audit.EventSessionCreated).
		WithSession(bundle.SessionID).
		WithResult(audit.ResultSuccess).
		WithMetadata("streams", len(bundle.Index)))

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: bundle.SessionID,
		Status:    "stored",
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	metrics.SessionsStored.Set(float64(s.store.Count()))

	_ = s.auditLog.Log(r.Context(), audit.NewEvent(audit.EventSessionDeleted).
		WithSession(id).
		WithResult(audit.ResultSuccess))

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: id,
		Status:    "deleted",
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.store.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": ids,
		"count":    len(ids),
	})
}
