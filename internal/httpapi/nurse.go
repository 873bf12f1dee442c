package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/careflow/internal/nurse"
	"github.com/antoniostano/careflow/internal/session"
)

type messageRequest struct {
	Message string `json:"message"`
}

type historyResponse struct {
	SessionID string         `json:"session_id"`
	History   []session.Turn `json:"history"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req nurse.ChatRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	reply, err := s.opts.Engine.Chat(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := s.opts.Engine.History(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if history == nil {
		history = []session.Turn{}
	}
	respondJSON(w, http.StatusOK, historyResponse{SessionID: id, History: history})
}

func (s *Server) handleEndChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed := s.opts.Engine.EndSession(id)
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "removed": removed})
}

func (s *Server) handleIntakeStart(w http.ResponseWriter, r *http.Request) {
	var req nurse.StartIntakeRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}
	reply, err := s.opts.Intake.Start(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, reply)
}

func (s *Server) handleIntakeMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	reply, err := s.opts.Intake.ProcessMessage(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleIntakeStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.opts.Intake.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleFollowupStart(w http.ResponseWriter, r *http.Request) {
	var req nurse.StartFollowupRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	reply, err := s.opts.Followup.Start(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, reply)
}

func (s *Server) handleFollowupMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	reply, err := s.opts.Followup.ProcessMessage(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleFollowupStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.opts.Followup.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	var req nurse.TriageRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	res, err := s.opts.Triage.Assess(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	if s.opts.Escalations == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "escalation history not configured")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	items, err := s.opts.Escalations.RecentEscalations(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"escalations": items, "count": len(items)})
}
