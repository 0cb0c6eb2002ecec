package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/novanahq/novana/internal/chat"
	"github.com/novanahq/novana/internal/store"
)

type chatRequest struct {
	PersonID int64  `json:"person_id"`
	Message  string `json:"message"`
}

type chatResponse struct {
	Reply     string          `json:"reply"`
	Citations []chat.Citation `json:"citations"`
	ModelUsed string          `json:"model_used"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user *store.User) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PersonID <= 0 {
		s.writeError(w, http.StatusBadRequest, "person_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.chat.Respond(r.Context(), user.ID, req.PersonID, req.Message)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		s.logger.Error("chat failed", "person_id", req.PersonID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	citations := reply.Citations
	if citations == nil {
		citations = []chat.Citation{}
	}
	s.writeJSON(w, http.StatusOK, chatResponse{
		Reply:     reply.Text,
		Citations: citations,
		ModelUsed: reply.Model,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, user *store.User) {
	personID, err := strconv.ParseInt(r.PathValue("personId"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit > 200 {
			limit = 200
		}
	}

	history, err := s.chat.History(r.Context(), user.ID, personID, limit)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		s.logger.Error("history failed", "person_id", personID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if history == nil {
		history = []store.ChatMessage{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}
