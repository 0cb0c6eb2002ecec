package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/novanahq/novana/internal/store"
)

type personRequest struct {
	Name      string `json:"name"`
	Relation  string `json:"relation"`
	BirthDate string `json:"birth_date"`
	DeathDate string `json:"death_date"`
}

type personResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Relation  string `json:"relation,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
	DeathDate string `json:"death_date,omitempty"`
}

func toPersonResponse(p *store.Person) personResponse {
	return personResponse{
		ID:        p.ID,
		Name:      p.Name,
		Relation:  p.Relation,
		BirthDate: p.BirthDate,
		DeathDate: p.DeathDate,
	}
}

// validDate accepts empty or YYYY-MM-DD.
func validDate(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

func (s *Server) handlePersonCreate(w http.ResponseWriter, r *http.Request, user *store.User) {
	var req personRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !validDate(req.BirthDate) || !validDate(req.DeathDate) {
		s.writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
		return
	}

	id, err := s.store.CreatePerson(r.Context(), store.Person{
		UserID:    user.ID,
		Name:      req.Name,
		Relation:  req.Relation,
		BirthDate: req.BirthDate,
		DeathDate: req.DeathDate,
	})
	if err != nil {
		s.logger.Error("create person failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	person, err := s.store.GetPerson(r.Context(), user.ID, id)
	if err != nil {
		s.logger.Error("load person failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusCreated, toPersonResponse(person))
}

func (s *Server) handlePersonList(w http.ResponseWriter, r *http.Request, user *store.User) {
	persons, err := s.store.ListPersons(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("list persons failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]personResponse, 0, len(persons))
	for i := range persons {
		out = append(out, toPersonResponse(&persons[i]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePersonGet(w http.ResponseWriter, r *http.Request, user *store.User) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	person, err := s.store.GetPerson(r.Context(), user.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		s.logger.Error("get person failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, toPersonResponse(person))
}

func (s *Server) handlePersonUpdateDates(w http.ResponseWriter, r *http.Request, user *store.User) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	var req struct {
		BirthDate string `json:"birth_date"`
		DeathDate string `json:"death_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !validDate(req.BirthDate) || !validDate(req.DeathDate) {
		s.writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
		return
	}

	err = s.store.UpdatePersonDates(r.Context(), user.ID, id, req.BirthDate, req.DeathDate)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		s.logger.Error("update person failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	person, err := s.store.GetPerson(r.Context(), user.ID, id)
	if err != nil {
		s.logger.Error("load person failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, toPersonResponse(person))
}

func (s *Server) handleMemoryCreate(w http.ResponseWriter, r *http.Request, user *store.User) {
	personID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	// Ownership check before touching the memory tables.
	if _, err := s.store.GetPerson(r.Context(), user.ID, personID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "person not found")
			return
		}
		s.logger.Error("get person failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		s.writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	id, err := s.store.CreateMemory(r.Context(), store.Memory{
		PersonID: personID,
		Title:    req.Title,
		Body:     req.Body,
	})
	if err != nil {
		s.logger.Error("create memory failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	mem, err := s.store.GetMemory(r.Context(), id)
	if err != nil {
		s.logger.Error("load memory failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Indexing failure doesn't fail the create; the memory is saved
	// and can be reindexed later.
	if err := s.indexer.IndexMemory(r.Context(), *mem); err != nil {
		s.logger.Warn("memory indexing failed", "memory_id", id, "error", err)
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":        mem.ID,
		"person_id": mem.PersonID,
		"title":     mem.Title,
	})
}
