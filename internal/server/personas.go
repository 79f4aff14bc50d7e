package server

import (
	"encoding/json"
	"net/http"

	"docreview/internal/persona"
)

type personaRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

type personaListResponse struct {
	Personas     []persona.Persona `json:"personas"`
	GraphVersion uint64            `json:"graph_version"`
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) *apiError {
	personas, err := s.store.List(r.Context())
	if err != nil {
		return toAPIError(err)
	}
	resp := personaListResponse{Personas: make([]persona.Persona, 0, len(personas))}
	for _, id := range persona.SortedIDs(personas) {
		resp.Personas = append(resp.Personas, personas[id])
	}
	if g := s.current.Load(); g != nil {
		resp.GraphVersion = g.Version()
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (s *Server) handlePutPersona(w http.ResponseWriter, r *http.Request) *apiError {
	var req personaRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		return &apiError{Status: http.StatusBadRequest, Message: "invalid persona body: " + err.Error()}
	}

	p, err := s.store.Put(r.Context(), persona.Persona{
		ID:     r.PathValue("id"),
		Name:   req.Name,
		Prompt: req.Prompt,
	})
	if err != nil {
		return toAPIError(err)
	}
	if apiErr := s.recompile(r); apiErr != nil {
		return apiErr
	}
	s.log.Info("persona %s saved", p.ID)
	writeJSON(w, http.StatusOK, p)
	return nil
}

func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request) *apiError {
	id := persona.NormalizeID(r.PathValue("id"))

	if err := s.store.Delete(r.Context(), id); err != nil {
		return toAPIError(err)
	}
	if apiErr := s.recompile(r); apiErr != nil {
		return apiErr
	}
	s.log.Info("persona %s deleted", id)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// recompile swaps in a graph built from the store's new contents. Reviews
// already running keep the graph they started with.
func (s *Server) recompile(r *http.Request) *apiError {
	if _, err := s.current.Reload(r.Context(), s.store); err != nil {
		s.log.Error("recompile after persona change failed: %v", err)
		return &apiError{Status: http.StatusInternalServerError, Message: "persona saved but graph recompile failed: " + err.Error()}
	}
	return nil
}
