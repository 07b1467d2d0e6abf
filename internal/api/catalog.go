package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
)

// handleListModels returns every model in the capability registry.
func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	models := s.models.Models()
	out := make([]capability.Description, 0, len(models))
	for _, m := range models {
		desc, err := s.models.Describe(m)
		if err != nil {
			writeInternalError(w, "failed to describe models")
			return
		}
		out = append(out, desc)
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out, "count": len(out)})
}

// handleGetModel returns one model's capabilities and action identifiers.
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	desc, err := s.models.Describe(capability.Model(chi.URLParam(r, "model")))
	if err != nil {
		if errors.Is(err, capability.ErrUnknownModel) {
			writeNotFound(w, "model not found")
			return
		}
		writeInternalError(w, "failed to describe model")
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// handleListPlaylists proxies the controller's signage playlists, which are
// the valid playlist_id values for the play action.
func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "playlists unavailable")
		return
	}
	playlists, err := s.catalog.ListPlaylists(r.Context())
	if err != nil {
		s.logger.Warn("listing playlists failed", "error", err)
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": playlists, "count": len(playlists)})
}

// handleListSites returns the sites on the console.
func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "sites unavailable")
		return
	}
	sites, err := s.catalog.ListSites(r.Context())
	if err != nil {
		s.logger.Warn("listing sites failed", "error", err)
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": sites, "count": len(sites)})
}
