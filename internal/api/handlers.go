package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/example/handelsrausch/internal/auth"
	"github.com/example/handelsrausch/internal/models"
)

// Store is the read side of the database the REST API needs.
type Store interface {
	Catalog(ctx context.Context) ([]models.CatalogEntry, error)
	TopHighscores(ctx context.Context, limit int) ([]models.HighscoreEntry, error)
}

const highscoreLimit = 50

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	Store Store
	Auth  *auth.Service
	Log   zerolog.Logger
}

// NewHandler creates a new handler.
func NewHandler(store Store, authService *auth.Service, log zerolog.Logger) *Handler {
	return &Handler{Store: store, Auth: authService, Log: log}
}

// GetSubstances lists the commodity catalog.
func (h *Handler) GetSubstances(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.Store.Catalog(r.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("catalog query failed")
		http.Error(w, `{"error": "Failed to load catalog"}`, http.StatusInternalServerError)
		return
	}
	if catalog == nil {
		catalog = []models.CatalogEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(catalog)
}

// GetHighscores lists the top results, richest first.
func (h *Handler) GetHighscores(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.TopHighscores(r.Context(), highscoreLimit)
	if err != nil {
		h.Log.Error().Err(err).Msg("highscore query failed")
		http.Error(w, `{"error": "Failed to load highscores"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.HighscoreEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GuestToken mints a session token for a display name, so a client can
// keep its name across reconnects.
func (h *Handler) GuestToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, `{"error": "Name required"}`, http.StatusBadRequest)
		return
	}

	token, err := h.Auth.GuestToken(req.Name)
	if err != nil {
		h.Log.Error().Err(err).Msg("guest token signing failed")
		http.Error(w, `{"error": "Failed to create token"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}
