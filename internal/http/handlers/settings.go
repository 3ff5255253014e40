package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"chargebridge/internal/cobot"
	"chargebridge/internal/http/middleware"
	"chargebridge/internal/storage"
)

// Directory lists the space's resources and memberships.
type Directory interface {
	ListResources(ctx context.Context, accessToken, spaceSubdomain string) ([]cobot.Resource, error)
	ListMemberships(ctx context.Context, accessToken, spaceSubdomain string, filterIDs []string) ([]cobot.Membership, error)
}

// SettingsHandlers serves the per-space configuration endpoints.
type SettingsHandlers struct {
	settings  *storage.SettingsStore
	directory Directory
	logger    *zap.Logger
}

// NewSettingsHandlers returns the handler set.
func NewSettingsHandlers(settings *storage.SettingsStore, directory Directory, logger *zap.Logger) *SettingsHandlers {
	return &SettingsHandlers{settings: settings, directory: directory, logger: logger}
}

// SettingsView is the settings shape exposed to the dashboard. The space
// access token never leaves the server.
type SettingsView struct {
	SpaceID         string            `json:"spaceId"`
	SpaceSubdomain  string            `json:"spaceSubdomain"`
	ResourceMapping map[string]string `json:"resourceMapping"`
	PricePerKWh     float64           `json:"pricePerKWh"`
}

func settingsView(s *storage.SpaceSettings) SettingsView {
	mapping := s.ResourceMapping
	if mapping == nil {
		mapping = map[string]string{}
	}
	return SettingsView{
		SpaceID:         s.SpaceID,
		SpaceSubdomain:  s.SpaceSubdomain,
		ResourceMapping: mapping,
		PricePerKWh:     s.PricePerKWh,
	}
}

// Get handles GET /api/settings.
func (h *SettingsHandlers) Get(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, settingsView(principal.Settings))
}

type updateSettingsRequest struct {
	ResourceMapping map[string]string `json:"resourceMapping"`
	PricePerKWh     float64           `json:"pricePerKWh"`
}

// Update handles PUT /api/settings. Credentials are install-time state and
// cannot be changed here.
func (h *SettingsHandlers) Update(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PricePerKWh < 0 {
		writeError(w, http.StatusBadRequest, "pricePerKWh must not be negative")
		return
	}
	if req.ResourceMapping == nil {
		req.ResourceMapping = map[string]string{}
	}

	updated := *principal.Settings
	updated.ResourceMapping = req.ResourceMapping
	updated.PricePerKWh = req.PricePerKWh
	if err := h.settings.Set(r.Context(), &updated); err != nil {
		h.logger.Error("settings update failed", zap.String("space_id", updated.SpaceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsView(&updated))
}

// Resources handles GET /api/resources.
func (h *SettingsHandlers) Resources(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	resources, err := h.directory.ListResources(r.Context(), principal.Settings.AccessToken, principal.Settings.SpaceSubdomain)
	if err != nil {
		h.logger.Error("resource listing failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "booking backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

// Memberships handles GET /api/memberships.
func (h *SettingsHandlers) Memberships(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	memberships, err := h.directory.ListMemberships(r.Context(), principal.Settings.AccessToken, principal.Settings.SpaceSubdomain, nil)
	if err != nil {
		h.logger.Error("membership listing failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "booking backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, memberships)
}
