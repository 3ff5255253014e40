package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chargebridge/internal/cfos"
	"chargebridge/internal/charging"
	"chargebridge/internal/cobot"
	"chargebridge/internal/http/middleware"
	"chargebridge/internal/models"
	"chargebridge/internal/session"
	"chargebridge/internal/storage"
)

// ChargerGateway is the hardware surface the charger handlers use.
type ChargerGateway interface {
	ListChargers(ctx context.Context) ([]models.Charger, error)
	Authorize(ctx context.Context, chargerID string) error
	Deauthorize(ctx context.Context, chargerID string) error
}

// SessionQuerier looks up open sessions per space.
type SessionQuerier interface {
	CurrentSessions(ctx context.Context, settings *storage.SpaceSettings) map[string]session.Result
}

// ChargingEngine starts and stops billed sessions.
type ChargingEngine interface {
	Start(ctx context.Context, user *cobot.UserDetails, settings *storage.SpaceSettings, chargerID string, membership models.Membership) error
	Stop(ctx context.Context, user *cobot.UserDetails, settings *storage.SpaceSettings, chargerID string) (*charging.StopResult, error)
}

// ChargerHandlers serves charger status and session control endpoints.
type ChargerHandlers struct {
	gateway  ChargerGateway
	sessions SessionQuerier
	engine   ChargingEngine
	logger   *zap.Logger
}

// NewChargerHandlers returns the handler set.
func NewChargerHandlers(gateway ChargerGateway, sessions SessionQuerier, engine ChargingEngine, logger *zap.Logger) *ChargerHandlers {
	return &ChargerHandlers{gateway: gateway, sessions: sessions, engine: engine, logger: logger}
}

// ChargerStatus is a charger joined with its open session, if any.
type ChargerStatus struct {
	models.Charger
	Session      *SessionView `json:"session,omitempty"`
	SessionError string       `json:"sessionError,omitempty"`
}

// SessionView is the wire shape of an open session.
type SessionView struct {
	BookingID            string    `json:"bookingId"`
	ChargerID            string    `json:"chargerId"`
	From                 time.Time `json:"from"`
	To                   time.Time `json:"to"`
	UserID               string    `json:"userId"`
	UserEmail            string    `json:"userEmail"`
	MembershipID         *string   `json:"membershipId"`
	EnergyWattHoursStart float64   `json:"energyWattHoursStart"`
}

func sessionView(s *session.ActiveSession) *SessionView {
	if s == nil {
		return nil
	}
	return &SessionView{
		BookingID:            s.BookingID,
		ChargerID:            s.ChargerID,
		From:                 s.From,
		To:                   s.To,
		UserID:               s.UserIDStarted,
		UserEmail:            s.UserEmailStarted,
		MembershipID:         s.Membership.Ptr(),
		EnergyWattHoursStart: s.TotalEnergyWattHoursStart,
	}
}

// CombinedStatus fetches hardware state and open sessions concurrently and
// joins them per charger. Exported so the websocket push reuses it.
func (h *ChargerHandlers) CombinedStatus(ctx context.Context, settings *storage.SpaceSettings) ([]ChargerStatus, error) {
	var (
		chargers []models.Charger
		results  map[string]session.Result
	)
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.Go(func() (err error) {
		chargers, err = h.gateway.ListChargers(grpCtx)
		return err
	})
	grp.Go(func() error {
		results = h.sessions.CurrentSessions(grpCtx, settings)
		return nil
	})
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	statuses := make([]ChargerStatus, 0, len(chargers))
	for _, charger := range chargers {
		status := ChargerStatus{Charger: charger}
		if result, ok := results[charger.ID]; ok {
			if result.Err != nil {
				status.SessionError = result.Err.Error()
			} else {
				status.Session = sessionView(result.Session)
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// List handles GET /api/chargers.
func (h *ChargerHandlers) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	statuses, err := h.CombinedStatus(r.Context(), principal.Settings)
	if err != nil {
		h.logger.Error("charger status fetch failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "charger gateway unavailable")
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

type startRequest struct {
	MembershipID *string `json:"membershipId"`
}

// Start handles POST /api/chargers/{chargerID}/start.
func (h *ChargerHandlers) Start(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	chargerID := r.PathValue("chargerID")

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	membership := models.MembershipFromPtr(req.MembershipID)

	if err := h.engine.Start(r.Context(), principal.User, principal.Settings, chargerID, membership); err != nil {
		h.writeEngineError(w, chargerID, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// StopResponse reports the closed session back to the dashboard.
type StopResponse struct {
	WattHoursUsed   float64 `json:"wattHoursUsed"`
	DurationSeconds float64 `json:"durationSeconds"`
	Price           float64 `json:"price"`
}

// Stop handles POST /api/chargers/{chargerID}/stop.
func (h *ChargerHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	chargerID := r.PathValue("chargerID")

	result, err := h.engine.Stop(r.Context(), principal.User, principal.Settings, chargerID)
	if err != nil {
		h.writeEngineError(w, chargerID, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, StopResponse{
		WattHoursUsed:   result.WattHoursUsed,
		DurationSeconds: result.Duration.Seconds(),
		Price:           result.Price,
	})
}

// Authorize handles POST /api/chargers/{chargerID}/authorize. This is the
// direct hardware control escape hatch; it creates no booking.
func (h *ChargerHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	chargerID := r.PathValue("chargerID")
	if err := h.gateway.Authorize(r.Context(), chargerID); err != nil {
		h.writeEngineError(w, chargerID, "authorize", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

// Deauthorize handles POST /api/chargers/{chargerID}/deauthorize.
func (h *ChargerHandlers) Deauthorize(w http.ResponseWriter, r *http.Request) {
	chargerID := r.PathValue("chargerID")
	if err := h.gateway.Deauthorize(r.Context(), chargerID); err != nil {
		h.writeEngineError(w, chargerID, "deauthorize", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deauthorized"})
}

func (h *ChargerHandlers) writeEngineError(w http.ResponseWriter, chargerID, op string, err error) {
	h.logger.Error("charger operation failed",
		zap.String("charger_id", chargerID),
		zap.String("operation", op),
		zap.Error(err))
	switch {
	case errors.Is(err, cfos.ErrChargerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cfos.ErrNetwork), errors.Is(err, cfos.ErrHTTPStatus):
		writeError(w, http.StatusBadGateway, "charger gateway unavailable")
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}
