package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/http/middleware"
	"chargebridge/internal/models"
	"chargebridge/internal/session"
	"chargebridge/internal/storage"
)

// HistoryQuerier scans the ledger for past sessions.
type HistoryQuerier interface {
	HistoricSessions(ctx context.Context, settings *storage.SpaceSettings, from, to time.Time, chargerIDs []string, filter models.MembershipFilter) ([]session.HistoricSession, error)
}

// HistoryHandlers serves the session history endpoint.
type HistoryHandlers struct {
	sessions HistoryQuerier
	logger   *zap.Logger
}

// NewHistoryHandlers returns the handler set.
func NewHistoryHandlers(sessions HistoryQuerier, logger *zap.Logger) *HistoryHandlers {
	return &HistoryHandlers{sessions: sessions, logger: logger}
}

// HistoricSessionView is the wire shape of one history entry.
type HistoricSessionView struct {
	BookingID            string    `json:"bookingId"`
	ChargerID            string    `json:"chargerId"`
	From                 time.Time `json:"from"`
	To                   time.Time `json:"to"`
	UserIDStarted        string    `json:"userIdStarted"`
	UserEmailStarted     string    `json:"userEmailStarted"`
	MembershipID         *string   `json:"membershipId"`
	EnergyWattHoursStart float64   `json:"energyWattHoursStart"`
	Completed            bool      `json:"completed"`
	UserIDEnded          *string   `json:"userIdEnded,omitempty"`
	UserEmailEnded       *string   `json:"userEmailEnded,omitempty"`
	EnergyWattHoursUsed  *float64  `json:"energyWattHoursUsed,omitempty"`
	Price                *string   `json:"price,omitempty"`
}

func historicView(s *session.HistoricSession) HistoricSessionView {
	view := HistoricSessionView{
		BookingID:            s.BookingID,
		ChargerID:            s.ChargerID,
		From:                 s.From,
		To:                   s.To,
		UserIDStarted:        s.Start.UserIDStarted,
		UserEmailStarted:     s.Start.UserEmailStarted,
		MembershipID:         s.Start.Membership.Ptr(),
		EnergyWattHoursStart: s.Start.TotalEnergyWattHoursStart,
		Completed:            s.Completed(),
	}
	if s.End != nil {
		view.UserIDEnded = s.End.UserIDEnded
		view.UserEmailEnded = s.End.UserEmailEnded
		used := s.End.EnergyWattHoursUsed
		view.EnergyWattHoursUsed = &used
		price := s.End.Price
		view.Price = &price
	}
	return view
}

// List handles GET /api/sessions/history.
//
// Query parameters: from and to (RFC3339, required), chargerIds (comma
// separated, optional, default all mapped chargers), membershipId (optional;
// "__nobody" selects sessions without membership, absence selects all).
func (h *HistoryHandlers) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	query := r.URL.Query()
	from, err := time.Parse(time.RFC3339, query.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing from parameter")
		return
	}
	to, err := time.Parse(time.RFC3339, query.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing to parameter")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	var chargerIDs []string
	if raw := strings.TrimSpace(query.Get("chargerIds")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				chargerIDs = append(chargerIDs, id)
			}
		}
	}

	filter := models.FilterAllMemberships()
	if query.Has("membershipId") {
		switch id := query.Get("membershipId"); id {
		case "", models.MembershipIDNobody:
			filter = models.FilterNobody()
		default:
			filter = models.FilterMembership(id)
		}
	}

	sessions, err := h.sessions.HistoricSessions(r.Context(), principal.Settings, from, to, chargerIDs, filter)
	if err != nil {
		h.logger.Error("history scan failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "booking backend unavailable")
		return
	}

	views := make([]HistoricSessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, historicView(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, views)
}
