// Package charging orchestrates the start and stop of charging sessions
// across the charger gateway and the membership backend ledger.
package charging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/cobot"
	"chargebridge/internal/metrics"
	"chargebridge/internal/models"
	"chargebridge/internal/session"
	"chargebridge/internal/storage"
)

// ChargerGateway is the slice of the hardware client the engine commands.
type ChargerGateway interface {
	GetCharger(ctx context.Context, chargerID string) (*models.Charger, error)
	Authorize(ctx context.Context, chargerID string) error
	Deauthorize(ctx context.Context, chargerID string) error
}

// Ledger is the slice of the membership backend the engine writes.
type Ledger interface {
	CreateBooking(ctx context.Context, accessToken, spaceSubdomain, resourceID string, req cobot.CreateBookingRequest) (*cobot.Booking, error)
	UpdateBooking(ctx context.Context, accessToken, spaceSubdomain, bookingID string, req cobot.UpdateBookingRequest) (*cobot.Booking, error)
	CreateActivity(ctx context.Context, accessToken, spaceSubdomain string, req cobot.CreateActivityRequest) (*cobot.Activity, error)
	ListMemberships(ctx context.Context, accessToken, spaceSubdomain string, filterIDs []string) ([]cobot.Membership, error)
}

// SessionFinder locates the open session for a charger.
type SessionFinder interface {
	CurrentSession(ctx context.Context, settings *storage.SpaceSettings, chargerID string) (*session.ActiveSession, error)
}

const (
	startTitle = "EV charging session (usage TBD)"

	// Closed sessions end one minute before now so a new session can start
	// immediately without overlapping the ledger, but never earlier than one
	// minute after they began.
	stopEndOffset  = time.Minute
	minimumSession = time.Minute
)

// Engine is the charging control engine.
type Engine struct {
	gateway  ChargerGateway
	ledger   Ledger
	sessions SessionFinder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// New builds the engine. metrics may be nil.
func New(gateway ChargerGateway, ledger Ledger, sessions SessionFinder, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		gateway:  gateway,
		ledger:   ledger,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Start opens a charging session: it creates the ledger booking first and only
// then authorizes the hardware, so a ledger failure can never leave the
// charger energized without a record. The inverse failure (booking created,
// authorize failed) is not rolled back; see DESIGN.md.
func (e *Engine) Start(ctx context.Context, user *cobot.UserDetails, settings *storage.SpaceSettings, chargerID string, membership models.Membership) error {
	resourceID, ok := settings.ResourceFor(chargerID)
	if !ok {
		return fmt.Errorf("charger with id %s not mapped to a resource", chargerID)
	}

	charger, err := e.gateway.GetCharger(ctx, chargerID)
	if err != nil {
		return err
	}
	if !charger.EvseState.Available() {
		return fmt.Errorf("charger with id %s is not available", chargerID)
	}

	comment, err := session.EncodeStart(session.StartRecord{
		ChargerID:                 chargerID,
		UserIDStarted:             user.ID,
		UserEmailStarted:          user.Email,
		Membership:                membership,
		TotalEnergyWattHoursStart: charger.TotalEnergyWattHours,
	})
	if err != nil {
		return err
	}

	now := e.now()
	no := false
	booking, err := e.ledger.CreateBooking(ctx, settings.AccessToken, settings.SpaceSubdomain, resourceID, cobot.CreateBookingRequest{
		From:         cobot.Time{Time: now},
		To:           cobot.Time{Time: now.Add(session.ProvisionalDuration)},
		Title:        startTitle,
		Comments:     comment,
		MembershipID: membership.Ptr(),
		CanCancel:    &no,
		CanChange:    &no,
	})
	if err != nil {
		return err
	}
	e.logger.Info("created session booking",
		zap.String("charger_id", chargerID),
		zap.String("resource_id", resourceID),
		zap.String("booking_id", booking.ID))

	if err := e.gateway.Authorize(ctx, chargerID); err != nil {
		// The booking already exists and is not cancelled here; the next
		// sweep or a manual stop reconciles it.
		e.logger.Error("authorize failed after booking was created",
			zap.String("charger_id", chargerID),
			zap.String("booking_id", booking.ID),
			zap.Error(err))
		return err
	}

	channels, sourceIDs, onBehalfOf, err := e.attribution(ctx, settings, membership)
	if err != nil {
		return err
	}
	_, err = e.ledger.CreateActivity(ctx, settings.AccessToken, settings.SpaceSubdomain, cobot.CreateActivityRequest{
		Text:      fmt.Sprintf("EV charging session started by user %s %son charger %s", user.Email, onBehalfOf, charger.FriendlyName),
		Channels:  channels,
		SourceIDs: sourceIDs,
	})
	if err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.SessionsStarted.Inc()
	}
	return nil
}

// StopResult reports usage of a closed session.
type StopResult struct {
	WattHoursUsed float64
	Duration      time.Duration
	Price         float64
}

// Stop closes the session on a charger. The hardware is deauthorized before
// the ledger is touched: cutting power is the safety-relevant action and must
// not be blocked on ledger operations. user is nil for system-initiated stops.
func (e *Engine) Stop(ctx context.Context, user *cobot.UserDetails, settings *storage.SpaceSettings, chargerID string) (*StopResult, error) {
	if _, ok := settings.ResourceFor(chargerID); !ok {
		return nil, fmt.Errorf("charger with id %s not mapped to a resource", chargerID)
	}

	charger, err := e.gateway.GetCharger(ctx, chargerID)
	if err != nil {
		return nil, err
	}
	energyEnd := charger.TotalEnergyWattHours

	if err := e.gateway.Deauthorize(ctx, chargerID); err != nil {
		return nil, err
	}

	active, err := e.sessions.CurrentSession(ctx, settings, chargerID)
	if err != nil {
		return nil, fmt.Errorf("charger stopped but error fetching bookings: %w", err)
	}
	if active == nil {
		return nil, fmt.Errorf("charger stopped but no active session found for charger %s", chargerID)
	}
	if active.ChargerID != "" && active.ChargerID != chargerID {
		return nil, fmt.Errorf("charger stopped but booking %s is for a different charger", active.BookingID)
	}

	now := e.now()
	energyUsed := energyEnd - active.TotalEnergyWattHoursStart
	if energyUsed < 0 {
		e.logger.Warn("energy meter went backwards",
			zap.String("charger_id", chargerID),
			zap.Float64("start_wh", active.TotalEnergyWattHoursStart),
			zap.Float64("end_wh", energyEnd))
	}
	kWhUsed := energyUsed / 1000
	duration := now.Sub(active.From)

	endTime := now.Add(-stopEndOffset)
	if earliest := active.From.Add(minimumSession); endTime.Before(earliest) {
		endTime = earliest
	}

	price := 0.0
	if active.Membership.Present() {
		price = kWhUsed * settings.PricePerKWh
	}
	if price < 0 {
		e.logger.Warn("price is negative, clamping to 0",
			zap.String("charger_id", chargerID),
			zap.Float64("price", price))
		price = 0
	}

	var userIDEnded, userEmailEnded *string
	if user != nil {
		userIDEnded = &user.ID
		userEmailEnded = &user.Email
	}
	comment, err := session.EncodeEnd(session.EndRecord{
		StartRecord:             active.StartRecord,
		UserIDEnded:             userIDEnded,
		UserEmailEnded:          userEmailEnded,
		TotalEnergyWattHoursEnd: energyEnd,
		EnergyWattHoursUsed:     energyUsed,
		Price:                   fmt.Sprintf("%.2f", price),
	})
	if err != nil {
		return nil, err
	}

	endTitle := fmt.Sprintf("EV charging session (%.3f kWh)", kWhUsed)
	hasCustomPrice := true
	to := cobot.Time{Time: endTime}
	_, err = e.ledger.UpdateBooking(ctx, settings.AccessToken, settings.SpaceSubdomain, active.BookingID, cobot.UpdateBookingRequest{
		To:             &to,
		Title:          &endTitle,
		Comments:       &comment,
		Price:          &price,
		HasCustomPrice: &hasCustomPrice,
	})
	if err != nil {
		return nil, err
	}

	channels, sourceIDs, onBehalfOf, err := e.attribution(ctx, settings, active.Membership)
	if err != nil {
		return nil, err
	}
	byline := "by system"
	if user != nil {
		byline = fmt.Sprintf("by user %s", user.Email)
	}
	_, err = e.ledger.CreateActivity(ctx, settings.AccessToken, settings.SpaceSubdomain, cobot.CreateActivityRequest{
		Text:      fmt.Sprintf("EV charging session ended %s %son charger %s", byline, onBehalfOf, charger.FriendlyName),
		Channels:  channels,
		SourceIDs: sourceIDs,
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.SessionsStopped.Inc()
		e.metrics.EnergyWattHours.Add(max(energyUsed, 0))
	}
	return &StopResult{
		WattHoursUsed: energyUsed,
		Duration:      duration,
		Price:         price,
	}, nil
}

// attribution resolves the activity routing for a membership: always the
// admin channel, plus the membership channel with the member as source when a
// specific membership is attributed.
func (e *Engine) attribution(ctx context.Context, settings *storage.SpaceSettings, membership models.Membership) (channels, sourceIDs []string, onBehalfOf string, err error) {
	channels = []string{cobot.ActivityChannelAdmin}
	onBehalfOf = "(no membership) "

	membershipID, present := membership.ID()
	if !present {
		return channels, nil, onBehalfOf, nil
	}

	channels = append(channels, cobot.ActivityChannelMembership)
	sourceIDs = []string{membershipID}

	members, err := e.ledger.ListMemberships(ctx, settings.AccessToken, settings.SpaceSubdomain, []string{membershipID})
	if err != nil {
		return nil, nil, "", err
	}
	if len(members) == 0 {
		return nil, nil, "", fmt.Errorf("membership %s not found", membershipID)
	}
	onBehalfOf = fmt.Sprintf("on behalf of %s ", members[0].Name)
	return channels, sourceIDs, onBehalfOf, nil
}
