package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chargebridge/internal/cobot"
	"chargebridge/internal/models"
	"chargebridge/internal/storage"
)

// ProvisionalDuration is the booking window written at session start. Open
// sessions are discoverable because their provisional window still overlaps
// the current time.
const ProvisionalDuration = 8 * time.Hour

// Ledger is the slice of the membership backend the query engine reads.
type Ledger interface {
	ListBookings(ctx context.Context, accessToken, spaceSubdomain, resourceID string, from, to time.Time) ([]cobot.Booking, error)
}

// QueryEngine reconstructs sessions by scanning ledger bookings and parsing
// their comments.
type QueryEngine struct {
	ledger Ledger
	logger *zap.Logger
	now    func() time.Time
}

// NewQueryEngine builds the engine.
func NewQueryEngine(ledger Ledger, logger *zap.Logger) *QueryEngine {
	return &QueryEngine{
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// ActiveSession is an open session found in the ledger.
type ActiveSession struct {
	StartRecord
	BookingID string
	From      time.Time
	To        time.Time
}

// CurrentSession returns the open session for a charger, or nil when there is
// none. "No active session" is a normal outcome, not an error.
func (q *QueryEngine) CurrentSession(ctx context.Context, settings *storage.SpaceSettings, chargerID string) (*ActiveSession, error) {
	resourceID, ok := settings.ResourceFor(chargerID)
	if !ok {
		return nil, fmt.Errorf("charger with id %s not mapped to a resource", chargerID)
	}

	now := q.now()
	bookings, err := q.ledger.ListBookings(ctx, settings.AccessToken, settings.SpaceSubdomain, resourceID,
		now.Add(-ProvisionalDuration), now.Add(ProvisionalDuration))
	if err != nil {
		return nil, err
	}

	var current *cobot.Booking
	for i := range bookings {
		if !bookings[i].From.After(now) && !bookings[i].To.Before(now) {
			current = &bookings[i]
			break
		}
	}
	if current == nil {
		return nil, nil
	}

	rec, err := DecodeStart(current.Comments)
	if err != nil {
		return nil, fmt.Errorf("booking %s on resource %s is invalid: %w", current.ID, resourceID, err)
	}
	return &ActiveSession{
		StartRecord: *rec,
		BookingID:   current.ID,
		From:        current.From.Time,
		To:          current.To.Time,
	}, nil
}

// Result is the per-charger outcome of a bulk current-session query.
type Result struct {
	Session *ActiveSession
	Err     error
}

// CurrentSessions fans CurrentSession out concurrently over every mapped
// charger. A failure for one charger never affects the others.
func (q *QueryEngine) CurrentSessions(ctx context.Context, settings *storage.SpaceSettings) map[string]Result {
	results := make(map[string]Result, len(settings.ResourceMapping))
	var mu sync.Mutex

	grp, ctx := errgroup.WithContext(ctx)
	for chargerID := range settings.ResourceMapping {
		grp.Go(func() error {
			session, err := q.CurrentSession(ctx, settings, chargerID)
			mu.Lock()
			results[chargerID] = Result{Session: session, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = grp.Wait() // goroutines never return errors
	return results
}

// HistoricSession is one session found in a historic scan. End is nil for
// sessions that were still open when scanned.
type HistoricSession struct {
	BookingID string
	ChargerID string
	From      time.Time
	To        time.Time
	Start     StartRecord
	End       *EndRecord
}

// Completed reports whether the session was closed.
func (h *HistoricSession) Completed() bool { return h.End != nil }

// HistoricSessions scans bookings of the given chargers (all mapped chargers
// when chargerIDs is nil) within [from, to] and returns every parseable
// session matching the membership filter. Bookings whose comment is missing,
// not JSON, or matches neither schema are skipped, not errors; foreign
// bookings on the same resource are expected.
func (q *QueryEngine) HistoricSessions(ctx context.Context, settings *storage.SpaceSettings, from, to time.Time, chargerIDs []string, filter models.MembershipFilter) ([]HistoricSession, error) {
	if chargerIDs == nil {
		chargerIDs = make([]string, 0, len(settings.ResourceMapping))
		for chargerID := range settings.ResourceMapping {
			chargerIDs = append(chargerIDs, chargerID)
		}
	}

	perCharger := make([][]HistoricSession, len(chargerIDs))
	grp, ctx := errgroup.WithContext(ctx)
	for i, chargerID := range chargerIDs {
		grp.Go(func() error {
			sessions, err := q.historicForCharger(ctx, settings, chargerID, from, to, filter)
			if err != nil {
				return err
			}
			perCharger[i] = sessions
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	var all []HistoricSession
	for _, sessions := range perCharger {
		all = append(all, sessions...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].From.Before(all[j].From) })
	return all, nil
}

func (q *QueryEngine) historicForCharger(ctx context.Context, settings *storage.SpaceSettings, chargerID string, from, to time.Time, filter models.MembershipFilter) ([]HistoricSession, error) {
	resourceID, ok := settings.ResourceFor(chargerID)
	if !ok {
		return nil, fmt.Errorf("charger with id %s not mapped to a resource", chargerID)
	}

	bookings, err := q.ledger.ListBookings(ctx, settings.AccessToken, settings.SpaceSubdomain, resourceID, from, to)
	if err != nil {
		return nil, err
	}

	var sessions []HistoricSession
	for i := range bookings {
		booking := &bookings[i]
		start, end, err := DecodeRecord(booking.Comments)
		if err != nil {
			if errors.Is(err, ErrNoComment) || errors.Is(err, ErrCommentNotJSON) || errors.Is(err, ErrCommentSchema) {
				q.logger.Debug("skipping booking without session comment",
					zap.String("booking_id", booking.ID),
					zap.String("resource_id", resourceID),
					zap.Error(err))
				continue
			}
			return nil, err
		}

		record := HistoricSession{
			BookingID: booking.ID,
			ChargerID: chargerID,
			From:      booking.From.Time,
			To:        booking.To.Time,
		}
		if end != nil {
			record.Start = end.StartRecord
			record.End = end
		} else {
			record.Start = *start
		}
		if record.Start.ChargerID != "" {
			record.ChargerID = record.Start.ChargerID
		}
		if !filter.Matches(record.Start.Membership) {
			continue
		}
		sessions = append(sessions, record)
	}
	return sessions, nil
}
