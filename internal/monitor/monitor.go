// Package monitor runs the periodic reconciliation sweep that force-closes
// sessions whose vehicle is no longer present or charging.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chargebridge/internal/charging"
	"chargebridge/internal/cobot"
	"chargebridge/internal/metrics"
	"chargebridge/internal/models"
	"chargebridge/internal/session"
	"chargebridge/internal/storage"
)

// DefaultInterval between sweep ticks.
const DefaultInterval = time.Minute

// SettingsSource lists every tenant known to persistence.
type SettingsSource interface {
	All(ctx context.Context) ([]storage.SpaceSettings, error)
}

// SessionSource reports the open sessions of a space per charger.
type SessionSource interface {
	CurrentSessions(ctx context.Context, settings *storage.SpaceSettings) map[string]session.Result
}

// ChargerSource reports live hardware state.
type ChargerSource interface {
	ListChargers(ctx context.Context) ([]models.Charger, error)
}

// SessionStopper closes a session; a nil user marks a system-initiated stop.
type SessionStopper interface {
	Stop(ctx context.Context, user *cobot.UserDetails, settings *storage.SpaceSettings, chargerID string) (*charging.StopResult, error)
}

// Monitor is the sweep scheduler. Start and Stop are idempotent.
type Monitor struct {
	settings SettingsSource
	sessions SessionSource
	chargers ChargerSource
	stopper  SessionStopper
	metrics  *metrics.Metrics
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the monitor. interval <= 0 selects the default. metrics may be nil.
func New(settings SettingsSource, sessions SessionSource, chargers ChargerSource, stopper SessionStopper, m *metrics.Metrics, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		settings: settings,
		sessions: sessions,
		chargers: chargers,
		stopper:  stopper,
		metrics:  m,
		logger:   logger,
		interval: interval,
	}
}

// Start launches the sweep timer. Starting an already running monitor is a
// no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)
	m.logger.Info("wallbox monitor started", zap.Duration("interval", m.interval))
}

// Stop cancels the timer and waits for an in-flight tick to finish. Stopping
// a monitor that is not running is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("wallbox monitor stopped")
}

// Running reports whether the sweep timer is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// First check runs immediately, not one interval in.
	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick cross-references every space's open sessions with live hardware state.
// Failures are logged and never terminate the timer.
func (m *Monitor) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("sweep tick panicked", zap.Any("panic", r))
		}
	}()

	if m.metrics != nil {
		m.metrics.SweepTicks.Inc()
	}

	allSettings, err := m.settings.All(ctx)
	if err != nil {
		m.logger.Error("sweep failed to list space settings", zap.Error(err))
		return
	}
	m.logger.Debug("sweep checking spaces", zap.Int("spaces", len(allSettings)))

	for i := range allSettings {
		m.checkSpace(ctx, &allSettings[i])
	}
}

func (m *Monitor) checkSpace(ctx context.Context, settings *storage.SpaceSettings) {
	var (
		results  map[string]session.Result
		chargers []models.Charger
	)
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		results = m.sessions.CurrentSessions(grpCtx, settings)
		return nil
	})
	grp.Go(func() (err error) {
		chargers, err = m.chargers.ListChargers(grpCtx)
		return err
	})
	if err := grp.Wait(); err != nil {
		m.logger.Error("sweep failed to list chargers",
			zap.String("space_id", settings.SpaceID),
			zap.Error(err))
		return
	}

	chargerByID := make(map[string]*models.Charger, len(chargers))
	for i := range chargers {
		chargerByID[chargers[i].ID] = &chargers[i]
	}

	for chargerID, result := range results {
		if result.Err != nil || result.Session == nil {
			continue
		}

		charger, ok := chargerByID[chargerID]
		if !ok {
			m.logger.Warn("charger has active session but is not reported by gateway",
				zap.String("charger_id", chargerID))
			continue
		}
		if !charger.EvseState.Available() {
			// Still charging (or offline/error, where stop is left to an
			// operator); nothing to reconcile.
			continue
		}

		m.logger.Info("detected unplugged or finished vehicle, ending session",
			zap.String("charger_id", chargerID),
			zap.String("state", string(charger.EvseState)))
		if _, err := m.stopper.Stop(ctx, nil, settings, chargerID); err != nil {
			m.logger.Error("sweep failed to end session",
				zap.String("charger_id", chargerID),
				zap.Error(err))
			continue
		}
		if m.metrics != nil {
			m.metrics.SweepForcedStop.Inc()
		}
		m.logger.Info("sweep ended session", zap.String("charger_id", chargerID))
	}
}
