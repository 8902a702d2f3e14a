package delay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

// Notifier is told when executions became runnable.
type Notifier interface {
	Notify()
}

type Config struct {
	ScanInterval time.Duration
	BatchSize    int
}

func DefaultConfig() Config {
	return Config{ScanInterval: time.Second, BatchSize: 100}
}

// Manager fires due wakeups.
type Manager struct {
	store    persistence.Persistence
	timer    Timer
	notifier Notifier
	config   Config
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewManager(
	store persistence.Persistence,
	timer Timer,
	notifier Notifier,
	config Config,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Manager {
	if config.ScanInterval <= 0 {
		config.ScanInterval = DefaultConfig().ScanInterval
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}

	return &Manager{
		store:    store,
		timer:    timer,
		notifier: notifier,
		config:   config,
		clock:    clock,
		logger:   logger.With("module", "delay_manager"),
	}
}

// Start recovers pending wakeups and scans for due ones every ScanInterval until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting delay manager", "scan_interval", m.config.ScanInterval)

	if _, err := m.Recover(ctx); err != nil {
		return err
	}

	ticker := m.clock.NewTicker(m.config.ScanInterval)
	defer ticker.Stop()

	for {
		if _, err := m.Scan(ctx); err != nil {
			m.logger.ErrorContext(ctx, "Wakeup scan failed", "error", err)
		}

		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "Delay manager stopped")

			return nil
		case <-ticker.Chan():
		}
	}
}

// Recover indexes every pending wakeup row in the timer, repairing wakeups that were
// committed but never scheduled, or claimed but never fired.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	pending, err := m.store.WakeupRepository().Pending(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending wakeups: %w", err)
	}

	for _, wakeup := range pending {
		if err := m.timer.Schedule(ctx, wakeup); err != nil {
			return 0, fmt.Errorf("failed to reschedule wakeup %s: %w", wakeup.ID, err)
		}
	}

	if len(pending) > 0 {
		m.logger.InfoContext(ctx, "Recovered pending wakeups", "count", len(pending))
	}

	return len(pending), nil
}

// Scan fires every due wakeup and returns how many executions became runnable.
// A wakeup whose generation no longer matches is retired without effect.
func (m *Manager) Scan(ctx context.Context) (int, error) {
	now := m.clock.Now()
	resumed := 0

	for {
		due, err := m.timer.Due(ctx, now, m.config.BatchSize)
		if err != nil {
			return resumed, err
		}

		for _, wakeup := range due {
			ok, err := m.store.ExecutionRepository().MakeRunnable(ctx, wakeup.ExecutionID, wakeup.Generation, now)
			if err != nil {
				return resumed, fmt.Errorf("failed to resume execution %s: %w", wakeup.ExecutionID, err)
			}

			if err := m.store.WakeupRepository().MarkFired(ctx, wakeup.ID, now); err != nil {
				return resumed, fmt.Errorf("failed to mark wakeup %s fired: %w", wakeup.ID, err)
			}

			if err := m.timer.Fired(ctx, wakeup, now); err != nil {
				return resumed, err
			}

			logger := m.logger.With(
				"execution_id", wakeup.ExecutionID,
				"wakeup_id", wakeup.ID,
				"reason", wakeup.Reason,
			)

			if !ok {
				logger.DebugContext(ctx, "Stale wakeup ignored")

				continue
			}

			logger.InfoContext(ctx, "Execution resumed", "resume_node_id", wakeup.ResumeNodeID)

			resumed++
		}

		if len(due) < m.config.BatchSize {
			break
		}
	}

	if resumed > 0 && m.notifier != nil {
		m.notifier.Notify()
	}

	return resumed, nil
}

// Cancel drops the pending wakeups of an execution.
func (m *Manager) Cancel(ctx context.Context, executionID string) error {
	now := m.clock.Now()

	if err := m.store.WakeupRepository().CancelByExecution(ctx, executionID, now); err != nil {
		return fmt.Errorf("failed to cancel wakeups of execution %s: %w", executionID, err)
	}

	return m.timer.Cancel(ctx, executionID, now)
}
