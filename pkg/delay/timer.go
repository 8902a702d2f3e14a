// Package delay resumes parked executions once their wake time passes.
//
// A Timer indexes pending wakeups by wake time. The Manager polls it, moves each due
// execution back into the runnable set and notifies the scheduler. The durable wakeup
// rows in persistence stay the source of truth: a Timer can be rebuilt from them at
// any time with Manager.Recover.
package delay

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// Timer indexes pending wakeups by wake time.
type Timer interface {
	// Schedule adds the wakeup. Scheduling the same wakeup id twice is a no-op.
	Schedule(ctx context.Context, wakeup *models.Wakeup) error

	// Due returns up to limit wakeups whose wake time is not after now.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Wakeup, error)

	// Fired drops the wakeup from the index.
	Fired(ctx context.Context, wakeup *models.Wakeup, at time.Time) error

	// Cancel drops every wakeup of the execution.
	Cancel(ctx context.Context, executionID string, at time.Time) error
}

// StoreTimer polls the wakeup rows directly.
type StoreTimer struct {
	wakeups persistence.WakeupRepository
}

func NewStoreTimer(p persistence.Persistence) *StoreTimer {
	return &StoreTimer{wakeups: p.WakeupRepository()}
}

func (t *StoreTimer) Schedule(ctx context.Context, wakeup *models.Wakeup) error {
	return t.wakeups.Save(ctx, wakeup)
}

func (t *StoreTimer) Due(ctx context.Context, now time.Time, limit int) ([]*models.Wakeup, error) {
	return t.wakeups.Due(ctx, now, limit)
}

func (t *StoreTimer) Fired(ctx context.Context, wakeup *models.Wakeup, at time.Time) error {
	return t.wakeups.MarkFired(ctx, wakeup.ID, at)
}

func (t *StoreTimer) Cancel(ctx context.Context, executionID string, at time.Time) error {
	return t.wakeups.CancelByExecution(ctx, executionID, at)
}
