package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// WakeupRepository stores wakeups in wakeups/<id>.json.
type WakeupRepository struct {
	store *store
}

func wakeupPath(s *store, id string) string {
	return s.path("wakeups", id+".json")
}

// saveWakeup inserts a wakeup unless it already exists. Callers hold the lock.
func saveWakeup(s *store, wakeup *models.Wakeup) error {
	if err := validateID(wakeup.ID); err != nil {
		return persistence.NewExecutionError("SaveWakeup", wakeup.ExecutionID, err)
	}

	var existing models.Wakeup

	found, err := s.read(wakeupPath(s, wakeup.ID), &existing)
	if err != nil {
		return err
	}

	if found {
		return nil
	}

	return s.write(wakeupPath(s, wakeup.ID), wakeup)
}

func (wr *WakeupRepository) all() ([]*models.Wakeup, error) {
	ids, err := wr.store.list(wr.store.path("wakeups"))
	if err != nil {
		return nil, err
	}

	wakeups := make([]*models.Wakeup, 0, len(ids))

	for _, id := range ids {
		var wakeup models.Wakeup

		found, err := wr.store.read(wakeupPath(wr.store, id), &wakeup)
		if err != nil {
			return nil, err
		}

		if found {
			wakeups = append(wakeups, &wakeup)
		}
	}

	sort.SliceStable(wakeups, func(i, j int) bool {
		return wakeups[i].WakeAt.Before(wakeups[j].WakeAt)
	})

	return wakeups, nil
}

func (wr *WakeupRepository) Save(_ context.Context, wakeup *models.Wakeup) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	return saveWakeup(wr.store, wakeup)
}

func (wr *WakeupRepository) Due(_ context.Context, now time.Time, limit int) ([]*models.Wakeup, error) {
	return wr.filter(limit, func(w *models.Wakeup) bool {
		return w.Status == models.WakeupStatusPending && !w.WakeAt.After(now)
	})
}

func (wr *WakeupRepository) Pending(_ context.Context, limit int) ([]*models.Wakeup, error) {
	return wr.filter(limit, func(w *models.Wakeup) bool {
		return w.Status == models.WakeupStatusPending
	})
}

func (wr *WakeupRepository) filter(limit int, keep func(*models.Wakeup) bool) ([]*models.Wakeup, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	wakeups, err := wr.all()
	if err != nil {
		return nil, err
	}

	result := make([]*models.Wakeup, 0)

	for _, wakeup := range wakeups {
		if limit > 0 && len(result) >= limit {
			break
		}

		if keep(wakeup) {
			result = append(result, wakeup)
		}
	}

	return result, nil
}

func (wr *WakeupRepository) MarkFired(_ context.Context, id string, at time.Time) error {
	if err := validateID(id); err != nil {
		return err
	}

	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	var wakeup models.Wakeup

	found, err := wr.store.read(wakeupPath(wr.store, id), &wakeup)
	if err != nil || !found || wakeup.Status != models.WakeupStatusPending {
		return err
	}

	fired := at.UTC()
	wakeup.Status = models.WakeupStatusFired
	wakeup.FiredAt = &fired

	return wr.store.write(wakeupPath(wr.store, id), &wakeup)
}

func (wr *WakeupRepository) CancelByExecution(_ context.Context, executionID string, at time.Time) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	wakeups, err := wr.all()
	if err != nil {
		return err
	}

	for _, wakeup := range wakeups {
		if wakeup.ExecutionID != executionID || wakeup.Status != models.WakeupStatusPending {
			continue
		}

		cancelled := at.UTC()
		wakeup.Status = models.WakeupStatusCancelled
		wakeup.FiredAt = &cancelled

		if err := wr.store.write(wakeupPath(wr.store, wakeup.ID), wakeup); err != nil {
			return err
		}
	}

	return nil
}

func (wr *WakeupRepository) ListByExecution(_ context.Context, executionID string) ([]*models.Wakeup, error) {
	return wr.filter(0, func(w *models.Wakeup) bool {
		return w.ExecutionID == executionID
	})
}
