// Package checkout provides content-level reservations, orthogonal to task
// claims: the queue reserves a task, a checkout reserves the content item
// itself for a scoped batch operation.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/willemave/news-app-sub001/internal/observability"
	"github.com/willemave/news-app-sub001/internal/store"
)

// Manager reserves content items for exclusive processing and reclaims
// abandoned reservations.
type Manager struct {
	store store.Store
	log   *logrus.Entry
	now   func() time.Time
}

// NewManager builds a checkout manager over the store.
func NewManager(s store.Store, log *logrus.Entry) *Manager {
	return &Manager{store: s, log: log, now: time.Now}
}

// Checkout claims up to batch items in status new with no current checkout,
// ordered by (retry_count asc, created_at asc), optionally filtered by
// content type. Returns ids only; callers re-read rows through the store so
// nothing outlives the claiming session.
func (m *Manager) Checkout(ctx context.Context, workerID string, ct store.ContentType, batch int) ([]int64, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("checkout batch must be positive, got %d", batch)
	}
	ids, err := m.store.CheckoutContent(ctx, workerID, ct, batch, m.now().UTC())
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		m.log.WithFields(logrus.Fields{"worker_id": workerID, "count": len(ids)}).
			Debug("content checked out")
	}
	return ids, nil
}

// CheckIn releases one reservation with its final status. A failed check-in
// records the error and increments the content retry count; both the status
// and the checkout fields change in the same store transaction.
func (m *Manager) CheckIn(ctx context.Context, id int64, status store.ContentStatus, errMsg string) error {
	failed := status == store.ContentFailed
	return m.store.CheckinContent(ctx, id, status, errMsg, failed)
}

// With checks out a batch, runs fn over the claimed ids, and checks every id
// back in: completed when fn returns nil, failed with the error text
// otherwise. The error from fn is returned either way.
func (m *Manager) With(ctx context.Context, workerID string, ct store.ContentType, batch int, fn func(ctx context.Context, ids []int64) error) error {
	ids, err := m.Checkout(ctx, workerID, ct, batch)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	fnErr := fn(ctx, ids)
	status := store.ContentCompleted
	errMsg := ""
	if fnErr != nil {
		status = store.ContentFailed
		errMsg = fnErr.Error()
	}
	for _, id := range ids {
		if err := m.CheckIn(ctx, id, status, errMsg); err != nil {
			m.log.WithError(err).WithField("content_id", id).Warn("check-in failed")
		}
	}
	return fnErr
}

// Stale lists reservations older than the timeout without touching them.
func (m *Manager) Stale(ctx context.Context, timeout time.Duration) ([]int64, error) {
	return m.store.StaleCheckouts(ctx, m.now().UTC().Add(-timeout))
}

// ReleaseStale clears checkouts older than the timeout, resetting the items
// to new with an incremented retry count. Idempotent; safe to run
// concurrently with active workers since only expired reservations match.
func (m *Manager) ReleaseStale(ctx context.Context, timeout time.Duration) ([]int64, error) {
	cutoff := m.now().UTC().Add(-timeout)
	ids, err := m.store.ReleaseStaleCheckouts(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		observability.CheckoutsReleased.Add(float64(len(ids)))
		m.log.WithField("count", len(ids)).Info("stale checkouts released")
	}
	return ids, nil
}
