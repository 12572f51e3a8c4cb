package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/willemave/news-app-sub001/internal/store"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func seedContent(t *testing.T, st *store.MemoryStore, url string, ct store.ContentType) int64 {
	t.Helper()
	id, created, err := st.EnsureContent(context.Background(), &store.Content{
		URL: url, ContentType: ct, Status: store.ContentNew,
	})
	require.NoError(t, err)
	require.True(t, created)
	return id
}

func TestCheckoutClaimsAndFilters(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := NewManager(st, testLogger())

	articleID := seedContent(t, st, "https://example.com/a", store.TypeArticle)
	seedContent(t, st, "https://example.com/p", store.TypePodcast)

	ids, err := m.Checkout(ctx, "w1", store.TypeArticle, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{articleID}, ids)

	c, err := st.GetContent(ctx, articleID)
	require.NoError(t, err)
	require.Equal(t, "w1", c.CheckedOutBy)
	require.NotNil(t, c.CheckedOutAt)
	require.Equal(t, store.ContentProcessing, c.Status)

	// A checked-out item is not claimable again.
	ids, err = m.Checkout(ctx, "w2", store.TypeArticle, 10)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestCheckoutRejectsBadBatch(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), testLogger())
	_, err := m.Checkout(context.Background(), "w1", "", 0)
	require.Error(t, err)
}

func TestWithScopeSuccess(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := NewManager(st, testLogger())
	id := seedContent(t, st, "https://example.com/a", store.TypeArticle)

	err := m.With(ctx, "w1", "", 5, func(ctx context.Context, ids []int64) error {
		require.Equal(t, []int64{id}, ids)
		return nil
	})
	require.NoError(t, err)

	c, err := st.GetContent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.ContentCompleted, c.Status)
	require.Empty(t, c.CheckedOutBy)
	require.Nil(t, c.CheckedOutAt)
	require.NotNil(t, c.ProcessedAt)
	require.Zero(t, c.RetryCount)
}

func TestWithScopeFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := NewManager(st, testLogger())
	id := seedContent(t, st, "https://example.com/a", store.TypeArticle)

	boom := errors.New("downstream exploded")
	err := m.With(ctx, "w1", "", 5, func(ctx context.Context, ids []int64) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	c, err := st.GetContent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.ContentFailed, c.Status)
	require.Equal(t, "downstream exploded", c.ErrorMessage)
	require.Equal(t, 1, c.RetryCount)
	require.Empty(t, c.CheckedOutBy)
}

func TestCheckoutConcurrentClaimsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := NewManager(st, testLogger())

	const items = 20
	for i := 0; i < items; i++ {
		seedContent(t, st, fmt.Sprintf("https://example.com/%d", i), store.TypeArticle)
	}

	var (
		mu     sync.Mutex
		claims = map[int64][]string{}
		errs   []error
		wg     sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		workerID := fmt.Sprintf("w%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ids, err := m.Checkout(ctx, workerID, "", 3)
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
					mu.Unlock()
					return
				}
				for _, id := range ids {
					claims[id] = append(claims[id], workerID)
				}
				mu.Unlock()
				if len(ids) == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, claims, items)
	for id, owners := range claims {
		require.Len(t, owners, 1, "content %d checked out by %v", id, owners)
		c, err := st.GetContent(ctx, id)
		require.NoError(t, err)
		require.Equal(t, owners[0], c.CheckedOutBy, "content %d", id)
	}
}

func TestStaleListsWithoutReleasing(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := NewManager(st, testLogger())
	id := seedContent(t, st, "https://example.com/a", store.TypeArticle)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	_, err := m.Checkout(ctx, "w1", "", 1)
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(31 * time.Minute) }
	ids, err := m.Stale(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, []int64{id}, ids)

	// Listing must not touch the reservation.
	c, err := st.GetContent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "w1", c.CheckedOutBy)
	require.NotNil(t, c.CheckedOutAt)
	require.Equal(t, store.ContentProcessing, c.Status)
}

func TestReleaseStale(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := NewManager(st, testLogger())
	id := seedContent(t, st, "https://example.com/a", store.TypeArticle)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	_, err := m.Checkout(ctx, "w1", "", 1)
	require.NoError(t, err)

	// Young checkout survives.
	m.now = func() time.Time { return base.Add(10 * time.Minute) }
	ids, err := m.ReleaseStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Empty(t, ids)

	// Expired checkout is reset to new with an incremented retry count.
	m.now = func() time.Time { return base.Add(31 * time.Minute) }
	ids, err = m.ReleaseStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, []int64{id}, ids)

	c, err := st.GetContent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.ContentNew, c.Status)
	require.Empty(t, c.CheckedOutBy)
	require.Nil(t, c.CheckedOutAt)
	require.Equal(t, 1, c.RetryCount)

	// Idempotent: nothing left to release.
	ids, err = m.ReleaseStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Empty(t, ids)
}
