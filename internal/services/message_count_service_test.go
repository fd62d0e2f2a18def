package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/charlesng35/guildstats/internal/cache"
	"github.com/charlesng35/guildstats/internal/database/testutil"
	"github.com/charlesng35/guildstats/internal/models"
	apperrors "github.com/charlesng35/guildstats/pkg/errors"
)

var counterEpoch = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newCounterService(t *testing.T, store cache.Store[models.MessageCount], clock clockwork.Clock) *MessageCountService {
	t.Helper()

	svc, err := NewMessageCountService(store, WithCounterClock(clock))
	require.NoError(t, err)
	return svc
}

func TestNewMessageCountServiceRequiresStore(t *testing.T) {
	_, err := NewMessageCountService(nil)
	require.Error(t, err)
}

func TestMessageCountService_DefaultTTL(t *testing.T) {
	svc, err := NewMessageCountService(newMemoryStore[models.MessageCount](), WithCounterCacheTTL(-time.Second))
	require.NoError(t, err)
	require.Equal(t, DefaultCounterCacheTTL, svc.CacheTTL())
}

func TestMessageCountService_IncrementSameDayIsMonotonic(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))
	ctx := context.Background()

	for k := int64(1); k <= 5; k++ {
		count, err := svc.Increment(ctx, "guild-1")
		require.NoError(t, err)
		require.Equal(t, k, count)
	}

	stored, ok := store.get("guild-1")
	require.True(t, ok)
	require.EqualValues(t, 5, stored.Count)
	require.Equal(t, "2026-10-16", stored.Day)
}

func TestMessageCountService_IncrementAfterRollover(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	store.put(models.MessageCount{ID: "guild-1", Count: 42, Day: "2026-10-15"})
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))

	count, err := svc.Increment(context.Background(), "guild-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	stored, _ := store.get("guild-1")
	require.EqualValues(t, 1, stored.Count)
	require.Equal(t, "2026-10-16", stored.Day)
}

func TestMessageCountService_IncrementAcrossMidnight(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 16, 23, 59, 59, 0, time.UTC))
	svc := newCounterService(t, newMemoryStore[models.MessageCount](), clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Increment(ctx, "guild-1")
		require.NoError(t, err)
	}

	clock.Advance(2 * time.Second)

	count, err := svc.Increment(ctx, "guild-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMessageCountService_IncrementMalformedRecord(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	store.failFind(apperrors.ErrInvalidRecord.WithInternal(errors.New("count is not a number")))
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))

	count, err := svc.Increment(context.Background(), "guild-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMessageCountService_IncrementNegativeCountNormalised(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	store.put(models.MessageCount{ID: "guild-1", Count: -7, Day: "2026-10-16"})
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))

	count, err := svc.Increment(context.Background(), "guild-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMessageCountService_IncrementStoreFailureLeavesCache(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	clock := clockwork.NewFakeClockAt(counterEpoch)
	svc := newCounterService(t, store, clock)
	ctx := context.Background()

	_, err := svc.Increment(ctx, "guild-1")
	require.NoError(t, err)

	store.failUpsert(apperrors.ErrStoreUnavailable.WithInternal(errors.New("connection refused")))
	_, err = svc.Increment(ctx, "guild-1")
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	count, known, err := svc.Read(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, known)
	require.EqualValues(t, 1, count)
}

func TestMessageCountService_IncrementRequiresID(t *testing.T) {
	svc := newCounterService(t, newMemoryStore[models.MessageCount](), clockwork.NewFakeClockAt(counterEpoch))

	_, err := svc.Increment(context.Background(), "  ")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestMessageCountService_ReadWithinTTLIsIdempotent(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	store.put(models.MessageCount{ID: "guild-1", Count: 7, Day: "2026-10-16"})
	clock := clockwork.NewFakeClockAt(counterEpoch)
	svc := newCounterService(t, store, clock)
	ctx := context.Background()

	count, known, err := svc.Read(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, known)
	require.EqualValues(t, 7, count)

	store.put(models.MessageCount{ID: "guild-1", Count: 9, Day: "2026-10-16"})
	clock.Advance(2999 * time.Millisecond)

	count, known, err = svc.Read(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, known)
	require.EqualValues(t, 7, count)
	require.Equal(t, 1, store.findCalls())
}

func TestMessageCountService_ReadAfterTTLHitsStore(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	store.put(models.MessageCount{ID: "guild-1", Count: 7, Day: "2026-10-16"})
	clock := clockwork.NewFakeClockAt(counterEpoch)
	svc := newCounterService(t, store, clock)
	ctx := context.Background()

	_, _, err := svc.Read(ctx, "guild-1")
	require.NoError(t, err)

	store.put(models.MessageCount{ID: "guild-1", Count: 9, Day: "2026-10-16"})
	clock.Advance(DefaultCounterCacheTTL)

	count, _, err := svc.Read(ctx, "guild-1")
	require.NoError(t, err)
	require.EqualValues(t, 9, count)
	require.Equal(t, 2, store.findCalls())
}

func TestMessageCountService_ReadServesIncrementedValue(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))
	ctx := context.Background()

	_, err := svc.Increment(ctx, "guild-1")
	require.NoError(t, err)
	_, err = svc.Increment(ctx, "guild-1")
	require.NoError(t, err)

	count, known, err := svc.Read(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, known)
	require.EqualValues(t, 2, count)
}

func TestMessageCountService_ReadRolloverResetsToZero(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	store.put(models.MessageCount{ID: "guild-1", Count: 31, Day: "2026-10-14"})
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))

	count, known, err := svc.Read(context.Background(), "guild-1")
	require.NoError(t, err)
	require.True(t, known)
	require.Zero(t, count)

	stored, _ := store.get("guild-1")
	require.Zero(t, stored.Count)
	require.Equal(t, "2026-10-16", stored.Day)
}

func TestMessageCountService_ReadRolloverFailureLeavesCache(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	store.put(models.MessageCount{ID: "guild-1", Count: 31, Day: "2026-10-14"})
	store.failUpsert(apperrors.ErrStoreUnavailable)
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))

	_, _, err := svc.Read(context.Background(), "guild-1")
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	require.Zero(t, svc.CachedEntries())
}

func TestMessageCountService_ReadUnknownServer(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		count, known, err := svc.Read(ctx, "guild-404")
		require.NoError(t, err)
		require.False(t, known)
		require.Zero(t, count)
	}
	require.Equal(t, 1, store.findCalls())
	require.Zero(t, store.upsertCalls())
}

func TestMessageCountService_ReadStoreFailure(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	store.failFind(apperrors.ErrStoreUnavailable.WithInternal(errors.New("timeout")))
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))

	_, _, err := svc.Read(context.Background(), "guild-1")
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	require.Zero(t, svc.CachedEntries())
}

func TestMessageCountService_Prune(t *testing.T) {
	clock := clockwork.NewFakeClockAt(counterEpoch)
	svc := newCounterService(t, newMemoryStore[models.MessageCount](), clock)
	ctx := context.Background()

	_, err := svc.Increment(ctx, "guild-1")
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	_, err = svc.Increment(ctx, "guild-2")
	require.NoError(t, err)
	clock.Advance(time.Second)

	require.Equal(t, 1, svc.Prune())
	require.Equal(t, 1, svc.CachedEntries())

	clock.Advance(5 * time.Second)
	require.Equal(t, 1, svc.Prune())
	require.Zero(t, svc.CachedEntries())
}

func TestMessageCountService_ConcurrentIncrements(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore[models.MessageCount](db)
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))

	const workers = 40
	results := make([]int64, workers)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			count, err := svc.Increment(ctx, "guild-1")
			results[i] = count
			return err
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(results, func(a, b int) bool { return results[a] < results[b] })
	for i, count := range results {
		require.EqualValues(t, i+1, count)
	}

	stored, found, err := store.FindOne(context.Background(), "guild-1")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, workers, stored.Count)

	count, known, err := svc.Read(context.Background(), "guild-1")
	require.NoError(t, err)
	require.True(t, known)
	require.EqualValues(t, workers, count)
}

func TestMessageCountService_ConcurrentColdReads(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	store.put(models.MessageCount{ID: "guild-1", Count: 3, Day: "2026-10-16"})
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			count, known, err := svc.Read(ctx, "guild-1")
			if err != nil {
				return err
			}
			if !known || count != 3 {
				return errors.New("unexpected counter value")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 1, store.findCalls())
}

func TestMessageCountService_ColdReadSurvivesOtherCallerCancel(t *testing.T) {
	store := newGatedStore[models.MessageCount]()
	store.put(models.MessageCount{ID: "guild-1", Count: 7, Day: "2026-10-16"})
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, _, err := svc.Read(ctxA, "guild-1")
		errA <- err
	}()

	<-store.started
	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	type readResult struct {
		count int64
		known bool
		err   error
	}
	resultB := make(chan readResult, 1)
	go func() {
		count, known, err := svc.Read(context.Background(), "guild-1")
		resultB <- readResult{count: count, known: known, err: err}
	}()

	close(store.release)
	res := <-resultB
	require.NoError(t, res.err)
	require.True(t, res.known)
	require.EqualValues(t, 7, res.count)
	require.EqualValues(t, 1, store.entered.Load())
}

func TestMessageCountService_IncrementStopsWaitingOnCancel(t *testing.T) {
	store := newMemoryStore[models.MessageCount]()
	svc := newCounterService(t, store, clockwork.NewFakeClockAt(counterEpoch))

	unlock, err := svc.locks.Lock(context.Background(), "guild-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = svc.Increment(ctx, "guild-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, store.findCalls())
	require.Zero(t, store.upsertCalls())

	unlock()
	count, err := svc.Increment(context.Background(), "guild-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMessageCountService_RolloverOnDatabaseStore(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore[models.MessageCount](db)
	clock := clockwork.NewFakeClockAt(counterEpoch)
	svc := newCounterService(t, store, clock)
	ctx := context.Background()

	for k := int64(1); k <= 2; k++ {
		count, err := svc.Increment(ctx, "guild-1")
		require.NoError(t, err)
		require.Equal(t, k, count)
	}

	clock.Advance(24 * time.Hour)

	count, known, err := svc.Read(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, known)
	require.Zero(t, count)

	stored, found, err := store.FindOne(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Zero(t, stored.Count)
	require.Equal(t, "2026-10-17", stored.Day)

	for k := int64(1); k <= 3; k++ {
		count, err := svc.Increment(ctx, "guild-1")
		require.NoError(t, err)
		require.Equal(t, k, count)
	}

	stored, found, err = store.FindOne(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 3, stored.Count)
	require.Equal(t, "2026-10-17", stored.Day)

	count, known, err = svc.Read(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, known)
	require.EqualValues(t, 3, count)
}
