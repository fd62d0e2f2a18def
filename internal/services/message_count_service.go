package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/guildstats/internal/cache"
	"github.com/charlesng35/guildstats/internal/models"
	apperrors "github.com/charlesng35/guildstats/pkg/errors"
	"github.com/charlesng35/guildstats/pkg/logger"
	"github.com/charlesng35/guildstats/pkg/metrics"
)

const (
	// DefaultCounterCacheTTL bounds how long a cached counter is served without a store read.
	DefaultCounterCacheTTL = 3 * time.Second
	// DefaultCounterReadTimeout bounds a shared cold read, which outlives any single caller.
	DefaultCounterReadTimeout = 5 * time.Second
)

// counterEntry is a cached counter. A nil count marks a server with no stored record.
type counterEntry struct {
	count    *int64
	cachedAt time.Time
}

type counterRead struct {
	count int64
	known bool
}

// MessageCountService tracks per-server daily message counts. Reads are served from an
// in-process cache for up to the configured TTL; increments write through to the store.
type MessageCountService struct {
	store       cache.Store[models.MessageCount]
	clock       clockwork.Clock
	ttl         time.Duration
	readTimeout time.Duration
	log         *zap.Logger

	mu      sync.RWMutex
	entries map[string]counterEntry

	locks keyedMutex
	reads singleflight.Group
}

// MessageCountOption customises the service.
type MessageCountOption func(*MessageCountService)

// WithCounterClock overrides the clock used for TTL checks and day stamps (test helper).
func WithCounterClock(clock clockwork.Clock) MessageCountOption {
	return func(s *MessageCountService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCounterCacheTTL overrides DefaultCounterCacheTTL. Non-positive values are ignored.
func WithCounterCacheTTL(ttl time.Duration) MessageCountOption {
	return func(s *MessageCountService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithCounterReadTimeout overrides DefaultCounterReadTimeout. Non-positive values are ignored.
func WithCounterReadTimeout(timeout time.Duration) MessageCountOption {
	return func(s *MessageCountService) {
		if timeout > 0 {
			s.readTimeout = timeout
		}
	}
}

// NewMessageCountService constructs a MessageCountService backed by store.
func NewMessageCountService(store cache.Store[models.MessageCount], opts ...MessageCountOption) (*MessageCountService, error) {
	if store == nil {
		return nil, errors.New("message count service: store is required")
	}

	svc := &MessageCountService{
		store:   store,
		clock:   clockwork.NewRealClock(),
		ttl:         DefaultCounterCacheTTL,
		readTimeout: DefaultCounterReadTimeout,
		log:         logger.WithModule("message_counts"),
		entries:     make(map[string]counterEntry),
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// CacheTTL returns the freshness window applied to cached counters.
func (s *MessageCountService) CacheTTL() time.Duration {
	return s.ttl
}

// Increment records one message for serverID and returns the count for the current UTC day.
// The counter restarts at 1 on the first message of a new day.
func (s *MessageCountService) Increment(ctx context.Context, serverID string) (int64, error) {
	ctx = ensureContext(ctx)
	id, err := requireID("server", serverID)
	if err != nil {
		return 0, err
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	now := s.clock.Now()
	today := DayOf(now)

	record, found, err := s.load(ctx, id)
	if err != nil {
		return 0, err
	}

	base := int64(0)
	switch {
	case !found:
	case IsSameDay(DayStamp(record.Day), today):
		base = record.Count
	default:
		metrics.CounterRollovers.WithLabelValues("increment").Inc()
		s.log.Debug("counter rolled over",
			zap.String("server_id", id),
			zap.String("stored_day", record.Day),
			zap.String("today", string(today)),
		)
	}

	next := base + 1
	if err := s.store.UpsertReplace(ctx, models.MessageCount{ID: id, Count: next, Day: string(today)}); err != nil {
		s.log.Warn("persist message count failed", zap.String("server_id", id), zap.Error(err))
		return 0, err
	}

	s.remember(id, &next, now)
	metrics.MessageIncrements.Inc()
	return next, nil
}

// Read returns the current count for serverID. known is false when the server has never
// been counted. A counter stored under a previous day is reset to zero in the store.
func (s *MessageCountService) Read(ctx context.Context, serverID string) (int64, bool, error) {
	ctx = ensureContext(ctx)
	id, err := requireID("server", serverID)
	if err != nil {
		return 0, false, err
	}

	if entry, ok := s.fresh(id); ok {
		metrics.CacheLookups.WithLabelValues("counters", "hit").Inc()
		if entry.count == nil {
			return 0, false, nil
		}
		return *entry.count, true, nil
	}
	metrics.CacheLookups.WithLabelValues("counters", "miss").Inc()

	// The shared refresh is detached from every caller; each caller stops waiting on its
	// own ctx only.
	results := s.reads.DoChan(id, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.readTimeout)
		defer cancel()
		return s.refresh(readCtx, id)
	})

	select {
	case <-ctx.Done():
		return 0, false, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return 0, false, res.Err
		}
		read := res.Val.(counterRead)
		return read.count, read.known, nil
	}
}

// Prune drops cache entries whose TTL has elapsed and returns how many were removed.
func (s *MessageCountService) Prune() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if now.Sub(entry.cachedAt) >= s.ttl {
			delete(s.entries, id)
			removed++
		}
	}
	metrics.CachedCounters.Set(float64(len(s.entries)))
	return removed
}

// CachedEntries reports the number of counters held in memory.
func (s *MessageCountService) CachedEntries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MessageCountService) refresh(ctx context.Context, id string) (counterRead, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return counterRead{}, err
	}
	defer unlock()

	// An increment may have landed while this read waited for the lock.
	if entry, ok := s.fresh(id); ok {
		if entry.count == nil {
			return counterRead{}, nil
		}
		return counterRead{count: *entry.count, known: true}, nil
	}

	now := s.clock.Now()
	today := DayOf(now)

	record, found, err := s.load(ctx, id)
	if err != nil {
		return counterRead{}, err
	}
	if !found {
		s.remember(id, nil, now)
		return counterRead{}, nil
	}

	if IsSameDay(DayStamp(record.Day), today) {
		count := record.Count
		s.remember(id, &count, now)
		return counterRead{count: count, known: true}, nil
	}

	if err := s.store.UpsertReplace(ctx, models.MessageCount{ID: id, Count: 0, Day: string(today)}); err != nil {
		s.log.Warn("reset message count failed", zap.String("server_id", id), zap.Error(err))
		return counterRead{}, err
	}
	metrics.CounterRollovers.WithLabelValues("read").Inc()
	s.log.Debug("counter reset on read",
		zap.String("server_id", id),
		zap.String("stored_day", record.Day),
		zap.String("today", string(today)),
	)

	zero := int64(0)
	s.remember(id, &zero, now)
	return counterRead{count: 0, known: true}, nil
}

// load reads the stored counter. Malformed records are treated as a stale zero counter so
// the next write repairs them.
func (s *MessageCountService) load(ctx context.Context, id string) (models.MessageCount, bool, error) {
	record, found, err := s.store.FindOne(ctx, id)
	if errors.Is(err, apperrors.ErrInvalidRecord) {
		s.log.Warn("malformed message count record", zap.String("server_id", id), zap.Error(err))
		return models.MessageCount{ID: id}, true, nil
	}
	if err != nil {
		s.log.Warn("load message count failed", zap.String("server_id", id), zap.Error(err))
		return models.MessageCount{}, false, err
	}
	if found && record.Count < 0 {
		record.Count = 0
	}
	return record, found, nil
}

func (s *MessageCountService) fresh(id string) (counterEntry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return counterEntry{}, false
	}
	if s.clock.Since(entry.cachedAt) >= s.ttl {
		return counterEntry{}, false
	}
	return entry, true
}

func (s *MessageCountService) remember(id string, count *int64, at time.Time) {
	s.mu.Lock()
	s.entries[id] = counterEntry{count: count, cachedAt: at}
	size := len(s.entries)
	s.mu.Unlock()

	metrics.CachedCounters.Set(float64(size))
}
