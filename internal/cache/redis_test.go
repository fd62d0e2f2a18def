package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/charlesng35/guildstats/internal/models"
	apperrors "github.com/charlesng35/guildstats/pkg/errors"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	srv := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), RedisConfig{Address: srv.Addr(), Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return srv, client
}

func TestNewRedisClientRequiresAddress(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisConfig{})
	require.ErrorContains(t, err, "address or sentinel is required")
}

func TestNewRedisClientPingFailure(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := NewRedisClient(context.Background(), RedisConfig{Address: addr, Timeout: 200 * time.Millisecond})
	require.Error(t, err)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	srv, client := newTestRedis(t)
	store := NewRedisStore[models.DataCollectionPolicy](client, "policies")
	ctx := context.Background()

	_, found, err := store.FindOne(ctx, "guild-1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.UpsertReplace(ctx, models.DataCollectionPolicy{
		ID:      "guild-1",
		Allowed: datatypes.JSONSlice[string]{"u1"},
	}))
	require.True(t, srv.Exists("guildstats:policies:guild-1"))
	require.Zero(t, srv.TTL("guildstats:policies:guild-1"))

	doc, found, err := store.FindOne(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"u1"}, []string(doc.Allowed))
	require.WithinDuration(t, time.Now(), doc.UpdatedAt, 5*time.Second)

	require.NoError(t, store.Delete(ctx, "guild-1"))
	require.NoError(t, store.Delete(ctx, "guild-1"))
	require.False(t, srv.Exists("guildstats:policies:guild-1"))
}

func TestRedisStore_UpsertReplaceOverwrites(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore[models.MessageCount](client, "counters")
	ctx := context.Background()

	require.NoError(t, store.UpsertReplace(ctx, models.MessageCount{ID: "guild-1", Count: 9, Day: "2026-10-15"}))
	require.NoError(t, store.UpsertReplace(ctx, models.MessageCount{ID: "guild-1", Count: 1, Day: "2026-10-16"}))

	doc, found, err := store.FindOne(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1, doc.Count)
	require.Equal(t, "2026-10-16", doc.Day)
}

func TestRedisStore_MalformedRecord(t *testing.T) {
	srv, client := newTestRedis(t)
	store := NewRedisStore[models.MessageCount](client, "counters")

	require.NoError(t, srv.Set("guildstats:counters:guild-1", `{"count":"many"}`))

	_, found, err := store.FindOne(context.Background(), "guild-1")
	require.False(t, found)
	require.ErrorIs(t, err, apperrors.ErrInvalidRecord)
}

func TestRedisStore_Unavailable(t *testing.T) {
	srv, client := newTestRedis(t)
	store := NewRedisStore[models.MessageCount](client, "counters")
	srv.Close()

	_, _, err := store.FindOne(context.Background(), "guild-1")
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	err = store.UpsertReplace(context.Background(), models.MessageCount{ID: "guild-1", Count: 1})
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestRedisPinger(t *testing.T) {
	_, client := newTestRedis(t)

	require.NoError(t, RedisPinger{Client: client}.Ping(context.Background()))
	require.Error(t, RedisPinger{}.Ping(context.Background()))
}

func TestRedisStore_UpsertReplaceStampsUpdatedAt(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore[models.MessageCount](client, "message_counts")
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return at }
	ctx := context.Background()

	doc := models.MessageCount{ID: "guild-1", Count: 4, Day: "2026-10-16"}
	require.NoError(t, store.UpsertReplace(ctx, doc))
	require.True(t, doc.UpdatedAt.IsZero())

	stored, found, err := store.FindOne(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, at.Equal(stored.UpdatedAt))
	require.EqualValues(t, 4, stored.Count)
}
