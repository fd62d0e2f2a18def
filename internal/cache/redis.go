package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/charlesng35/guildstats/pkg/errors"
)

const (
	redisBackend        = "redis"
	defaultRedisTimeout = 5 * time.Second
	redisKeyPrefix      = "guildstats:"
)

// RedisConfig captures the connection parameters of the Redis document store.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
	Sentinel *RedisSentinelConfig
}

// RedisSentinelConfig enables failover through Redis Sentinel when set.
type RedisSentinelConfig struct {
	MasterName string
	Addresses  []string
	Username   string
	Password   string
}

// NewRedisClient builds a go-redis client and pings it so that misconfiguration is
// surfaced during application startup.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	var tlsConfig *tls.Config
	if cfg.TLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	var client redis.UniversalClient
	switch {
	case cfg.Sentinel != nil:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.Sentinel.MasterName,
			SentinelAddrs:    cfg.Sentinel.Addresses,
			SentinelUsername: cfg.Sentinel.Username,
			SentinelPassword: cfg.Sentinel.Password,
			Username:         cfg.Username,
			Password:         cfg.Password,
			DB:               cfg.DB,
			DialTimeout:      cfg.Timeout,
			ReadTimeout:      cfg.Timeout,
			WriteTimeout:     cfg.Timeout,
			TLSConfig:        tlsConfig,
		})
	case cfg.Address != "":
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Address,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
			TLSConfig:    tlsConfig,
		})
	default:
		return nil, errors.New("redis: address or sentinel is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// RedisPinger adapts a go-redis client to the health check probe contract.
type RedisPinger struct {
	Client redis.UniversalClient
}

// Ping reports whether the Redis server answers.
func (p RedisPinger) Ping(ctx context.Context) error {
	if p.Client == nil {
		return errors.New("redis: client not configured")
	}
	return p.Client.Ping(ctx).Err()
}

// RedisStore implements Store by keeping each document as a JSON string under
// `guildstats:<collection>:<id>`.
type RedisStore[D Document] struct {
	client     redis.UniversalClient
	collection string
	now        func() time.Time
}

// NewRedisStore wraps a go-redis client in a Store for the named collection.
func NewRedisStore[D Document](client redis.UniversalClient, collection string) *RedisStore[D] {
	if client == nil {
		return nil
	}
	return &RedisStore[D]{client: client, collection: strings.Trim(collection, ":"), now: time.Now}
}

// FindOne loads and decodes the document with the supplied id.
func (s *RedisStore[D]) FindOne(ctx context.Context, id string) (D, bool, error) {
	var doc D
	if s == nil {
		return doc, false, unavailable(errors.New("cache: redis store not initialised"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		observe(redisBackend, "find", nil)
		return doc, false, nil
	}
	observe(redisBackend, "find", err)
	if err != nil {
		return doc, false, unavailable(err)
	}

	if err := json.Unmarshal(payload, &doc); err != nil {
		return doc, false, apperrors.ErrInvalidRecord.WithInternal(err)
	}
	return doc, true, nil
}

// UpsertReplace overwrites the stored document without expiry. The modification time is
// stamped here, matching what gorm does for the database backend.
func (s *RedisStore[D]) UpsertReplace(ctx context.Context, doc D) error {
	if s == nil {
		return unavailable(errors.New("cache: redis store not initialised"))
	}
	id := doc.DocumentID()
	if strings.TrimSpace(id) == "" {
		return errMissingDocumentID
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := json.Marshal(touch(doc, s.now()))
	if err != nil {
		return apperrors.ErrInvalidRecord.WithInternal(err)
	}

	err = s.client.Set(ctx, s.key(id), payload, 0).Err()
	observe(redisBackend, "upsert", err)
	return unavailable(err)
}

// Delete removes the document. Deleting a missing document is not an error.
func (s *RedisStore[D]) Delete(ctx context.Context, id string) error {
	if s == nil {
		return unavailable(errors.New("cache: redis store not initialised"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	err := s.client.Del(ctx, s.key(id)).Err()
	observe(redisBackend, "delete", err)
	return unavailable(err)
}

func (s *RedisStore[D]) key(id string) string {
	return redisKeyPrefix + s.collection + ":" + id
}
