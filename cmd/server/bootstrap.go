package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/guildstats/internal/api"
	"github.com/charlesng35/guildstats/internal/app"
	"github.com/charlesng35/guildstats/internal/app/maintenance"
	"github.com/charlesng35/guildstats/internal/cache"
	"github.com/charlesng35/guildstats/internal/database"
	"github.com/charlesng35/guildstats/internal/models"
	"github.com/charlesng35/guildstats/internal/monitoring"
	"github.com/charlesng35/guildstats/internal/monitoring/checks"
	"github.com/charlesng35/guildstats/internal/services"
	"github.com/charlesng35/guildstats/pkg/logger"
)

// Redis collections, one per document family.
const (
	messageCountCollection = "message_counts"
	policyCollection       = "data_collection_policies"
	userInfoCollection     = "user_infos"
)

// stores groups the document stores of the selected backend.
type stores struct {
	Counters cache.Store[models.MessageCount]
	Policies cache.Store[models.DataCollectionPolicy]
	UserInfo cache.Store[models.UserInfo]
}

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      redis.UniversalClient
	Counters   *services.MessageCountService
	Policies   *services.DataCollectionService
	UserInfo   *services.UserInfoService
	Pruner     *maintenance.Pruner
	Monitoring *monitoring.Module
	Router     *gin.Engine
}

// bootstrapRuntime opens the selected store backend, wires the services and builds the
// HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background())
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Store.Backend == app.StoreBackendDatabase {
		stack.DB, err = initialiseDatabase(cfg)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Cache.Redis.Enabled {
		stack.Redis, err = cache.NewRedisClient(ctx, cfg.Cache.RedisClientConfig())
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
	}

	docs, err := selectStores(cfg, stack.DB, stack.Redis)
	if err != nil {
		return nil, err
	}

	stack.Counters, err = services.NewMessageCountService(docs.Counters,
		services.WithCounterCacheTTL(cfg.Counters.CacheTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise message count service: %w", err)
	}

	stack.Policies, err = services.NewDataCollectionService(docs.Policies)
	if err != nil {
		return nil, fmt.Errorf("initialise data collection service: %w", err)
	}

	stack.UserInfo, err = services.NewUserInfoService(docs.UserInfo)
	if err != nil {
		return nil, fmt.Errorf("initialise user info service: %w", err)
	}

	stack.Pruner = maintenance.NewPruner(stack.Counters, maintenance.WithSchedule(cfg.Counters.PruneSchedule))
	if err := stack.Pruner.Start(); err != nil {
		return nil, fmt.Errorf("start counter pruner: %w", err)
	}

	stack.Monitoring = monitoring.NewModule(monitoring.Options{HealthTimeout: cfg.Monitoring.Health.Timeout})
	registerHealthChecks(stack.Monitoring.Health(), cfg, stack, docs)

	stack.Router, err = api.NewRouter(cfg, stack.Monitoring, api.ServiceInfo{
		Name:        "guildstats",
		Version:     version,
		Description: "Per-server message counters and data collection policies",
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func selectStores(cfg *app.Config, db *gorm.DB, client redis.UniversalClient) (stores, error) {
	switch cfg.Store.Backend {
	case app.StoreBackendDatabase:
		if db == nil {
			return stores{}, fmt.Errorf("store backend %q requires a database", cfg.Store.Backend)
		}
		return stores{
			Counters: cache.NewDatabaseStore[models.MessageCount](db),
			Policies: cache.NewDatabaseStore[models.DataCollectionPolicy](db),
			UserInfo: cache.NewDatabaseStore[models.UserInfo](db),
		}, nil
	case app.StoreBackendRedis:
		if client == nil {
			return stores{}, fmt.Errorf("store backend %q requires a redis client", cfg.Store.Backend)
		}
		return stores{
			Counters: cache.NewRedisStore[models.MessageCount](client, messageCountCollection),
			Policies: cache.NewRedisStore[models.DataCollectionPolicy](client, policyCollection),
			UserInfo: cache.NewRedisStore[models.UserInfo](client, userInfoCollection),
		}, nil
	default:
		return stores{}, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

func registerHealthChecks(health *monitoring.HealthManager, cfg *app.Config, stack *runtimeStack, docs stores) {
	timeout := cfg.Monitoring.Health.Timeout

	health.RegisterLiveness(checks.Counters(stack.Counters, cfg.Counters.MaxCachedEntries))

	if stack.DB != nil {
		health.RegisterReadiness(checks.Database(stack.DB, timeout))
	}
	var pinger checks.RedisPinger
	if stack.Redis != nil {
		pinger = cache.RedisPinger{Client: stack.Redis}
	}
	health.RegisterReadiness(checks.Redis(pinger, cfg.Cache.Redis.Enabled, timeout))
	health.RegisterReadiness(checks.Store[models.MessageCount](messageCountCollection, docs.Counters, timeout))
}

// Shutdown stops background jobs and releases connections, collecting every failure.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error

	if s.Pruner != nil {
		select {
		case <-s.Pruner.Stop().Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("stop pruner: %w", ctx.Err()))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	if s.DB != nil {
		if err := closeDatabase(s.DB); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = closeDatabase(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func closeDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
