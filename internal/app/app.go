// Package app wires the components shared by the API server and the MCP
// server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"remindly/internal/cache"
	"remindly/internal/config"
	"remindly/internal/db"
	"remindly/internal/delayqueue"
	"remindly/internal/entitlement"
	"remindly/internal/jobs"
	"remindly/internal/reminder"
	"remindly/internal/snooze"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Core struct {
	Config config.Config
	Logger *zap.Logger

	DB      *gorm.DB
	Replica *sql.DB
	Cache   *cache.RedisCache

	Store        *reminder.Store
	Reminders    *reminder.Service
	Adapter      *delayqueue.Adapter
	Queue        *jobs.Queue // nil unless the local driver is used
	Plans        *entitlement.PlanChecker
	Entitlements entitlement.Checker
	Estimator    *snooze.Estimator

	// EntitlementCache is nil without Redis.
	EntitlementCache *entitlement.Cached
}

func NewCore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Core, error) {
	c := &Core{Config: cfg, Logger: logger}

	gdb, err := db.Connect(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	c.DB = gdb
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrateAndIndexes(gdb); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	c.Replica, err = db.OpenReplica(cfg.Database.ReplicaURL)
	if err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}

	c.Plans = entitlement.NewPlanChecker(gdb)
	c.Entitlements = c.Plans
	if cfg.Redis.Addr != "" {
		c.Cache = cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.Cache.Ping(pctx)
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, entitlement cache will fall through", zap.Error(err))
		}
		c.EntitlementCache = entitlement.NewCached(c.Plans, c.Cache, cfg.Redis.EntitlementTTL, logger.Named("entitlement"))
		c.Entitlements = c.EntitlementCache
	}

	var svc delayqueue.Service
	switch cfg.DelayQueue.Driver {
	case config.DriverQStash:
		svc = delayqueue.NewQStash(delayqueue.QStashOptions{
			BaseURL: cfg.DelayQueue.QStashURL,
			Token:   cfg.DelayQueue.QStashToken,
			Retries: cfg.DelayQueue.Retries,
		})
	case config.DriverLocal:
		c.Queue = jobs.NewQueue(gdb)
		c.Queue.MaxAttempts = cfg.Jobs.MaxAttempts
		svc = c.Queue
	default:
		return nil, fmt.Errorf("unknown delay queue driver %q", cfg.DelayQueue.Driver)
	}
	c.Adapter = delayqueue.NewAdapter(svc, delayqueue.AdapterOptions{
		Enabled:     cfg.DelayQueue.Enabled,
		CallbackURL: cfg.DelayQueue.CallbackURL,
		Timeout:     cfg.DelayQueue.Timeout,
	}, logger.Named("delayqueue"))
	if !c.Adapter.Enabled() {
		logger.Warn("delay queue disabled, reminders will not be scheduled")
	}

	c.Store = reminder.NewStore(gdb)
	c.Reminders = reminder.NewService(c.Store, c.Adapter, logger.Named("reminder"))

	scfg := snooze.DefaultConfig()
	scfg.DefaultMinutes = cfg.Snooze.DefaultMinutes
	scfg.MinSamples = cfg.Snooze.MinSamples
	scfg.Window = time.Duration(cfg.Snooze.WindowDays) * 24 * time.Hour
	scfg.HistoryLimit = cfg.Snooze.HistoryLimit
	c.Estimator = snooze.NewEstimator(
		snooze.NewSQLHistory(c.Replica, sq.Dollar),
		c.Entitlements,
		scfg,
		logger.Named("snooze"),
	)

	return c, nil
}

func (c *Core) Close() error {
	var errs []error
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.Replica != nil {
		errs = append(errs, c.Replica.Close())
	}
	if c.DB != nil {
		if sdb, err := c.DB.DB(); err == nil {
			errs = append(errs, sdb.Close())
		}
	}
	return errors.Join(errs...)
}
