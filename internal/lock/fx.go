package lock

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/adl/internal/clock"
	"github.com/smallbiznis/adl/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sweeper clears orphaned locks.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

var Module = fx.Module("lock",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Invoke(sweepOnStart),
)

// NewRedisClient returns nil when no redis address is configured; locks
// then fall back to the in-process locker.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

type LockerResult struct {
	fx.Out

	Locker  Locker
	Sweeper Sweeper
}

func NewLocker(client *redis.Client, clk clock.Clock, log *zap.Logger) LockerResult {
	if client == nil {
		log.Named("lock").Warn("redis not configured, using in-process locks")
		memory := NewMemoryLocker(clk)
		return LockerResult{Locker: memory, Sweeper: memory}
	}
	locker := NewRedisLocker(client)
	return LockerResult{Locker: locker, Sweeper: locker}
}

func sweepOnStart(lc fx.Lifecycle, cfg config.Config, sweeper Sweeper, log *zap.Logger) {
	if !cfg.Lock.SweepOnStart {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			removed, err := sweeper.Sweep(ctx)
			if err != nil {
				log.Warn("lock sweep failed", zap.Error(err))
				return nil
			}
			log.Info("orphaned locks removed", zap.Int("count", removed))
			return nil
		},
	})
}
