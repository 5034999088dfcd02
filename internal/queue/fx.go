package queue

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/provisioning/internal/clock"
	"github.com/smallbiznis/provisioning/internal/config"
	obsmetrics "github.com/smallbiznis/provisioning/internal/observability/metrics"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module provides the queue and the publisher side. Ingest-only processes
// need nothing more.
var Module = fx.Module("queue",
	fx.Provide(NewQueue),
	fx.Provide(NewPublisherFromConfig),
)

// WorkerModule runs the polling worker inside the fx lifecycle.
var WorkerModule = fx.Module("queue.worker",
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	DB        *gorm.DB `optional:"true"`
	GenID     *snowflake.Node
	Clock     clock.Clock
	Log       *zap.Logger
}

func NewQueue(p Params) (Queue, error) {
	switch p.Config.Queue.Driver {
	case config.QueueDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     p.Config.Redis.Addr,
			Password: p.Config.Redis.Password,
			DB:       p.Config.Redis.DB,
		})
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		p.Log.Info("queue driver selected", zap.String("driver", config.QueueDriverRedis), zap.String("addr", p.Config.Redis.Addr))
		return NewRedis(client, p.GenID, p.Clock, RedisConfig{
			MaxDeliveries:     p.Config.Queue.MaxDeliveries,
			VisibilityTimeout: p.Config.Queue.VisibilityTimeout,
		}), nil
	default:
		if p.DB == nil {
			return nil, fmt.Errorf("queue driver %q requires a database", config.QueueDriverOutbox)
		}
		p.Log.Info("queue driver selected", zap.String("driver", config.QueueDriverOutbox))
		return NewOutbox(p.DB, p.GenID, p.Clock, OutboxConfig{
			MaxDeliveries:     p.Config.Queue.MaxDeliveries,
			VisibilityTimeout: p.Config.Queue.VisibilityTimeout,
		}), nil
	}
}

type publisherParams struct {
	fx.In

	Queue   Queue
	Config  config.Config
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewPublisherFromConfig(p publisherParams) domain.Publisher {
	return NewPublisher(p.Queue, p.Config.Queue.Driver, p.Metrics)
}

func runWorker(lc fx.Lifecycle, cfg config.Config, worker *Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				worker.Run(ctx, cfg.Queue.PollInterval)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
