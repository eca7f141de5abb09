package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/engine"
	"go.uber.org/zap"
)

// RedisBus — fan-out между инстансами через Redis Pub/Sub: все воркеры видят
// один логический поток. Каждый подписчик держит свою подписку на канал
// и переподключается сам, не затрагивая остальных.
type RedisBus struct {
	rdb     *redis.Client
	opts    RedisOptions
	metrics *engine.Metrics
	logger  *zap.Logger

	// ctx живет до Close и гасит все подписки разом
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type RedisOptions struct {
	Channel          string
	SubscriberBuffer int
	ReconnectBackoff time.Duration
}

func NewRedisBus(rdb *redis.Client, opts RedisOptions, m *engine.Metrics, logger *zap.Logger) *RedisBus {
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = 5 * time.Second
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultBuffer
	}
	if m == nil {
		m = engine.NewMetrics(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		rdb:     rdb,
		opts:    opts,
		metrics: m,
		logger:  logger.Named("bus.redis").With(zap.String("chan", opts.Channel)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *RedisBus) Publish(ctx context.Context, s domain.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.opts.Channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	b.metrics.BusPublished.Inc()
	return nil
}

// PublishBatch отправляет пачку одним пайплайном
func (b *RedisBus) PublishBatch(ctx context.Context, batch []domain.Summary) error {
	if len(batch) == 0 {
		return nil
	}
	pipe := b.rdb.Pipeline()
	for _, s := range batch {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		pipe.Publish(ctx, b.opts.Channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish batch: %w", err)
	}
	b.metrics.BusPublished.Add(float64(len(batch)))
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan domain.Summary, error) {
	if b.ctx.Err() != nil {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan domain.Summary, b.opts.SubscriberBuffer)
	b.metrics.BusSubscribers.Inc()

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		select {
		case <-b.ctx.Done():
			cancel()
		case <-subCtx.Done():
		}
	}()
	go func() {
		defer b.wg.Done()
		defer b.metrics.BusSubscribers.Dec()
		defer close(out)
		defer cancel()

		engine.ListenResilient(subCtx, b.rdb, b.logger, b.opts.Channel, b.opts.ReconnectBackoff, func(payload string) {
			var s domain.Summary
			if err := json.Unmarshal([]byte(payload), &s); err != nil {
				b.logger.Warn("malformed bus message", zap.Error(err))
				return
			}
			select {
			case out <- s:
			default:
				b.metrics.BusDropped.Inc()
			}
		})
	}()
	return out, nil
}

// Close отменяет все подписки и ждет выхода их циклов.
func (b *RedisBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}
