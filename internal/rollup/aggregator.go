package rollup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/engine"
	"github.com/xela07ax/aurora-telemetry/internal/infra"
	"go.uber.org/zap"
)

// Store: источник сырых событий и приемник роллапов
type Store interface {
	// EventsSince отдает события с ts >= since (достаточно ts, outcome, latency_ms)
	EventsSince(ctx context.Context, since time.Time) ([]domain.Event, error)
	// UpsertRollups перезаписывает корзины по ключу (window, bucket_start)
	UpsertRollups(ctx context.Context, w domain.Window, buckets []domain.RollupBucket) error
}

type Options struct {
	Interval time.Duration
	Windows  []domain.Window
	Lookback int
	Locker   infra.Locker
}

// Aggregator периодически пересчитывает роллапы из events_raw.
type Aggregator struct {
	store   Store
	opts    Options
	metrics *engine.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewAggregator(store Store, opts Options, m *engine.Metrics, logger *zap.Logger) *Aggregator {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if len(opts.Windows) == 0 {
		opts.Windows = domain.Windows
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 10
	}
	if m == nil {
		m = engine.NewMetrics(nil)
	}
	return &Aggregator{
		store:   store,
		opts:    opts,
		metrics: m,
		logger:  logger.Named("rollup"),
		now:     time.Now,
	}
}

// Start крутит пересчет до отмены ctx. Ошибка одного прохода не останавливает цикл.
func (a *Aggregator) Start(ctx context.Context) {
	engine.RunPeriodic(ctx, engine.Job{
		Name:     "rollup",
		Interval: a.opts.Interval,
		LockKey:  infra.RedisKeyLockRollup,
		Locker:   a.opts.Locker,
		Run:      a.RunOnce,
	}, a.metrics, a.logger)
}

// RunOnce пересчитывает последние Lookback корзин каждого окна.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	now := a.now()
	start := time.Now()
	defer func() { a.metrics.RollupDuration.Observe(time.Since(start).Seconds()) }()

	var errs []error
	for _, w := range a.opts.Windows {
		if err := a.recompute(ctx, w, Since(now, w, a.opts.Lookback)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recompute: разовый точный пересчет за произвольный горизонт (auditctl rollup).
// horizon <= 0 — вся история.
func (a *Aggregator) Recompute(ctx context.Context, horizon time.Duration) error {
	now := a.now()
	var errs []error
	for _, w := range a.opts.Windows {
		since := time.Unix(0, 0).UTC()
		if horizon > 0 {
			since = time.Unix(w.BucketStart(now.Add(-horizon)), 0).UTC()
		}
		if err := a.recompute(ctx, w, since); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Aggregator) recompute(ctx context.Context, w domain.Window, since time.Time) error {
	label := strconv.FormatInt(int64(w), 10)

	events, err := a.store.EventsSince(ctx, since)
	if err != nil {
		a.metrics.RollupRuns.WithLabelValues(label, "error").Inc()
		if errors.Is(err, domain.ErrSchemaMissing) {
			a.logger.Warn("events table missing, rollup skipped", zap.Int64("window", int64(w)))
			return nil
		}
		return fmt.Errorf("load events for %s: %w", w.Table(), err)
	}

	buckets := ComputeBuckets(events, w)
	if err := a.store.UpsertRollups(ctx, w, buckets); err != nil {
		a.metrics.RollupRuns.WithLabelValues(label, "error").Inc()
		if errors.Is(err, domain.ErrSchemaMissing) {
			a.logger.Warn("rollup table missing, rollup skipped", zap.String("table", w.Table()))
			return nil
		}
		return fmt.Errorf("upsert %s: %w", w.Table(), err)
	}

	a.metrics.RollupRuns.WithLabelValues(label, "ok").Inc()
	a.logger.Debug("rollup recomputed",
		zap.String("table", w.Table()),
		zap.Int("events", len(events)),
		zap.Int("buckets", len(buckets)),
	)
	return nil
}
