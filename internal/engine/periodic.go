package engine

import (
	"context"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/infra"
	"go.uber.org/zap"
)

// Job — периодическая задача с лидер-локом (роллапы, свипер согласий).
type Job struct {
	Name     string
	Interval time.Duration
	LockKey  string
	Locker   infra.Locker
	Run      func(ctx context.Context) error
}

// RunPeriodic выполняет проход сразу и затем каждые Interval, пока жив ctx.
// Ошибка прохода логируется и не останавливает цикл.
func RunPeriodic(ctx context.Context, job Job, m *Metrics, logger *zap.Logger) {
	logger = logger.With(zap.String("job", job.Name))
	locker := job.Locker
	if locker == nil {
		locker = infra.NopLocker{}
	}

	tick := func() {
		if job.LockKey != "" {
			// Лок живет чуть меньше интервала: следующий тик может взять любой инстанс
			ttl := job.Interval - job.Interval/10
			if ttl <= 0 {
				ttl = job.Interval
			}
			if !locker.TryLock(ctx, job.LockKey, ttl) {
				m.JobSkipped.WithLabelValues(job.Name).Inc()
				return
			}
		}
		if err := job.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("periodic pass failed", zap.Error(err))
		}
	}

	tick()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
