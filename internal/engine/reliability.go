package engine

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings — параметры предохранителя записи в хранилище
type BreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration // время, через которое CB попробует "закрыться"
	MaxFailures uint32
}

// NewBreaker настраивает предохранитель и зеркалит его состояние в метрику.
func NewBreaker(s BreakerSettings, m *Metrics, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	gauge := m.CircuitBreakerState.WithLabelValues(s.Name)
	gauge.Set(0)

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Несколько ошибок подряд — открываемся и перестаем долбить хранилище
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			switch to {
			case gobreaker.StateClosed:
				gauge.Set(0)
			case gobreaker.StateHalfOpen:
				gauge.Set(1)
			case gobreaker.StateOpen:
				gauge.Set(2)
			}
		},
	})
}

// ConnectWithRetry — стартовое подключение к внешним зависимостям (Postgres, Redis)
// с экспоненциальным бэкоффом.
func ConnectWithRetry(ctx context.Context, logger *zap.Logger, what string, attempts uint, connect func(ctx context.Context) error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			logger.Warn("connect attempt failed", zap.String("target", what), zap.Uint("attempt", n+1), zap.Error(err))
			return retry.BackOffDelay(n, err, config)
		}),
	)

	return r.Do(func() error {
		tCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return connect(tCtx)
	})
}
