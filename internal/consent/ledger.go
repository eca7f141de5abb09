// Package consent ведет журнал решений пользователя по рискованным действиям
// и переводит одобрения с истекшим TTL в состояние expired.
package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/engine"
	"github.com/xela07ax/aurora-telemetry/internal/infra"
	"go.uber.org/zap"
)

var ErrInvalidDecision = errors.New("invalid consent decision")

// Store: append-only хранилище согласий.
type Store interface {
	// RecordConsent в одной транзакции пишет решение и его зеркальное событие в events_raw
	RecordConsent(ctx context.Context, d domain.ConsentDecision, mirror domain.Event) error
	// ExpireDue добавляет строки expired (и зеркальные события) для всех
	// одобрений, чей дедлайн прошел, и возвращает добавленные строки.
	ExpireDue(ctx context.Context, now time.Time) ([]domain.ConsentDecision, error)
}

// Publisher: шина live-сводок, может быть nil
type Publisher interface {
	PublishBatch(ctx context.Context, batch []domain.Summary) error
}

type Options struct {
	SweepInterval time.Duration
	Locker        infra.Locker
}

type Ledger struct {
	store   Store
	pub     Publisher
	opts    Options
	metrics *engine.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewLedger(store Store, pub Publisher, opts Options, m *engine.Metrics, logger *zap.Logger) *Ledger {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 60 * time.Second
	}
	if m == nil {
		m = engine.NewMetrics(nil)
	}
	return &Ledger{
		store:   store,
		pub:     pub,
		opts:    opts,
		metrics: m,
		logger:  logger.Named("consent"),
		now:     time.Now,
	}
}

// Record добавляет решение пользователя. expired выставляет только свипер.
func (l *Ledger) Record(ctx context.Context, d domain.ConsentDecision) (domain.ConsentDecision, error) {
	if d.SessionID == "" || d.Action == "" {
		return d, fmt.Errorf("%w: session_id and action are required", ErrInvalidDecision)
	}
	if d.Decision != domain.DecisionApproved && d.Decision != domain.DecisionDenied {
		return d, fmt.Errorf("%w: decision must be approved or denied, got %q", ErrInvalidDecision, d.Decision)
	}
	if d.TTLHours < 0 {
		return d, fmt.Errorf("%w: ttl_hours must not be negative", ErrInvalidDecision)
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = l.now()
	}
	if d.Risk == "" {
		d.Risk = domain.RiskLow
	}

	mirror := d.MirrorEvent()
	if err := l.store.RecordConsent(ctx, d, mirror); err != nil {
		return d, fmt.Errorf("record consent: %w", err)
	}
	l.logger.Info("consent recorded",
		zap.String("session_id", d.SessionID),
		zap.String("action", d.Action),
		zap.String("decision", string(d.Decision)),
		zap.Int("ttl_hours", d.TTLHours),
	)
	l.publish(ctx, []domain.Event{mirror})
	return d, nil
}

// Sweep: один проход свипера. Повторные проходы не истекают одобрение дважды:
// это гарантирует анти-джойн в хранилище.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	expired, err := l.store.ExpireDue(ctx, l.now())
	if err != nil {
		if errors.Is(err, domain.ErrSchemaMissing) {
			l.logger.Warn("consent table missing, sweep skipped")
			return 0, nil
		}
		return 0, fmt.Errorf("expire consents: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	l.metrics.ConsentExpired.Add(float64(len(expired)))
	mirrors := make([]domain.Event, 0, len(expired))
	for _, d := range expired {
		l.logger.Info("consent expired", zap.String("session_id", d.SessionID), zap.String("action", d.Action))
		mirrors = append(mirrors, d.MirrorEvent())
	}
	l.publish(ctx, mirrors)
	return len(expired), nil
}

// Start крутит свипер до отмены ctx
func (l *Ledger) Start(ctx context.Context) {
	engine.RunPeriodic(ctx, engine.Job{
		Name:     "consent_sweep",
		Interval: l.opts.SweepInterval,
		LockKey:  infra.RedisKeyLockConsent,
		Locker:   l.opts.Locker,
		Run: func(ctx context.Context) error {
			_, err := l.Sweep(ctx)
			return err
		},
	}, l.metrics, l.logger)
}

func (l *Ledger) publish(ctx context.Context, events []domain.Event) {
	if l.pub == nil {
		return
	}
	if err := l.pub.PublishBatch(ctx, domain.Summaries(events)); err != nil {
		l.logger.Warn("live publish failed", zap.Error(err))
	}
}
