package collector

/*
Коллектор телеметрии: горячий путь исполнителя плана вызывает Enqueue после
каждого инструмента, и это никогда не должно тормозить или ронять запрос.

- Non-blocking: ограниченный канал, при переполнении событие отбрасывается
  (Load Shedding), предупреждение троттлится, счетчик растет.
- Batching: один воркер копит пачку и пишет её одним multi-row INSERT
  по таймеру или при достижении размера пачки.
- Drain Pattern: Stop закрывает вход и ждет, пока воркер дочитает очередь
  и сделает финальный flush.
- Fail-fast: запись обернута в Circuit Breaker. Неудачная пачка логируется
  и выбрасывается без ретраев.
- Live: после успешной записи сводки пачки уходят в шину подписчикам.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/engine"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EventWriter определяет, куда физически сохраняются события
type EventWriter interface {
	// InsertEvents сохраняет пачку событий за один раз, в порядке поступления
	InsertEvents(ctx context.Context, events []domain.Event) error
}

// Publisher — шина live-сводок. Вызывается только после успешной записи.
type Publisher interface {
	PublishBatch(ctx context.Context, batch []domain.Summary) error
}

type Options struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Breaker       engine.BreakerSettings
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 5000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Breaker.Name == "" {
		o.Breaker.Name = "events-store"
	}
}

type Collector struct {
	ch      chan domain.Event
	writer  EventWriter
	pub     Publisher
	cb      *gobreaker.CircuitBreaker
	opts    Options
	metrics *engine.Metrics
	logger  *zap.Logger

	// Троттлинг предупреждений о переполнении: не чаще раза в секунду
	warn *rate.Limiter
	now  func() time.Time

	// mu защищает закрытие канала от гонки с Enqueue
	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// New собирает коллектор. pub может быть nil — тогда live-рассылки нет.
func New(writer EventWriter, pub Publisher, opts Options, m *engine.Metrics, logger *zap.Logger) *Collector {
	opts.applyDefaults()
	if m == nil {
		m = engine.NewMetrics(nil)
	}
	logger = logger.With(zap.String("mod", "collector"))

	return &Collector{
		ch:      make(chan domain.Event, opts.QueueSize),
		writer:  writer,
		pub:     pub,
		cb:      engine.NewBreaker(opts.Breaker, m, logger),
		opts:    opts,
		metrics: m,
		logger:  logger,
		warn:    rate.NewLimiter(rate.Every(time.Second), 1),
		now:     time.Now,
	}
}

func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	c.wg.Add(1)
	go c.worker()
}

// Enqueue кладет событие в очередь. Никогда не блокируется; ошибка носит
// информационный характер и не должна влиять на основной путь вызывающего.
func (c *Collector) Enqueue(e domain.Event) error {
	e = e.WithDefaults(c.now())

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		c.metrics.EventsDropped.WithLabelValues("closed").Inc()
		return ErrClosed
	}

	// Стратегия Load Shedding (сброс нагрузки)
	select {
	case c.ch <- e:
		c.metrics.EventsEnqueued.Inc()
		c.metrics.QueueDepth.Set(float64(len(c.ch)))
		return nil
	default:
		c.metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		if c.warn.Allow() {
			c.logger.Warn("event queue full, dropping events",
				zap.Int("capacity", c.opts.QueueSize),
				zap.String("type", string(e.Type)),
				zap.String("tool", e.Tool),
			)
		}
		return domain.ErrCapacityExceeded
	}
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (c *Collector) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	close(c.ch)
	c.mu.Unlock()

	if !started {
		// Воркер не запускали — дописываем остатки сами
		c.wg.Add(1)
		go c.worker()
	}

	c.logger.Info("stopping collector: closing queue and flushing buffer...")
	c.wg.Wait()
	c.logger.Info("collector stopped gracefully")
}

func (c *Collector) worker() {
	defer c.wg.Done()

	batch := make([]domain.Event, 0, c.opts.BatchSize)
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.writeBatch(batch)
		// writeBatch не удерживает срез: можно переиспользовать
		batch = batch[:0]
		c.metrics.QueueDepth.Set(float64(len(c.ch)))
	}

	for {
		select {
		case e, ok := <-c.ch:
			if !ok {
				// Канал закрыт в Stop(): всё, что было в очереди, уже вычитано
				flush()
				c.logger.Info("collector worker finished")
				return
			}
			batch = append(batch, e)
			if len(batch) >= c.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// writeBatch — одна попытка записи. Ошибка логируется, пачка выбрасывается.
func (c *Collector) writeBatch(batch []domain.Event) {
	// Используем Background, так как основной контекст может быть уже закрыт
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()

	start := time.Now()
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.writer.InsertEvents(ctx, batch)
	})
	c.metrics.BatchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		reason := "store"
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			reason = "breaker_open"
			err = domain.ErrStorageUnavailable
		}
		c.metrics.BatchFailures.WithLabelValues(reason).Inc()
		c.metrics.EventsDropped.WithLabelValues(reason).Add(float64(len(batch)))
		c.logger.Error("event batch discarded", zap.Int("size", len(batch)), zap.Error(err))
		return
	}
	c.metrics.EventsWritten.Add(float64(len(batch)))

	if c.pub == nil {
		return
	}
	// Live-рассылка best-effort: её сбой не влияет на уже записанные данные
	if err := c.pub.PublishBatch(ctx, domain.Summaries(batch)); err != nil {
		c.logger.Warn("live publish failed", zap.Int("size", len(batch)), zap.Error(err))
	}
}
