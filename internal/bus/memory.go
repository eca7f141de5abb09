package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/engine"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("bus closed")

// MemoryBus — fan-out внутри процесса. У каждого подписчика своя ограниченная очередь.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan domain.Summary
	nextID uint64
	buffer int
	closed bool

	metrics *engine.Metrics
	logger  *zap.Logger
}

func NewMemoryBus(buffer int, m *engine.Metrics, logger *zap.Logger) *MemoryBus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if m == nil {
		m = engine.NewMetrics(nil)
	}
	return &MemoryBus{
		subs:    make(map[uint64]chan domain.Summary),
		buffer:  buffer,
		metrics: m,
		logger:  logger.Named("bus.memory"),
	}
}

func (b *MemoryBus) Publish(_ context.Context, s domain.Summary) error {
	b.deliver(s)
	return nil
}

func (b *MemoryBus) PublishBatch(_ context.Context, batch []domain.Summary) error {
	for _, s := range batch {
		b.deliver(s)
	}
	return nil
}

// deliver — неблокирующая отправка каждому подписчику, переполненные пропускаем
func (b *MemoryBus) deliver(s domain.Summary) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.metrics.BusPublished.Inc()
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			b.metrics.BusDropped.Inc()
		}
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan domain.Summary, error) {
	ch, unsubscribe, err := b.register()
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return ch, nil
}

func (b *MemoryBus) register() (chan domain.Summary, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrClosed
	}

	id := b.nextID
	b.nextID++
	ch := make(chan domain.Summary, b.buffer)
	b.subs[id] = ch
	b.metrics.BusSubscribers.Inc()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			// После Close канал уже закрыт
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
				b.metrics.BusSubscribers.Dec()
			}
		})
	}
	return ch, unsubscribe, nil
}

// Subscribers — число активных подписчиков
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close закрывает все каналы подписчиков, дальнейшие Publish игнорируются.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
		b.metrics.BusSubscribers.Dec()
	}
	return nil
}
