// Package bus рассылает live-сводки событий подписчикам (SSE).
// Доставка best-effort: медленный подписчик теряет сообщения, но никогда
// не тормозит издателя и остальных подписчиков.
package bus

import (
	"context"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
)

// Bus — шина событий: in-process или через Redis Pub/Sub.
type Bus interface {
	// Publish не блокируется на подписчиках
	Publish(ctx context.Context, s domain.Summary) error
	PublishBatch(ctx context.Context, batch []domain.Summary) error
	// Subscribe возвращает канал, который закрывается после отмены ctx
	Subscribe(ctx context.Context) (<-chan domain.Summary, error)
	Close() error
}

// DefaultBuffer — емкость очереди одного подписчика
const DefaultBuffer = 1000
