package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenResilient — универсальный цикл для "живучей" подписки на канал Redis.
// Сообщения читаются через ReceiveMessage: обрыв соединения возвращается
// ошибкой, после чего ждем backoff и подписываемся заново, пока жив ctx.
// Встроенный переподключатель go-redis (pubsub.Channel) здесь не используется.
func ListenResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	backoff time.Duration,
	onMessage func(payload string),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)
		// Чтение из сокета не смотрит на отмену ctx, закрытие его прерывает
		stop := context.AfterFunc(ctx, func() { pubsub.Close() })

		err := receive(ctx, pubsub, logger, channel, onMessage)
		stop()
		pubsub.Close()
		if ctx.Err() != nil {
			return
		}

		logger.Warn("subscription lost, reconnecting",
			zap.String("chan", channel),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if !sleepCtx(ctx, backoff) {
			return
		}
	}
}

// receive подтверждает подписку и читает сообщения до первой ошибки
func receive(ctx context.Context, pubsub *redis.PubSub, logger *zap.Logger, channel string, onMessage func(string)) error {
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	logger.Debug("subscribed", zap.String("chan", channel))

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		onMessage(msg.Payload)
	}
}

// sleepCtx возвращает false, если ctx отменили во время ожидания
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
