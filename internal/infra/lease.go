package infra

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker: лидер-лок для периодических задач. Если инстансов несколько,
// проход выполняет только тот, кто взял лок.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) bool
}

// RedisLocker: распределенная блокировка через SetNX. Лок не снимается явно:
// он истекает по TTL, чтобы следующий проход мог взять любой инстанс.
type RedisLocker struct {
	rdb    redis.Cmdable
	owner  string
	logger *zap.Logger
}

func NewRedisLocker(rdb redis.Cmdable, owner string, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{rdb: rdb, owner: owner, logger: logger.Named("lease")}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := l.rdb.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		// Redis недоступен: проход пропускаем
		l.logger.Warn("lease acquire failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		l.logger.Debug("lease held by another instance", zap.String("key", key))
	}
	return ok
}

// NopLocker: одиночный инстанс, лок всегда наш
type NopLocker struct{}

func (NopLocker) TryLock(context.Context, string, time.Duration) bool { return true }
