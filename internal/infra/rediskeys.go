package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "aurora"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanEvents: канал live-сводок событий для SSE подписчиков всех инстансов
	RedisChanEvents = RedisNamespace + ":events"
)

// Лидер-локи фоновых задач: пересчёт роллапов, свипер согласий, уплотнение аудита
const (
	RedisKeyLockRollup  = RedisNamespace + ":lock:rollup"
	RedisKeyLockConsent = RedisNamespace + ":lock:consent_sweep"
	RedisKeyLockCompact = RedisNamespace + ":lock:audit_compact"
)
