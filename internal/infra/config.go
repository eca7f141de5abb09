package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации телеметрического контура.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Bus       BusConfig       `mapstructure:"bus"`
	Collector CollectorConfig `mapstructure:"collector"`
	Rollup    RollupConfig    `mapstructure:"rollup"`
	Consent   ConsentConfig   `mapstructure:"consent"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера (dashboard API + SSE).
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 0 — без таймаута, иначе SSE отвалится
	TrustProxy   bool          `mapstructure:"trust_proxy"`   // X-Forwarded-For доверяем только за своим прокси
}

// MaxPostgresBatch: строк в одном INSERT events_raw. 13 параметров на строку,
// у Postgres не больше 65535 параметров на запрос.
const MaxPostgresBatch = 5000

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // пусто — эндпоинт /metrics не поднимаем
}

type GRPCConfig struct {
	Addr  string `mapstructure:"addr"` // пусто — ingest по gRPC выключен
	Token string `mapstructure:"token"`
}

// DatabaseConfig описывает хранилище событий.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"` // memory | postgres
	URL         string `mapstructure:"url"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub шина и лидер-локи).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // пусто — Redis не используется
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// BusConfig: шина live-событий для SSE подписчиков.
type BusConfig struct {
	Driver           string        `mapstructure:"driver"` // memory | redis
	Channel          string        `mapstructure:"channel"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

// CollectorConfig: параметры неблокирующего коллектора событий.
type CollectorConfig struct {
	QueueSize     int           `mapstructure:"queue_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	// Предохранитель на запись в хранилище
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

type RollupConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Windows  []int64       `mapstructure:"windows"` // секунды: 60, 300, 3600
	Lookback int           `mapstructure:"lookback"` // сколько окон пересчитываем за проход
}

type ConsentConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// AuditConfig: хеш-цепочка аудита и её еженедельное уплотнение.
type AuditConfig struct {
	LogPath         string        `mapstructure:"log_path"`
	ArchiveDir      string        `mapstructure:"archive_dir"`
	Retention       time.Duration `mapstructure:"retention"`
	CompactSchedule string        `mapstructure:"compact_schedule"` // cron, пусто — без расписания
	FileLock        bool          `mapstructure:"file_lock"`
}

// AuthConfig содержит путь к публичному RSA ключу для проверки JWT консоли.
type AuthConfig struct {
	PublicKeyPath string        `mapstructure:"public_key_path"`
	Issuer        string        `mapstructure:"issuer"`
	Leeway        time.Duration `mapstructure:"leeway"`
	PublicKey     []byte
}

func (a AuthConfig) Enabled() bool {
	return len(a.PublicKey) > 0
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// path: явный путь к файлу (флаг --config), пустой — ищем config.yaml по умолчанию.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// 2. ENV перекрывает файл: ROLLUP_INTERVAL=30s перекроет rollup.interval
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключ из ENV (Docker/K8s) или из файла
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate отсекает заведомо неработоспособные комбинации ещё до старта.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	switch c.Bus.Driver {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return errors.New("redis.addr is required for redis bus")
		}
	default:
		return fmt.Errorf("unknown bus.driver %q", c.Bus.Driver)
	}

	if c.Collector.QueueSize <= 0 || c.Collector.BatchSize <= 0 {
		return errors.New("collector.queue_size and collector.batch_size must be positive")
	}
	if c.Database.Driver == "postgres" && c.Collector.BatchSize > MaxPostgresBatch {
		return fmt.Errorf("collector.batch_size %d exceeds %d rows per insert for postgres", c.Collector.BatchSize, MaxPostgresBatch)
	}
	if c.Audit.LogPath == "" {
		return errors.New("audit.log_path is required")
	}
	return nil
}

// Ключи без значения тоже регистрируем: иначе AutomaticEnv их не увидит при Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("grpc.addr", "")
	v.SetDefault("grpc.token", "")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("bus.driver", "memory")
	v.SetDefault("bus.channel", RedisChanEvents)
	v.SetDefault("bus.subscriber_buffer", 1000)
	v.SetDefault("bus.reconnect_backoff", 5*time.Second)

	v.SetDefault("collector.queue_size", 5000)
	v.SetDefault("collector.batch_size", 200)
	v.SetDefault("collector.flush_interval", 500*time.Millisecond)
	v.SetDefault("collector.cb_max_requests", 1)
	v.SetDefault("collector.cb_interval", 30*time.Second)
	v.SetDefault("collector.cb_timeout", 10*time.Second)

	v.SetDefault("rollup.interval", 60*time.Second)
	v.SetDefault("rollup.windows", []int64{60, 300, 3600})
	v.SetDefault("rollup.lookback", 10)

	v.SetDefault("consent.sweep_interval", 60*time.Second)

	v.SetDefault("audit.log_path", "./logs/audit.log")
	v.SetDefault("audit.archive_dir", "./logs/archive")
	v.SetDefault("audit.retention", 7*24*time.Hour)
	v.SetDefault("audit.compact_schedule", "0 3 * * 0")
	v.SetDefault("audit.file_lock", true)

	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.leeway", 30*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource: ключ либо прямо в ENV (PEM), либо файлом по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
