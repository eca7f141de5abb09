// Package app собирает телеметрический контур из конфига: хранилище, шину,
// коллектор, роллапы, свипер согласий, журнал аудита и внешние интерфейсы.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/xela07ax/aurora-telemetry/internal/audit"
	"github.com/xela07ax/aurora-telemetry/internal/bus"
	"github.com/xela07ax/aurora-telemetry/internal/collector"
	"github.com/xela07ax/aurora-telemetry/internal/consent"
	"github.com/xela07ax/aurora-telemetry/internal/console/handler"
	"github.com/xela07ax/aurora-telemetry/internal/console/server"
	"github.com/xela07ax/aurora-telemetry/internal/console/service"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/engine"
	"github.com/xela07ax/aurora-telemetry/internal/infra"
	"github.com/xela07ax/aurora-telemetry/internal/infra/auth"
	"github.com/xela07ax/aurora-telemetry/internal/ingest"
	"github.com/xela07ax/aurora-telemetry/internal/rollup"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// compactLease: лок уплотнения держится дольше самого прохода
const compactLease = time.Hour

// Core: собранный контур одного процесса.
type Core struct {
	cfg      *infra.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	Metrics  *engine.Metrics

	Store      Store
	Redis      *redis.Client // nil без Redis
	Bus        bus.Bus
	Locker     infra.Locker
	Collector  *collector.Collector
	Aggregator *rollup.Aggregator
	Ledger     *consent.Ledger
	Audit      *audit.Log

	validator auth.TokenValidator
	handler   http.Handler
	cron      *cron.Cron

	httpSrv    *http.Server
	metricsSrv *http.Server
	grpcSrv    *grpc.Server
	grpcLis    net.Addr

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errCh  chan error
}

// New создает все компоненты, но ничего не запускает.
func New(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (*Core, error) {
	c := &Core{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		errCh:    make(chan error, 3),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = engine.NewMetrics(c.registry)

	windows := make([]domain.Window, 0, len(cfg.Rollup.Windows))
	for _, sec := range cfg.Rollup.Windows {
		w, err := domain.ParseWindow(sec)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}

	if cfg.Auth.Enabled() {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("auth public key: %w", err)
		}
		c.validator = auth.NewRSAValidator(pub, auth.ValidatorOptions{
			Issuer: cfg.Auth.Issuer,
			Leeway: cfg.Auth.Leeway,
		})
	}

	var err error
	if c.Store, err = OpenStore(ctx, cfg.Database, logger); err != nil {
		return nil, err
	}
	if c.Redis, err = OpenRedis(ctx, cfg.Redis, logger); err != nil {
		c.Store.Close()
		return nil, err
	}

	// Лидер-лок нужен только когда инстансов может быть несколько
	c.Locker = infra.NopLocker{}
	if c.Redis != nil {
		c.Locker = infra.NewRedisLocker(c.Redis, instanceID(), logger)
	}

	switch cfg.Bus.Driver {
	case "redis":
		if c.Redis == nil {
			c.closeStorage()
			return nil, errors.New("redis bus requires redis.addr")
		}
		c.Bus = bus.NewRedisBus(c.Redis, bus.RedisOptions{
			Channel:          cfg.Bus.Channel,
			SubscriberBuffer: cfg.Bus.SubscriberBuffer,
			ReconnectBackoff: cfg.Bus.ReconnectBackoff,
		}, c.Metrics, logger)
	default:
		c.Bus = bus.NewMemoryBus(cfg.Bus.SubscriberBuffer, c.Metrics, logger)
	}

	c.Collector = collector.New(c.Store, c.Bus, collector.Options{
		QueueSize:     cfg.Collector.QueueSize,
		BatchSize:     cfg.Collector.BatchSize,
		FlushInterval: cfg.Collector.FlushInterval,
		Breaker: engine.BreakerSettings{
			Name:        "events-store",
			MaxRequests: cfg.Collector.CBMaxRequests,
			Interval:    cfg.Collector.CBInterval,
			Timeout:     cfg.Collector.CBTimeout,
		},
	}, c.Metrics, logger)

	c.Aggregator = rollup.NewAggregator(c.Store, rollup.Options{
		Interval: cfg.Rollup.Interval,
		Windows:  windows,
		Lookback: cfg.Rollup.Lookback,
		Locker:   c.Locker,
	}, c.Metrics, logger)

	c.Ledger = consent.NewLedger(c.Store, c.Bus, consent.Options{
		SweepInterval: cfg.Consent.SweepInterval,
		Locker:        c.Locker,
	}, c.Metrics, logger)

	c.Audit, err = audit.Open(cfg.Audit.LogPath, audit.Options{FileLock: cfg.Audit.FileLock}, c.Metrics, logger)
	if err != nil {
		c.closeStorage()
		return nil, err
	}

	c.cron = cron.New(
		cron.WithLogger(cronLogger{logger.Named("cron").Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{logger.Named("cron").Sugar()})),
	)
	if cfg.Audit.CompactSchedule != "" {
		if _, err := c.cron.AddFunc(cfg.Audit.CompactSchedule, c.compactJob); err != nil {
			c.closeStorage()
			return nil, fmt.Errorf("audit.compact_schedule: %w", err)
		}
	}

	c.handler = server.NewConsoleServer(
		server.Options{
			Validator:  c.validator,
			AuditLog:   c.Audit,
			Metrics:    c.Metrics,
			TrustProxy: cfg.Server.TrustProxy,
		},
		logger,
		handler.NewDashboardHandler(service.NewDashboardService(c.Store, logger)),
		handler.NewConsentHandler(c.Ledger, logger),
		handler.NewStreamHandler(c.Bus, handler.DefaultKeepAlive, logger),
	)
	return c, nil
}

// Handler: HTTP API (dashboard, consent, SSE) со всеми middleware
func (c *Core) Handler() http.Handler { return c.handler }

// Start запускает фоновые задачи и слушатели. Ошибки привязки портов
// возвращаются сразу, падения Serve приходят в Errors().
func (c *Core) Start(ctx context.Context) error {
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	c.Collector.Start()
	c.goBackground(func() { c.Aggregator.Start(bg) })
	c.goBackground(func() { c.Ledger.Start(bg) })
	c.cron.Start()

	httpLis, err := net.Listen("tcp", c.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	c.httpSrv = &http.Server{
		Handler:           c.handler,
		ReadHeaderTimeout: c.cfg.Server.ReadTimeout,
		WriteTimeout:      c.cfg.Server.WriteTimeout,
	}
	c.serveHTTP("http", c.httpSrv, httpLis)

	if c.cfg.Metrics.Addr != "" {
		lis, err := net.Listen("tcp", c.cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("listen metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
		c.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		c.serveHTTP("metrics", c.metricsSrv, lis)
	}

	if c.cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", c.cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		c.grpcLis = lis.Addr()
		c.grpcSrv = grpc.NewServer(c.grpcOptions()...)
		ingest.Register(c.grpcSrv, ingest.NewServer(c.Collector, c.logger))
		c.logger.Info("grpc ingest started", zap.String("addr", lis.Addr().String()))
		go func() {
			if err := c.grpcSrv.Serve(lis); err != nil {
				c.errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}
	return nil
}

func (c *Core) grpcOptions() []grpc.ServerOption {
	switch {
	case c.cfg.GRPC.Token != "":
		return []grpc.ServerOption{grpc.UnaryInterceptor(ingest.UnaryAuthInterceptor(ingest.StaticToken(c.cfg.GRPC.Token)))}
	case c.validator != nil:
		return []grpc.ServerOption{grpc.UnaryInterceptor(ingest.UnaryAuthInterceptor(ingest.JWTToken(c.validator)))}
	}
	c.logger.Warn("grpc ingest runs without authentication")
	return nil
}

func (c *Core) serveHTTP(name string, srv *http.Server, lis net.Listener) {
	c.logger.Info(name+" server started", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.errCh <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}

func (c *Core) goBackground(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Core) grpcAddr() string {
	if c.grpcLis == nil {
		return ""
	}
	return c.grpcLis.String()
}

// Errors: фатальные ошибки слушателей
func (c *Core) Errors() <-chan error { return c.errCh }

// Shutdown: сначала перестаем принимать запросы, затем дренируем очередь
// коллектора, и только потом гасим шину и хранилище.
func (c *Core) Shutdown(ctx context.Context) {
	if c.httpSrv != nil {
		if err := c.httpSrv.Shutdown(ctx); err != nil {
			c.logger.Error("http shutdown", zap.Error(err))
		}
	}
	if c.grpcSrv != nil {
		c.grpcSrv.GracefulStop()
	}
	if c.metricsSrv != nil {
		c.metricsSrv.Shutdown(ctx)
	}

	c.Collector.Stop()

	<-c.cron.Stop().Done()
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if err := c.Bus.Close(); err != nil {
		c.logger.Warn("bus close", zap.Error(err))
	}
	c.closeStorage()
	c.logger.Info("telemetry core stopped")
}

func (c *Core) closeStorage() {
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
}

// CompactAudit: один проход уплотнения журнала аудита
func (c *Core) CompactAudit(ctx context.Context) (audit.CompactResult, error) {
	return c.Audit.Compact(ctx, c.cfg.Audit.ArchiveDir, c.cfg.Audit.Retention, time.Now())
}

// compactJob вызывается по расписанию cron. При нескольких инстансах
// уплотняет тот, кто взял лок; flock все равно сериализует доступ к файлу.
func (c *Core) compactJob() {
	ctx := context.Background()
	if !c.Locker.TryLock(ctx, infra.RedisKeyLockCompact, compactLease) {
		c.Metrics.JobSkipped.WithLabelValues("audit_compact").Inc()
		return
	}
	res, err := c.CompactAudit(ctx)
	if err != nil {
		c.logger.Error("audit compaction failed", zap.Error(err))
		return
	}
	c.logger.Info("audit compacted",
		zap.Int("archived", res.Archived),
		zap.Int("retained", res.Retained),
		zap.String("archive", res.ArchivePath),
	)
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "aurora"
	}
	return host + "-" + uuid.NewString()[:8]
}

// cronLogger: адаптер zap под интерфейс логгера robfig/cron
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
