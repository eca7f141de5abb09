package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/aurora-telemetry/internal/audit"
	"github.com/xela07ax/aurora-telemetry/internal/console/handler"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/engine"
	"github.com/xela07ax/aurora-telemetry/internal/infra/auth"
	"go.uber.org/zap"
)

// Options: сквозные зависимости роутера. Nil-поля отключают соответствующий слой.
type Options struct {
	// Проверка RS256 токенов. nil — API открыт (локальная установка)
	Validator auth.TokenValidator
	// Хеш-цепочка аудита: каждый запрос пишется в журнал
	AuditLog *audit.Log
	Metrics  *engine.Metrics
	// Сервер за доверенным прокси: RealIP берет адрес из X-Forwarded-For.
	// Журнал аудита в любом случае видит адрес соединения.
	TrustProxy bool
}

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	opts   Options

	// Обработчики
	dashHandler    *handler.DashboardHandler // /dash/*
	consentHandler *handler.ConsentHandler   // /consent/decision
	streamHandler  *handler.StreamHandler    // /events/stream (SSE)
}

// NewConsoleServer инициализирует HTTP API телеметрии со всеми зависимостями
func NewConsoleServer(
	opts Options,
	logger *zap.Logger,
	dashH *handler.DashboardHandler,
	consentH *handler.ConsentHandler,
	streamH *handler.StreamHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		opts:           opts,
		dashHandler:    dashH,
		consentHandler: consentH,
		streamHandler:  streamH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(engine.TracingMiddleware)
	if s.opts.Metrics != nil {
		r.Use(engine.MetricsMiddleware(s.opts.Metrics))
	}
	// аудит снаружи Recoverer, чтобы паника тоже попала в цепочку со статусом 500
	if s.opts.AuditLog != nil {
		r.Use(audit.Middleware(s.opts.AuditLog, s.logger))
	}
	if s.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// --- 3. API (за RS256 токеном, если он настроен) ---
	r.Group(func(r chi.Router) {
		if s.opts.Validator != nil {
			r.Use(auth.NewMiddleware(s.opts.Validator, s.logger))
		}

		r.Group(func(r chi.Router) {
			s.requireScope(r, domain.ScopeDashboardRead)

			r.Route("/dash", func(r chi.Router) {
				r.Use(middleware.NoCache)
				r.Get("/kpi", s.dashHandler.KPI)
				r.Get("/latency", s.dashHandler.Latency)
				r.Get("/rollups", s.dashHandler.Rollups)
				r.Get("/consent/timeline", s.dashHandler.ConsentTimeline)
				r.Get("/errors/top", s.dashHandler.TopErrors)
				r.Get("/highrisk", s.dashHandler.HighRisk)
			})
			// Live-лента: у каждого подключения своя подписка на шину
			r.Get("/events/stream", s.streamHandler.Stream)
		})

		r.Group(func(r chi.Router) {
			s.requireScope(r, domain.ScopeConsentWrite)
			r.Post("/consent/decision", s.consentHandler.Decide)
		})
	})
}

func (s *ConsoleServer) requireScope(r chi.Router, scope string) {
	if s.opts.Validator != nil {
		r.Use(auth.RequireScope(scope))
	}
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
