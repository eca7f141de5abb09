package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/rollup"
	"go.uber.org/zap"
)

// DashboardStore: read-only часть хранилища, которую видит дашборд
type DashboardStore interface {
	KPI(ctx context.Context, since time.Time) (domain.KPI, error)
	LatencySamples(ctx context.Context, since time.Time, limit int) ([]domain.LatencySample, error)
	TopErrors(ctx context.Context, since time.Time, limit int) ([]domain.ErrorCount, error)
	HighRisk(ctx context.Context, since time.Time, limit int) ([]domain.HighRiskEvent, error)
	ConsentTimeline(ctx context.Context, since time.Time) ([]domain.TimelinePoint, error)
	Rollups(ctx context.Context, w domain.Window, since time.Time) ([]domain.RollupBucket, error)
}

const (
	// лимит сырых точек для расчета перцентилей по инструментам
	latencySampleLimit = 10000
	DefaultListLimit   = 10
	MaxListLimit       = 100
)

// List: ответ списочных эндпоинтов. Degraded выставляется, если хранилище не ответило.
type List[T any] struct {
	Items    []T  `json:"items"`
	Degraded bool `json:"degraded,omitempty"`
}

// ToolLatency: перцентиль латентности одного инструмента
type ToolLatency struct {
	Tool      string `json:"tool"`
	LatencyMs int64  `json:"latency_ms"`
	Samples   int    `json:"samples"`
}

// DashboardService никогда не возвращает ошибку наружу: при деградации хранилища
// отдаем нули и пустые списки с флагом degraded.
type DashboardService struct {
	store  DashboardStore
	logger *zap.Logger
	now    func() time.Time
}

func NewDashboardService(store DashboardStore, logger *zap.Logger) *DashboardService {
	return &DashboardService{
		store:  store,
		logger: logger.Named("dashboard"),
		now:    time.Now,
	}
}

// ParseSpan разбирает окна вида 15m, 1h, 7d. Пустая или битая строка дает def.
func ParseSpan(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return def
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return def
	}
	switch s[len(s)-1] {
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	}
	return def
}

func (s *DashboardService) since(span time.Duration) time.Time {
	return s.now().Add(-span)
}

func (s *DashboardService) degraded(op string, err error) {
	s.logger.Warn("dashboard query degraded", zap.String("op", op), zap.Error(err))
}

func (s *DashboardService) KPI(ctx context.Context, span time.Duration) domain.KPI {
	kpi, err := s.store.KPI(ctx, s.since(span))
	if err != nil {
		s.degraded("kpi", err)
		return domain.KPI{Degraded: true}
	}
	return kpi
}

// Latency считает p-й перцентиль по каждому инструменту (nearest-rank).
// Пустой tool — все инструменты.
func (s *DashboardService) Latency(ctx context.Context, span time.Duration, p int, tool string) List[ToolLatency] {
	samples, err := s.store.LatencySamples(ctx, s.since(span), latencySampleLimit)
	if err != nil {
		s.degraded("latency", err)
		return List[ToolLatency]{Items: []ToolLatency{}, Degraded: true}
	}

	byTool := make(map[string][]int64)
	for _, ls := range samples {
		if ls.LatencyMs < 0 {
			continue
		}
		name := ls.Tool
		if name == "" {
			name = "unknown"
		}
		if tool != "" && name != tool {
			continue
		}
		byTool[name] = append(byTool[name], ls.LatencyMs)
	}

	items := make([]ToolLatency, 0, len(byTool))
	for name, values := range byTool {
		items = append(items, ToolLatency{
			Tool:      name,
			LatencyMs: rollup.NearestRank(values, p),
			Samples:   len(values),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Tool < items[j].Tool })
	return List[ToolLatency]{Items: items}
}

func (s *DashboardService) Rollups(ctx context.Context, w domain.Window, span time.Duration) List[domain.RollupBucket] {
	buckets, err := s.store.Rollups(ctx, w, s.since(span))
	if err != nil {
		s.degraded("rollups", err)
		return List[domain.RollupBucket]{Items: []domain.RollupBucket{}, Degraded: true}
	}
	return List[domain.RollupBucket]{Items: nonNil(buckets)}
}

func (s *DashboardService) ConsentTimeline(ctx context.Context, span time.Duration) List[domain.TimelinePoint] {
	points, err := s.store.ConsentTimeline(ctx, s.since(span))
	if err != nil {
		s.degraded("consent_timeline", err)
		return List[domain.TimelinePoint]{Items: []domain.TimelinePoint{}, Degraded: true}
	}
	return List[domain.TimelinePoint]{Items: nonNil(points)}
}

func (s *DashboardService) TopErrors(ctx context.Context, span time.Duration, limit int) List[domain.ErrorCount] {
	rows, err := s.store.TopErrors(ctx, s.since(span), clampLimit(limit))
	if err != nil {
		s.degraded("errors_top", err)
		return List[domain.ErrorCount]{Items: []domain.ErrorCount{}, Degraded: true}
	}
	return List[domain.ErrorCount]{Items: nonNil(rows)}
}

func (s *DashboardService) HighRisk(ctx context.Context, span time.Duration, limit int) List[domain.HighRiskEvent] {
	rows, err := s.store.HighRisk(ctx, s.since(span), clampLimit(limit))
	if err != nil {
		s.degraded("highrisk", err)
		return List[domain.HighRiskEvent]{Items: []domain.HighRiskEvent{}, Degraded: true}
	}
	return List[domain.HighRiskEvent]{Items: nonNil(rows)}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

// nil-слайс кодируется в null, дашборду нужен []
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
