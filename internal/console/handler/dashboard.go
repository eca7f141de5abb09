package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/console/service"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
)

// DashboardService Описываем, что нам нужно от сервиса
type DashboardService interface {
	KPI(ctx context.Context, span time.Duration) domain.KPI
	Latency(ctx context.Context, span time.Duration, p int, tool string) service.List[service.ToolLatency]
	Rollups(ctx context.Context, w domain.Window, span time.Duration) service.List[domain.RollupBucket]
	ConsentTimeline(ctx context.Context, span time.Duration) service.List[domain.TimelinePoint]
	TopErrors(ctx context.Context, span time.Duration, limit int) service.List[domain.ErrorCount]
	HighRisk(ctx context.Context, span time.Duration, limit int) service.List[domain.HighRiskEvent]
}

type DashboardHandler struct {
	service DashboardService
}

func NewDashboardHandler(s DashboardService) *DashboardHandler {
	return &DashboardHandler{service: s}
}

// GET /dash/kpi?window=1h
func (h *DashboardHandler) KPI(w http.ResponseWriter, r *http.Request) {
	span := service.ParseSpan(r.URL.Query().Get("window"), time.Hour)
	writeJSON(w, http.StatusOK, h.service.KPI(r.Context(), span))
}

// GET /dash/latency?p=95&window=1h&tool=mail.send
func (h *DashboardHandler) Latency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := intParam(q.Get("p"), 95)
	if p < 50 || p > 99 {
		http.Error(w, "p must be within [50, 99]", http.StatusBadRequest)
		return
	}
	span := service.ParseSpan(q.Get("window"), time.Hour)
	writeJSON(w, http.StatusOK, h.service.Latency(r.Context(), span, p, q.Get("tool")))
}

// GET /dash/rollups?w=60&window=1h
func (h *DashboardHandler) Rollups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	win, err := domain.ParseWindow(int64(intParam(q.Get("w"), int(domain.Window1m))))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	span := service.ParseSpan(q.Get("window"), time.Hour)
	writeJSON(w, http.StatusOK, h.service.Rollups(r.Context(), win, span))
}

// GET /dash/consent/timeline?window=7d
func (h *DashboardHandler) ConsentTimeline(w http.ResponseWriter, r *http.Request) {
	span := service.ParseSpan(r.URL.Query().Get("window"), 7*24*time.Hour)
	writeJSON(w, http.StatusOK, h.service.ConsentTimeline(r.Context(), span))
}

// GET /dash/errors/top?window=1h&limit=10
func (h *DashboardHandler) TopErrors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	span := service.ParseSpan(q.Get("window"), time.Hour)
	writeJSON(w, http.StatusOK, h.service.TopErrors(r.Context(), span, intParam(q.Get("limit"), service.DefaultListLimit)))
}

// GET /dash/highrisk?window=24h
func (h *DashboardHandler) HighRisk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	span := service.ParseSpan(q.Get("window"), 24*time.Hour)
	writeJSON(w, http.StatusOK, h.service.HighRisk(r.Context(), span, intParam(q.Get("limit"), service.DefaultListLimit)))
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
