package domain

import "time"

// KPI: сводка по окну наблюдения для главного экрана.
// Доли считаются от общего числа событий, в знаменателе минимум 1.
type KPI struct {
	Total       int64   `json:"total"`
	SuccessRate float64 `json:"success_rate"`
	BlockedRate float64 `json:"blocked_rate"`
	ErrorRate   float64 `json:"error_rate"`
	P95Latency  int64   `json:"p95_latency_ms"`
	Degraded    bool    `json:"degraded,omitempty"` // хранилище недоступно, показываем нули
}

// LatencySample: точка для гистограммы латентности
type LatencySample struct {
	Timestamp time.Time `json:"ts"`
	Tool      string    `json:"tool"`
	LatencyMs int64     `json:"latency_ms"`
}

type ErrorCount struct {
	Tool    string `json:"tool"`
	ErrCode string `json:"err_code"`
	Count   int64  `json:"count"`
}

// HighRiskEvent: событие с risk=high для ленты инцидентов
type HighRiskEvent struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Intent    string    `json:"intent"`
	Tool      string    `json:"tool"`
	Outcome   Outcome   `json:"outcome"`
}

// TimelinePoint: агрегат решений по согласиям за один час
type TimelinePoint struct {
	Bucket   int64 `json:"bucket"`
	Approved int64 `json:"approved"`
	Denied   int64 `json:"denied"`
	Expired  int64 `json:"expired"`
}
