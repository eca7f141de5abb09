package domain

import (
	"math"
	"time"
)

// EventType: категория операционного события
type EventType string

const (
	EventTask    EventType = "task"
	EventTool    EventType = "tool"
	EventRAG     EventType = "rag"
	EventConsent EventType = "consent"
)

// Outcome: итог вызова инструмента
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeBlocked Outcome = "blocked"
	OutcomeError   Outcome = "error"
)

type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// DefaultActor проставляется, если исполнитель плана не передал пользователя
const DefaultActor = "local"

// Event: сырое событие, которое эмитит каждый вызов инструмента.
// Append-only: после записи в events_raw никогда не меняется.
type Event struct {
	Timestamp       time.Time `json:"ts"`
	Type            EventType `json:"type"`
	SessionID       string    `json:"session_id,omitempty"`
	Actor           string    `json:"actor,omitempty"`
	Intent          string    `json:"intent,omitempty"`
	PlanID          string    `json:"plan_id,omitempty"`
	Tool            string    `json:"tool,omitempty"`
	Outcome         Outcome   `json:"outcome,omitempty"`
	LatencyMs       *int64    `json:"latency_ms,omitempty"` // nil — латентность не измерялась
	ErrCode         string    `json:"err_code,omitempty"`
	Risk            Risk      `json:"risk,omitempty"`
	EvidenceCount   int       `json:"evidence_count"`
	ArgsFingerprint string    `json:"args_hash,omitempty"`
}

// Latency: хелпер для заполнения опционального поля
func Latency(ms int64) *int64 {
	return &ms
}

// WithDefaults заполняет то, что вызывающий мог не передать.
func (e Event) WithDefaults(now time.Time) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.Type == "" {
		e.Type = EventTask
	}
	if e.Actor == "" {
		e.Actor = DefaultActor
	}
	if e.EvidenceCount < 0 {
		e.EvidenceCount = 0
	}
	return e
}

// Summary: урезанная проекция события для live-подписчиков.
// Идентификаторы сессии и пользователя сюда намеренно не попадают.
type Summary struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Tool      string    `json:"tool"`
	Intent    string    `json:"intent"`
	Outcome   Outcome   `json:"outcome"`
	Risk      Risk      `json:"risk"`
	LatencyMs *int64    `json:"latency_ms"`
}

func (e Event) Summary() Summary {
	return Summary{
		Timestamp: e.Timestamp,
		Type:      e.Type,
		Tool:      e.Tool,
		Intent:    e.Intent,
		Outcome:   e.Outcome,
		Risk:      e.Risk,
		LatencyMs: e.LatencyMs,
	}
}

func Summaries(events []Event) []Summary {
	out := make([]Summary, 0, len(events))
	for _, e := range events {
		out = append(out, e.Summary())
	}
	return out
}

// EpochSeconds переводит время в формат колонки ts (Unix epoch, секунды с дробной частью).
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// FromEpochSeconds: обратное преобразование с точностью до микросекунды.
func FromEpochSeconds(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
}
