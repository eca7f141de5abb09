// Package memory — хранилище в памяти процесса для database.driver=memory
// и тестов. Повторяет семантику Postgres-реализации, включая анти-джойн свипера.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/rollup"
)

type Store struct {
	mu      sync.RWMutex
	events  []domain.Event
	consent []domain.ConsentDecision
	rollups map[domain.Window]map[int64]domain.RollupBucket
}

func New() *Store {
	return &Store{rollups: make(map[domain.Window]map[int64]domain.RollupBucket)}
}

func (s *Store) Ping(context.Context) error    { return nil }
func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Close()                        {}

func (s *Store) InsertEvents(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *Store) EventsSince(_ context.Context, since time.Time) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.events {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) UpsertRollups(_ context.Context, w domain.Window, buckets []domain.RollupBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.rollups[w]
	if !ok {
		table = make(map[int64]domain.RollupBucket)
		s.rollups[w] = table
	}
	for _, b := range buckets {
		table[b.BucketStart] = b
	}
	return nil
}

func (s *Store) RecordConsent(_ context.Context, d domain.ConsentDecision, mirror domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent = append(s.consent, d)
	s.events = append(s.events, mirror)
	return nil
}

// ExpireDue под одной блокировкой: выборка и вставка атомарны, как транзакция
// с advisory-локом в Postgres.
func (s *Store) ExpireDue(_ context.Context, now time.Time) ([]domain.ConsentDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := domain.DueForExpiry(s.consent, now)
	out := make([]domain.ConsentDecision, 0, len(due))
	for _, d := range due {
		exp := d.Expire(now)
		s.consent = append(s.consent, exp)
		s.events = append(s.events, exp.MirrorEvent())
		out = append(out, exp)
	}
	return out, nil
}

// Events: копия всех событий (для тестов и отладки)
func (s *Store) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Event(nil), s.events...)
}

// Consents: копия журнала согласий
func (s *Store) Consents() []domain.ConsentDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ConsentDecision(nil), s.consent...)
}

func (s *Store) Rollups(_ context.Context, w domain.Window, since time.Time) ([]domain.RollupBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RollupBucket
	for start, b := range s.rollups[w] {
		if start >= since.Unix() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart < out[j].BucketStart })
	return out, nil
}

func (s *Store) KPI(ctx context.Context, since time.Time) (domain.KPI, error) {
	events, _ := s.EventsSince(ctx, since)
	var kpi domain.KPI
	var success, blocked, failed int64
	var latencies []int64
	for _, e := range events {
		kpi.Total++
		switch e.Outcome {
		case domain.OutcomeSuccess:
			success++
		case domain.OutcomeBlocked:
			blocked++
		case domain.OutcomeError:
			failed++
		}
		if e.LatencyMs != nil && *e.LatencyMs >= 0 {
			latencies = append(latencies, *e.LatencyMs)
		}
	}
	denom := float64(max(kpi.Total, 1))
	kpi.SuccessRate = float64(success) / denom
	kpi.BlockedRate = float64(blocked) / denom
	kpi.ErrorRate = float64(failed) / denom
	kpi.P95Latency = rollup.P95(latencies)
	return kpi, nil
}

func (s *Store) LatencySamples(ctx context.Context, since time.Time, limit int) ([]domain.LatencySample, error) {
	events, _ := s.EventsSince(ctx, since)
	newestFirst(events)
	out := make([]domain.LatencySample, 0)
	for _, e := range events {
		if len(out) >= limit {
			break
		}
		if e.LatencyMs == nil {
			continue
		}
		out = append(out, domain.LatencySample{Timestamp: e.Timestamp, Tool: e.Tool, LatencyMs: *e.LatencyMs})
	}
	return out, nil
}

func (s *Store) TopErrors(ctx context.Context, since time.Time, limit int) ([]domain.ErrorCount, error) {
	events, _ := s.EventsSince(ctx, since)
	type key struct{ tool, code string }
	counts := make(map[key]int64)
	for _, e := range events {
		if e.Outcome == domain.OutcomeError {
			counts[key{e.Tool, e.ErrCode}]++
		}
	}
	out := make([]domain.ErrorCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, domain.ErrorCount{Tool: k.tool, ErrCode: k.code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Tool != out[j].Tool {
			return out[i].Tool < out[j].Tool
		}
		return out[i].ErrCode < out[j].ErrCode
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) HighRisk(ctx context.Context, since time.Time, limit int) ([]domain.HighRiskEvent, error) {
	events, _ := s.EventsSince(ctx, since)
	newestFirst(events)
	out := make([]domain.HighRiskEvent, 0)
	for _, e := range events {
		if len(out) >= limit {
			break
		}
		if e.Risk != domain.RiskHigh {
			continue
		}
		out = append(out, domain.HighRiskEvent{
			Timestamp: e.Timestamp,
			Type:      e.Type,
			SessionID: e.SessionID,
			Intent:    e.Intent,
			Tool:      e.Tool,
			Outcome:   e.Outcome,
		})
	}
	return out, nil
}

func (s *Store) ConsentTimeline(_ context.Context, since time.Time) ([]domain.TimelinePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byHour := make(map[int64]*domain.TimelinePoint)
	for _, d := range s.consent {
		if d.Timestamp.Before(since) {
			continue
		}
		b := domain.Window1h.BucketStart(d.Timestamp)
		p, ok := byHour[b]
		if !ok {
			p = &domain.TimelinePoint{Bucket: b}
			byHour[b] = p
		}
		switch d.Decision {
		case domain.DecisionApproved:
			p.Approved++
		case domain.DecisionDenied:
			p.Denied++
		case domain.DecisionExpired:
			p.Expired++
		}
	}
	out := make([]domain.TimelinePoint, 0, len(byHour))
	for _, p := range byHour {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket < out[j].Bucket })
	return out, nil
}

func newestFirst(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
}
