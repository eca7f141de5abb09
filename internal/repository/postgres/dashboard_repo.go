package postgres

import (
	"context"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
)

// KPI: сводка за окно. PERCENTILE_DISC дает nearest-rank, как и роллапы.
func (s *Store) KPI(ctx context.Context, since time.Time) (domain.KPI, error) {
	var (
		kpi                      domain.KPI
		success, blocked, failed int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'success'),
			COUNT(*) FILTER (WHERE outcome = 'blocked'),
			COUNT(*) FILTER (WHERE outcome = 'error'),
			COALESCE(PERCENTILE_DISC(0.95) WITHIN GROUP (ORDER BY latency_ms) FILTER (WHERE latency_ms >= 0), 0)
		FROM events_raw
		WHERE ts >= $1`, domain.EpochSeconds(since)).Scan(&kpi.Total, &success, &blocked, &failed, &kpi.P95Latency)
	if err != nil {
		return domain.KPI{}, mapErr(err)
	}

	denom := float64(max(kpi.Total, 1))
	kpi.SuccessRate = float64(success) / denom
	kpi.BlockedRate = float64(blocked) / denom
	kpi.ErrorRate = float64(failed) / denom
	return kpi, nil
}

func (s *Store) LatencySamples(ctx context.Context, since time.Time, limit int) ([]domain.LatencySample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts, COALESCE(tool, ''), latency_ms
		FROM events_raw
		WHERE ts >= $1 AND latency_ms IS NOT NULL
		ORDER BY ts DESC
		LIMIT $2`, domain.EpochSeconds(since), limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]domain.LatencySample, 0)
	for rows.Next() {
		var (
			ts float64
			ls domain.LatencySample
		)
		if err := rows.Scan(&ts, &ls.Tool, &ls.LatencyMs); err != nil {
			return nil, err
		}
		ls.Timestamp = domain.FromEpochSeconds(ts)
		out = append(out, ls)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) TopErrors(ctx context.Context, since time.Time, limit int) ([]domain.ErrorCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(tool, '') AS tool, COALESCE(err_code, '') AS err_code, COUNT(*) AS cnt
		FROM events_raw
		WHERE ts >= $1 AND outcome = 'error'
		GROUP BY 1, 2
		ORDER BY cnt DESC, tool, err_code
		LIMIT $2`, domain.EpochSeconds(since), limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]domain.ErrorCount, 0)
	for rows.Next() {
		var ec domain.ErrorCount
		if err := rows.Scan(&ec.Tool, &ec.ErrCode, &ec.Count); err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) HighRisk(ctx context.Context, since time.Time, limit int) ([]domain.HighRiskEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts, type, COALESCE(session_id, ''), COALESCE(intent, ''), COALESCE(tool, ''), COALESCE(outcome, '')
		FROM events_raw
		WHERE ts >= $1 AND risk = 'high'
		ORDER BY ts DESC
		LIMIT $2`, domain.EpochSeconds(since), limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]domain.HighRiskEvent, 0)
	for rows.Next() {
		var (
			ts           float64
			typ, outcome string
			ev           domain.HighRiskEvent
		)
		if err := rows.Scan(&ts, &typ, &ev.SessionID, &ev.Intent, &ev.Tool, &outcome); err != nil {
			return nil, err
		}
		ev.Timestamp = domain.FromEpochSeconds(ts)
		ev.Type = domain.EventType(typ)
		ev.Outcome = domain.Outcome(outcome)
		out = append(out, ev)
	}
	return out, mapErr(rows.Err())
}

// ConsentTimeline: решения по часам
func (s *Store) ConsentTimeline(ctx context.Context, since time.Time) ([]domain.TimelinePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			(FLOOR(ts / 3600) * 3600)::BIGINT AS bucket,
			COUNT(*) FILTER (WHERE decision = 'approved'),
			COUNT(*) FILTER (WHERE decision = 'denied'),
			COUNT(*) FILTER (WHERE decision = 'expired')
		FROM consent
		WHERE ts >= $1
		GROUP BY bucket
		ORDER BY bucket`, domain.EpochSeconds(since))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]domain.TimelinePoint, 0)
	for rows.Next() {
		var p domain.TimelinePoint
		if err := rows.Scan(&p.Bucket, &p.Approved, &p.Denied, &p.Expired); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}
