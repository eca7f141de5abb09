package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
)

const eventColumns = 13

// InsertEvents: одна multi-row вставка на пачку, порядок строк = порядок пачки.
func (s *Store) InsertEvents(ctx context.Context, events []domain.Event) error {
	return mapErr(insertEvents(ctx, s.pool, events))
}

func insertEvents(ctx context.Context, q querier, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO events_raw (ts, type, session_id, "user", intent, plan_id, tool, outcome, latency_ms, err_code, risk, evidences, args_hash) VALUES `)
	vals := make([]any, 0, len(events)*eventColumns)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		if i > 0 {
			sb.WriteByte(',')
		}
		p := i * eventColumns
		sb.WriteByte('(')
		for c := 1; c <= eventColumns; c++ {
			if c > 1 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", p+c)
		}
		sb.WriteByte(')')

		vals = append(vals,
			domain.EpochSeconds(e.Timestamp), string(e.Type), e.SessionID, e.Actor, e.Intent, e.PlanID,
			e.Tool, string(e.Outcome), e.LatencyMs, e.ErrCode, string(e.Risk), e.EvidenceCount, e.ArgsFingerprint,
		)
	}

	_, err := q.Exec(ctx, sb.String(), vals...)
	if err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// EventsSince: проекция для агрегатора: ts, outcome, latency_ms
func (s *Store) EventsSince(ctx context.Context, since time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts, COALESCE(outcome, ''), latency_ms
		FROM events_raw
		WHERE ts >= $1
		ORDER BY ts`, domain.EpochSeconds(since))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			ts      float64
			outcome string
			latency *int64
		)
		if err := rows.Scan(&ts, &outcome, &latency); err != nil {
			return nil, err
		}
		out = append(out, domain.Event{
			Timestamp: domain.FromEpochSeconds(ts),
			Outcome:   domain.Outcome(outcome),
			LatencyMs: latency,
		})
	}
	return out, mapErr(rows.Err())
}
