package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
)

// consentSweepLockID: ключ pg_advisory_xact_lock: свипер одного кластера
// выполняется строго по одному.
const consentSweepLockID int64 = 0x617572_636f6e73

// RecordConsent пишет решение и зеркальное событие одной транзакцией.
func (s *Store) RecordConsent(ctx context.Context, d domain.ConsentDecision, mirror domain.Event) error {
	return mapErr(pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO consent (ts, session_id, action, decision, risk, ttl_hours)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			domain.EpochSeconds(d.Timestamp), d.SessionID, d.Action, string(d.Decision), string(d.Risk), d.TTLHours,
		); err != nil {
			return fmt.Errorf("insert consent: %w", err)
		}
		return insertEvents(ctx, tx, []domain.Event{mirror})
	}))
}

// ExpireDue: анти-джойн: одобрения с прошедшим дедлайном, после которых
// нет строки expired для той же пары (session_id, action). DISTINCT ON дает
// не больше одной строки expired на пару за проход.
func (s *Store) ExpireDue(ctx context.Context, now time.Time) ([]domain.ConsentDecision, error) {
	var expired []domain.ConsentDecision

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, consentSweepLockID); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		rows, err := tx.Query(ctx, `
			WITH due AS (
				SELECT DISTINCT ON (a.session_id, a.action) a.session_id, a.action, a.risk
				FROM consent a
				WHERE a.decision = 'approved'
				  AND a.ttl_hours > 0
				  AND a.ts + a.ttl_hours * 3600 < $1
				  AND NOT EXISTS (
					SELECT 1 FROM consent e
					WHERE e.session_id = a.session_id
					  AND e.action = a.action
					  AND e.decision = 'expired'
					  AND e.ts > a.ts
				  )
				ORDER BY a.session_id, a.action, a.ts DESC
			)
			INSERT INTO consent (ts, session_id, action, decision, risk, ttl_hours)
			SELECT $1, session_id, action, 'expired', risk, 0 FROM due
			RETURNING ts, session_id, action, COALESCE(risk, '')`, domain.EpochSeconds(now))
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				ts   float64
				d    = domain.ConsentDecision{Decision: domain.DecisionExpired}
				risk string
			)
			if err := rows.Scan(&ts, &d.SessionID, &d.Action, &risk); err != nil {
				rows.Close()
				return err
			}
			d.Timestamp = domain.FromEpochSeconds(ts)
			d.Risk = domain.Risk(risk)
			expired = append(expired, d)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		mirrors := make([]domain.Event, 0, len(expired))
		for _, d := range expired {
			mirrors = append(mirrors, d.MirrorEvent())
		}
		return insertEvents(ctx, tx, mirrors)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return expired, nil
}
