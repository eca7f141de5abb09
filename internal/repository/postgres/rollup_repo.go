package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
)

// UpsertRollups перезаписывает корзины: повторный пересчет не накапливает значения.
func (s *Store) UpsertRollups(ctx context.Context, w domain.Window, buckets []domain.RollupBucket) error {
	table := w.Table()
	if table == "" {
		return fmt.Errorf("unsupported rollup window %d", w)
	}
	if len(buckets) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (bucket, success_cnt, blocked_cnt, error_cnt, p95_latency) VALUES ", table)
	vals := make([]any, 0, len(buckets)*5)
	for i, b := range buckets {
		if i > 0 {
			sb.WriteByte(',')
		}
		p := i * 5
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d)", p+1, p+2, p+3, p+4, p+5)
		vals = append(vals, b.BucketStart, b.SuccessCount, b.BlockedCount, b.ErrorCount, b.P95Latency)
	}
	sb.WriteString(` ON CONFLICT (bucket) DO UPDATE SET
		success_cnt = EXCLUDED.success_cnt,
		blocked_cnt = EXCLUDED.blocked_cnt,
		error_cnt   = EXCLUDED.error_cnt,
		p95_latency = EXCLUDED.p95_latency`)

	if _, err := s.pool.Exec(ctx, sb.String(), vals...); err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *Store) Rollups(ctx context.Context, w domain.Window, since time.Time) ([]domain.RollupBucket, error) {
	table := w.Table()
	if table == "" {
		return nil, fmt.Errorf("unsupported rollup window %d", w)
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT bucket, success_cnt, blocked_cnt, error_cnt, p95_latency
		FROM %s WHERE bucket >= $1 ORDER BY bucket`, table), since.Unix())
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]domain.RollupBucket, 0)
	for rows.Next() {
		b := domain.RollupBucket{Window: w}
		if err := rows.Scan(&b.BucketStart, &b.SuccessCount, &b.BlockedCount, &b.ErrorCount, &b.P95Latency); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, mapErr(rows.Err())
}
