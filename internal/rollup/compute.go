package rollup

import (
	"sort"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
)

// Since: начало окна пересчета: граница корзины, отстоящая на lookback-1
// корзин от текущей. Выравнивание не дает частично просмотренной старой
// корзине перезаписать полную.
func Since(now time.Time, w domain.Window, lookback int) time.Time {
	if lookback < 1 {
		lookback = 1
	}
	cur := w.BucketStart(now)
	return time.Unix(cur-int64(lookback-1)*int64(w), 0).UTC()
}

// ComputeBuckets: чистая функция: события → корзины окна w, отсортированные
// по началу. Счетчики учитывают все события; в p95 идут только измеренные
// неотрицательные латентности.
func ComputeBuckets(events []domain.Event, w domain.Window) []domain.RollupBucket {
	type acc struct {
		bucket    domain.RollupBucket
		latencies []int64
	}
	byStart := make(map[int64]*acc)

	for _, e := range events {
		start := w.BucketStart(e.Timestamp)
		a, ok := byStart[start]
		if !ok {
			a = &acc{bucket: domain.RollupBucket{Window: w, BucketStart: start}}
			byStart[start] = a
		}
		switch e.Outcome {
		case domain.OutcomeSuccess:
			a.bucket.SuccessCount++
		case domain.OutcomeBlocked:
			a.bucket.BlockedCount++
		case domain.OutcomeError:
			a.bucket.ErrorCount++
		}
		if e.LatencyMs != nil && *e.LatencyMs >= 0 {
			a.latencies = append(a.latencies, *e.LatencyMs)
		}
	}

	out := make([]domain.RollupBucket, 0, len(byStart))
	for _, a := range byStart {
		a.bucket.P95Latency = P95(a.latencies)
		out = append(out, a.bucket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart < out[j].BucketStart })
	return out
}
