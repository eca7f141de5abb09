package rollup

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

type mockStore struct {
	mu      sync.Mutex
	events  []domain.Event
	rollups map[domain.Window]map[int64]domain.RollupBucket
	loadErr error
}

func newMockStore(events ...domain.Event) *mockStore {
	return &mockStore{events: events, rollups: make(map[domain.Window]map[int64]domain.RollupBucket)}
}

func (m *mockStore) EventsSince(_ context.Context, since time.Time) ([]domain.Event, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []domain.Event
	for _, e := range m.events {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) UpsertRollups(_ context.Context, w domain.Window, buckets []domain.RollupBucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rollups[w] == nil {
		m.rollups[w] = make(map[int64]domain.RollupBucket)
	}
	for _, b := range buckets {
		m.rollups[w][b.BucketStart] = b
	}
	return nil
}

func (m *mockStore) dump(t *testing.T) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []domain.RollupBucket
	for _, w := range domain.Windows {
		for _, b := range m.rollups[w] {
			rows = append(rows, b)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Window != rows[j].Window {
			return rows[i].Window < rows[j].Window
		}
		return rows[i].BucketStart < rows[j].BucketStart
	})
	data, err := json.Marshal(rows)
	require.NoError(t, err)
	return data
}

func TestP95_NearestRankOf250(t *testing.T) {
	values := make([]int64, 250)
	for i := range values {
		values[i] = int64(i + 1)
	}
	rand.New(rand.NewSource(7)).Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })

	assert.Equal(t, int64(238), P95(values))
}

func TestNearestRank_Edges(t *testing.T) {
	assert.Equal(t, int64(0), P95(nil))
	assert.Equal(t, int64(42), P95([]int64{42}))
	assert.Equal(t, int64(19), P95([]int64{20, 19, 18, 17, 16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}))
	assert.Equal(t, int64(1), NearestRank([]int64{3, 1, 2}, 0))
	assert.Equal(t, int64(3), NearestRank([]int64{3, 1, 2}, 100))

	in := []int64{5, 1, 3}
	P95(in)
	assert.Equal(t, []int64{5, 1, 3}, in, "input must not be reordered")
}

func TestNearestRank_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.Int64Range(0, 10_000), 1, 500).Draw(t, "values")
		p := rapid.IntRange(1, 100).Draw(t, "p")

		got := NearestRank(values, p)
		n := len(values)
		rank := (p*n + 99) / 100

		var atOrBelow, below int
		for _, v := range values {
			if v <= got {
				atOrBelow++
			}
			if v < got {
				below++
			}
		}
		if atOrBelow < rank {
			t.Fatalf("only %d values <= %d, need rank %d", atOrBelow, got, rank)
		}
		if below >= rank {
			t.Fatalf("%d values < %d, rank %d is not nearest", below, got, rank)
		}
	})
}

func TestComputeBuckets(t *testing.T) {
	base := time.Unix(1_700_000_040, 0).UTC() // граница минуты
	var events []domain.Event
	for i := 1; i <= 250; i++ {
		outcome := domain.OutcomeSuccess
		switch {
		case i%10 == 0:
			outcome = domain.OutcomeError
		case i%7 == 0:
			outcome = domain.OutcomeBlocked
		}
		events = append(events, domain.Event{
			Timestamp: base.Add(time.Duration(i%60) * time.Second),
			Outcome:   outcome,
			LatencyMs: domain.Latency(int64(i)),
		})
	}
	// Без латентности и с отрицательной — считаются, но в p95 не идут
	events = append(events,
		domain.Event{Timestamp: base, Outcome: domain.OutcomeSuccess},
		domain.Event{Timestamp: base, Outcome: domain.OutcomeSuccess, LatencyMs: domain.Latency(-1)},
	)

	buckets := ComputeBuckets(events, domain.Window1m)
	require.Len(t, buckets, 1)
	b := buckets[0]
	assert.Equal(t, base.Unix(), b.BucketStart)
	assert.Equal(t, int64(238), b.P95Latency)
	assert.Equal(t, int64(25), b.ErrorCount)
	assert.Equal(t, int64(252), b.SuccessCount+b.BlockedCount+b.ErrorCount)

	hourly := ComputeBuckets(events, domain.Window1h)
	require.Len(t, hourly, 1)
	assert.Equal(t, int64(1_699_999_200), hourly[0].BucketStart)
}

func TestComputeBuckets_EmptyLatencies(t *testing.T) {
	buckets := ComputeBuckets([]domain.Event{
		{Timestamp: time.Unix(120, 0), Outcome: domain.OutcomeBlocked},
	}, domain.Window1m)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(0), buckets[0].P95Latency)
	assert.Equal(t, int64(1), buckets[0].BlockedCount)
}

func TestSince_AlignedLookback(t *testing.T) {
	now := time.Unix(1_000_050, 0)
	assert.Equal(t, int64(1_000_020-9*60), Since(now, domain.Window1m, 10).Unix())
	assert.Equal(t, int64(997_200-9*3600), Since(now, domain.Window1h, 10).Unix())
	assert.Equal(t, int64(1_000_020), Since(now, domain.Window1m, 0).Unix())
}

func TestAggregator_Idempotent(t *testing.T) {
	now := time.Unix(1_700_003_600, 0).UTC()
	var events []domain.Event
	for i := 0; i < 500; i++ {
		events = append(events, domain.Event{
			Timestamp: now.Add(-time.Duration(i*7) * time.Second),
			Outcome:   []domain.Outcome{domain.OutcomeSuccess, domain.OutcomeBlocked, domain.OutcomeError}[i%3],
			LatencyMs: domain.Latency(int64(i % 97)),
		})
	}
	store := newMockStore(events...)
	agg := NewAggregator(store, Options{}, nil, zap.NewNop())
	agg.now = func() time.Time { return now }

	require.NoError(t, agg.RunOnce(context.Background()))
	first := store.dump(t)
	require.NoError(t, agg.RunOnce(context.Background()))
	assert.Equal(t, string(first), string(store.dump(t)))

	assert.LessOrEqual(t, len(store.rollups[domain.Window1m]), 10)
	assert.NotEmpty(t, store.rollups[domain.Window1h])
}

func TestAggregator_Recompute(t *testing.T) {
	now := time.Unix(1_700_003_600, 0).UTC()
	store := newMockStore(
		domain.Event{Timestamp: now.Add(-48 * time.Hour), Outcome: domain.OutcomeSuccess, LatencyMs: domain.Latency(5)},
		domain.Event{Timestamp: now.Add(-time.Minute), Outcome: domain.OutcomeError, LatencyMs: domain.Latency(9)},
	)
	agg := NewAggregator(store, Options{Windows: []domain.Window{domain.Window1h}}, nil, zap.NewNop())
	agg.now = func() time.Time { return now }

	require.NoError(t, agg.Recompute(context.Background(), 24*time.Hour))
	assert.Len(t, store.rollups[domain.Window1h], 1)

	require.NoError(t, agg.Recompute(context.Background(), 0))
	assert.Len(t, store.rollups[domain.Window1h], 2)
}

func TestAggregator_ErrorsAreIsolated(t *testing.T) {
	store := newMockStore()
	agg := NewAggregator(store, Options{}, nil, zap.NewNop())

	store.loadErr = domain.ErrSchemaMissing
	assert.NoError(t, agg.RunOnce(context.Background()), "missing schema is logged, not returned")

	store.loadErr = errors.New("connection reset")
	assert.Error(t, agg.RunOnce(context.Background()))

	// Цикл переживает ошибки прохода и выходит только по отмене
	ctx, cancel := context.WithCancel(context.Background())
	agg.opts.Interval = 5 * time.Millisecond
	done := make(chan struct{})
	go func() {
		agg.Start(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("aggregator did not stop on cancel")
	}
}
