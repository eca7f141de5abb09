package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// mockStore — хранилище в памяти с возможностью ронять запись
type mockStore struct {
	mu      sync.Mutex
	events  []domain.Event
	batches int
	calls   int
	fail    error
}

func (m *mockStore) InsertEvents(_ context.Context, events []domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil {
		return m.fail
	}
	m.batches++
	m.events = append(m.events, events...)
	return nil
}

func (m *mockStore) snapshot() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.events...)
}

type mockPublisher struct {
	mu        sync.Mutex
	summaries []domain.Summary
	store     *mockStore
	// сколько событий было в хранилище на момент публикации
	storedAtPublish []int
}

func (p *mockPublisher) PublishBatch(_ context.Context, batch []domain.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, batch...)
	if p.store != nil {
		p.storedAtPublish = append(p.storedAtPublish, len(p.store.snapshot()))
	}
	return nil
}

func toolEvent(i int) domain.Event {
	return domain.Event{
		Type:      domain.EventTool,
		SessionID: fmt.Sprintf("s-%d", i),
		Tool:      "web.search",
		Outcome:   domain.OutcomeSuccess,
		LatencyMs: domain.Latency(int64(i)),
	}
}

func TestCollector_FlushesEverythingOnStop(t *testing.T) {
	store := &mockStore{}
	pub := &mockPublisher{store: store}
	c := New(store, pub, Options{QueueSize: 1000, BatchSize: 50, FlushInterval: time.Hour}, nil, zap.NewNop())
	c.Start()

	for i := 0; i < 120; i++ {
		require.NoError(t, c.Enqueue(toolEvent(i)))
	}
	c.Stop()

	got := store.snapshot()
	require.Len(t, got, 120)
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("s-%d", i), e.SessionID, "order within the queue must be preserved")
	}
	assert.Equal(t, 3, store.batches, "50+50+20")

	require.Len(t, pub.summaries, 120)
	assert.Equal(t, []int{50, 100, 120}, pub.storedAtPublish, "summaries go out only after the batch is stored")
}

func TestCollector_FillsDefaults(t *testing.T) {
	store := &mockStore{}
	c := New(store, nil, Options{}, nil, zap.NewNop())
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	c.Start()

	require.NoError(t, c.Enqueue(domain.Event{Intent: "plan.start", EvidenceCount: -3}))
	c.Stop()

	got := store.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, fixed, got[0].Timestamp)
	assert.Equal(t, domain.EventTask, got[0].Type)
	assert.Equal(t, domain.DefaultActor, got[0].Actor)
	assert.Equal(t, 0, got[0].EvidenceCount)
}

func TestCollector_TickerFlush(t *testing.T) {
	store := &mockStore{}
	c := New(store, nil, Options{BatchSize: 1000, FlushInterval: 20 * time.Millisecond}, nil, zap.NewNop())
	c.Start()
	defer c.Stop()

	require.NoError(t, c.Enqueue(toolEvent(1)))
	assert.Eventually(t, func() bool { return len(store.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestCollector_OverflowDropsWithoutBlocking(t *testing.T) {
	store := &mockStore{}
	c := New(store, nil, Options{QueueSize: 10, BatchSize: 5}, nil, zap.NewNop())
	// Воркер не запущен: очередь заполняется детерминированно

	var dropped int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 25; i++ {
			if err := c.Enqueue(toolEvent(i)); errors.Is(err, domain.ErrCapacityExceeded) {
				dropped++
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue must never block")
	}
	assert.Equal(t, 15, dropped)

	c.Stop()
	assert.Len(t, store.snapshot(), 10)
	assert.ErrorIs(t, c.Enqueue(toolEvent(99)), ErrClosed)
}

func TestCollector_FailedBatchIsDiscarded(t *testing.T) {
	store := &mockStore{fail: errors.New("connection refused")}
	pub := &mockPublisher{}
	c := New(store, pub, Options{BatchSize: 1}, nil, zap.NewNop())

	for i := 0; i < 8; i++ {
		require.NoError(t, c.Enqueue(toolEvent(i)))
	}
	c.Stop()

	assert.Empty(t, store.snapshot())
	assert.Empty(t, pub.summaries, "nothing published for unwritten batches")
	assert.Equal(t, 5, store.calls, "breaker opens after 5 consecutive failures, no retries")
}

func TestCollector_StoredRowsNeverExceedAccepted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 50).Draw(t, "capacity")
		batch := rapid.IntRange(1, 20).Draw(t, "batch")
		n := rapid.IntRange(0, 120).Draw(t, "n")

		store := &mockStore{}
		c := New(store, nil, Options{QueueSize: capacity, BatchSize: batch}, nil, zap.NewNop())
		accepted := 0
		for i := 0; i < n; i++ {
			if c.Enqueue(toolEvent(i)) == nil {
				accepted++
			}
		}
		c.Stop()

		got := store.snapshot()
		if len(got) != accepted || accepted > n {
			t.Fatalf("stored %d, accepted %d, enqueued %d", len(got), accepted, n)
		}
		seen := make(map[string]bool, len(got))
		for _, e := range got {
			if seen[e.SessionID] {
				t.Fatalf("duplicate event %s", e.SessionID)
			}
			seen[e.SessionID] = true
		}
	})
}
