package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"go.uber.org/zap"
)

func summary(tool string) domain.Summary {
	return domain.Summary{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Type:      domain.EventTool,
		Tool:      tool,
		Outcome:   domain.OutcomeSuccess,
		LatencyMs: domain.Latency(12),
	}
}

func TestMemoryBus_FanOutSkipsFullSubscriber(t *testing.T) {
	b := NewMemoryBus(2, nil, zap.NewNop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s1, err := b.Subscribe(ctx)
	require.NoError(t, err)
	s2, err := b.Subscribe(ctx)
	require.NoError(t, err)
	slow, err := b.Subscribe(ctx)
	require.NoError(t, err)

	// Забиваем очередь медленного подписчика: он получит два первых, а не третье
	require.NoError(t, b.Publish(ctx, summary("warmup-1")))
	require.NoError(t, b.Publish(ctx, summary("warmup-2")))
	<-s1
	<-s1
	<-s2
	<-s2

	require.NoError(t, b.Publish(ctx, summary("web.search")))

	assert.Equal(t, "web.search", (<-s1).Tool)
	assert.Equal(t, "web.search", (<-s2).Tool)

	assert.Equal(t, "warmup-1", (<-slow).Tool)
	assert.Equal(t, "warmup-2", (<-slow).Tool)
	select {
	case s := <-slow:
		t.Fatalf("full subscriber must miss the event, got %q", s.Tool)
	default:
	}
}

func TestMemoryBus_UnsubscribeOnCancel(t *testing.T) {
	b := NewMemoryBus(4, nil, zap.NewNop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers())

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel must be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 10*time.Millisecond)

	// Публикация без подписчиков не должна паниковать
	require.NoError(t, b.Publish(context.Background(), summary("x")))
}

func TestMemoryBus_ConcurrentPublishAndCancel(t *testing.T) {
	b := NewMemoryBus(8, nil, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := b.Subscribe(ctx)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 0
			for range ch {
				n++
				if n == 3 {
					cancel()
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		require.NoError(t, b.PublishBatch(context.Background(), []domain.Summary{summary("a"), summary("b")}))
	}
	require.NoError(t, b.Close())
	wg.Wait()

	_, err := b.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
