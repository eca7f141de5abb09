package consent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/repository/memory"
	"go.uber.org/zap"
)

type capturePublisher struct {
	mu   sync.Mutex
	sent []domain.Summary
}

func (p *capturePublisher) PublishBatch(_ context.Context, batch []domain.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, batch...)
	return nil
}

func newLedger(t *testing.T) (*Ledger, *memory.Store, *capturePublisher, *time.Time) {
	t.Helper()
	store := memory.New()
	pub := &capturePublisher{}
	l := NewLedger(store, pub, Options{}, nil, zap.NewNop())
	clock := time.Unix(1_700_000_000, 0).UTC()
	l.now = func() time.Time { return clock }
	return l, store, pub, &clock
}

func TestRecord_MirrorsIntoEvents(t *testing.T) {
	l, store, pub, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Record(ctx, domain.ConsentDecision{SessionID: "s1", Action: "mail.send", Decision: domain.DecisionApproved, Risk: domain.RiskHigh, TTLHours: 1})
	require.NoError(t, err)
	_, err = l.Record(ctx, domain.ConsentDecision{SessionID: "s1", Action: "files.delete", Decision: domain.DecisionDenied})
	require.NoError(t, err)

	events := store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventConsent, events[0].Type)
	assert.Equal(t, domain.OutcomeSuccess, events[0].Outcome)
	assert.Equal(t, "mail.send", events[0].Intent)
	assert.Equal(t, domain.RiskHigh, events[0].Risk)
	assert.Equal(t, domain.OutcomeBlocked, events[1].Outcome)
	assert.Equal(t, domain.RiskLow, events[1].Risk, "risk defaults to low")

	require.Len(t, pub.sent, 2)
	assert.Equal(t, domain.EventConsent, pub.sent[0].Type)
}

func TestRecord_Validation(t *testing.T) {
	l, store, _, _ := newLedger(t)
	ctx := context.Background()

	for _, d := range []domain.ConsentDecision{
		{Action: "mail.send", Decision: domain.DecisionApproved},
		{SessionID: "s1", Decision: domain.DecisionApproved},
		{SessionID: "s1", Action: "mail.send", Decision: domain.DecisionExpired},
		{SessionID: "s1", Action: "mail.send", Decision: "maybe"},
		{SessionID: "s1", Action: "mail.send", Decision: domain.DecisionApproved, TTLHours: -1},
	} {
		_, err := l.Record(ctx, d)
		assert.ErrorIs(t, err, ErrInvalidDecision)
	}
	assert.Empty(t, store.Consents())
}

func TestSweep_ExpiresExactlyOnceAfterTTL(t *testing.T) {
	l, store, pub, clock := newLedger(t)
	ctx := context.Background()
	approvedAt := *clock

	_, err := l.Record(ctx, domain.ConsentDecision{SessionID: "s1", Action: "mail.send", Decision: domain.DecisionApproved, TTLHours: 1})
	require.NoError(t, err)
	// Одноразовое согласие (ttl=0) никогда не истекает свипером
	_, err = l.Record(ctx, domain.ConsentDecision{SessionID: "s2", Action: "mail.send", Decision: domain.DecisionApproved})
	require.NoError(t, err)

	*clock = approvedAt.Add(3599 * time.Second)
	n, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not expired before the deadline")

	*clock = approvedAt.Add(3601 * time.Second)
	for i := 0; i < 5; i++ {
		n, err = l.Sweep(ctx)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, 1, n)
		} else {
			assert.Zero(t, n, "repeated sweeps must not expire twice")
		}
	}

	var expired []domain.ConsentDecision
	for _, d := range store.Consents() {
		if d.Decision == domain.DecisionExpired {
			expired = append(expired, d)
		}
	}
	require.Len(t, expired, 1)
	assert.Equal(t, "s1", expired[0].SessionID)
	assert.Equal(t, approvedAt.Add(3601*time.Second), expired[0].Timestamp)

	events := store.Events()
	last := events[len(events)-1]
	assert.Equal(t, domain.OutcomeBlocked, last.Outcome)
	assert.Equal(t, approvedAt.Add(3601*time.Second), last.Timestamp)
	assert.Len(t, pub.sent, 3)
}

func TestSweep_ReapprovalExpiresAgain(t *testing.T) {
	l, store, _, clock := newLedger(t)
	ctx := context.Background()
	start := *clock

	_, err := l.Record(ctx, domain.ConsentDecision{SessionID: "s1", Action: "mail.send", Decision: domain.DecisionApproved, TTLHours: 1})
	require.NoError(t, err)
	*clock = start.Add(2 * time.Hour)
	n, err := l.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Новое одобрение после expired — отдельная тройка, истекает своим сроком
	_, err = l.Record(ctx, domain.ConsentDecision{SessionID: "s1", Action: "mail.send", Decision: domain.DecisionApproved, TTLHours: 1})
	require.NoError(t, err)
	*clock = start.Add(4 * time.Hour)
	n, err = l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, store.Consents(), 4)
}

type failingStore struct{ err error }

func (f failingStore) RecordConsent(context.Context, domain.ConsentDecision, domain.Event) error {
	return f.err
}
func (f failingStore) ExpireDue(context.Context, time.Time) ([]domain.ConsentDecision, error) {
	return nil, f.err
}

func TestSweep_StorageErrors(t *testing.T) {
	l := NewLedger(failingStore{err: domain.ErrSchemaMissing}, nil, Options{}, nil, zap.NewNop())
	n, err := l.Sweep(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)

	l = NewLedger(failingStore{err: errors.New("conn reset")}, nil, Options{}, nil, zap.NewNop())
	_, err = l.Sweep(context.Background())
	assert.Error(t, err)
}
