package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
)

func TestStore_DashboardQueries(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, s.InsertEvents(ctx, []domain.Event{
		{Timestamp: base, Tool: "mail.send", Outcome: domain.OutcomeError, ErrCode: "smtp_timeout", LatencyMs: domain.Latency(900)},
		{Timestamp: base.Add(time.Second), Tool: "mail.send", Outcome: domain.OutcomeError, ErrCode: "smtp_timeout"},
		{Timestamp: base.Add(2 * time.Second), Tool: "files.read", Outcome: domain.OutcomeError, ErrCode: "enoent", LatencyMs: domain.Latency(3)},
		{Timestamp: base.Add(3 * time.Second), Tool: "web.search", Outcome: domain.OutcomeSuccess, Risk: domain.RiskHigh, LatencyMs: domain.Latency(40)},
		{Timestamp: base.Add(-time.Hour), Tool: "web.search", Outcome: domain.OutcomeSuccess, LatencyMs: domain.Latency(10)},
	}))

	kpi, err := s.KPI(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(4), kpi.Total)
	assert.InDelta(t, 0.75, kpi.ErrorRate, 1e-9)
	assert.InDelta(t, 0.25, kpi.SuccessRate, 1e-9)
	assert.Equal(t, int64(900), kpi.P95Latency)

	empty, err := s.KPI(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.SuccessRate)

	top, err := s.TopErrors(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, domain.ErrorCount{Tool: "mail.send", ErrCode: "smtp_timeout", Count: 2}, top[0])

	lat, err := s.LatencySamples(ctx, base, 2)
	require.NoError(t, err)
	require.Len(t, lat, 2)
	assert.Equal(t, "web.search", lat[0].Tool, "newest first")
	assert.Equal(t, int64(3), lat[1].LatencyMs)

	hr, err := s.HighRisk(ctx, base.Add(-2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, hr, 1)
	assert.Equal(t, "web.search", hr[0].Tool)
}

func TestStore_ConsentTimelineAndRollups(t *testing.T) {
	ctx := context.Background()
	s := New()
	hour := time.Unix(1_699_999_200, 0).UTC()

	for _, d := range []domain.ConsentDecision{
		{Timestamp: hour.Add(time.Minute), SessionID: "s1", Action: "mail.send", Decision: domain.DecisionApproved},
		{Timestamp: hour.Add(2 * time.Minute), SessionID: "s2", Action: "mail.send", Decision: domain.DecisionDenied},
		{Timestamp: hour.Add(61 * time.Minute), SessionID: "s1", Action: "mail.send", Decision: domain.DecisionExpired},
	} {
		require.NoError(t, s.RecordConsent(ctx, d, d.MirrorEvent()))
	}
	tl, err := s.ConsentTimeline(ctx, hour)
	require.NoError(t, err)
	assert.Equal(t, []domain.TimelinePoint{
		{Bucket: hour.Unix(), Approved: 1, Denied: 1},
		{Bucket: hour.Unix() + 3600, Expired: 1},
	}, tl)
	assert.Len(t, s.Events(), 3, "every decision is mirrored into events")

	require.NoError(t, s.UpsertRollups(ctx, domain.Window1m, []domain.RollupBucket{
		{Window: domain.Window1m, BucketStart: 120, SuccessCount: 1},
		{Window: domain.Window1m, BucketStart: 60, SuccessCount: 1},
	}))
	require.NoError(t, s.UpsertRollups(ctx, domain.Window1m, []domain.RollupBucket{
		{Window: domain.Window1m, BucketStart: 120, SuccessCount: 5},
	}))
	rows, err := s.Rollups(ctx, domain.Window1m, time.Unix(0, 0))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(60), rows[0].BucketStart)
	assert.Equal(t, int64(5), rows[1].SuccessCount, "upsert overwrites, never accumulates")
}
