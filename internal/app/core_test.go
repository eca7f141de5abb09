package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/aurora-telemetry/internal/audit"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/infra"
	"github.com/xela07ax/aurora-telemetry/internal/ingest"
	"github.com/xela07ax/aurora-telemetry/internal/repository/memory"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *infra.Config {
	dir := t.TempDir()
	return &infra.Config{
		Server:    infra.ServerConfig{Host: "127.0.0.1", Port: 0},
		GRPC:      infra.GRPCConfig{Addr: "127.0.0.1:0", Token: "s3cret"},
		Database:  infra.DatabaseConfig{Driver: "memory", AutoMigrate: true},
		Bus:       infra.BusConfig{Driver: "memory", SubscriberBuffer: 8},
		Collector: infra.CollectorConfig{QueueSize: 100, BatchSize: 10, FlushInterval: 20 * time.Millisecond},
		Rollup:    infra.RollupConfig{Interval: time.Hour, Windows: []int64{60, 300, 3600}, Lookback: 2},
		Consent:   infra.ConsentConfig{SweepInterval: time.Hour},
		Audit: infra.AuditConfig{
			LogPath:         filepath.Join(dir, "audit.log"),
			ArchiveDir:      filepath.Join(dir, "archive"),
			Retention:       time.Hour,
			CompactSchedule: "0 3 * * 0",
			FileLock:        true,
		},
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rollup.Windows = []int64{60, 120}
	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Audit.CompactSchedule = "every tuesday"
	_, err = New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestCore_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	core, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, core.Start(context.Background()))

	store := core.Store.(*memory.Store)

	// Решение по согласию через HTTP API
	rec := httptest.NewRecorder()
	core.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/consent/decision",
		strings.NewReader(`{"session_id":"s1","action":"mail.send","decision":"approved","ttl_hours":1}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Событие от удаленного исполнителя через gRPC ingest
	client, err := ingest.Dial(core.grpcAddr(), cfg.GRPC.Token)
	require.NoError(t, err)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Enqueue(ctx, domain.Event{
		Timestamp: time.Now(),
		Type:      domain.EventTool,
		Tool:      "fs.read",
		Outcome:   domain.OutcomeSuccess,
		LatencyMs: domain.Latency(25),
	}))

	// И локально, минуя сеть
	require.NoError(t, core.Collector.Enqueue(domain.Event{Type: domain.EventTool, Tool: "fs.write", Outcome: domain.OutcomeError}))

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	core.Shutdown(shutdownCtx)

	// consent-зеркало + два события из коллектора, дренаж на остановке
	events := store.Events()
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventConsent, events[0].Type)

	require.NoError(t, core.Aggregator.RunOnce(context.Background()))
	buckets, err := store.Rollups(context.Background(), domain.Window1h, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, buckets)
	var total int64
	for _, b := range buckets {
		total += b.SuccessCount + b.BlockedCount + b.ErrorCount
	}
	assert.Equal(t, int64(3), total)

	rep, err := audit.VerifyFile(cfg.Audit.LogPath)
	require.NoError(t, err)
	assert.True(t, rep.OK(), rep.String())
	assert.Equal(t, 1, rep.Records)

	res, err := core.CompactAudit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Archived)
	assert.Equal(t, 1, res.Retained)
}
