package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/aurora-telemetry/internal/audit"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	cfg := "audit:\n" +
		"  log_path: " + filepath.Join(dir, "audit.log") + "\n" +
		"  archive_dir: " + filepath.Join(dir, "archive") + "\n" +
		"logger:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedLog(t *testing.T, path string, n int) {
	t.Helper()
	l, err := audit.Open(path, audit.Options{FileLock: true}, nil, zap.NewNop())
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := l.Append(context.Background(), map[string]any{"action": "API:GET:/dash/kpi", "seq": i})
		require.NoError(t, err)
	}
}

func TestVerify_MissingLogIsNotAFailure(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "--config", writeConfig(t, dir), "verify")
	assert.NoError(t, err)
}

func TestVerify_ReportsTampering(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	logPath := filepath.Join(dir, "audit.log")
	seedLog(t, logPath, 3)

	out, err := execute(t, "--config", cfgPath, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: 3 records verified")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"seq":1`, `"seq":7`, 1)
	require.NoError(t, os.WriteFile(logPath, []byte(tampered), 0o644))

	out, err = execute(t, "--config", cfgPath, "verify", "--file", logPath)
	require.ErrorIs(t, err, errChainBroken)
	assert.Contains(t, out, "line 2: hash mismatch")
	assert.Contains(t, out, "line 3: prev mismatch")
}

func TestCompact_NothingOld(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	seedLog(t, filepath.Join(dir, "audit.log"), 2)

	out, err := execute(t, "--config", cfgPath, "compact", "--retention", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "archived 0, retained 2")
}

func TestRollup_RequiresHorizon(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	_, err := execute(t, "--config", cfgPath, "rollup")
	assert.Error(t, err)

	out, err := execute(t, "--config", cfgPath, "rollup", "--full")
	require.NoError(t, err)
	assert.Contains(t, out, "3 windows")
}

func TestMigrate_MemoryDriver(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "--config", writeConfig(t, dir), "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema is up to date (memory)")
}
