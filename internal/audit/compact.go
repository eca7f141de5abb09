package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/natefinch/atomic"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"go.uber.org/zap"
)

// DefaultRetention: записи старше недели уходят в архив
const DefaultRetention = 7 * 24 * time.Hour

// CompactResult: итог уплотнения
type CompactResult struct {
	Archived    int
	Retained    int
	ArchivePath string // пусто, если архивировать было нечего
}

// Compact делит журнал на старые (ts < now-retention) и свежие записи.
// Граница проходит по порядку строк, не по ts. Старые сжимаются в архив
// audit-YYYYMMDD-HHMMSS.jsonl.gz, свежие становятся новым журналом,
// цепочка которого начинается с Genesis: prev первой
// оставшейся записи сбрасывается, её хеш пересчитывается. Журнал с
// неразбираемыми строками не переписывается.
func (l *Log) Compact(ctx context.Context, archiveDir string, retention time.Duration, now time.Time) (CompactResult, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	unlock, err := l.lock(ctx)
	if err != nil {
		return CompactResult{}, err
	}
	defer unlock()

	lines, err := readLines(l.path)
	if errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("audit log not found, nothing to compact")
		return CompactResult{}, nil
	}
	if err != nil {
		return CompactResult{}, err
	}

	recs := make([]Record, len(lines))
	for i, line := range lines {
		rec, err := ParseRecord(line)
		if err != nil {
			return CompactResult{}, fmt.Errorf("line %d is not a valid record, refusing to compact: %w", i+1, err)
		}
		recs[i] = rec
	}

	// В архив уходит самый длинный префикс файла, где все записи старше cutoff.
	// ts ставится на входе запроса, а строка пишется по его завершении, так что
	// старая запись после свежей остается в живом журнале вместе со своим звеном.
	cutoff := now.Add(-retention)
	split := 0
	for split < len(recs) && recordTime(recs[split]).Before(cutoff) {
		split++
	}
	old, recent, recentRecs := lines[:split], lines[split:], recs[split:]

	res := CompactResult{Archived: len(old), Retained: len(recent)}
	if len(old) == 0 && (len(recentRecs) == 0 || recentRecs[0].Prev == Genesis) {
		return res, nil
	}

	if len(old) > 0 {
		res.ArchivePath = filepath.Join(archiveDir, "audit-"+now.UTC().Format("20060102-150405")+".jsonl.gz")
		if err := writeArchive(res.ArchivePath, old); err != nil {
			return CompactResult{}, err
		}
	}

	// Новый живой журнал: перезапечатываем только первую запись
	if len(recentRecs) > 0 {
		head, err := Seal(recentRecs[0].Event, Genesis)
		if err != nil {
			return CompactResult{}, err
		}
		line, err := head.Marshal()
		if err != nil {
			return CompactResult{}, err
		}
		recent[0] = line
	}

	var live bytes.Buffer
	for _, line := range recent {
		live.Write(line)
		live.WriteByte('\n')
	}
	if err := atomic.WriteFile(l.path, &live); err != nil {
		return CompactResult{}, fmt.Errorf("rewrite audit log: %w", err)
	}

	l.logger.Info("audit log compacted",
		zap.Int("archived", res.Archived),
		zap.Int("retained", res.Retained),
		zap.String("archive", res.ArchivePath),
	)
	return res, nil
}

// recordTime: ts события; запись без метки считается старой
func recordTime(rec Record) time.Time {
	var sec float64
	switch v := rec.Event["ts"].(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}
		}
		sec = f
	case float64:
		sec = v
	default:
		return time.Time{}
	}
	return domain.FromEpochSeconds(sec)
}

func writeArchive(path string, lines [][]byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	for _, line := range lines {
		if _, err := zw.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("compress archive: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress archive: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// ReadArchive распаковывает архив уплотнения
func ReadArchive(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	lines, err := scanLines(zr)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(lines))
	for i, line := range lines {
		rec, err := ParseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("archive line %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadRecords: все записи журнала по порядку (для отчетов и тестов)
func ReadRecords(path string) ([]Record, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(lines))
	for i, line := range lines {
		rec, err := ParseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scanLines(f)
}

// scanLines: непустые строки, копии (Scanner переиспользует буфер)
func scanLines(r io.Reader) ([][]byte, error) {
	var out [][]byte
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		out = append(out, append([]byte(nil), line...))
	}
	return out, sc.Err()
}
