package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/xela07ax/aurora-telemetry/internal/engine"
	"go.uber.org/zap"
)

const (
	tailWindow    = 4 << 10
	lockRetry     = 10 * time.Millisecond
	lockTimeout   = 5 * time.Second
)

type Options struct {
	// FileLock: межпроцессный flock на <path>.lock вокруг добавления и уплотнения
	FileLock bool
}

// Log владеет файлом хеш-цепочки. Цикл "прочитать последний хеш → посчитать →
// дописать" выполняется под мьютексом процесса и (опционально) под flock.
type Log struct {
	path    string
	mu      sync.Mutex
	flock   *flock.Flock
	metrics *engine.Metrics
	logger  *zap.Logger
}

func Open(path string, opts Options, m *engine.Metrics, logger *zap.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if m == nil {
		m = engine.NewMetrics(nil)
	}
	l := &Log{
		path:    path,
		metrics: m,
		logger:  logger.With(zap.String("mod", "audit"), zap.String("path", path)),
	}
	if opts.FileLock {
		l.flock = flock.New(path + ".lock")
	}
	return l, nil
}

func (l *Log) Path() string { return l.path }

// lock захватывает мьютекс и flock. Возвращает функцию освобождения.
func (l *Log) lock(ctx context.Context) (func(), error) {
	l.mu.Lock()
	if l.flock == nil {
		return l.mu.Unlock, nil
	}

	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := l.flock.TryLockContext(ctx, lockRetry)
	if err != nil || !locked {
		l.mu.Unlock()
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return nil, fmt.Errorf("audit file lock: %w", err)
	}
	return func() {
		if err := l.flock.Unlock(); err != nil {
			l.logger.Error("failed to release audit file lock", zap.Error(err))
		}
		l.mu.Unlock()
	}, nil
}

// Append дописывает событие в конец цепочки.
func (l *Log) Append(ctx context.Context, event map[string]any) (Record, error) {
	unlock, err := l.lock(ctx)
	if err != nil {
		l.metrics.AuditErrors.Inc()
		return Record{}, err
	}
	defer unlock()

	rec, err := l.appendLocked(event)
	if err != nil {
		l.metrics.AuditErrors.Inc()
		return Record{}, err
	}
	l.metrics.AuditAppends.Inc()
	return rec, nil
}

func (l *Log) appendLocked(event map[string]any) (Record, error) {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return Record{}, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	prev, err := lastHash(f)
	if err != nil {
		l.logger.Warn("audit tail unreadable, chaining from genesis", zap.Error(err))
		prev = Genesis
	}

	rec, err := Seal(event, prev)
	if err != nil {
		return Record{}, err
	}
	line, err := rec.Marshal()
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Record{}, fmt.Errorf("write audit log: %w", err)
	}
	return rec, nil
}

// LastHash: хеш последней записи или Genesis для пустого/отсутствующего журнала.
func (l *Log) LastHash() (string, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return Genesis, nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()
	return lastHash(f)
}

// lastHash читает хвост файла окнами от 4 KiB, удваивая окно, пока оно не
// накроет последнюю строку целиком. Журнал целиком не сканируется.
func lastHash(f *os.File) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()
	if size == 0 {
		return Genesis, nil
	}

	for window := int64(tailWindow); ; window *= 2 {
		if window > size {
			window = size
		}
		buf := make([]byte, window)
		if _, err := f.ReadAt(buf, size-window); err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}

		line, complete := lastLine(buf, window == size)
		if complete {
			if len(line) == 0 {
				return Genesis, nil
			}
			rec, err := ParseRecord(line)
			if err != nil {
				return "", fmt.Errorf("parse last record: %w", err)
			}
			return rec.Hash, nil
		}
		if window >= size {
			return "", errors.New("last record has no line start")
		}
	}
}

// lastLine выделяет последнюю непустую строку. complete=false, если начало
// строки не попало в окно.
func lastLine(buf []byte, atStart bool) ([]byte, bool) {
	trimmed := bytes.TrimRight(buf, "\r\n ")
	if len(trimmed) == 0 {
		return nil, atStart
	}
	i := bytes.LastIndexByte(trimmed, '\n')
	if i < 0 {
		if atStart {
			return trimmed, true
		}
		return nil, false
	}
	return trimmed[i+1:], true
}
