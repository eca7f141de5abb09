package domain

import (
	"fmt"
	"time"
)

// Window: размер окна роллапа в секундах
type Window int64

const (
	Window1m Window = 60
	Window5m Window = 300
	Window1h Window = 3600
)

// Windows: фиксированный набор окон, которые пересчитывает агрегатор
var Windows = []Window{Window1m, Window5m, Window1h}

// Table возвращает имя таблицы роллапа для окна.
func (w Window) Table() string {
	switch w {
	case Window1m:
		return "rollup_1m"
	case Window5m:
		return "rollup_5m"
	case Window1h:
		return "rollup_1h"
	}
	return ""
}

func (w Window) Duration() time.Duration {
	return time.Duration(w) * time.Second
}

// BucketStart = floor(ts/window)*window
func (w Window) BucketStart(ts time.Time) int64 {
	sec := ts.Unix()
	size := int64(w)
	b := sec / size
	if sec < 0 && sec%size != 0 {
		b--
	}
	return b * size
}

// ParseWindow принимает размер окна в секундах (60, 300, 3600).
func ParseWindow(sec int64) (Window, error) {
	w := Window(sec)
	if w.Table() == "" {
		return 0, fmt.Errorf("unsupported rollup window: %ds", sec)
	}
	return w, nil
}

// RollupBucket: агрегат по одному окну. Чистая функция сырых событий своего интервала.
type RollupBucket struct {
	Window       Window `json:"window"`
	BucketStart  int64  `json:"bucket"`
	SuccessCount int64  `json:"success_cnt"`
	BlockedCount int64  `json:"blocked_cnt"`
	ErrorCount   int64  `json:"error_cnt"`
	P95Latency   int64  `json:"p95_latency"`
}
