package audit

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/engine"
	"go.uber.org/zap"
)

const appendTimeout = 2 * time.Second

// Middleware пишет каждый запрос в хеш-цепочку после ответа обработчика.
// Тело запроса в журнал не попадает. Сбой журнала не влияет на ответ клиенту.
func Middleware(l *Log, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("audit.http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			event := RequestEvent(r, start)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event["status_code"] = status
			event["latency_ms"] = math.Round(float64(time.Since(start).Microseconds())/10) / 100

			// Контекст запроса может быть уже отменен клиентом
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), appendTimeout)
			defer cancel()
			if _, err := l.Append(ctx, event); err != nil {
				logger.Error("audit append failed",
					zap.String("action", event["action"].(string)),
					zap.String("trace_id", engine.TraceID(r.Context())),
					zap.Error(err),
				)
			}
		})
	}
}

// Пределы клиентских полей: запись должна оставаться небольшой, сколько бы
// ни прислал клиент в URL и заголовках.
const (
	maxQueryBytes = 2 << 10
	maxHeaderLen  = 256
)

// RequestEvent: полезная нагрузка записи до выполнения обработчика:
// время, адрес клиента, метод+путь и метаданные запроса.
// actor всегда берется из RemoteAddr соединения; заявленный клиентом адрес
// (X-Forwarded-For, X-Real-IP) пишется отдельно в forwarded_for.
func RequestEvent(r *http.Request, now time.Time) map[string]any {
	params, truncated := queryParams(r.URL.Query())
	payload := map[string]any{"query_params": params}
	if truncated {
		payload["query_truncated"] = true
	}
	event := map[string]any{
		"ts":         domain.EpochSeconds(now),
		"actor":      clientAddr(r),
		"action":     "API:" + r.Method + ":" + clip(r.URL.Path, maxQueryBytes),
		"payload":    payload,
		"trace_id":   clip(engine.TraceID(r.Context()), maxHeaderLen),
		"user_agent": clip(r.UserAgent(), maxHeaderLen),
	}
	if fwd := forwardedFor(r); fwd != "" {
		event["forwarded_for"] = fwd
	}
	return event
}

// queryParams копирует параметры в пределах maxQueryBytes, ключи по алфавиту.
// Не поместившиеся значения пропускаются, truncated=true.
func queryParams(q url.Values) (map[string][]string, bool) {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string][]string, len(keys))
	budget := maxQueryBytes
	truncated := false
	for _, k := range keys {
		for _, v := range q[k] {
			n := len(k) + len(v)
			if n > budget {
				truncated = true
				continue
			}
			budget -= n
			key := clip(k, maxQueryBytes)
			out[key] = append(out[key], clip(v, maxQueryBytes))
		}
	}
	return out, truncated
}

// clip обрезает строку до n байт и заменяет невалидный UTF-8:
// иначе повторная канонизация при проверке дала бы другие байты.
func clip(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

func forwardedFor(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return clip(v, maxHeaderLen)
	}
	return clip(r.Header.Get("X-Real-IP"), maxHeaderLen)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return clip(r.RemoteAddr, maxHeaderLen)
	}
	return host
}
