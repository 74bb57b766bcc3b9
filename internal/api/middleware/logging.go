// logging.go — middleware логирования входящих HTTP-запросов через slog.
// Перехватывает статус-код, размер ответа, длительность обработки и
// идентификатор аутентифицированного пользователя.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// contextKeyRequestLog — изменяемая запись о запросе в контексте.
const contextKeyRequestLog contextKey = "request_log"

// requestRecord — сведения о запросе, дополняемые нижележащими middleware.
// Authenticator заполняет userID после проверки токена: контекст не
// распространяет значения вверх по цепочке, поэтому запись изменяемая.
type requestRecord struct {
	userID string
}

// recordFromContext возвращает запись о запросе из контекста.
// nil — если RequestLogger не стоит выше по цепочке.
func recordFromContext(ctx context.Context) *requestRecord {
	record, _ := ctx.Value(contextKeyRequestLog).(*requestRecord)
	return record
}

// responseRecorder — обёртка для перехвата статус-кода и размера ответа.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// RequestLogger возвращает middleware, логирующий каждый HTTP-запрос:
// метод, путь, статус, длительность, размер ответа, remote_addr и
// user_id (если запрос прошёл аутентификацию).
// Уровень логирования зависит от статус-кода: INFO (1xx-3xx), WARN (4xx), ERROR (5xx).
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			record := &requestRecord{}
			recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx := context.WithValue(r.Context(), contextKeyRequestLog, record)

			next.ServeHTTP(recorder, r.WithContext(ctx))

			level := slog.LevelInfo
			if recorder.status >= 500 {
				level = slog.LevelError
			} else if recorder.status >= 400 {
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", recorder.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", recorder.bytes),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if record.userID != "" {
				attrs = append(attrs, slog.String("user_id", record.userID))
			}

			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}
