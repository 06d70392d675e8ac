package middleware

import (
	"net/http"
	"time"

	"DiaryPlatform/pkg/logger"

	"github.com/google/uuid"
)

// RequestIDHeader заголовок с идентификатором запроса
const RequestIDHeader = "X-Request-ID"

// LoggingMiddleware присваивает запросу trace_id и логирует его завершение
// Если клиент прислал X-Request-ID, используется он
func LoggingMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get(RequestIDHeader)
			if traceID == "" || len(traceID) > 64 {
				traceID = uuid.NewString()
			}
			ctx := logger.WithTraceID(r.Context(), traceID)
			w.Header().Set(RequestIDHeader, traceID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			log.Info("Completed request",
				logger.String("trace_id", traceID),
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", wrapped.statusCode),
				logger.Duration("duration", time.Since(start)))
		})
	}
}

// responseWriter обертка для перехвата статуса ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
