package http

import (
	"net/http"

	apperrors "DiaryPlatform/pkg/errors"
	"DiaryPlatform/pkg/health"
	"DiaryPlatform/pkg/logger"
	"DiaryPlatform/services/auth-service/internal/middleware"
)

// MetricsCollector метрики и трассировка HTTP запросов, его реализует metrics.Metrics
type MetricsCollector interface {
	Middleware(next http.Handler) http.Handler
	GetHandler() http.Handler
}

// NewRouter собирает все маршруты сервиса и общую цепочку middleware
//
// Порядок: trace_id и лог запроса, восстановление после паники, метрики, маршрутизация
func NewRouter(handler *HTTPHandler, checker health.HealthChecker, collector MetricsCollector, log logger.Logger) http.Handler {
	mux := http.NewServeMux()

	handler.RegisterRoutes(mux)

	mux.HandleFunc("GET /health", health.Handler(checker))
	mux.HandleFunc("GET /health/ready", health.ReadyHandler(checker))
	mux.HandleFunc("GET /health/live", health.LiveHandler())

	var root http.Handler = mux
	if collector != nil {
		mux.Handle("GET /metrics", collector.GetHandler())
		root = collector.Middleware(mux)
	}

	root = apperrors.Middleware(log)(root)
	return middleware.LoggingMiddleware(log)(root)
}
