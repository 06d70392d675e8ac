package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Статусы проверок
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker интерфейс для проверки здоровья сервиса
type HealthChecker interface {
	Check(ctx context.Context) *HealthStatus
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]Status `json:"services,omitempty"`
	Version   string            `json:"version,omitempty"`
}

// Status представляет статус зависимости
type Status struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// CheckFunc проверка одной зависимости, например ping базы данных
type CheckFunc func(ctx context.Context) error

// ServiceChecker проверяет набор именованных зависимостей
type ServiceChecker struct {
	version string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewServiceChecker создает ServiceChecker без зависимостей
func NewServiceChecker(version string, timeout time.Duration) *ServiceChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ServiceChecker{
		version: version,
		timeout: timeout,
		checks:  make(map[string]CheckFunc),
	}
}

// Register добавляет проверку зависимости
func (s *ServiceChecker) Register(name string, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Check выполняет все проверки. Сервис здоров, только если здоровы все зависимости
func (s *ServiceChecker) Check(ctx context.Context) *HealthStatus {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]CheckFunc, len(names))
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	s.mu.RUnlock()

	result := &HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   s.version,
	}
	if len(names) == 0 {
		return result
	}

	result.Services = make(map[string]Status, len(names))
	for i, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := checks[i](checkCtx)
		cancel()

		if err != nil {
			result.Status = StatusUnhealthy
			result.Services[name] = Status{Status: StatusUnhealthy, Details: err.Error()}
			continue
		}
		result.Services[name] = Status{Status: StatusHealthy}
	}

	return result
}

// Handler создает HTTP обработчик для health check эндпоинта
func Handler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, checker.Check(r.Context()))
	}
}

// ReadyHandler создает HTTP обработчик для ready check эндпоинта
// Возвращает 200 если все зависимости доступны, иначе 503
func ReadyHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := checker.Check(r.Context())
		code := http.StatusOK
		if status.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

// LiveHandler создает HTTP обработчик для live check эндпоинта
// Возвращает 200 если сервис жив
func LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
