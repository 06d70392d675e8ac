package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindowLimiter лимитер в памяти процесса
//
// Для каждого ключа хранится упорядоченный список моментов попыток.
// Устаревшие попытки отбрасываются при каждом обращении к ключу
type SlidingWindowLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	config   Config
	now      func() time.Time
}

// Option настраивает SlidingWindowLimiter
type Option func(*SlidingWindowLimiter)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(l *SlidingWindowLimiter) {
		l.now = now
	}
}

// NewSlidingWindowLimiter создает лимитер в памяти
func NewSlidingWindowLimiter(config Config, opts ...Option) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		attempts: make(map[string][]time.Time),
		config:   config.withDefaults(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckLimit записывает попытку, если лимит не исчерпан
func (l *SlidingWindowLimiter) CheckLimit(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(key, now)
	if len(recent) >= l.config.MaxAttempts {
		return false, nil
	}

	l.attempts[key] = append(recent, now)
	return true, nil
}

// RemainingAttempts возвращает количество оставшихся попыток
func (l *SlidingWindowLimiter) RemainingAttempts(_ context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := l.config.MaxAttempts - len(l.prune(key, l.now()))
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TimeUntilReset возвращает время до истечения самой старой попытки
func (l *SlidingWindowLimiter) TimeUntilReset(_ context.Context, key string) (time.Duration, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(key, now)
	if len(recent) == 0 {
		return 0, false, nil
	}

	wait := recent[0].Add(l.config.Window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true, nil
}

// Reset удаляет все попытки по ключу
func (l *SlidingWindowLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.attempts, key)
	return nil
}

// Cleanup чистит устаревшие попытки по всем ключам
func (l *SlidingWindowLimiter) Cleanup(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key := range l.attempts {
		l.prune(key, now)
	}
	return nil
}

// Len количество отслеживаемых ключей
func (l *SlidingWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.attempts)
}

// prune отбрасывает попытки старше окна. Вызывается под мьютексом
func (l *SlidingWindowLimiter) prune(key string, now time.Time) []time.Time {
	list, ok := l.attempts[key]
	if !ok {
		return nil
	}

	cutoff := now.Add(-l.config.Window)
	i := 0
	for i < len(list) && !list[i].After(cutoff) {
		i++
	}

	if i == len(list) {
		delete(l.attempts, key)
		return nil
	}
	if i > 0 {
		list = append(list[:0], list[i:]...)
		l.attempts[key] = list
	}
	return list
}
