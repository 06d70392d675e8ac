package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strings"

	apperrors "DiaryPlatform/pkg/errors"
	"DiaryPlatform/pkg/logger"
	"DiaryPlatform/pkg/ratelimit"
)

// RateLimitMiddleware создает middleware для ограничения частоты запросов с одного IP адреса
// Использует скользящее окно из pkg/ratelimit, ключ запроса "ip:<адрес>"
func RateLimitMiddleware(limiter ratelimit.Limiter, resolver *IPResolver, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + resolver.ClientIP(r)

			allowed, err := limiter.CheckLimit(r.Context(), key)
			if err != nil {
				log.Error("Rate limit check failed",
					logger.CtxField(r.Context()),
					logger.Error(err),
					logger.String("key", key))
				apperrors.WriteJSON(w, apperrors.New(apperrors.ErrInternal, "Internal error"))
				return
			}

			if !allowed {
				retryAfter := 0
				if wait, ok, err := limiter.TimeUntilReset(r.Context(), key); err == nil && ok {
					retryAfter = int(math.Ceil(wait.Seconds()))
				}

				log.Warn("Rate limit exceeded",
					logger.CtxField(r.Context()),
					logger.String("key", key),
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.Int("retry_after", retryAfter))

				apperrors.WriteJSONWithRetry(w,
					apperrors.New(apperrors.ErrRateLimited, "Too many requests"), retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPResolver определяет адрес клиента.
// X-Forwarded-For и X-Real-IP учитываются только для соединений от доверенных прокси,
// иначе используется RemoteAddr. Нулевой *IPResolver не доверяет никому
type IPResolver struct {
	trusted []netip.Prefix
}

// NewIPResolver разбирает список доверенных прокси: отдельные адреса или CIDR
func NewIPResolver(trustedProxies []string) (*IPResolver, error) {
	r := &IPResolver{}
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			r.trusted = append(r.trusted, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return r, nil
}

// ClientIP извлекает IP адрес клиента.
// От доверенного прокси берется самый правый недоверенный адрес из X-Forwarded-For,
// затем X-Real-IP. Во всех остальных случаях RemoteAddr без порта
func (r *IPResolver) ClientIP(req *http.Request) string {
	remote := remoteHost(req.RemoteAddr)
	if !r.isTrusted(remote) {
		return remote
	}

	if forwarded := req.Header.Values("X-Forwarded-For"); len(forwarded) > 0 {
		hops := strings.Split(strings.Join(forwarded, ","), ",")
		leftmost := ""
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			leftmost = hop
			if !r.isTrusted(hop) {
				return hop
			}
		}
		if leftmost != "" {
			return leftmost
		}
	}

	if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return remote
}

func (r *IPResolver) isTrusted(host string) bool {
	if r == nil || len(r.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
