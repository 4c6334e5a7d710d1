package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/iudanet/offsync/internal/server/handlers"
)

// visitor лимитер конкретного клиента
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает частоту запросов по IP адресу (token bucket из x/time/rate)
type RateLimiter struct {
	visitors map[string]*visitor
	logger   *slog.Logger
	now      func() time.Time
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	mu       sync.Mutex
}

// NewRateLimiter создает rate limiter: rps запросов в секунду, burst запросов подряд.
// Лимитеры клиентов, не обращавшихся дольше idleTTL, удаляются в Run.
func NewRateLimiter(rps float64, burst int, idleTTL time.Duration, logger *slog.Logger) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		logger:   logger,
		now:      time.Now,
		limit:    limit,
		burst:    burst,
		idleTTL:  idleTTL,
	}
}

// Allow проверяет, разрешен ли запрос для данного ключа (обычно IP адрес)
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Cleanup удаляет неактивные лимитеры, возвращает количество удаленных
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// Run периодически чистит лимитеры до отмены ctx
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(rl.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := rl.Cleanup(); n > 0 {
				rl.logger.Debug("Rate limiter cleanup", "removed", n)
			}
		}
	}
}

// Middleware возвращает 429 при превышении лимита
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := getClientIP(r)

		if !rl.Allow(key) {
			rl.logger.Warn("Rate limit exceeded",
				"ip", key,
				"method", r.Method,
				"path", r.URL.Path,
			)

			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			handlers.SendError(rl.logger, w, "rate limit exceeded, please try again later", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.limit == rate.Inf || rl.limit <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/float64(rl.limit))))
}

// getClientIP извлекает IP адрес клиента из запроса
// Проверяет заголовки X-Forwarded-For и X-Real-IP для прокси
func getClientIP(r *http.Request) string {
	// Берем первый IP из списка (реальный клиент)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
