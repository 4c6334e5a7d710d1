// Package retry вычисляет задержки повторных попыток синхронизации.
// Политика - неизменяемое значение без I/O и побочных эффектов.
package retry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidPolicy параметры политики некорректны
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy управляет экспоненциальным backoff
type Policy struct {
	initialDelay      time.Duration
	maxDelay          time.Duration
	backoffMultiplier float64
	maxRetries        int
}

// DefaultPolicy возвращает политику по умолчанию: 5 попыток, 1s..30s, множитель 2
func DefaultPolicy() Policy {
	return Policy{
		maxRetries:        5,
		initialDelay:      time.Second,
		maxDelay:          30 * time.Second,
		backoffMultiplier: 2.0,
	}
}

// NewPolicy создает политику и проверяет параметры
func NewPolicy(maxRetries int, initialDelay, maxDelay time.Duration, multiplier float64) (Policy, error) {
	if maxRetries < 1 {
		return Policy{}, fmt.Errorf("%w: max retries must be >= 1, got %d", ErrInvalidPolicy, maxRetries)
	}
	if initialDelay < time.Millisecond {
		return Policy{}, fmt.Errorf("%w: initial delay must be at least 1ms, got %s", ErrInvalidPolicy, initialDelay)
	}
	if maxDelay < initialDelay {
		return Policy{}, fmt.Errorf("%w: max delay %s is less than initial delay %s", ErrInvalidPolicy, maxDelay, initialDelay)
	}
	if multiplier < 1 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return Policy{}, fmt.Errorf("%w: backoff multiplier must be finite and >= 1, got %v", ErrInvalidPolicy, multiplier)
	}

	return Policy{
		maxRetries:        maxRetries,
		initialDelay:      initialDelay,
		maxDelay:          maxDelay,
		backoffMultiplier: multiplier,
	}, nil
}

// MaxRetries максимальное количество неудачных доставок одного изменения
func (p Policy) MaxRetries() int { return p.maxRetries }

// InitialDelay задержка перед первой повторной попыткой
func (p Policy) InitialDelay() time.Duration { return p.initialDelay }

// MaxDelay верхняя граница задержки
func (p Policy) MaxDelay() time.Duration { return p.maxDelay }

// BackoffMultiplier множитель роста задержки
func (p Policy) BackoffMultiplier() float64 { return p.backoffMultiplier }

// DelayForAttempt возвращает min(initialDelay * multiplier^n, maxDelay),
// округленное вниз до целых миллисекунд. Отрицательный n считается нулем.
func (p Policy) DelayForAttempt(n int) time.Duration {
	if n < 0 {
		n = 0
	}

	initialMs := float64(p.initialDelay.Milliseconds())
	maxMs := float64(p.maxDelay.Milliseconds())

	// Pow может вернуть +Inf для больших n - сравнение с maxMs это покрывает
	delayMs := initialMs * math.Pow(p.backoffMultiplier, float64(n))
	if math.IsNaN(delayMs) || delayMs > maxMs {
		delayMs = maxMs
	}

	return time.Duration(int64(delayMs)) * time.Millisecond
}

// IsRetryable сообщает, можно ли еще раз отправить изменение с данным retryCount
func (p Policy) IsRetryable(retryCount int) bool {
	return retryCount < p.maxRetries
}
