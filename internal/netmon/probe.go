package netmon

import (
	"context"
	"log/slog"
	"time"

	"github.com/iudanet/offsync/pkg/api"
)

//go:generate moq -out prober_mock.go . Prober

// Prober проверяет доступность сервера
type Prober interface {
	Health(ctx context.Context) (*api.HealthResponse, error)
}

// ProbeMonitor опрашивает health endpoint сервера с заданным интервалом
type ProbeMonitor struct {
	*hub
	prober   Prober
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

var _ Monitor = (*ProbeMonitor)(nil)

// NewProbeMonitor создает монитор; до первой проверки сеть считается недоступной
func NewProbeMonitor(prober Prober, interval, timeout time.Duration, logger *slog.Logger) *ProbeMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &ProbeMonitor{
		hub:      newHub(false),
		prober:   prober,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// Check выполняет одну проверку и возвращает полученное состояние
func (m *ProbeMonitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.prober.Health(probeCtx)
	available := err == nil

	if m.set(available) {
		if available {
			m.logger.Info("Sync server is reachable")
		} else {
			m.logger.Warn("Sync server is unreachable", "error", err)
		}
	}
	return available
}

// Run опрашивает сервер до отмены ctx
func (m *ProbeMonitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
