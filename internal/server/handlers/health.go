package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/offsync/pkg/api"
)

// Pinger проверяет доступность хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger *slog.Logger
	db     Pinger
	now    func() time.Time
}

// NewHealthHandler создает новый handler для health check
func NewHealthHandler(logger *slog.Logger, db Pinger) *HealthHandler {
	return &HealthHandler{
		logger: logger,
		db:     db,
		now:    time.Now,
	}
}

// Health обрабатывает GET /api/v1/health.
// Клиенты используют его как probe доступности сервера.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error("Health check failed", slog.Any("error", err))
		SendError(h.logger, w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	sendJSON(h.logger, w, api.HealthResponse{
		Status:    "ok",
		Timestamp: h.now().UnixMilli(),
	}, http.StatusOK)
}
