package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/iudanet/offsync/internal/server/storage"
	"github.com/iudanet/offsync/pkg/api"
)

const (
	// DefaultMaxBatch максимальное число изменений в одном запросе
	DefaultMaxBatch = 1000
	// DefaultRemoteLimit максимальное число удаленных изменений в ответе
	DefaultRemoteLimit = 1000

	maxBodyBytes = 16 << 20
)

// SyncHandler handles synchronization requests
type SyncHandler struct {
	logger      *slog.Logger
	storage     storage.SyncStorage
	maxBatch    int
	remoteLimit int
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, storage storage.SyncStorage, maxBatch, remoteLimit int) *SyncHandler {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if remoteLimit <= 0 {
		remoteLimit = DefaultRemoteLimit
	}
	return &SyncHandler{
		logger:      logger,
		storage:     storage,
		maxBatch:    maxBatch,
		remoteLimit: remoteLimit,
	}
}

// HandleSync обрабатывает POST /api/v1/sync.
// Принимает пакет изменений устройства и возвращает конфликты и изменения других устройств.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// user_id и device_id установлены AuthMiddleware
	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		SendError(h.logger, w, "missing identity", http.StatusUnauthorized)
		return
	}
	deviceID, ok := GetDeviceID(ctx)
	if !ok {
		h.logger.Error("Device ID not found in context")
		SendError(h.logger, w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req api.SyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode sync request", "error", err)
		SendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID != userID || req.DeviceID != deviceID {
		h.logger.Warn("Sync request identity mismatch",
			"user_id", userID,
			"device_id", deviceID,
			"request_user_id", req.UserID,
			"request_device_id", req.DeviceID)
		SendError(h.logger, w, "request identity does not match token", http.StatusForbidden)
		return
	}

	if len(req.Changes) > h.maxBatch {
		SendError(h.logger, w, fmt.Sprintf("batch exceeds %d changes", h.maxBatch), http.StatusRequestEntityTooLarge)
		return
	}

	for i, c := range req.Changes {
		if c.UserID != userID || c.DeviceID != deviceID {
			h.logger.Warn("Change identity mismatch", "change_id", c.ID, "index", i)
			SendError(h.logger, w, fmt.Sprintf("change %d: identity mismatch", i), http.StatusForbidden)
			return
		}
	}

	h.logger.Info("Sync request",
		"user_id", userID,
		"device_id", deviceID,
		"since", req.LastSyncTimestamp,
		"changes_count", len(req.Changes))

	result, err := h.storage.ApplyChanges(ctx, userID, req.Changes)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidChange) {
			h.logger.Warn("Rejected sync batch", "user_id", userID, "error", err)
			SendError(h.logger, w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("Failed to apply changes", "error", err, "user_id", userID)
		SendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	// запрашиваем на одно больше, чтобы понять, обрезан ли ответ
	stored, err := h.storage.ChangesSince(ctx, userID, deviceID, req.LastSyncTimestamp, h.remoteLimit+1)
	if err != nil {
		h.logger.Error("Failed to load remote changes", "error", err, "user_id", userID)
		SendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := buildResponse(result, stored, h.remoteLimit)
	sendJSON(h.logger, w, resp, http.StatusOK)

	h.logger.Info("Sync completed",
		"user_id", userID,
		"device_id", deviceID,
		"applied", resp.AppliedChanges,
		"conflicts", len(resp.Conflicts),
		"remote_changes", len(resp.RemoteChanges),
		"server_timestamp", resp.ServerTimestamp)
}

// buildResponse собирает ответ. Если удаленных изменений больше лимита,
// watermark ставится на последнее отданное, остальные клиент получит в следующем цикле.
func buildResponse(result *storage.BatchResult, stored []storage.StoredChange, limit int) *api.SyncResponse {
	truncated := len(stored) > limit
	if truncated {
		stored = stored[:limit]
	}

	remote := make([]api.Change, 0, len(stored))
	for _, c := range stored {
		remote = append(remote, c.Change)
	}

	conflicts := result.Conflicts
	if conflicts == nil {
		conflicts = []api.Conflict{}
	}

	watermark := result.ServerTimestamp
	if n := len(stored); n > 0 {
		last := stored[n-1].ServerTS
		if truncated || last > watermark {
			watermark = last
		}
	}

	return &api.SyncResponse{
		Success:         true,
		Conflicts:       conflicts,
		RemoteChanges:   remote,
		AppliedChanges:  result.Applied,
		ServerTimestamp: watermark,
	}
}
