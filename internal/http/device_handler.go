package httpapi

import (
	"net/http"
	"time"

	"healthmon/internal/domain"
	"healthmon/internal/realtime"

	"go.uber.org/zap"
)

// DeviceHandler 设备状态上报
type DeviceHandler struct {
	channel *realtime.Channel
	logger  *zap.Logger
}

func NewDeviceHandler(channel *realtime.Channel, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{channel: channel, logger: logger}
}

// UpdateStatus POST /api/v1/devices/status
// 整值写入实时通道 deviceStatus 路径（last-write-wins，无历史）
func (h *DeviceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Status   string `json:"status"`
	}
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("Invalid request body."))
		return
	}
	if req.DeviceID == "" || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, Fail("Device ID and status are required."))
		return
	}

	payload := domain.DeviceStatus{
		DeviceID:  req.DeviceID,
		Status:    req.Status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.channel.Publish(r.Context(), realtime.PathDeviceStatus, payload); err != nil {
		h.logger.Error("Failed to publish device status", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("Internal server error."))
		return
	}

	writeJSON(w, http.StatusOK, Ok("Device status updated.", payload))
}
