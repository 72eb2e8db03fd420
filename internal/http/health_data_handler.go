package httpapi

import (
	"net/http"
	"time"

	"healthmon/internal/domain"
	"healthmon/internal/realtime"

	"go.uber.org/zap"
)

// HealthDataHandler 设备原始读数接收（中继到实时通道，不落库）
type HealthDataHandler struct {
	channel *realtime.Channel
	logger  *zap.Logger
}

func NewHealthDataHandler(channel *realtime.Channel, logger *zap.Logger) *HealthDataHandler {
	return &HealthDataHandler{channel: channel, logger: logger}
}

// Ingest POST /api/v1/health-data/raw
// 体重走 healthData/weight 路径；心率+SpO2 成对走 healthData/vitals 路径。
// 两者都带了就两条路径都发。
func (h *HealthDataHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req domain.Reading
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("Invalid request body."))
		return
	}
	if req.IsEmpty() {
		writeJSON(w, http.StatusBadRequest, Fail("No data provided."))
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	published := map[string]any{}

	if req.Weight != nil {
		payload := domain.WeightUpdate{Weight: *req.Weight, Timestamp: now}
		if err := h.channel.Publish(r.Context(), realtime.PathWeight, payload); err != nil {
			h.logger.Error("Failed to publish weight", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, Fail("Internal server error."))
			return
		}
		published["weight"] = *req.Weight
	}

	if req.HeartRate != nil && req.SpO2 != nil {
		payload := domain.VitalsUpdate{HeartRate: *req.HeartRate, SpO2: *req.SpO2, Timestamp: now}
		if err := h.channel.Publish(r.Context(), realtime.PathVitals, payload); err != nil {
			h.logger.Error("Failed to publish vitals", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, Fail("Internal server error."))
			return
		}
		published["heartRate"] = *req.HeartRate
		published["SpO2"] = *req.SpO2
	}

	if len(published) == 0 {
		// 只带了心率或只带了SpO2：成不了 vitals 整值消息
		writeJSON(w, http.StatusBadRequest, Fail("Invalid data. Provide heart rate and SpO2 together, or weight."))
		return
	}

	writeJSON(w, http.StatusOK, Ok("Health data received.", published))
}
