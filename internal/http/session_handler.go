package httpapi

import (
	"errors"
	"net/http"

	"healthmon/internal/aggregator"
	"healthmon/internal/repository"

	"go.uber.org/zap"
)

// SessionHandler 监测会话管理（dashboard 启停/状态/重试）
type SessionHandler struct {
	users    repository.UsersRepository
	sessions *aggregator.Manager
	logger   *zap.Logger
}

func NewSessionHandler(users repository.UsersRepository, sessions *aggregator.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{users: users, sessions: sessions, logger: logger}
}

// Start POST /api/v1/sessions {userId}
// 幂等：已在监测中的用户返回现有会话状态。
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := readBodyJSON(r, 1<<20, &req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("User ID is required."))
		return
	}

	// 未注册的用户不开会话
	if _, err := h.users.GetByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("User not found."))
			return
		}
		h.logger.Error("Failed to look up user", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("Internal server error."))
		return
	}

	// 会话生命周期不绑定本次请求，挂在进程级 context 上（manager 内部持有）
	session, err := h.sessions.Start(req.UserID)
	if err != nil {
		h.logger.Error("Failed to start session",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("Internal server error."))
		return
	}

	writeJSON(w, http.StatusOK, Ok("Monitoring session started.", session.Aggregator().View()))
}

// Get GET /api/v1/sessions/{userId}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request, userID string) {
	session, ok := h.sessions.Get(userID)
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("Session not found."))
		return
	}
	data := map[string]any{
		"aggregator":   session.Aggregator().View(),
		"deviceStatus": session.DeviceStatus(),
	}
	writeJSON(w, http.StatusOK, Ok("Session state.", data))
}

// Retry POST /api/v1/sessions/{userId}/retry
// 用失败时捕获的读数重新提交。
func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request, userID string) {
	session, ok := h.sessions.Get(userID)
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("Session not found."))
		return
	}
	if err := session.Aggregator().Retry(); err != nil {
		writeJSON(w, http.StatusConflict, Fail("No failed submission to retry."))
		return
	}
	writeJSON(w, http.StatusOK, Ok("Retrying submission.", session.Aggregator().View()))
}

// Stop DELETE /api/v1/sessions/{userId}
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request, userID string) {
	if err := h.sessions.Stop(userID); err != nil {
		writeJSON(w, http.StatusNotFound, Fail("Session not found."))
		return
	}
	writeJSON(w, http.StatusOK, Ok("Monitoring session stopped.", nil))
}
