package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"healthmon/internal/domain"
	"healthmon/internal/repository"
	"healthmon/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserHandler 用户注册 / 健康数据提交 / 导出
type UserHandler struct {
	users   repository.UsersRepository
	gateway *service.SubmissionGateway
	logger  *zap.Logger
}

func NewUserHandler(users repository.UsersRepository, gateway *service.SubmissionGateway, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, gateway: gateway, logger: logger}
}

// Register POST /api/v1/users/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName     string   `json:"firstName"`
		LastName      string   `json:"lastName"`
		Email         string   `json:"email"`
		Age           int      `json:"age"`
		ContactNumber string   `json:"contactNumber"`
		Gender        string   `json:"gender"`
		Height        *float64 `json:"height"`
		Remind        bool     `json:"remind"`
	}
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("Invalid request body."))
		return
	}
	if req.FirstName == "" || req.LastName == "" || req.Email == "" ||
		req.Age <= 0 || req.ContactNumber == "" || req.Gender == "" || req.Height == nil {
		writeJSON(w, http.StatusBadRequest, Fail("All fields are required."))
		return
	}

	now := time.Now().UTC()
	user := &domain.User{
		UserID:        uuid.NewString(),
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Age:           req.Age,
		ContactNumber: req.ContactNumber,
		Gender:        req.Gender,
		HeightCM:      *req.Height,
		Remind:        req.Remind,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		h.logger.Error("Failed to register user", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("Internal server error."))
		return
	}

	writeJSON(w, http.StatusCreated, Ok("User registered.", map[string]any{
		"userId": user.UserID,
	}))
}

// Submit POST /api/v1/users/{userId}
// 提交网关直连入口：overlay 落库 + 分析 + 报告邮件。
func (h *UserHandler) Submit(w http.ResponseWriter, r *http.Request, userID string) {
	var reading domain.Reading
	if err := readBodyJSON(r, 1<<20, &reading); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("Invalid request body."))
		return
	}
	if reading.IsEmpty() {
		writeJSON(w, http.StatusBadRequest, Fail("No data provided."))
		return
	}

	analysisText, err := h.gateway.Submit(r.Context(), userID, reading)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			writeJSON(w, http.StatusNotFound, Fail("User not found."))
		default:
			// 分析失败 / 落库失败：对外只给通用错误，不泄漏内部细节
			h.logger.Error("Submission failed",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			writeJSON(w, http.StatusInternalServerError, Fail("Internal server error."))
		}
		return
	}

	writeJSON(w, http.StatusOK, Ok("User updated.", map[string]any{
		"analysis": analysisText,
	}))
}

// Export GET /api/v1/users/export
// 导出注册用户及当前健康状态为 Excel
func (h *UserHandler) Export(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list users for export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("Internal server error."))
		return
	}

	data, err := GenerateUsersExport(users)
	if err != nil {
		h.logger.Error("Failed to generate export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("Internal server error."))
		return
	}

	filename := fmt.Sprintf("users-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
