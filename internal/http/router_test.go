package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"healthmon/internal/aggregator"
	"healthmon/internal/domain"
	httpapi "healthmon/internal/http"
	"healthmon/internal/mailer"
	"healthmon/internal/realtime"
	"healthmon/internal/repository"
	"healthmon/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAPIKey = "test-api-key"

// memUsers 内存用户仓库（handler 测试替身）
type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

var _ repository.UsersRepository = (*memUsers)(nil)

func newMemUsers(users ...*domain.User) *memUsers {
	r := &memUsers{users: make(map[string]*domain.User)}
	for _, u := range users {
		r.users[u.UserID] = u
	}
	return r
}

func (r *memUsers) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.UserID] = user
	return nil
}

func (r *memUsers) GetByID(_ context.Context, userID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *memUsers) List(_ context.Context) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out, nil
}

func (r *memUsers) ListReminderEnabled(_ context.Context) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.User
	for _, u := range r.users {
		if u.Remind {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (r *memUsers) UpdateHealthStatus(
	_ context.Context,
	userID string,
	apply func(current domain.HealthStatus) domain.HealthStatus,
) (*domain.HealthStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u.HealthStatus = apply(u.HealthStatus)
	return &u.HealthStatus, nil
}

type stubAnalyzer struct {
	err error
}

func (a *stubAnalyzer) Analyze(_ context.Context, _ domain.Reading) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "all vitals within normal range", nil
}

type nopSender struct{}

func (nopSender) SendEmail(_ context.Context, _, _, _ string) error { return nil }

type testEnv struct {
	router  *httpapi.Router
	users   *memUsers
	channel *realtime.Channel
}

func newTestEnv(t *testing.T, analyzerErr error, seed ...*domain.User) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	channel := realtime.NewChannel(client, logger)

	users := newMemUsers(seed...)
	dispatcher := mailer.NewDispatcher(nopSender{}, logger)
	gateway := service.NewSubmissionGateway(users, &stubAnalyzer{err: analyzerErr}, dispatcher, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sessions := aggregator.NewManager(ctx, channel, gateway, logger)
	t.Cleanup(sessions.StopAll)

	router := httpapi.NewRouter(testAPIKey, logger)
	router.RegisterRoutes(
		httpapi.NewDeviceHandler(channel, logger),
		httpapi.NewHealthDataHandler(channel, logger),
		httpapi.NewUserHandler(users, gateway, logger),
		httpapi.NewSessionHandler(users, sessions, logger),
	)
	return &testEnv{router: router, users: users, channel: channel}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) httpapi.Response {
	t.Helper()
	var resp httpapi.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWelcomeRequiresNoAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)
	require.Equal(t, "Welcome to the Health Monitoring API!", resp.Message)
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/devices/status", nil, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Unauthorized. Missing Authorization header.", decodeResponse(t, rec).Message)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Unauthorized. Invalid token.", decodeResponse(t, rec).Message)
}

func TestDeviceStatusUpdate(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/devices/status",
		map[string]string{"deviceId": "esp32-01"}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Device ID and status are required.", decodeResponse(t, rec).Message)

	rec = env.do(t, http.MethodPost, "/api/v1/devices/status",
		map[string]string{"deviceId": "esp32-01", "status": "online"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeResponse(t, rec).Success)

	// 整值存入实时通道，可回读
	data, err := env.channel.Get(context.Background(), realtime.PathDeviceStatus)
	require.NoError(t, err)
	var status domain.DeviceStatus
	require.NoError(t, json.Unmarshal(data, &status))
	require.Equal(t, "esp32-01", status.DeviceID)
	require.Equal(t, "online", status.Status)
}

func TestDeviceStatusRejectsGet(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/devices/status", nil, true)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthDataIngestRouting(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/health-data/raw", map[string]any{}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "No data provided.", decodeResponse(t, rec).Message)

	// 只有心率，成不了 vitals 整值消息
	rec = env.do(t, http.MethodPost, "/api/v1/health-data/raw",
		map[string]any{"heartRate": 72}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/health-data/raw",
		map[string]any{"heartRate": 72, "SpO2": 98}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	data, err := env.channel.Get(context.Background(), realtime.PathVitals)
	require.NoError(t, err)
	var vitals domain.VitalsUpdate
	require.NoError(t, json.Unmarshal(data, &vitals))
	require.Equal(t, 72.0, vitals.HeartRate)
	require.Equal(t, 98.0, vitals.SpO2)

	rec = env.do(t, http.MethodPost, "/api/v1/health-data/raw",
		map[string]any{"weight": 70}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	data, err = env.channel.Get(context.Background(), realtime.PathWeight)
	require.NoError(t, err)
	var weight domain.WeightUpdate
	require.NoError(t, json.Unmarshal(data, &weight))
	require.Equal(t, 70.0, weight.Weight)
}

func TestRegisterUser(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/users/register",
		map[string]any{"firstName": "Ana"}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "All fields are required.", decodeResponse(t, rec).Message)

	rec = env.do(t, http.MethodPost, "/api/v1/users/register", map[string]any{
		"firstName":     "Ana",
		"lastName":      "Reyes",
		"email":         "ana@example.com",
		"age":           34,
		"contactNumber": "09171234567",
		"gender":        "female",
		"height":        165,
		"remind":        true,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)
	userID := resp.Data.(map[string]any)["userId"].(string)
	require.NotEmpty(t, userID)

	user, err := env.users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, "Ana", user.FirstName)
	require.Equal(t, 165.0, user.HeightCM)
	require.True(t, user.Remind)
}

func TestSubmitHealthData(t *testing.T) {
	seed := &domain.User{UserID: "u1", FirstName: "Ana", Email: "ana@example.com", HeightCM: 165}
	env := newTestEnv(t, nil, seed)

	rec := env.do(t, http.MethodPost, "/api/v1/users/nobody",
		map[string]any{"heartRate": 72}, true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "User not found.", decodeResponse(t, rec).Message)

	rec = env.do(t, http.MethodPost, "/api/v1/users/u1", map[string]any{}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/users/u1",
		map[string]any{"heartRate": 72, "SpO2": 98, "weight": 70}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	require.Equal(t, "User updated.", resp.Message)
	require.Equal(t, "all vitals within normal range", resp.Data.(map[string]any)["analysis"])

	user, err := env.users.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 72.0, *user.HealthStatus.HeartRate)
}

func TestSubmitAnalysisFailureReturnsGenericError(t *testing.T) {
	seed := &domain.User{UserID: "u1", FirstName: "Ana", Email: "ana@example.com"}
	env := newTestEnv(t, errors.New("model timed out"), seed)

	rec := env.do(t, http.MethodPost, "/api/v1/users/u1",
		map[string]any{"heartRate": 72}, true)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "Internal server error.", decodeResponse(t, rec).Message)

	// 存储无任何变更
	user, err := env.users.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	require.Nil(t, user.HealthStatus.HeartRate)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	seed := &domain.User{UserID: "u1", FirstName: "Ana", Email: "ana@example.com"}
	env := newTestEnv(t, nil, seed)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions",
		map[string]string{"userId": "nobody"}, true)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions",
		map[string]string{"userId": "u1"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Monitoring session started.", decodeResponse(t, rec).Message)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/u1", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	// 没有失败的提交可重试
	rec = env.do(t, http.MethodPost, "/api/v1/sessions/u1/retry", nil, true)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "No failed submission to retry.", decodeResponse(t, rec).Message)

	rec = env.do(t, http.MethodDelete, "/api/v1/sessions/u1", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/u1", nil, true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsersExport(t *testing.T) {
	seed := &domain.User{
		UserID: "u1", FirstName: "Ana", LastName: "Reyes",
		Email: "ana@example.com", Age: 34, Gender: "female",
		HeightCM: 165, CreatedAt: time.Now().UTC(),
	}
	env := newTestEnv(t, nil, seed)

	rec := env.do(t, http.MethodGet, "/api/v1/users/export", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		rec.Header().Get("Content-Type"),
	)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	require.NotEmpty(t, rec.Body.Bytes())
}
