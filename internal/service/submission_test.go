package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"healthmon/internal/domain"
	"healthmon/internal/mailer"
	"healthmon/internal/repository"
	"healthmon/internal/service"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeUsersRepo 内存用户仓库（单元测试替身）
type fakeUsersRepo struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	updateErr error
	updates   int
}

var _ repository.UsersRepository = (*fakeUsersRepo)(nil)

func newFakeUsersRepo(users ...*domain.User) *fakeUsersRepo {
	r := &fakeUsersRepo{users: make(map[string]*domain.User)}
	for _, u := range users {
		r.users[u.UserID] = u
	}
	return r
}

func (r *fakeUsersRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.UserID] = user
	return nil
}

func (r *fakeUsersRepo) GetByID(_ context.Context, userID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *fakeUsersRepo) List(_ context.Context) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out, nil
}

func (r *fakeUsersRepo) ListReminderEnabled(_ context.Context) ([]domain.User, error) {
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

func (r *fakeUsersRepo) UpdateHealthStatus(
	_ context.Context,
	userID string,
	apply func(current domain.HealthStatus) domain.HealthStatus,
) (*domain.HealthStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	u, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u.HealthStatus = apply(u.HealthStatus)
	u.UpdatedAt = time.Now()
	r.updates++
	return &u.HealthStatus, nil
}

func (r *fakeUsersRepo) status(userID string) domain.HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[userID].HealthStatus
}

func (r *fakeUsersRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

// fakeAnalyzer 分析客户端替身
type fakeAnalyzer struct {
	err  error
	text string
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ domain.Reading) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return a.text, nil
}

// mockEmailSender 记录发送调用的邮件替身
type mockEmailSender struct {
	mu         sync.Mutex
	calls      []string // recipient
	shouldFail bool
}

func (m *mockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, to)
	if m.shouldFail {
		return errors.New("smtp connection refused")
	}
	return nil
}

func (m *mockEmailSender) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func f64(v float64) *float64 { return &v }

func testUser() *domain.User {
	return &domain.User{
		UserID:    "u1",
		FirstName: "Ana",
		LastName:  "Reyes",
		Email:     "ana@example.com",
		HeightCM:  165,
		Remind:    true,
		HealthStatus: domain.HealthStatus{
			Weight: f64(70),
		},
	}
}

func TestSubmissionGateway_OverlayPreservesStoredMetrics(t *testing.T) {
	repo := newFakeUsersRepo(testUser())
	sender := &mockEmailSender{}
	gateway := service.NewSubmissionGateway(
		repo,
		&fakeAnalyzer{text: "looks healthy"},
		mailer.NewDispatcher(sender, zap.NewNop()),
		zap.NewNop(),
	)

	// 库里 weight=70，本次只带 heartRate+SpO2
	analysis, err := gateway.Submit(context.Background(), "u1", domain.Reading{
		HeartRate: f64(72),
		SpO2:      f64(98),
	})
	require.NoError(t, err)
	require.Equal(t, "looks healthy", analysis)

	status := repo.status("u1")
	require.Equal(t, 72.0, *status.HeartRate)
	require.Equal(t, 98.0, *status.SpO2)
	require.Equal(t, 70.0, *status.Weight) // 未提交的指标保持原值
	require.Equal(t, "looks healthy", *status.LastAnalysis)

	// 报告邮件异步送达
	require.Eventually(t, func() bool {
		return len(sender.sentTo()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "ana@example.com", sender.sentTo()[0])
}

func TestSubmissionGateway_BMIRecomputedFromHeight(t *testing.T) {
	repo := newFakeUsersRepo(testUser())
	gateway := service.NewSubmissionGateway(
		repo,
		&fakeAnalyzer{text: "ok"},
		mailer.NewDispatcher(&mockEmailSender{}, zap.NewNop()),
		zap.NewNop(),
	)

	_, err := gateway.Submit(context.Background(), "u1", domain.Reading{Weight: f64(68)})
	require.NoError(t, err)

	status := repo.status("u1")
	require.Equal(t, 68.0, *status.Weight)
	// 68 / 1.65^2 = 24.98
	require.InDelta(t, 24.98, *status.BMI, 0.01)
}

func TestSubmissionGateway_NotFoundPerformsNoMutation(t *testing.T) {
	repo := newFakeUsersRepo(testUser())
	gateway := service.NewSubmissionGateway(
		repo,
		&fakeAnalyzer{text: "ok"},
		mailer.NewDispatcher(&mockEmailSender{}, zap.NewNop()),
		zap.NewNop(),
	)

	_, err := gateway.Submit(context.Background(), "nobody", domain.Reading{HeartRate: f64(72)})
	require.ErrorIs(t, err, service.ErrNotFound)
	require.Equal(t, 0, repo.updateCount())
}

func TestSubmissionGateway_AnalysisFailureLeavesStoreUnchanged(t *testing.T) {
	repo := newFakeUsersRepo(testUser())
	sender := &mockEmailSender{}
	gateway := service.NewSubmissionGateway(
		repo,
		&fakeAnalyzer{err: errors.New("model timed out")},
		mailer.NewDispatcher(sender, zap.NewNop()),
		zap.NewNop(),
	)

	_, err := gateway.Submit(context.Background(), "u1", domain.Reading{
		HeartRate: f64(72), SpO2: f64(98), Weight: f64(70),
	})
	require.ErrorIs(t, err, service.ErrAnalysisUnavailable)

	// 不做任何部分落库
	require.Equal(t, 0, repo.updateCount())
	status := repo.status("u1")
	require.Nil(t, status.HeartRate)
	require.Equal(t, 70.0, *status.Weight)
	require.Empty(t, sender.sentTo())
}

func TestSubmissionGateway_PersistenceFailure(t *testing.T) {
	repo := newFakeUsersRepo(testUser())
	repo.updateErr = errors.New("connection reset")
	gateway := service.NewSubmissionGateway(
		repo,
		&fakeAnalyzer{text: "ok"},
		mailer.NewDispatcher(&mockEmailSender{}, zap.NewNop()),
		zap.NewNop(),
	)

	_, err := gateway.Submit(context.Background(), "u1", domain.Reading{HeartRate: f64(72)})
	require.ErrorIs(t, err, service.ErrPersistenceFailure)
}

func TestSubmissionGateway_EmailFailureStillReportsSuccess(t *testing.T) {
	repo := newFakeUsersRepo(testUser())
	sender := &mockEmailSender{shouldFail: true}
	gateway := service.NewSubmissionGateway(
		repo,
		&fakeAnalyzer{text: "ok"},
		mailer.NewDispatcher(sender, zap.NewNop()),
		zap.NewNop(),
	)

	// 持久化是事务边界，邮件只是 best-effort
	_, err := gateway.Submit(context.Background(), "u1", domain.Reading{HeartRate: f64(72)})
	require.NoError(t, err)
	require.Equal(t, 1, repo.updateCount())

	require.Eventually(t, func() bool {
		return len(sender.sentTo()) == 1
	}, time.Second, 5*time.Millisecond)
}
