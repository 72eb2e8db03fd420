package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"healthmon/internal/analysis"
	"healthmon/internal/domain"
	"healthmon/internal/mailer"
	"healthmon/internal/repository"

	"go.uber.org/zap"
)

// 提交网关错误分类（调用方据此映射 HTTP 状态码 / 聚合器 Failed 态）
var (
	ErrNotFound            = errors.New("user not found")
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
	ErrPersistenceFailure  = errors.New("persistence failure")
)

// SubmissionGateway 把一次聚合完成的读数落库、分析并通知用户。
//
// 事务边界是持久化：分析失败则整个提交失败，存储不发生任何变化；
// 邮件发送是 best-effort，失败只记录日志，不影响已报告的结果。
type SubmissionGateway struct {
	users    repository.UsersRepository
	analyzer analysis.Analyzer
	mail     *mailer.Dispatcher
	logger   *zap.Logger

	// 同一用户的并发提交串行化，避免 overlay 互相覆盖
	locks sync.Map // userID -> *sync.Mutex
}

// NewSubmissionGateway 创建提交网关
func NewSubmissionGateway(
	users repository.UsersRepository,
	analyzer analysis.Analyzer,
	mail *mailer.Dispatcher,
	logger *zap.Logger,
) *SubmissionGateway {
	return &SubmissionGateway{
		users:    users,
		analyzer: analyzer,
		mail:     mail,
		logger:   logger,
	}
}

// Submit 执行一次提交，成功时返回分析文本。
//
// 顺序：查用户 -> 调分析 -> 行锁内 overlay 落库 -> 返回成功 -> 异步发报告邮件。
// 缺失的输入字段保留已存储的值，绝不清空既有指标。
func (g *SubmissionGateway) Submit(ctx context.Context, userID string, reading domain.Reading) (string, error) {
	user, err := g.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	// 分析不是可选项：失败则中止整个提交，不做任何落库
	analysisText, err := g.analyzer.Analyze(ctx, reading)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}

	lock := g.userLock(userID)
	lock.Lock()
	_, err = g.users.UpdateHealthStatus(ctx, userID, func(current domain.HealthStatus) domain.HealthStatus {
		return current.Overlay(reading, user.HeightCM, &analysisText)
	})
	lock.Unlock()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	g.logger.Info("Health status updated",
		zap.String("user_id", userID),
	)

	// 通知是 best-effort：落库成功后结果已定，邮件失败只记日志
	g.mail.DispatchReport(user, analysisText)

	return analysisText, nil
}

func (g *SubmissionGateway) userLock(userID string) *sync.Mutex {
	v, _ := g.locks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}
