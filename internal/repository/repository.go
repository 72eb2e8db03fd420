package repository

import (
	"context"
	"errors"

	"healthmon/internal/domain"
)

// ErrNotFound 用户不存在
var ErrNotFound = errors.New("user not found")

// UsersRepository 用户持久化接口
type UsersRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, userID string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	ListReminderEnabled(ctx context.Context) ([]domain.User, error)
	// UpdateHealthStatus 覆盖写入当前健康状态（整个 JSONB 子文档），
	// 字段级 overlay 由调用方在行锁内完成。
	UpdateHealthStatus(ctx context.Context, userID string, apply func(current domain.HealthStatus) domain.HealthStatus) (*domain.HealthStatus, error)
}
