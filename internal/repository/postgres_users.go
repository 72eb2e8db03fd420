package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"healthmon/internal/domain"

	"go.uber.org/zap"
)

// PostgresUsersRepository 用户Repository实现（users 表 + health_status JSONB）
type PostgresUsersRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresUsersRepository 创建用户Repository
func NewPostgresUsersRepository(db *sql.DB, logger *zap.Logger) *PostgresUsersRepository {
	return &PostgresUsersRepository{db: db, logger: logger}
}

// 确保实现了接口
var _ UsersRepository = (*PostgresUsersRepository)(nil)

const userColumns = `
	user_id::text,
	first_name,
	last_name,
	email,
	age,
	contact_number,
	gender,
	height_cm,
	remind,
	health_status::text,
	created_at,
	updated_at
`

// Create 写入新注册用户（health_status 初始为空子文档）
func (r *PostgresUsersRepository) Create(ctx context.Context, user *domain.User) error {
	statusJSON, err := json.Marshal(user.HealthStatus)
	if err != nil {
		return fmt.Errorf("failed to marshal health status: %w", err)
	}

	query := `
		INSERT INTO users (
			user_id, first_name, last_name, email, age, contact_number,
			gender, height_cm, remind, health_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`
	_, err = r.db.ExecContext(ctx, query,
		user.UserID,
		user.FirstName,
		user.LastName,
		user.Email,
		user.Age,
		user.ContactNumber,
		user.Gender,
		user.HeightCM,
		user.Remind,
		statusJSON,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetByID 按 user_id 获取用户
func (r *PostgresUsersRepository) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// List 获取全部用户
func (r *PostgresUsersRepository) List(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at`
	return r.queryUsers(ctx, query)
}

// ListReminderEnabled 获取开启月度提醒的用户（月度提醒任务扫描用）
func (r *PostgresUsersRepository) ListReminderEnabled(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE remind = TRUE ORDER BY created_at`
	return r.queryUsers(ctx, query)
}

// UpdateHealthStatus 在行锁内对 health_status 做字段级 overlay 后覆盖写回。
// 同一用户的并发提交通过 SELECT ... FOR UPDATE 串行化，避免丢失更新。
func (r *PostgresUsersRepository) UpdateHealthStatus(
	ctx context.Context,
	userID string,
	apply func(current domain.HealthStatus) domain.HealthStatus,
) (*domain.HealthStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var statusText string
	err = tx.QueryRowContext(ctx,
		`SELECT health_status::text FROM users WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&statusText)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock user row: %w", err)
	}

	var current domain.HealthStatus
	if statusText != "" {
		if err := json.Unmarshal([]byte(statusText), &current); err != nil {
			return nil, fmt.Errorf("failed to unmarshal health status: %w", err)
		}
	}

	updated := apply(current)
	updatedJSON, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal health status: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET health_status = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, updatedJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update health status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &updated, nil
}

func (r *PostgresUsersRepository) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	var statusText sql.NullString
	err := row.Scan(
		&user.UserID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.Age,
		&user.ContactNumber,
		&user.Gender,
		&user.HeightCM,
		&user.Remind,
		&statusText,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if statusText.Valid && statusText.String != "" {
		if err := json.Unmarshal([]byte(statusText.String), &user.HealthStatus); err != nil {
			return nil, fmt.Errorf("failed to unmarshal health status: %w", err)
		}
	}
	return &user, nil
}
