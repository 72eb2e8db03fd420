package service

import (
	"context"
	"fmt"

	"healthmon/internal/mailer"
	"healthmon/internal/repository"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ReminderJob 月度健康检查提醒任务。
// 扫描开启 remind 的用户并逐个发送提醒邮件；单个用户失败只记录日志，
// 扫描继续。
type ReminderJob struct {
	users  repository.UsersRepository
	mail   *mailer.Dispatcher
	spec   string
	cron   *cron.Cron
	logger *zap.Logger
}

// NewReminderJob 创建提醒任务。spec 为 cron 表达式（默认每月1日 09:00）。
func NewReminderJob(
	users repository.UsersRepository,
	mail *mailer.Dispatcher,
	spec string,
	logger *zap.Logger,
) *ReminderJob {
	return &ReminderJob{
		users:  users,
		mail:   mail,
		spec:   spec,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start 注册并启动定时调度
func (j *ReminderJob) Start() error {
	if _, err := j.cron.AddFunc(j.spec, func() {
		j.Run(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule reminder job: %w", err)
	}
	j.cron.Start()
	j.logger.Info("Reminder job scheduled", zap.String("spec", j.spec))
	return nil
}

// Stop 停止调度（等待正在执行的任务结束）
func (j *ReminderJob) Stop() {
	<-j.cron.Stop().Done()
}

// Run 执行一次提醒扫描
func (j *ReminderJob) Run(ctx context.Context) {
	users, err := j.users.ListReminderEnabled(ctx)
	if err != nil {
		j.logger.Error("Failed to list reminder-enabled users", zap.Error(err))
		return
	}

	sent := 0
	for i := range users {
		user := users[i]
		if user.Email == "" {
			continue
		}
		j.mail.DispatchReminder(&user)
		sent++
	}
	j.logger.Info("Monthly reminder scan finished",
		zap.Int("users", len(users)),
		zap.Int("dispatched", sent),
	)
}
