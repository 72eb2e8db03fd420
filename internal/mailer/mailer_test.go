package mailer_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"healthmon/internal/domain"
	"healthmon/internal/mailer"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// slowSender 在 release 关闭前阻塞，发送计数用原子量
type slowSender struct {
	release chan struct{}
	sent    int32
}

func (s *slowSender) SendEmail(_ context.Context, _, _, _ string) error {
	if s.release != nil {
		<-s.release
	}
	atomic.AddInt32(&s.sent, 1)
	return nil
}

func TestDispatcherCloseWaitsForInFlightEmails(t *testing.T) {
	sender := &slowSender{release: make(chan struct{})}
	d := mailer.NewDispatcher(sender, zap.NewNop())

	user := &domain.User{FirstName: "Ana", LastName: "Reyes", Email: "ana@example.com"}
	d.DispatchReport(user, "all good")
	d.DispatchReminder(user)

	// 发送中：Close 必须等到两封都发完
	close(sender.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	require.Equal(t, int32(2), atomic.LoadInt32(&sender.sent))
}

func TestDispatcherCloseGivesUpOnDeadline(t *testing.T) {
	sender := &slowSender{release: make(chan struct{})}
	d := mailer.NewDispatcher(sender, zap.NewNop())

	d.DispatchReport(&domain.User{FirstName: "Ana", Email: "ana@example.com"}, "all good")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	close(sender.release) // 别让 goroutine 泄漏到其他测试
}
