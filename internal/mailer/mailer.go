package mailer

import (
	"context"
	"fmt"
	"sync"

	"healthmon/internal/config"
	"healthmon/internal/domain"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// EmailSender 邮件发送接口（测试中可替换）
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPMailer 基于 SMTP 的实现
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

var _ EmailSender = (*SMTPMailer)(nil)

// NewSMTPMailer 创建 SMTP 发送器
func NewSMTPMailer(cfg *config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (m *SMTPMailer) SendEmail(_ context.Context, to, subject, htmlBody string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

// Dispatcher 异步邮件分发。通知是 best-effort：
// 发送失败只记录日志，绝不传播到触发它的请求。
// 关闭时 Close 有限等待在途邮件发完。
type Dispatcher struct {
	sender EmailSender
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewDispatcher 创建分发器
func NewDispatcher(sender EmailSender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, logger: logger}
}

// DispatchReport 异步发送健康分析报告邮件
func (d *Dispatcher) DispatchReport(user *domain.User, analysisText string) {
	subject := "Health Monitoring Update"
	body := reportBody(user, analysisText)
	d.dispatch(user.Email, subject, body)
}

// DispatchReminder 异步发送月度提醒邮件
func (d *Dispatcher) DispatchReminder(user *domain.User) {
	subject := "Monthly Health Check Reminder"
	body := reminderBody(user)
	d.dispatch(user.Email, subject, body)
}

// Close 等待在途邮件发送完成，ctx 到期则放弃等待。
// 只在进程关闭时调用。
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain in-flight emails: %w", ctx.Err())
	}
}

func (d *Dispatcher) dispatch(to, subject, body string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// fire-and-forget: 不绑定请求生命周期
		if err := d.sender.SendEmail(context.Background(), to, subject, body); err != nil {
			d.logger.Error("Failed to send email",
				zap.String("to", to),
				zap.String("subject", subject),
				zap.Error(err),
			)
			return
		}
		d.logger.Info("Email sent",
			zap.String("to", to),
			zap.String("subject", subject),
		)
	}()
}

func reportBody(user *domain.User, analysisText string) string {
	return fmt.Sprintf(`
		<h3>Hello %s %s,</h3>
		<p>Here is your latest health data analysis:</p>
		<pre style="background:#f4f4f4;padding:10px;border-radius:5px;">%s</pre>
		<p>Please continue to monitor your health regularly.</p>
		<p>Stay safe and healthy!</p>
		<br/>
		<p>&mdash; <strong>Health Monitoring Team</strong></p>
	`, user.FirstName, user.LastName, analysisText)
}

func reminderBody(user *domain.User) string {
	return fmt.Sprintf(
		"<p>Hello %s,</p>"+
			"<p>This is your monthly reminder from Health Monitoring to check and update your health data. "+
			"Please ensure you monitor your heart rate, SpO2, and weight regularly.</p>"+
			"<p>Stay healthy!</p>"+
			"<p>&mdash; Health Monitoring Team</p>",
		user.FirstName,
	)
}
