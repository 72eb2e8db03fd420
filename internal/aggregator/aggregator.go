package aggregator

import (
	"context"
	"errors"
	"sync"
	"time"

	"healthmon/internal/domain"

	"go.uber.org/zap"
)

// Signal 读数信号类型
type Signal string

const (
	SignalHeartRate Signal = "heartRate"
	SignalSpO2      Signal = "spO2"
	SignalWeight    Signal = "weight"
)

// State 聚合器状态机状态
type State string

const (
	StateEmpty           State = "empty"
	StatePartial         State = "partial"
	StateCompletePending State = "complete-pending"
	StateSubmitting      State = "submitting"
	StateSubmitted       State = "submitted"
	StateFailed          State = "failed"
)

// ErrNotRetryable 当前状态不允许重试
var ErrNotRetryable = errors.New("no failed submission to retry")

// Submitter 提交网关接口（由 service.SubmissionGateway 实现）
type Submitter interface {
	Submit(ctx context.Context, userID string, reading domain.Reading) (string, error)
}

// Snapshot 当前监测周期的三个读数槽位
type Snapshot struct {
	HeartRate   *float64  `json:"heartRate"`
	SpO2        *float64  `json:"spO2"`
	Weight      *float64  `json:"weight"`
	HeartRateAt time.Time `json:"-"`
	SpO2At      time.Time `json:"-"`
	WeightAt    time.Time `json:"-"`
}

// Complete 三个槽位是否全部就位
func (s Snapshot) Complete() bool {
	return s.HeartRate != nil && s.SpO2 != nil && s.Weight != nil
}

// Reading 拷贝当前槽位值为一次提交读数
func (s Snapshot) Reading() domain.Reading {
	return domain.Reading{
		HeartRate: s.HeartRate,
		SpO2:      s.SpO2,
		Weight:    s.Weight,
	}
}

// Result 最近一次成功提交的结果（dashboard 展示用）
type Result struct {
	Reading     domain.Reading `json:"reading"`
	Analysis    string         `json:"analysis"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// Aggregator 单个监测周期的读数聚合器。
//
// 状态机：Empty/Partial -> CompletePending -> Submitting -> Submitted（成功后
// 自动 Reset 回 Empty）或 Failed（槽位保留，可 Retry）。
// 不完整->完整 的那次更新是唯一的触发边：进入 Submitting 的判定与槽位更新
// 在同一把锁内完成，密集交错的更新也只会触发一次提交。
// 提交进行中到达的更新按既定策略丢弃（只记录日志）。
type Aggregator struct {
	mu        sync.Mutex
	userID    string
	snapshot  Snapshot
	state     State
	pending   *domain.Reading // 触发时捕获的读数，Failed 后作为稳定的重试目标
	lastRes   *Result
	lastError string
	submitter Submitter
	ctx       context.Context
	logger    *zap.Logger
}

// New 创建聚合器。ctx 约束异步提交调用的生命周期。
func New(ctx context.Context, userID string, submitter Submitter, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		userID:    userID,
		state:     StateEmpty,
		submitter: submitter,
		ctx:       ctx,
		logger:    logger,
	}
}

// Observe 记录一个信号值，并在本次更新补齐三元组时触发一次提交。
func (a *Aggregator) Observe(signal Signal, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateSubmitting {
		// 既定策略：提交进行中的更新直接丢弃
		a.logger.Debug("Dropped update during in-flight submission",
			zap.String("user_id", a.userID),
			zap.String("signal", string(signal)),
			zap.Float64("value", value),
		)
		return
	}

	wasComplete := a.snapshot.Complete()
	now := time.Now()
	switch signal {
	case SignalHeartRate:
		a.snapshot.HeartRate = &value
		a.snapshot.HeartRateAt = now
	case SignalSpO2:
		a.snapshot.SpO2 = &value
		a.snapshot.SpO2At = now
	case SignalWeight:
		a.snapshot.Weight = &value
		a.snapshot.WeightAt = now
	default:
		a.logger.Warn("Unknown signal", zap.String("signal", string(signal)))
		return
	}

	if a.state == StateEmpty {
		a.state = StatePartial
	}

	// 唯一触发边：本次更新把快照从不完整推到完整
	if !wasComplete && a.snapshot.Complete() && a.state == StatePartial {
		a.state = StateCompletePending
		a.triggerLocked()
	}
}

// triggerLocked 捕获当前快照并启动异步提交。调用方必须持锁。
func (a *Aggregator) triggerLocked() {
	reading := a.snapshot.Reading()
	a.pending = &reading
	a.state = StateSubmitting

	a.logger.Info("Reading complete, submitting",
		zap.String("user_id", a.userID),
	)
	go a.submit(reading)
}

func (a *Aggregator) submit(reading domain.Reading) {
	analysis, err := a.submitter.Submit(a.ctx, a.userID, reading)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		a.state = StateFailed
		a.lastError = err.Error()
		a.logger.Error("Submission failed, readings kept for retry",
			zap.String("user_id", a.userID),
			zap.Error(err),
		)
		return
	}

	a.state = StateSubmitted
	a.lastRes = &Result{
		Reading:     reading,
		Analysis:    analysis,
		SubmittedAt: time.Now(),
	}
	a.lastError = ""
	a.logger.Info("Submission succeeded, starting next cycle",
		zap.String("user_id", a.userID),
	)
	// 成功后立即清空快照，开始下一个监测周期
	a.resetLocked()
}

// Retry 用失败时捕获的读数重新提交（不读取可能已变化的实时槽位）。
func (a *Aggregator) Retry() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateFailed || a.pending == nil {
		return ErrNotRetryable
	}
	reading := *a.pending
	a.state = StateSubmitting
	a.logger.Info("Retrying failed submission",
		zap.String("user_id", a.userID),
	)
	go a.submit(reading)
	return nil
}

// Reset 清空槽位和提交标志，回到 Empty。
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Aggregator) resetLocked() {
	a.snapshot = Snapshot{}
	a.pending = nil
	a.state = StateEmpty
}

// View 聚合器状态视图（dashboard 展示用）
type View struct {
	UserID     string   `json:"userId"`
	State      State    `json:"state"`
	Snapshot   Snapshot `json:"snapshot"`
	LastResult *Result  `json:"lastResult,omitempty"`
	LastError  string   `json:"lastError,omitempty"`
}

// View 返回当前状态快照
func (a *Aggregator) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return View{
		UserID:     a.userID,
		State:      a.state,
		Snapshot:   a.snapshot,
		LastResult: a.lastRes,
		LastError:  a.lastError,
	}
}

// State 返回当前状态
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
