package aggregator

import (
	"context"
	"encoding/json"
	"sync"

	"healthmon/internal/domain"
	"healthmon/internal/realtime"

	"go.uber.org/zap"
)

// ReplayState 单路径订阅的回放状态。
// 实时通道在订阅建立后总是先回放最近一次存量值；该回放不是新的实时更新，
// 必须被跳过，否则上一周期遗留的旧值会错误地补齐全新的快照。
type ReplayState int

const (
	AwaitingReplay ReplayState = iota
	Live
)

// Session 一个受监测对象的监测会话。
// 每个会话独占自己的聚合器快照，会话之间不共享任何槽位状态。
type Session struct {
	userID  string
	agg     *Aggregator
	channel *realtime.Channel
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	deviceStatus *domain.DeviceStatus // last-write-wins，仅供展示，不进快照
}

// NewSession 创建监测会话
func NewSession(userID string, channel *realtime.Channel, logger *zap.Logger) *Session {
	return &Session{
		userID:  userID,
		channel: channel,
		logger:  logger.With(zap.String("user_id", userID)),
	}
}

// Start 订阅三条实时路径并开始聚合。重复调用前必须先 Stop。
func (s *Session) Start(ctx context.Context, submitter Submitter) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.agg = New(ctx, s.userID, submitter, s.logger)

	paths := []string{realtime.PathDeviceStatus, realtime.PathVitals, realtime.PathWeight}
	subs := make([]*realtime.Subscription, 0, len(paths))
	for _, path := range paths {
		sub, err := s.channel.Subscribe(ctx, path)
		if err != nil {
			cancel()
			for _, opened := range subs {
				opened.Close()
			}
			return err
		}
		subs = append(subs, sub)
	}

	for i, path := range paths {
		s.wg.Add(1)
		go s.consume(ctx, path, subs[i])
	}

	s.logger.Info("Monitoring session started")
	return nil
}

// consume 消费单路径订阅。每个订阅自带回放状态：
// 收到的第一条消息一定是回放，消费后转为 Live 才开始处理实时更新。
func (s *Session) consume(ctx context.Context, path string, sub *realtime.Subscription) {
	defer s.wg.Done()
	defer sub.Close()

	replay := AwaitingReplay
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if replay == AwaitingReplay {
				replay = Live
				s.logger.Debug("Skipped replayed value after subscribe",
					zap.String("path", path),
				)
				continue
			}
			if len(msg.Data) == 0 {
				continue
			}
			s.handle(path, msg.Data)
		}
	}
}

func (s *Session) handle(path string, data []byte) {
	switch path {
	case realtime.PathDeviceStatus:
		var status domain.DeviceStatus
		if err := json.Unmarshal(data, &status); err != nil {
			s.logger.Warn("Failed to parse device status", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.deviceStatus = &status
		s.mu.Unlock()

	case realtime.PathVitals:
		var vitals domain.VitalsUpdate
		if err := json.Unmarshal(data, &vitals); err != nil {
			s.logger.Warn("Failed to parse vitals update", zap.Error(err))
			return
		}
		// 两个槽位按到达顺序逐个更新，每次更新后都做完整性判定
		s.agg.Observe(SignalHeartRate, vitals.HeartRate)
		s.agg.Observe(SignalSpO2, vitals.SpO2)

	case realtime.PathWeight:
		var weight domain.WeightUpdate
		if err := json.Unmarshal(data, &weight); err != nil {
			s.logger.Warn("Failed to parse weight update", zap.Error(err))
			return
		}
		s.agg.Observe(SignalWeight, weight.Weight)
	}
}

// Aggregator 返回会话的聚合器
func (s *Session) Aggregator() *Aggregator {
	return s.agg
}

// DeviceStatus 最近一次设备状态（可能为 nil）
func (s *Session) DeviceStatus() *domain.DeviceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceStatus
}

// Stop 取消订阅并等待消费协程退出
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Monitoring session stopped")
}
