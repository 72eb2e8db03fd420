package aggregator

import (
	"context"
	"errors"
	"sync"

	"healthmon/internal/realtime"

	"go.uber.org/zap"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("session not found")

// Manager 按用户ID管理监测会话。
// 多个会话可以并发运行，互不共享快照。
// 会话生命周期挂在 baseCtx（进程级）上，而不是触发启动的那个请求上。
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	baseCtx   context.Context
	channel   *realtime.Channel
	submitter Submitter
	logger    *zap.Logger
}

// NewManager 创建会话管理器
func NewManager(baseCtx context.Context, channel *realtime.Channel, submitter Submitter, logger *zap.Logger) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		baseCtx:   baseCtx,
		channel:   channel,
		submitter: submitter,
		logger:    logger,
	}
}

// Start 为用户启动监测会话；已存在则直接返回现有会话（幂等）。
func (m *Manager) Start(userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[userID]; ok {
		return existing, nil
	}

	session := NewSession(userID, m.channel, m.logger)
	if err := session.Start(m.baseCtx, m.submitter); err != nil {
		return nil, err
	}
	m.sessions[userID] = session
	return session, nil
}

// Get 获取会话
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Stop 停止并移除会话
func (m *Manager) Stop(userID string) error {
	m.mu.Lock()
	session, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	session.Stop()
	return nil
}

// StopAll 停止全部会话（进程退出时调用）
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
