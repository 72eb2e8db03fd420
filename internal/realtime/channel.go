package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 实时通道路径（与前端 dashboard 约定一致）
const (
	PathDeviceStatus = "deviceStatus"
	PathVitals       = "healthData/vitals"
	PathWeight       = "healthData/weight"
)

const keyPrefix = "healthmon:rt:"

// Message 订阅收到的一条整值消息
// Data 为空表示该路径上还没有值（订阅回放时可能出现）
type Message struct {
	Path string
	Data []byte
}

// Channel Redis 实现的发布/订阅 KV 中继。
// 每个路径只保存最新整值（last-write-wins）：Publish 先 SET 再 PUBLISH，
// Subscribe 先回放当前值再转发实时更新。订阅方必须跳过回放的第一条，
// 否则上一周期遗留的旧值会被误当成新更新。
type Channel struct {
	client *redis.Client
	logger *zap.Logger
}

// NewChannel 创建实时通道适配器
func NewChannel(client *redis.Client, logger *zap.Logger) *Channel {
	return &Channel{client: client, logger: logger}
}

// Publish 整值替换：写入当前值并通知所有订阅者
func (c *Channel) Publish(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", path, err)
	}

	key := keyPrefix + path
	if err := c.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	if err := c.client.Publish(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", path, err)
	}
	return nil
}

// Get 读取路径当前值（不存在返回 nil data）
func (c *Channel) Get(ctx context.Context, path string) ([]byte, error) {
	val, err := c.client.Get(ctx, keyPrefix+path).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return []byte(val), nil
}

// Subscription 单路径订阅
type Subscription struct {
	C      <-chan Message
	pubsub *redis.PubSub
}

// Close 取消订阅
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

// Subscribe 订阅一个路径。收到的第一条消息总是当前存量值的回放
// （路径还没有值时回放一条空消息），之后才是实时更新。
// ctx 取消后订阅自动关闭。
func (c *Channel) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	key := keyPrefix + path
	pubsub := c.client.Subscribe(ctx, key)

	// 确认订阅建立，避免丢掉紧随其后的更新
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe %s: %w", path, err)
	}

	out := make(chan Message, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		// 回放最近一次的存量值
		replay, err := c.Get(ctx, path)
		if err != nil {
			c.logger.Warn("Failed to replay last value",
				zap.String("path", path),
				zap.Error(err),
			)
		}
		select {
		case out <- Message{Path: path, Data: replay}:
		case <-ctx.Done():
			return
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Path: path, Data: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{C: out, pubsub: pubsub}, nil
}
