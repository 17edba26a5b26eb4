package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 通知状态取值。
const (
	StatusProcessing = "processing"
	StatusProgress   = "progress"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// JobNotifyMessage 是通过 Redis Pub/Sub 转发给前端的 WebSocket 消息。
// 注意：这里的字段名与前端解析保持一致。
type JobNotifyMessage struct {
	Status        string `json:"status"`
	JobID         string `json:"job_id"`
	Kind          string `json:"kind"`
	Message       string `json:"message,omitempty"`
	ResultURL     string `json:"result_url,omitempty"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NotifyChannel 返回用户的通知频道名。
func NotifyChannel(userID string) string {
	return "job_notify:" + userID
}

// Publisher 把任务通知推送给用户的所有在线连接。
type Publisher interface {
	Publish(ctx context.Context, userID string, msg JobNotifyMessage) error
}

// RedisPublisher 基于 Redis Pub/Sub 的 Publisher 实现。
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID string, msg JobNotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := NotifyChannel(userID)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
