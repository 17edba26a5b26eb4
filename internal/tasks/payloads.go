package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeJobRun = "job:run"
)

// QueueJobs 是 AI 任务使用的队列名。
const QueueJobs = "jobs"

// JobRunPayload 描述 worker 执行一次远端任务所需的信息。
// Request 是已校验过的请求体，按 Kind 解析。
type JobRunPayload struct {
	JobID         string          `json:"job_id"`
	UserID        string          `json:"user_id"`
	Kind          string          `json:"kind"`
	Request       json.RawMessage `json:"request"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewJobRunTask 构造任务。远端服务不支持幂等重放，因此 MaxRetry 为 0。
// timeout 应覆盖任务整体截止时间与产物镜像时间。
func NewJobRunTask(p JobRunPayload, timeout time.Duration) (*asynq.Task, error) {
	if p.JobID == "" || p.UserID == "" || p.Kind == "" {
		return nil, fmt.Errorf("job run payload is incomplete")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode job run payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Queue(QueueJobs),
		asynq.TaskID(p.JobID),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TypeJobRun, payload, opts...), nil
}

// ParseJobRunPayload decodes a task payload produced by NewJobRunTask.
func ParseJobRunPayload(data []byte) (JobRunPayload, error) {
	var p JobRunPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode job run payload: %w", err)
	}
	if p.JobID == "" || p.Kind == "" {
		return p, fmt.Errorf("job run payload is incomplete")
	}
	return p, nil
}
