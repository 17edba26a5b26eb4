package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobStatus 是任务记录的生命周期状态。
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further updates are expected.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job 记录一次经网关提交的 AI 任务（语音、年龄变换、背景替换）。
type Job struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string         `gorm:"size:128;index:idx_jobs_user_created,priority:1" json:"user_id"`
	Kind         string         `gorm:"size:32" json:"kind"`
	Status       JobStatus      `gorm:"size:32;index" json:"status"`
	Request      datatypes.JSON `gorm:"type:jsonb" json:"request"`
	Message      string         `gorm:"size:512" json:"message,omitempty"`
	ResultURL    string         `gorm:"size:2048" json:"result_url,omitempty"`
	ArtifactKey  string         `gorm:"size:512" json:"artifact_key,omitempty"`
	ErrorCode    int            `json:"error_code,omitempty"`
	ErrorMessage string         `gorm:"size:1024" json:"error_message,omitempty"`
	CreatedAt    time.Time      `gorm:"index:idx_jobs_user_created,priority:2,sort:desc" json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// BeforeCreate 为新记录生成 UUID。
func (j *Job) BeforeCreate(_ *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = JobQueued
	}
	return nil
}
