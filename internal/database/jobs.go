package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrJobNotFound 表示任务不存在或不属于当前用户。
var ErrJobNotFound = errors.New("job not found")

// JobStore 是网关与 worker 共用的任务记录读写接口。
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	GetForUser(ctx context.Context, userID string, id uuid.UUID) (*Job, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	UpdateMessage(ctx context.Context, id uuid.UUID, message string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, resultURL, artifactKey, message string) error
	MarkFailed(ctx context.Context, id uuid.UUID, code int, message string) error
}

// GormJobStore 基于 GORM 的 JobStore 实现。
type GormJobStore struct {
	db *gorm.DB
}

// NewJobStore wraps db.
func NewJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

func (s *GormJobStore) Create(ctx context.Context, job *Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *GormJobStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (s *GormJobStore) GetForUser(ctx context.Context, userID string, id uuid.UUID) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&job).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// ListForUser 按创建时间倒序返回用户最近的任务。
func (s *GormJobStore) ListForUser(ctx context.Context, userID string, limit int) ([]Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var jobs []Job
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *GormJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.db.WithContext(ctx).Delete(&Job{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (s *GormJobStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return s.update(ctx, id, map[string]any{
		"status":     JobProcessing,
		"started_at": &now,
	})
}

func (s *GormJobStore) UpdateMessage(ctx context.Context, id uuid.UUID, message string) error {
	return s.update(ctx, id, map[string]any{"message": truncate(message, 512)})
}

func (s *GormJobStore) MarkCompleted(ctx context.Context, id uuid.UUID, resultURL, artifactKey, message string) error {
	now := time.Now()
	return s.update(ctx, id, map[string]any{
		"status":       JobCompleted,
		"result_url":   resultURL,
		"artifact_key": artifactKey,
		"message":      truncate(message, 512),
		"completed_at": &now,
	})
}

func (s *GormJobStore) MarkFailed(ctx context.Context, id uuid.UUID, code int, message string) error {
	now := time.Now()
	return s.update(ctx, id, map[string]any{
		"status":        JobFailed,
		"error_code":    code,
		"error_message": truncate(message, 1024),
		"completed_at":  &now,
	})
}

func (s *GormJobStore) update(ctx context.Context, id uuid.UUID, values map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrJobNotFound
	}
	return fmt.Errorf("query job: %w", err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
