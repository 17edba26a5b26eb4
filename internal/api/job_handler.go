package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"

	"portraitStudio/internal/api/middleware"
	"portraitStudio/internal/config"
	"portraitStudio/internal/database"
	"portraitStudio/internal/errcode"
	"portraitStudio/internal/jobs"
	"portraitStudio/internal/storage"
	"portraitStudio/internal/tasks"
)

// 产物镜像在任务截止时间之外额外预留的时间。
const mirrorAllowance = 2 * time.Minute

// TaskEnqueuer 是 asynq.Client 的最小子集。
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ArtifactStore 为镜像产物签发下载链接，并在删除任务时清理产物。
type ArtifactStore interface {
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	RemovePrefix(ctx context.Context, prefix string) (int, error)
}

// JobHandler 负责提交与查询 AI 任务。
type JobHandler struct {
	store      database.JobStore
	queue      TaskEnqueuer
	counter    redisRateCounter
	artifacts  ArtifactStore
	jobsCfg    config.JobsConfig
	jobsPerDay int
	logger     *slog.Logger
	now        func() time.Time
}

// NewJobHandler 构造任务处理器；jobsPerDay <= 0 表示不限额。
func NewJobHandler(
	store database.JobStore,
	queue TaskEnqueuer,
	counter redisRateCounter,
	artifacts ArtifactStore,
	jobsCfg config.JobsConfig,
	jobsPerDay int,
	logger *slog.Logger,
) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		store:      store,
		queue:      queue,
		counter:    counter,
		artifacts:  artifacts,
		jobsCfg:    jobsCfg,
		jobsPerDay: jobsPerDay,
		logger:     logger,
		now:        time.Now,
	}
}

type createJobResponse struct {
	JobID  string             `json:"job_id"`
	Kind   string             `json:"kind"`
	Status database.JobStatus `json:"status"`
}

// Create 返回提交某一类任务的处理函数：校验、限额、落库、入队，返回 202。
func (h *JobHandler) Create(kind jobs.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := middleware.LoggerFromContext(c)
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}

		raw, err := c.GetRawData()
		if err != nil {
			BadRequest(c, "failed to read body")
			return
		}
		req, err := jobs.DecodeRequest(kind, raw)
		if err != nil {
			ErrorCode(c, http.StatusBadRequest, errcode.InvalidRequest, "invalid request body")
			return
		}
		if err := jobs.ValidateRequest(req); err != nil {
			ErrorCode(c, http.StatusBadRequest, errcode.InvalidRequest, err.Error())
			return
		}

		ctx := c.Request.Context()
		if h.jobsPerDay > 0 && h.counter != nil {
			count, err := incrWithTTL(ctx, h.counter, dailyQuotaKey(userID, h.now()), 24*time.Hour)
			if err != nil {
				log.Warn("job quota check failed", slog.Any("error", err))
				count = 0
			}
			if count > int64(h.jobsPerDay) {
				ErrorCode(c, http.StatusTooManyRequests, errcode.QuotaExceeded, "")
				return
			}
		}

		canonical, err := json.Marshal(req)
		if err != nil {
			Internal(c, "failed to encode request")
			return
		}

		job := &database.Job{
			ID:      uuid.New(),
			UserID:  userID,
			Kind:    string(kind),
			Status:  database.JobQueued,
			Request: datatypes.JSON(canonical),
		}
		if err := h.store.Create(ctx, job); err != nil {
			log.Error("create job record failed", slog.Any("error", err))
			Internal(c, "failed to create job")
			return
		}

		task, err := tasks.NewJobRunTask(tasks.JobRunPayload{
			JobID:         job.ID.String(),
			UserID:        userID,
			Kind:          string(kind),
			Request:       canonical,
			CorrelationID: middleware.GetCorrelationID(c),
		}, h.taskTimeout(kind))
		if err == nil {
			_, err = h.queue.EnqueueContext(ctx, task)
		}
		if err != nil {
			log.Error("enqueue job failed", slog.String("job_id", job.ID.String()), slog.Any("error", err))
			if delErr := h.store.Delete(context.WithoutCancel(ctx), job.ID); delErr != nil {
				log.Error("delete orphan job record failed", slog.Any("error", delErr))
			}
			Internal(c, "failed to enqueue job")
			return
		}

		log.Info("job accepted", slog.String("job_id", job.ID.String()), slog.String("kind", string(kind)))
		c.JSON(http.StatusAccepted, createJobResponse{
			JobID:  job.ID.String(),
			Kind:   string(kind),
			Status: job.Status,
		})
	}
}

func (h *JobHandler) taskTimeout(kind jobs.Kind) time.Duration {
	timeout := h.jobsCfg.ImageTimeout
	if kind == jobs.KindSpeech {
		timeout = h.jobsCfg.SpeechTimeout
	}
	if timeout <= 0 {
		return 0
	}
	return timeout + mirrorAllowance
}

// List 返回当前用户最近的任务。
func (h *JobHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	items, err := h.store.ListForUser(c.Request.Context(), userID, limit)
	if err != nil {
		middleware.LoggerFromContext(c).Error("list jobs failed", slog.Any("error", err))
		Internal(c, "failed to list jobs")
		return
	}
	if items == nil {
		items = []database.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Get 返回单个任务详情。
func (h *JobHandler) Get(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

// ArtifactURL 为已镜像的任务产物签发下载链接；未镜像时退回远端结果地址。
func (h *JobHandler) ArtifactURL(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}
	if job.Status != database.JobCompleted {
		Error(c, http.StatusConflict, "job is not completed")
		return
	}
	if job.ArtifactKey == "" || h.artifacts == nil {
		c.JSON(http.StatusOK, gin.H{"url": job.ResultURL, "mirrored": false})
		return
	}
	url, err := h.artifacts.Presign(c.Request.Context(), job.ArtifactKey, 15*time.Minute)
	if err != nil {
		middleware.LoggerFromContext(c).Error("presign artifact failed", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "mirrored": true})
}

// Delete 删除已结束的任务记录及其镜像产物；排队或运行中的任务返回 409。
func (h *JobHandler) Delete(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}
	if !job.Status.Terminal() {
		Error(c, http.StatusConflict, "job is still running")
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c).With(slog.String("job_id", job.ID.String()))
	if job.ArtifactKey != "" && h.artifacts != nil {
		removed, err := h.artifacts.RemovePrefix(ctx, storage.ArtifactPrefix(job.UserID, job.ID.String()))
		if err != nil {
			log.Error("remove job artifacts failed", slog.Any("error", err))
			Internal(c, "failed to remove artifacts")
			return
		}
		log.Info("job artifacts removed", slog.Int("count", removed))
	}
	if err := h.store.Delete(ctx, job.ID); err != nil {
		log.Error("delete job failed", slog.Any("error", err))
		Internal(c, "failed to delete job")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *JobHandler) loadOwnedJob(c *gin.Context) (*database.Job, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequest(c, "invalid job id")
		return nil, false
	}
	job, err := h.store.GetForUser(c.Request.Context(), userID, id)
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			NotFound(c, "job not found")
			return nil, false
		}
		middleware.LoggerFromContext(c).Error("get job failed", slog.Any("error", err))
		Internal(c, "failed to get job")
		return nil, false
	}
	return job, true
}
