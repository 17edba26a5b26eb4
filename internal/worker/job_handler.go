package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"portraitStudio/internal/database"
	"portraitStudio/internal/errcode"
	"portraitStudio/internal/jobs"
	"portraitStudio/internal/tasks"
)

// JobRunner 执行一次远端任务交换，*jobs.Client 实现了它。
type JobRunner interface {
	Run(ctx context.Context, req jobs.Request, onStatus jobs.StatusFunc) (*jobs.Result, error)
}

// ArtifactMirror 把远端产物复制到自有存储，*storage.Mirror 实现了它。
type ArtifactMirror interface {
	Copy(ctx context.Context, sourceURL, userID, jobID string) (string, error)
}

// JobTaskHandler 负责消费 job:run 任务。
type JobTaskHandler struct {
	store     database.JobStore
	runner    JobRunner
	mirror    ArtifactMirror
	publisher Publisher
	logger    *slog.Logger
}

// NewJobTaskHandler 创建任务处理器；mirror 为 nil 时不镜像产物。
func NewJobTaskHandler(store database.JobStore, runner JobRunner, mirror ArtifactMirror, publisher Publisher, logger *slog.Logger) *JobTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobTaskHandler{
		store:     store,
		runner:    runner,
		mirror:    mirror,
		publisher: publisher,
		logger:    logger,
	}
}

// ProcessTask 实现 asynq.Handler。失败的任务以 SkipRetry 直接归档，不会重试。
func (h *JobTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseJobRunPayload(t.Payload())
	if err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("job_id", payload.JobID),
		slog.String("kind", payload.Kind),
		slog.String("user_id", payload.UserID),
		slog.String("correlation_id", payload.CorrelationID),
	)

	id, err := uuid.Parse(payload.JobID)
	if err != nil {
		log.Error("invalid job id", slog.Any("error", err))
		return fmt.Errorf("invalid job id %q: %w", payload.JobID, asynq.SkipRetry)
	}

	job, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			log.Warn("job not found, skipping task")
			return nil
		}
		log.Error("query job failed", slog.Any("error", err))
		return err
	}
	if job.Status.Terminal() {
		log.Warn("job already finished, skipping task", slog.String("status", string(job.Status)))
		return nil
	}

	base := JobNotifyMessage{
		JobID:         payload.JobID,
		Kind:          payload.Kind,
		CorrelationID: payload.CorrelationID,
	}

	req, err := decodeRequest(payload)
	if err != nil {
		log.Error("decode job request failed", slog.Any("error", err))
		h.fail(ctx, log, job, base, errcode.InvalidRequest, err.Error())
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return h.run(ctx, log, job, req, base)
}

func decodeRequest(p tasks.JobRunPayload) (jobs.Request, error) {
	kind, err := jobs.ParseKind(p.Kind)
	if err != nil {
		return nil, err
	}
	return jobs.DecodeRequest(kind, p.Request)
}

func (h *JobTaskHandler) run(ctx context.Context, log *slog.Logger, job *database.Job, req jobs.Request, base JobNotifyMessage) error {
	if err := h.store.MarkProcessing(ctx, job.ID); err != nil {
		log.Error("mark job processing failed", slog.Any("error", err))
		return err
	}
	h.publish(ctx, log, job.UserID, with(base, StatusProcessing, ""))
	log.Info("starting remote job")

	res, err := h.runner.Run(ctx, req, func(ev jobs.Event) {
		msg := ev.Message
		if msg == "" {
			msg = ev.Status
		}
		if err := h.store.UpdateMessage(ctx, job.ID, msg); err != nil {
			log.Warn("update job progress failed", slog.Any("error", err))
		}
		h.publish(ctx, log, job.UserID, with(base, StatusProgress, msg))
	})
	if err != nil {
		code := ErrorCode(err)
		log.Warn("remote job failed", slog.Int("error_code", code), slog.Any("error", err))
		h.fail(ctx, log, job, base, code, err.Error())
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	artifactKey := ""
	if h.mirror != nil {
		key, err := h.mirror.Copy(ctx, res.URL, job.UserID, job.ID.String())
		if err != nil {
			log.Warn("mirror job artifact failed", slog.Int("error_code", errcode.ArtifactMirror), slog.Any("error", err))
		} else {
			artifactKey = key
		}
	}

	if err := h.store.MarkCompleted(ctx, job.ID, res.URL, artifactKey, res.Message); err != nil {
		log.Error("mark job completed failed", slog.Any("error", err))
		return err
	}

	done := with(base, StatusCompleted, res.Message)
	done.ResultURL = res.URL
	h.publish(ctx, log, job.UserID, done)
	log.Info("remote job completed", slog.String("result_url", res.URL), slog.String("artifact_key", artifactKey))
	return nil
}

func (h *JobTaskHandler) fail(ctx context.Context, log *slog.Logger, job *database.Job, base JobNotifyMessage, code int, message string) {
	// 任务超时后 ctx 已取消，终态仍需落库与通知。
	ctx = context.WithoutCancel(ctx)
	message = strings.TrimSpace(message)
	if message == "" {
		message = errcode.Message(code)
	}
	if err := h.store.MarkFailed(ctx, job.ID, code, message); err != nil {
		log.Error("mark job failed failed", slog.Any("error", err))
	}
	msg := with(base, StatusError, "")
	msg.ErrorCode = code
	msg.ErrorMessage = message
	h.publish(ctx, log, job.UserID, msg)
}

// publish 失败只记录日志，任务状态以数据库为准。
func (h *JobTaskHandler) publish(ctx context.Context, log *slog.Logger, userID string, msg JobNotifyMessage) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, userID, msg); err != nil {
		log.Error("publish redis notification failed", slog.String("status", msg.Status), slog.Any("error", err))
	}
}

func with(base JobNotifyMessage, status, message string) JobNotifyMessage {
	base.Status = status
	base.Message = message
	return base
}

// ErrorCode 把任务客户端的错误映射为通知中的错误码。
func ErrorCode(err error) int {
	var serverErr *jobs.ServerError
	switch {
	case err == nil:
		return errcode.OK
	case errors.As(err, &serverErr):
		return errcode.JobRejected
	case errors.Is(err, jobs.ErrTimeout):
		return errcode.JobTimeout
	case errors.Is(err, jobs.ErrProtocol):
		return errcode.JobProtocol
	case errors.Is(err, jobs.ErrClosed):
		return errcode.JobClosed
	case errors.Is(err, jobs.ErrConnection):
		return errcode.JobConnection
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errcode.JobCanceled
	default:
		return errcode.SystemError
	}
}
