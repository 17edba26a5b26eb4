package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func TestTaskResult(t *testing.T) {
	assert.Equal(t, "ok", TaskResult(nil))
	assert.Equal(t, "failed", TaskResult(errors.New("boom")))
	assert.Equal(t, "skip_retry", TaskResult(fmt.Errorf("remote rejected: %w", asynq.SkipRetry)))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(202))
	assert.Equal(t, "4xx", statusClass(429))
	assert.Equal(t, "5xx", statusClass(503))
}

func TestAsynqMetricsMiddlewarePassesThrough(t *testing.T) {
	want := errors.New("boom")
	h := AsynqMetricsMiddleware()(asynq.HandlerFunc(func(context.Context, *asynq.Task) error {
		return want
	}))
	assert.ErrorIs(t, h.ProcessTask(context.Background(), asynq.NewTask("job:run", nil)), want)
}
