package tasks

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobRunTask(t *testing.T) {
	task, err := NewJobRunTask(JobRunPayload{
		JobID:   "6f1c",
		UserID:  "uid-1",
		Kind:    "age",
		Request: json.RawMessage(`{"image_url":"https://x/y.png","target_age":60}`),
	}, 3*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, TypeJobRun, task.Type())

	p, err := ParseJobRunPayload(task.Payload())
	require.NoError(t, err)
	assert.Equal(t, "6f1c", p.JobID)
	assert.Equal(t, "age", p.Kind)
	assert.JSONEq(t, `{"image_url":"https://x/y.png","target_age":60}`, string(p.Request))
}

func TestNewJobRunTaskRejectsIncomplete(t *testing.T) {
	_, err := NewJobRunTask(JobRunPayload{JobID: "1"}, 0)
	assert.Error(t, err)
}

func TestParseJobRunPayloadErrors(t *testing.T) {
	_, err := ParseJobRunPayload([]byte("{"))
	assert.Error(t, err)

	_, err = ParseJobRunPayload([]byte(`{"user_id":"u"}`))
	assert.EqualError(t, err, "job run payload is incomplete")
}
