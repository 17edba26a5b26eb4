package database

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestJobBeforeCreateFillsDefaults(t *testing.T) {
	job := &Job{UserID: "uid-1", Kind: "speech"}
	assert.NoError(t, job.BeforeCreate(nil))
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, JobQueued, job.Status)

	fixed := uuid.New()
	kept := &Job{ID: fixed, Status: JobProcessing}
	assert.NoError(t, kept.BeforeCreate(nil))
	assert.Equal(t, fixed, kept.ID)
	assert.Equal(t, JobProcessing, kept.Status)
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
}

func TestNotFoundMapping(t *testing.T) {
	assert.ErrorIs(t, notFound(gorm.ErrRecordNotFound), ErrJobNotFound)
	assert.ErrorIs(t, notFound(fmt.Errorf("wrap: %w", gorm.ErrRecordNotFound)), ErrJobNotFound)

	other := notFound(errors.New("conn reset"))
	assert.False(t, errors.Is(other, ErrJobNotFound))
	assert.EqualError(t, other, "query job: conn reset")
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "语音", truncate("语音生成", 2))
	assert.Len(t, []rune(truncate(strings.Repeat("x", 600), 512)), 512)
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Info, gormLogLevel("debug"))
	assert.Equal(t, logger.Error, gormLogLevel("error"))
	assert.Equal(t, logger.Warn, gormLogLevel("info"))
}
