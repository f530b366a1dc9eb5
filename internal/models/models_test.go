package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskPayload_Helpers(t *testing.T) {
	payload := TaskPayload{
		"int64":  int64(123),
		"int":    123,
		"float":  123.45,
		"string": "hello",
		"bool":   true,
	}

	t.Run("NilPayload", func(t *testing.T) {
		var nilPayload TaskPayload
		assert.Equal(t, int64(0), nilPayload.GetInt64("any"))
		assert.Equal(t, "", nilPayload.GetString("any"))
		assert.False(t, nilPayload.GetBool("any"))
	})

	t.Run("GetInt64", func(t *testing.T) {
		assert.Equal(t, int64(123), payload.GetInt64("int64"))
		assert.Equal(t, int64(123), payload.GetInt64("int"))
		assert.Equal(t, int64(123), payload.GetInt64("float"))
		assert.Equal(t, int64(0), payload.GetInt64("string"))
		assert.Equal(t, int64(0), payload.GetInt64("missing"))
	})

	t.Run("GetString", func(t *testing.T) {
		assert.Equal(t, "hello", payload.GetString("string"))
		assert.Equal(t, "", payload.GetString("int"))
	})

	t.Run("GetBool", func(t *testing.T) {
		assert.True(t, payload.GetBool("bool"))
		assert.False(t, payload.GetBool("string"))
	})
}

func TestDecodePayload(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		p, err := DecodePayload("")
		require.NoError(t, err)
		assert.Empty(t, p)
	})

	t.Run("Valid", func(t *testing.T) {
		p, err := DecodePayload(`{"source_tenant":"src","count":250}`)
		require.NoError(t, err)
		assert.Equal(t, "src", p.GetString(PayloadSourceTenant))
		assert.Equal(t, int64(250), p.GetInt64(PayloadCount))
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := DecodePayload("invalid json")
		assert.Error(t, err)
	})

	t.Run("EncodeEmpty", func(t *testing.T) {
		raw, err := TaskPayload{}.Encode()
		require.NoError(t, err)
		assert.Equal(t, "", raw)
	})
}

func TestSyncTask_States(t *testing.T) {
	now := time.Now()
	tests := []struct {
		status    string
		deletable bool
	}{
		{TaskPending, true},
		{TaskFailed, true},
		{TaskProcessing, false},
		{TaskCompleted, false},
	}
	for _, tt := range tests {
		task := SyncTask{Status: tt.status}
		assert.Equal(t, tt.deletable, task.IsDeletable(), tt.status)
	}

	scheduled := SyncTask{Status: TaskPending, ScheduledAt: now.Add(time.Minute)}
	assert.True(t, scheduled.IsScheduled(now))
	due := SyncTask{Status: TaskPending, ScheduledAt: now.Add(-time.Minute)}
	assert.False(t, due.IsScheduled(now))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(fmt.Errorf("load folder: %w", ErrNotFound)))
	assert.False(t, IsRetryable(ErrConfiguration))
	assert.True(t, IsRetryable(fmt.Errorf("post: %w", ErrTransient)))
	assert.True(t, IsRetryable(errors.New("boom")))
}
