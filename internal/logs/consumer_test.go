package logs

import (
	"context"
	"testing"
	"time"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/doceo/internal/models"
)

// MockJobLogStorage is a mock implementation of JobLogStorage
type MockJobLogStorage struct {
	mock.Mock
}

func (m *MockJobLogStorage) AppendLogs(ctx context.Context, jobID string, entries []models.JobLogEntry) error {
	args := m.Called(ctx, jobID, entries)
	return args.Error(0)
}

func (m *MockJobLogStorage) GetLogs(ctx context.Context, jobID string, limit int) ([]models.JobLogEntry, error) {
	args := m.Called(ctx, jobID, limit)
	if logs, ok := args.Get(0).([]models.JobLogEntry); ok {
		return logs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobLogStorage) CountLogs(ctx context.Context, jobID string) (int, error) {
	args := m.Called(ctx, jobID)
	return args.Int(0), args.Error(1)
}

func (m *MockJobLogStorage) DeleteLogs(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func TestConsumer_PersistsCorrelatedLogs(t *testing.T) {
	storage := new(MockJobLogStorage)
	logger := arbor.NewLogger()

	written := make(chan []models.JobLogEntry, 1)
	storage.On("AppendLogs", mock.Anything, "job_abc", mock.Anything).
		Run(func(args mock.Arguments) {
			written <- args.Get(2).([]models.JobLogEntry)
		}).
		Return(nil)

	consumer := NewConsumer(storage, logger, "info")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	ts := time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC)
	consumer.GetChannel() <- []arbormodels.LogEvent{
		{
			Timestamp:     ts,
			Level:         log.InfoLevel,
			Message:       "Page fetched",
			CorrelationID: "job_abc",
			Fields:        map[string]interface{}{"status": 200},
		},
	}

	select {
	case entries := <-written:
		require.Len(t, entries, 1)
		assert.Equal(t, "10:30:00", entries[0].Timestamp)
		assert.Equal(t, ts, entries[0].FullTimestamp)
		assert.Equal(t, "INF", entries[0].Level)
		assert.Equal(t, "Page fetched status=200", entries[0].Message)
		assert.Equal(t, "job_abc", entries[0].AssociatedJobID)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for AppendLogs")
	}

	storage.AssertExpectations(t)
}

func TestConsumer_GroupsBatchByJob(t *testing.T) {
	storage := new(MockJobLogStorage)
	logger := arbor.NewLogger()

	written := make(chan string, 2)
	storage.On("AppendLogs", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			written <- args.String(1)
		}).
		Return(nil)

	consumer := NewConsumer(storage, logger, "info")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	now := time.Now()
	consumer.GetChannel() <- []arbormodels.LogEvent{
		{Timestamp: now, Level: log.InfoLevel, Message: "first", CorrelationID: "job_1"},
		{Timestamp: now, Level: log.InfoLevel, Message: "second", CorrelationID: "job_2"},
		{Timestamp: now, Level: log.InfoLevel, Message: "third", CorrelationID: "job_1"},
	}

	jobs := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case jobID := <-written:
			jobs[jobID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for batch writes")
		}
	}

	assert.True(t, jobs["job_1"])
	assert.True(t, jobs["job_2"])
	storage.AssertNumberOfCalls(t, "AppendLogs", 2)
}

func TestConsumer_SkipsUncorrelatedAndRequestNoise(t *testing.T) {
	storage := new(MockJobLogStorage)
	logger := arbor.NewLogger()

	written := make(chan []models.JobLogEntry, 1)
	storage.On("AppendLogs", mock.Anything, "job_real", mock.Anything).
		Run(func(args mock.Arguments) {
			written <- args.Get(2).([]models.JobLogEntry)
		}).
		Return(nil)

	consumer := NewConsumer(storage, logger, "info")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	now := time.Now()
	consumer.GetChannel() <- []arbormodels.LogEvent{
		// No correlation ID: console-only line
		{Timestamp: now, Level: log.InfoLevel, Message: "server started"},
		// Request tracing lines carry correlation IDs but are not job logs
		{Timestamp: now, Level: log.InfoLevel, Message: "HTTP request", CorrelationID: "req_1"},
		{Timestamp: now, Level: log.InfoLevel, Message: "WebSocket client connected", CorrelationID: "req_2"},
		// The one line that should survive
		{Timestamp: now, Level: log.InfoLevel, Message: "keep me", CorrelationID: "job_real"},
	}

	select {
	case entries := <-written:
		require.Len(t, entries, 1)
		assert.Equal(t, "keep me", entries[0].Message)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for AppendLogs")
	}

	storage.AssertNumberOfCalls(t, "AppendLogs", 1)
}

func TestConsumer_LevelThreshold(t *testing.T) {
	storage := new(MockJobLogStorage)
	logger := arbor.NewLogger()

	written := make(chan []models.JobLogEntry, 1)
	storage.On("AppendLogs", mock.Anything, "job_abc", mock.Anything).
		Run(func(args mock.Arguments) {
			written <- args.Get(2).([]models.JobLogEntry)
		}).
		Return(nil)

	consumer := NewConsumer(storage, logger, "warn")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	now := time.Now()
	consumer.GetChannel() <- []arbormodels.LogEvent{
		{Timestamp: now, Level: log.DebugLevel, Message: "too quiet", CorrelationID: "job_abc"},
		{Timestamp: now, Level: log.InfoLevel, Message: "still too quiet", CorrelationID: "job_abc"},
		{Timestamp: now, Level: log.WarnLevel, Message: "loud enough", CorrelationID: "job_abc"},
	}

	select {
	case entries := <-written:
		require.Len(t, entries, 1)
		assert.Equal(t, "loud enough", entries[0].Message)
		assert.Equal(t, "WRN", entries[0].Level)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for AppendLogs")
	}
}

func TestConsumer_StopDrainsCleanly(t *testing.T) {
	storage := new(MockJobLogStorage)
	logger := arbor.NewLogger()

	consumer := NewConsumer(storage, logger, "info")
	require.NoError(t, consumer.Start())

	// Stop without traffic should not hang or panic
	assert.NoError(t, consumer.Stop())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, arbor.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, arbor.InfoLevel, parseLogLevel("info"))
	assert.Equal(t, arbor.WarnLevel, parseLogLevel("warn"))
	assert.Equal(t, arbor.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, arbor.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, arbor.InfoLevel, parseLogLevel("unknown"))
	assert.Equal(t, arbor.InfoLevel, parseLogLevel(""))
}

func TestConvertTo3Letter(t *testing.T) {
	assert.Equal(t, "INF", convertTo3Letter("info"))
	assert.Equal(t, "WRN", convertTo3Letter("warn"))
	assert.Equal(t, "WRN", convertTo3Letter("warning"))
	assert.Equal(t, "ERR", convertTo3Letter("error"))
	assert.Equal(t, "DBG", convertTo3Letter("debug"))
	assert.Equal(t, "FTL", convertTo3Letter("ftl"))
	assert.Equal(t, "INF", convertTo3Letter("unrecognized"))
}
