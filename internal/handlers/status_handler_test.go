package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

type statusJobStorage struct {
	interfaces.JobStorage
	byStatus map[models.JobStatus][]*models.CrawlJob
}

func (s *statusJobStorage) ListByStatus(_ context.Context, status models.JobStatus) ([]*models.CrawlJob, error) {
	return s.byStatus[status], nil
}

type statusStorageManager struct {
	jobs interfaces.JobStorage
}

func (m *statusStorageManager) JobStorage() interfaces.JobStorage       { return m.jobs }
func (m *statusStorageManager) QueueStorage() interfaces.QueueStorage   { return nil }
func (m *statusStorageManager) PageStorage() interfaces.PageStorage     { return nil }
func (m *statusStorageManager) EventStorage() interfaces.EventStorage   { return nil }
func (m *statusStorageManager) KVStorage() interfaces.KeyValueStorage   { return nil }
func (m *statusStorageManager) UserStorage() interfaces.UserStorage     { return nil }
func (m *statusStorageManager) JobLogStorage() interfaces.JobLogStorage { return nil }
func (m *statusStorageManager) DB() interface{}                         { return nil }
func (m *statusStorageManager) Close() error                            { return nil }

type fakeCrawler struct {
	active []string
}

func (f *fakeCrawler) StartJob(_ context.Context, _ *models.CrawlJob) error { return nil }
func (f *fakeCrawler) CancelJob(_ context.Context, _ string) error          { return nil }
func (f *fakeCrawler) IsRunning(_ string) bool                              { return false }
func (f *fakeCrawler) ActiveJobs() []string                                 { return f.active }
func (f *fakeCrawler) Shutdown(_ context.Context) error                     { return nil }

type fakeScheduler struct {
	running bool
	tasks   map[string]*interfaces.TaskStatus
}

func (f *fakeScheduler) Start() error                                    { return nil }
func (f *fakeScheduler) Stop()                                           {}
func (f *fakeScheduler) IsRunning() bool                                 { return f.running }
func (f *fakeScheduler) TaskStatuses() map[string]*interfaces.TaskStatus { return f.tasks }

func TestGetStatusHandler(t *testing.T) {
	jobs := &statusJobStorage{byStatus: map[models.JobStatus][]*models.CrawlJob{
		models.JobStatusRunning: {runningJob("job_1", "usr_a"), runningJob("job_2", "usr_b")},
		models.JobStatusPending: {models.NewCrawlJob("job_3", "usr_a", "https://docs.example.com", models.CrawlConfig{})},
	}}
	crawler := &fakeCrawler{active: []string{"job_1", "job_2"}}
	scheduler := &fakeScheduler{running: true, tasks: map[string]*interfaces.TaskStatus{
		"sweep": {Name: "sweep", Schedule: "@every 5m"},
	}}

	h := NewStatusHandler(&statusStorageManager{jobs: jobs}, crawler, scheduler, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.GetStatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "doceo", got["service"])
	assert.Equal(t, "ok", got["status"])
	assert.NotEmpty(t, got["version"])
	assert.Equal(t, float64(2), got["active_jobs"])

	counts, ok := got["jobs"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), counts["running"])
	assert.Equal(t, float64(1), counts["pending"])

	sched, ok := got["scheduler"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, sched["running"])

	tasks, ok := sched["tasks"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, tasks, "sweep")
}

func TestGetStatusHandlerMethodNotAllowed(t *testing.T) {
	h := NewStatusHandler(&statusStorageManager{jobs: &statusJobStorage{}}, &fakeCrawler{}, &fakeScheduler{}, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.GetStatusHandler(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
