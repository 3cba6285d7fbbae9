package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/services/export"
)

// fakeJobService is an in-memory JobService with the registry's ownership
// and lifecycle semantics.
type fakeJobService struct {
	jobs      map[string]*models.CrawlJob
	createErr error
	cancelled []string
}

func newFakeJobService(jobs ...*models.CrawlJob) *fakeJobService {
	byID := make(map[string]*models.CrawlJob, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
	}
	return &fakeJobService{jobs: byID}
}

func (f *fakeJobService) lookup(userID, jobID string) (*models.CrawlJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	if job.UserID != userID {
		return nil, interfaces.ErrForbidden
	}
	return job, nil
}

func (f *fakeJobService) Create(_ context.Context, userID string, req *models.CrawlRequest) (*models.CrawlJob, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	job := models.NewCrawlJob("job_created", userID, req.URL, models.CrawlConfig{})
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobService) Get(_ context.Context, userID, jobID string) (*models.CrawlJob, error) {
	return f.lookup(userID, jobID)
}

func (f *fakeJobService) ListActive(_ context.Context, userID string) ([]*models.CrawlJob, error) {
	var out []*models.CrawlJob
	for _, job := range f.jobs {
		if job.UserID == userID && job.Status.IsActive() {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeJobService) ListRecent(_ context.Context, userID string, limit int) ([]*models.CrawlJob, error) {
	return nil, nil
}

func (f *fakeJobService) Cancel(_ context.Context, userID, jobID string) error {
	job, err := f.lookup(userID, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return interfaces.ErrJobTerminal
	}
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeJobService) Download(_ context.Context, userID, jobID string) (*models.CrawlJob, error) {
	job, err := f.lookup(userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted || job.FinalMarkdown == "" {
		return nil, interfaces.ErrNoArtifact
	}
	return job, nil
}

func (f *fakeJobService) Authorize(_ context.Context, userID, jobID string) (*models.CrawlJob, error) {
	return f.lookup(userID, jobID)
}

// fakeJobLogs is an in-memory JobLogStorage.
type fakeJobLogs struct {
	logs map[string][]models.JobLogEntry
}

func (f *fakeJobLogs) AppendLogs(_ context.Context, jobID string, entries []models.JobLogEntry) error {
	if f.logs == nil {
		f.logs = make(map[string][]models.JobLogEntry)
	}
	f.logs[jobID] = append(f.logs[jobID], entries...)
	return nil
}

func (f *fakeJobLogs) GetLogs(_ context.Context, jobID string, limit int) ([]models.JobLogEntry, error) {
	entries := f.logs[jobID]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (f *fakeJobLogs) CountLogs(_ context.Context, jobID string) (int, error) {
	return len(f.logs[jobID]), nil
}

func (f *fakeJobLogs) DeleteLogs(_ context.Context, jobID string) error {
	delete(f.logs, jobID)
	return nil
}

func newTestJobHandler(jobs *fakeJobService, jobLogs *fakeJobLogs) *JobHandler {
	if jobLogs == nil {
		jobLogs = &fakeJobLogs{}
	}
	return NewJobHandler(jobs, export.NewService(arbor.NewLogger()), jobLogs, arbor.NewLogger())
}

// authedRequest builds a request that already passed the auth middleware.
func authedRequest(method, target, userID string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if userID != "" {
		req = req.WithContext(WithUserID(req.Context(), userID))
	}
	return req
}

func runningJob(id, userID string) *models.CrawlJob {
	job := models.NewCrawlJob(id, userID, "https://docs.example.com/guide", models.CrawlConfig{})
	job.Status = models.JobStatusRunning
	job.RootURL = "https://docs.example.com"
	job.StartedAt = time.Now().UTC().Add(-time.Minute)
	return job
}

func completedJob(id, userID, markdown string) *models.CrawlJob {
	job := runningJob(id, userID)
	job.Status = models.JobStatusCompleted
	job.FinalMarkdown = markdown
	job.EndedAt = time.Now().UTC()
	return job
}

func TestCreateJobHandler(t *testing.T) {
	svc := newFakeJobService()
	h := newTestJobHandler(svc, nil)

	body := strings.NewReader(`{"url": "https://docs.example.com"}`)
	rec := httptest.NewRecorder()
	h.CreateJobHandler(rec, authedRequest(http.MethodPost, "/api/jobs", "usr_a", body))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job_created", resp["job_id"])
	assert.Equal(t, "pending", resp["status"])
}

func TestCreateJobHandlerRejections(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		body      string
		createErr error
		wantCode  int
	}{
		{
			name:     "malformed body",
			userID:   "usr_a",
			body:     "{not json",
			wantCode: http.StatusBadRequest,
		},
		{
			name:      "validation failure",
			userID:    "usr_a",
			body:      `{"url": "ftp://docs.example.com"}`,
			createErr: fmt.Errorf("%w: unsupported scheme", interfaces.ErrInvalidRequest),
			wantCode:  http.StatusBadRequest,
		},
		{
			name:      "active job cap",
			userID:    "usr_a",
			body:      `{"url": "https://docs.example.com"}`,
			createErr: fmt.Errorf("%w: limit reached", interfaces.ErrTooManyJobs),
			wantCode:  http.StatusTooManyRequests,
		},
		{
			name:     "no user",
			userID:   "",
			body:     `{"url": "https://docs.example.com"}`,
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeJobService()
			svc.createErr = tt.createErr
			h := newTestJobHandler(svc, nil)

			rec := httptest.NewRecorder()
			h.CreateJobHandler(rec, authedRequest(http.MethodPost, "/api/jobs", tt.userID, strings.NewReader(tt.body)))

			require.Equal(t, tt.wantCode, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "error", resp["status"])
		})
	}
}

func TestCreateJobHandlerMethodNotAllowed(t *testing.T) {
	h := newTestJobHandler(newFakeJobService(), nil)

	rec := httptest.NewRecorder()
	h.CreateJobHandler(rec, authedRequest(http.MethodGet, "/api/jobs", "usr_a", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListActiveJobsHandler(t *testing.T) {
	svc := newFakeJobService(
		runningJob("job_run", "usr_a"),
		completedJob("job_done", "usr_a", "# Done"),
		runningJob("job_other", "usr_b"),
	)
	h := newTestJobHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.ListActiveJobsHandler(rec, authedRequest(http.MethodGet, "/api/jobs/active", "usr_a", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got []jobSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "job_run", got[0].JobID)
	assert.Equal(t, "https://docs.example.com/guide", got[0].URL)
	assert.Equal(t, models.JobStatusRunning, got[0].Status)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestGetJobHandler(t *testing.T) {
	job := completedJob("job_1", "usr_a", "# The full document body")
	job.Counters.Processed = 4
	svc := newFakeJobService(job)
	h := newTestJobHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.GetJobHandler(rec, authedRequest(http.MethodGet, "/api/jobs/job_1", "usr_a", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "job_1", got["job_id"])
	assert.Equal(t, "completed", got["status"])
	assert.NotContains(t, got, "final_markdown", "artifact body is download-only")
}

func TestGetJobHandlerHidesOwnership(t *testing.T) {
	svc := newFakeJobService(runningJob("job_1", "usr_a"))
	h := newTestJobHandler(svc, nil)

	foreign := httptest.NewRecorder()
	h.GetJobHandler(foreign, authedRequest(http.MethodGet, "/api/jobs/job_1", "usr_b", nil))

	missing := httptest.NewRecorder()
	h.GetJobHandler(missing, authedRequest(http.MethodGet, "/api/jobs/job_nope", "usr_b", nil))

	require.Equal(t, http.StatusNotFound, foreign.Code)
	require.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, missing.Body.String(), foreign.Body.String(),
		"cross-user probe must be indistinguishable from a missing job")
}

func TestCancelJobHandler(t *testing.T) {
	svc := newFakeJobService(runningJob("job_1", "usr_a"))
	h := newTestJobHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.CancelJobHandler(rec, authedRequest(http.MethodDelete, "/api/jobs/job_1", "usr_a", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"job_1"}, svc.cancelled)
}

func TestCancelJobHandlerTerminal(t *testing.T) {
	svc := newFakeJobService(completedJob("job_1", "usr_a", "# Done"))
	h := newTestJobHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.CancelJobHandler(rec, authedRequest(http.MethodDelete, "/api/jobs/job_1", "usr_a", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, svc.cancelled)
}

func TestDownloadJobHandlerMarkdown(t *testing.T) {
	const markdown = "# Getting Started\n\nInstall the package first.\n"
	svc := newFakeJobService(completedJob("job_1", "usr_a", markdown))
	h := newTestJobHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.DownloadJobHandler(rec, authedRequest(http.MethodGet, "/api/jobs/job_1/download", "usr_a", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "job_1.md")
	assert.Equal(t, markdown, rec.Body.String())
}

func TestDownloadJobHandlerHTML(t *testing.T) {
	svc := newFakeJobService(completedJob("job_1", "usr_a", "# Getting Started\n\nHello.\n"))
	h := newTestJobHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.DownloadJobHandler(rec, authedRequest(http.MethodGet, "/api/jobs/job_1/download?format=html", "usr_a", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "<!DOCTYPE html>"))
	assert.Contains(t, body, "docs.example.com documentation")
	assert.Contains(t, body, "Getting Started")
}

func TestDownloadJobHandlerPDF(t *testing.T) {
	svc := newFakeJobService(completedJob("job_1", "usr_a", "# Getting Started\n\nHello.\n"))
	h := newTestJobHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.DownloadJobHandler(rec, authedRequest(http.MethodGet, "/api/jobs/job_1/download?format=pdf", "usr_a", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "job_1.pdf")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))
}

func TestDownloadJobHandlerUnknownFormat(t *testing.T) {
	svc := newFakeJobService(completedJob("job_1", "usr_a", "# Done"))
	h := newTestJobHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.DownloadJobHandler(rec, authedRequest(http.MethodGet, "/api/jobs/job_1/download?format=docx", "usr_a", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadJobHandlerNotReady(t *testing.T) {
	svc := newFakeJobService(runningJob("job_1", "usr_a"))
	h := newTestJobHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.DownloadJobHandler(rec, authedRequest(http.MethodGet, "/api/jobs/job_1/download", "usr_a", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobLogsHandler(t *testing.T) {
	jobLogs := &fakeJobLogs{}
	require.NoError(t, jobLogs.AppendLogs(context.Background(), "job_1", []models.JobLogEntry{
		{Timestamp: "10:01:02.123", FullTimestamp: time.Now().UTC(), Level: "info", Message: "Crawl started"},
		{Timestamp: "10:01:03.456", FullTimestamp: time.Now().UTC(), Level: "warn", Message: "Slow fetch"},
	}))

	svc := newFakeJobService(runningJob("job_1", "usr_a"))
	h := newTestJobHandler(svc, jobLogs)

	rec := httptest.NewRecorder()
	h.GetJobLogsHandler(rec, authedRequest(http.MethodGet, "/api/jobs/job_1/logs", "usr_a", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		JobID string               `json:"job_id"`
		Count int                  `json:"count"`
		Logs  []models.JobLogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job_1", resp.JobID)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Logs, 2)
	assert.Equal(t, "Crawl started", resp.Logs[0].Message)
}

func TestGetJobLogsHandlerInvalidLimit(t *testing.T) {
	svc := newFakeJobService(runningJob("job_1", "usr_a"))
	h := newTestJobHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.GetJobLogsHandler(rec, authedRequest(http.MethodGet, "/api/jobs/job_1/logs?limit=banana", "usr_a", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobLogsHandlerForeignUser(t *testing.T) {
	svc := newFakeJobService(runningJob("job_1", "usr_a"))
	h := newTestJobHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.GetJobLogsHandler(rec, authedRequest(http.MethodGet, "/api/jobs/job_1/logs", "usr_b", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
