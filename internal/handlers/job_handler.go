package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

const (
	defaultLogLimit = 1000
	maxLogLimit     = 5000
)

// JobHandler serves the job registry API: creation, listing, lookup,
// cancellation, artifact download and captured logs.
type JobHandler struct {
	jobs    interfaces.JobService
	export  interfaces.ExportService
	jobLogs interfaces.JobLogStorage
	logger  arbor.ILogger
}

func NewJobHandler(jobs interfaces.JobService, export interfaces.ExportService, jobLogs interfaces.JobLogStorage, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:    jobs,
		export:  export,
		jobLogs: jobLogs,
		logger:  logger,
	}
}

// jobSummary is the wire shape for active-job listings.
type jobSummary struct {
	JobID      string             `json:"job_id"`
	URL        string             `json:"url"`
	Status     models.JobStatus   `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	Statistics models.JobCounters `json:"statistics"`
}

// CreateJobHandler handles POST /api/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req models.CrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	job, err := h.jobs.Create(r.Context(), userID, &req)
	if err != nil {
		writeJobError(w, h.logger, err, "")
		return
	}

	h.logger.Info().Str("job_id", job.ID).Str("url", job.SeedURL).Msg("Crawl job accepted")
	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// ListActiveJobsHandler handles GET /api/jobs/active
func (h *JobHandler) ListActiveJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	jobs, err := h.jobs.ListActive(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list active jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	summaries := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, jobSummary{
			JobID:      job.ID,
			URL:        job.SeedURL,
			Status:     job.Status,
			CreatedAt:  job.CreatedAt,
			Statistics: job.Counters,
		})
	}
	WriteJSON(w, http.StatusOK, summaries)
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	job, err := h.jobs.Get(r.Context(), userID, jobID)
	if err != nil {
		writeJobError(w, h.logger, err, jobID)
		return
	}

	// The markdown body is download-only; strip it from status responses.
	shown := *job
	shown.FinalMarkdown = ""
	WriteJSON(w, http.StatusOK, &shown)
}

// CancelJobHandler handles DELETE /api/jobs/{id}
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	if err := h.jobs.Cancel(r.Context(), userID, jobID); err != nil {
		writeJobError(w, h.logger, err, jobID)
		return
	}

	h.logger.Info().Str("job_id", jobID).Msg("Crawl job cancelled")
	WriteSuccess(w, "Job cancelled")
}

// DownloadJobHandler handles GET /api/jobs/{id}/download
func (h *JobHandler) DownloadJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	job, err := h.jobs.Download(r.Context(), userID, jobID)
	if err != nil {
		writeJobError(w, h.logger, err, jobID)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.ID+".md"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(job.FinalMarkdown))

	case "html":
		out, err := h.export.RenderHTML(downloadTitle(job), job.FinalMarkdown)
		if err != nil {
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("HTML render failed")
			WriteError(w, http.StatusInternalServerError, "Failed to render HTML")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(out)

	case "pdf":
		out, err := h.export.RenderPDF(downloadTitle(job), job.FinalMarkdown)
		if err != nil {
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("PDF render failed")
			WriteError(w, http.StatusInternalServerError, "Failed to render PDF")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.ID+".pdf"))
		w.WriteHeader(http.StatusOK)
		w.Write(out)

	default:
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown format %q. Valid values are: markdown, html, pdf", format))
	}
}

// GetJobLogsHandler handles GET /api/jobs/{id}/logs
func (h *JobHandler) GetJobLogsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	if _, err := h.jobs.Get(r.Context(), userID, jobID); err != nil {
		writeJobError(w, h.logger, err, jobID)
		return
	}

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			WriteError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
		if limit > maxLogLimit {
			limit = maxLogLimit
		}
	}

	logs, err := h.jobLogs.GetLogs(r.Context(), jobID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to read job logs")
		WriteError(w, http.StatusInternalServerError, "Failed to retrieve logs")
		return
	}
	if logs == nil {
		logs = []models.JobLogEntry{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"count":  len(logs),
		"logs":   logs,
	})
}

// writeJobError maps registry errors onto HTTP status codes. Jobs owned by
// another user produce the same 404 as jobs that never existed.
func writeJobError(w http.ResponseWriter, logger arbor.ILogger, err error, jobID string) {
	switch {
	case errors.Is(err, interfaces.ErrJobNotFound), errors.Is(err, interfaces.ErrForbidden):
		WriteError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, interfaces.ErrInvalidRequest):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, interfaces.ErrTooManyJobs):
		WriteError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, interfaces.ErrJobTerminal):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, interfaces.ErrNoArtifact):
		WriteError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error().Err(err).Str("job_id", jobID).Msg("Job request failed")
		WriteError(w, http.StatusInternalServerError, "Internal error")
	}
}

// downloadTitle derives a document title from the crawl origin.
func downloadTitle(job *models.CrawlJob) string {
	source := job.RootURL
	if source == "" {
		source = job.SeedURL
	}
	if u, err := url.Parse(source); err == nil && u.Host != "" {
		return u.Host + " documentation"
	}
	return "Documentation"
}
