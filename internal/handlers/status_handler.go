package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// StatusHandler reports service health: version, uptime, job counts and
// maintenance task state.
type StatusHandler struct {
	storage   interfaces.StorageManager
	crawler   interfaces.CrawlerService
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
	startedAt time.Time
}

func NewStatusHandler(storage interfaces.StorageManager, crawler interfaces.CrawlerService, scheduler interfaces.SchedulerService, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		storage:   storage,
		crawler:   crawler,
		scheduler: scheduler,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	// Counts are best effort; a storage hiccup should not take the status
	// endpoint down with it.
	jobCounts := map[string]int{}
	for _, status := range []models.JobStatus{models.JobStatusPending, models.JobStatusRunning} {
		jobs, err := h.storage.JobStorage().ListByStatus(r.Context(), status)
		if err != nil {
			h.logger.Warn().Err(err).Str("status", string(status)).Msg("Status job count failed")
			continue
		}
		jobCounts[string(status)] = len(jobs)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"service":     "doceo",
		"status":      "ok",
		"version":     common.GetVersion(),
		"build":       common.GetBuild(),
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
		"active_jobs": len(h.crawler.ActiveJobs()),
		"jobs":        jobCounts,
		"scheduler": map[string]interface{}{
			"running": h.scheduler.IsRunning(),
			"tasks":   h.scheduler.TaskStatuses(),
		},
	})
}
