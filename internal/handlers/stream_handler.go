package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

const ssePingInterval = 15 * time.Second

// StreamHandler serves the resumable SSE progress feed for a crawl job.
type StreamHandler struct {
	jobs   interfaces.JobService
	events interfaces.EventService
	logger arbor.ILogger
}

func NewStreamHandler(jobs interfaces.JobService, events interfaces.EventService, logger arbor.ILogger) *StreamHandler {
	return &StreamHandler{
		jobs:   jobs,
		events: events,
		logger: logger,
	}
}

// StreamJobEventsHandler handles GET /api/jobs/{id}/stream
//
// Replayed and live events share one per-job sequence, so a client that
// reconnects with Last-Event-ID (or ?since=) resumes exactly after the last
// event it acknowledged.
func (h *StreamHandler) StreamJobEventsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	jobID := JobIDFromPath(r.URL.Path)
	job, err := h.jobs.Authorize(r.Context(), userID, jobID)
	if err != nil {
		writeJobError(w, h.logger, err, jobID)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	sinceID := parseSinceID(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug().Str("job_id", jobID).Int64("since", sinceID).Msg("SSE stream opened")

	// A terminal job publishes nothing more, so its history is served as a
	// straight replay instead of an idle subscription that only the ping
	// ticker would keep alive.
	if job.IsTerminal() {
		events, err := h.events.Replay(r.Context(), jobID, sinceID)
		if err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("SSE replay failed")
			return
		}
		for _, event := range events {
			h.sendEvent(w, flusher, event)
		}
		return
	}

	sub, err := h.events.Subscribe(r.Context(), jobID, sinceID)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("SSE subscribe failed")
		return
	}
	defer sub.Close()

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub.Events():
			if !open {
				return
			}
			h.sendEvent(w, flusher, event)
			if event.Type.IsTerminal() {
				return
			}
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// sendEvent writes one SSE frame. The id line carries the sequence number
// the client echoes back in Last-Event-ID on reconnect.
func (h *StreamHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event *models.ProgressEvent) {
	fmt.Fprintf(w, "id: %d\n", event.EventID)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", event.Payload)
	flusher.Flush()
}

// parseSinceID reads the resume cursor from the Last-Event-ID header, falling
// back to the ?since= query parameter for clients that cannot set headers.
// Anything unparseable means a full replay from the start.
func parseSinceID(r *http.Request) int64 {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("since"))
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
