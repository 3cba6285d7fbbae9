package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsFrame mirrors one progress event onto the WebSocket feed.
type wsFrame struct {
	ID    int64            `json:"id"`
	Event models.EventType `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

// WSHandler mirrors the SSE progress feed over a WebSocket for clients that
// cannot consume EventSource.
type WSHandler struct {
	jobs     interfaces.JobService
	events   interfaces.EventService
	throttle time.Duration
	logger   arbor.ILogger
}

func NewWSHandler(jobs interfaces.JobService, events interfaces.EventService, cfg *common.Config, logger arbor.ILogger) *WSHandler {
	return &WSHandler{
		jobs:     jobs,
		events:   events,
		throttle: cfg.ProgressThrottle(),
		logger:   logger,
	}
}

// ServeJobEventsHandler handles GET /api/jobs/{id}/ws
//
// Same auth and resume contract as the SSE stream. The resume cursor rides
// in ?since= because browsers cannot set headers on WebSocket dials.
func (h *WSHandler) ServeJobEventsHandler(w http.ResponseWriter, r *http.Request) {
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

	sinceID := parseSinceID(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.logger.Debug().Str("job_id", jobID).Int64("since", sinceID).Msg("WebSocket feed opened")

	if job.IsTerminal() {
		events, err := h.events.Replay(r.Context(), jobID, sinceID)
		if err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket replay failed")
			return
		}
		for _, event := range events {
			if err := h.writeFrame(conn, event); err != nil {
				return
			}
		}
		h.closeNormally(conn)
		return
	}

	sub, err := h.events.Subscribe(r.Context(), jobID, sinceID)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket subscribe failed")
		return
	}
	defer sub.Close()

	// The read loop exists only to notice disconnects; clients send nothing.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug().Err(err).Str("job_id", jobID).Msg("WebSocket closed unexpectedly")
				}
				return
			}
		}
	}()

	var limiter *rate.Limiter
	if h.throttle > 0 {
		limiter = rate.NewLimiter(rate.Every(h.throttle), 1)
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-disconnected:
			return
		case event, open := <-sub.Events():
			if !open {
				return
			}
			// Progress ticks are throttled; every other type always goes out.
			if limiter != nil && event.Type == models.EventProgress && !limiter.Allow() {
				continue
			}
			if err := h.writeFrame(conn, event); err != nil {
				return
			}
			if event.Type.IsTerminal() {
				h.closeNormally(conn)
				return
			}
		}
	}
}

func (h *WSHandler) writeFrame(conn *websocket.Conn, event *models.ProgressEvent) error {
	data, err := json.Marshal(wsFrame{
		ID:    event.EventID,
		Event: event.Type,
		Data:  event.Payload,
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// closeNormally tells the client the feed ended on purpose so it does not
// reconnect.
func (h *WSHandler) closeNormally(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
		deadline)
}
