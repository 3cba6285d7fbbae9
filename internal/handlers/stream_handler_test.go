package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/services/events"
)

// memoryEventStore is an in-memory EventStorage with per-job monotonic IDs,
// matching the badger implementation.
type memoryEventStore struct {
	mu     sync.Mutex
	events map[string][]*models.ProgressEvent
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{events: make(map[string][]*models.ProgressEvent)}
}

func (m *memoryEventStore) Append(ctx context.Context, jobID string, eventType models.EventType, payload interface{}) (*models.ProgressEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := time.Now().UTC()
	raw, err := models.EncodeEventPayload(payload, ts)
	if err != nil {
		return nil, err
	}

	eventID := int64(len(m.events[jobID]) + 1)
	event := &models.ProgressEvent{
		Key:       models.EventKey(jobID, eventID),
		JobID:     jobID,
		EventID:   eventID,
		Type:      eventType,
		Timestamp: ts,
		Payload:   raw,
	}
	m.events[jobID] = append(m.events[jobID], event)
	return event, nil
}

func (m *memoryEventStore) ListSince(ctx context.Context, jobID string, sinceID int64) ([]*models.ProgressEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.ProgressEvent
	for _, event := range m.events[jobID] {
		if event.EventID > sinceID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (m *memoryEventStore) LastEventID(ctx context.Context, jobID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events[jobID])), nil
}

func (m *memoryEventStore) DeleteJobEvents(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, jobID)
	return nil
}

func newEventFeed(t *testing.T) *events.Service {
	t.Helper()
	svc := events.NewService(newMemoryEventStore(), 16, arbor.NewLogger())
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// publishHistory seeds a short connected/crawled/completed lifecycle for job_1.
func publishHistory(t *testing.T, feed *events.Service) {
	t.Helper()
	ctx := context.Background()

	_, err := feed.Publish(ctx, "job_1", models.EventStreamConnected,
		models.StreamConnectedPayload{JobID: "job_1", URL: "https://docs.example.com/guide"})
	require.NoError(t, err)

	_, err = feed.Publish(ctx, "job_1", models.EventURLCrawled,
		models.URLCrawledPayload{URL: "https://docs.example.com/guide", Success: true, ContentLength: 1200})
	require.NoError(t, err)

	_, err = feed.Publish(ctx, "job_1", models.EventJobCompleted,
		models.JobCompletedPayload{JobID: "job_1", TotalProcessed: 1, TotalDiscovered: 1})
	require.NoError(t, err)
}

// streamServer serves the handler behind a stand-in auth middleware that
// pins the authenticated user.
func streamServer(t *testing.T, handler http.HandlerFunc, userID string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r.WithContext(WithUserID(r.Context(), userID)))
	}))
	t.Cleanup(server.Close)
	return server
}

func sseGet(t *testing.T, url, lastEventID string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStreamJobEventsHandlerReplaysToTerminal(t *testing.T) {
	feed := newEventFeed(t)
	publishHistory(t, feed)

	h := NewStreamHandler(newFakeJobService(runningJob("job_1", "usr_a")), feed, arbor.NewLogger())
	server := streamServer(t, h.StreamJobEventsHandler, "usr_a")

	resp := sseGet(t, server.URL+"/api/jobs/job_1/stream", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "id: 1\nevent: stream_connected\ndata: {")
	assert.Contains(t, text, "id: 2\nevent: url_crawled\n")
	assert.Contains(t, text, "id: 3\nevent: job_completed\n")

	frames := strings.Split(strings.TrimSuffix(text, "\n\n"), "\n\n")
	require.Len(t, frames, 3)
	assert.Contains(t, frames[2], "job_completed", "stream must end with the terminal event")
}

func TestStreamJobEventsHandlerResume(t *testing.T) {
	feed := newEventFeed(t)
	publishHistory(t, feed)

	h := NewStreamHandler(newFakeJobService(runningJob("job_1", "usr_a")), feed, arbor.NewLogger())
	server := streamServer(t, h.StreamJobEventsHandler, "usr_a")

	t.Run("last event id header", func(t *testing.T) {
		resp := sseGet(t, server.URL+"/api/jobs/job_1/stream", "2")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		text := string(body)
		assert.NotContains(t, text, "id: 1\n")
		assert.NotContains(t, text, "id: 2\n")
		assert.Contains(t, text, "id: 3\nevent: job_completed\n")
	})

	t.Run("since query fallback", func(t *testing.T) {
		resp := sseGet(t, server.URL+"/api/jobs/job_1/stream?since=2", "")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		text := string(body)
		assert.NotContains(t, text, "id: 1\n")
		assert.Contains(t, text, "id: 3\n")
	})
}

func TestStreamJobEventsHandlerLiveDelivery(t *testing.T) {
	feed := newEventFeed(t)

	h := NewStreamHandler(newFakeJobService(runningJob("job_1", "usr_a")), feed, arbor.NewLogger())
	server := streamServer(t, h.StreamJobEventsHandler, "usr_a")

	resp := sseGet(t, server.URL+"/api/jobs/job_1/stream", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Headers arrived, so the handler is at or past its subscribe call.
	// Whatever lands in the log first is replayed, the rest arrives live;
	// the client cannot tell the difference.
	ctx := context.Background()
	_, err := feed.Publish(ctx, "job_1", models.EventURLStarted,
		models.URLStartedPayload{URL: "https://docs.example.com/a", Depth: 1})
	require.NoError(t, err)
	_, err = feed.Publish(ctx, "job_1", models.EventJobCompleted,
		models.JobCompletedPayload{JobID: "job_1", TotalProcessed: 1})
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "event: url_started\n")
	assert.Contains(t, text, "event: job_completed\n")
}

func TestStreamJobEventsHandlerTerminalJob(t *testing.T) {
	feed := newEventFeed(t)
	publishHistory(t, feed)

	h := NewStreamHandler(newFakeJobService(completedJob("job_1", "usr_a", "# Done")), feed, arbor.NewLogger())
	server := streamServer(t, h.StreamJobEventsHandler, "usr_a")

	resp := sseGet(t, server.URL+"/api/jobs/job_1/stream", "")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "id: 3\nevent: job_completed\n")

	// A client that already saw the terminal event gets an empty body and
	// a clean close instead of a stream that never ends.
	caughtUp := sseGet(t, server.URL+"/api/jobs/job_1/stream", "3")
	remainder, err := io.ReadAll(caughtUp.Body)
	require.NoError(t, err)
	assert.Empty(t, remainder)
}

func TestStreamJobEventsHandlerForeignUser(t *testing.T) {
	feed := newEventFeed(t)
	h := NewStreamHandler(newFakeJobService(runningJob("job_1", "usr_a")), feed, arbor.NewLogger())
	server := streamServer(t, h.StreamJobEventsHandler, "usr_b")

	resp := sseGet(t, server.URL+"/api/jobs/job_1/stream", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestParseSinceID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   int64
	}{
		{"header wins", "7", "3", 7},
		{"query fallback", "", "3", 3},
		{"absent", "", "", 0},
		{"garbage", "abc", "", 0},
		{"negative", "-2", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/jobs/job_1/stream"
			if tt.query != "" {
				target += "?since=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Last-Event-ID", tt.header)
			}
			assert.Equal(t, tt.want, parseSinceID(req))
		})
	}
}
