package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/services/events"
)

func newTestWSHandler(t *testing.T, jobs *fakeJobService, feed *events.Service, throttle string) *WSHandler {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.WebSocket.ProgressThrottle = throttle
	return NewWSHandler(jobs, feed, cfg, arbor.NewLogger())
}

func dialWS(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame wsFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestWebSocketMirrorsEventFeed(t *testing.T) {
	feed := newEventFeed(t)
	publishHistory(t, feed)

	h := newTestWSHandler(t, newFakeJobService(runningJob("job_1", "usr_a")), feed, "0s")
	server := streamServer(t, h.ServeJobEventsHandler, "usr_a")

	conn := dialWS(t, server, "/api/jobs/job_1/ws")

	first := readFrame(t, conn)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, models.EventStreamConnected, first.Event)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(first.Data, &payload))
	assert.Equal(t, "job_1", payload["job_id"])

	second := readFrame(t, conn)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, models.EventURLCrawled, second.Event)

	last := readFrame(t, conn)
	assert.Equal(t, int64(3), last.ID)
	assert.Equal(t, models.EventJobCompleted, last.Event)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
		"feed must end with a normal close after the terminal event, got %v", err)
}

func TestWebSocketResumesFromSince(t *testing.T) {
	feed := newEventFeed(t)
	publishHistory(t, feed)

	h := newTestWSHandler(t, newFakeJobService(runningJob("job_1", "usr_a")), feed, "0s")
	server := streamServer(t, h.ServeJobEventsHandler, "usr_a")

	conn := dialWS(t, server, "/api/jobs/job_1/ws?since=2")

	frame := readFrame(t, conn)
	assert.Equal(t, int64(3), frame.ID)
	assert.Equal(t, models.EventJobCompleted, frame.Event)
}

func TestWebSocketLiveDelivery(t *testing.T) {
	feed := newEventFeed(t)

	h := newTestWSHandler(t, newFakeJobService(runningJob("job_1", "usr_a")), feed, "0s")
	server := streamServer(t, h.ServeJobEventsHandler, "usr_a")

	conn := dialWS(t, server, "/api/jobs/job_1/ws")

	ctx := context.Background()
	_, err := feed.Publish(ctx, "job_1", models.EventURLStarted,
		models.URLStartedPayload{URL: "https://docs.example.com/a", Depth: 1})
	require.NoError(t, err)
	_, err = feed.Publish(ctx, "job_1", models.EventJobFailed,
		models.JobFailedPayload{JobID: "job_1", Error: "seed fetch failed"})
	require.NoError(t, err)

	frame := readFrame(t, conn)
	assert.Equal(t, models.EventURLStarted, frame.Event)

	last := readFrame(t, conn)
	assert.Equal(t, models.EventJobFailed, last.Event)
}

func TestWebSocketThrottlesProgressFrames(t *testing.T) {
	feed := newEventFeed(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := feed.Publish(ctx, "job_1", models.EventProgress,
			models.ProgressPayload{Processed: i, Discovered: 3, Queued: 3})
		require.NoError(t, err)
	}
	_, err := feed.Publish(ctx, "job_1", models.EventJobCompleted,
		models.JobCompletedPayload{JobID: "job_1", TotalProcessed: 3})
	require.NoError(t, err)

	h := newTestWSHandler(t, newFakeJobService(runningJob("job_1", "usr_a")), feed, "1h")
	server := streamServer(t, h.ServeJobEventsHandler, "usr_a")

	conn := dialWS(t, server, "/api/jobs/job_1/ws")

	first := readFrame(t, conn)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, models.EventProgress, first.Event)

	// The second and third ticks fall inside the throttle window and are
	// dropped; the terminal frame always goes out.
	next := readFrame(t, conn)
	assert.Equal(t, int64(4), next.ID)
	assert.Equal(t, models.EventJobCompleted, next.Event)
}

func TestWebSocketTerminalJobReplaysAndCloses(t *testing.T) {
	feed := newEventFeed(t)
	publishHistory(t, feed)

	h := newTestWSHandler(t, newFakeJobService(completedJob("job_1", "usr_a", "# Done")), feed, "0s")
	server := streamServer(t, h.ServeJobEventsHandler, "usr_a")

	conn := dialWS(t, server, "/api/jobs/job_1/ws")

	for want := int64(1); want <= 3; want++ {
		frame := readFrame(t, conn)
		assert.Equal(t, want, frame.ID)
	}

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestWebSocketRejectsForeignUser(t *testing.T) {
	feed := newEventFeed(t)
	h := newTestWSHandler(t, newFakeJobService(runningJob("job_1", "usr_a")), feed, "0s")
	server := streamServer(t, h.ServeJobEventsHandler, "usr_b")

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/jobs/job_1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
