package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

func newTestJobs(t *testing.T) *JobStorage {
	t.Helper()
	db := newTestDB(t)
	return NewJobStorage(db, arbor.NewLogger()).(*JobStorage)
}

func testJob(id, userID string) *models.CrawlJob {
	cfg := models.ResolveCrawlConfig(nil, models.CrawlConfigDefaults{
		MaxDepth: 3, MaxPages: 50, TimeoutMs: 300000, PageTimeoutMs: 8000,
		RateLimitMs: 1000, MaxConcurrentRequests: 3, MaxRetries: 3,
		QualityThreshold: 20, RespectRobots: true, UseSitemap: true,
	})
	return models.NewCrawlJob(id, userID, "https://docs.example.com", cfg)
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestJobs(t)
	ctx := context.Background()

	job := testJob("job_1", "usr_1")
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", got.UserID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 50, got.Config.MaxPages)

	// duplicate create is rejected
	assert.Error(t, s.CreateJob(ctx, job))

	_, err = s.GetJob(ctx, "job_unknown")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestUpdateJobStatusLifecycle(t *testing.T) {
	s := newTestJobs(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, testJob("job_1", "usr_1")))

	require.NoError(t, s.UpdateJobStatus(ctx, "job_1", models.JobStatusRunning, ""))
	got, err := s.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.False(t, got.StartedAt.IsZero())
	assert.True(t, got.EndedAt.IsZero())

	require.NoError(t, s.UpdateJobStatus(ctx, "job_1", models.JobStatusCompleted, ""))
	got, err = s.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.False(t, got.EndedAt.IsZero())

	// terminal jobs accept no further transitions
	err = s.UpdateJobStatus(ctx, "job_1", models.JobStatusRunning, "")
	assert.Error(t, err)
}

func TestUpdateJobStatusRecordsError(t *testing.T) {
	s := newTestJobs(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, testJob("job_1", "usr_1")))
	require.NoError(t, s.UpdateJobStatus(ctx, "job_1", models.JobStatusRunning, ""))
	require.NoError(t, s.UpdateJobStatus(ctx, "job_1", models.JobStatusFailed, "seed URL unreachable"))

	got, err := s.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "seed URL unreachable", got.Error)
}

func TestIncrementCountersConcurrent(t *testing.T) {
	s := newTestJobs(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, testJob("job_1", "usr_1")))

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.IncrementCounters(ctx, "job_1", models.JobCounters{Processed: 1, Discovered: 2}); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, got.Counters.Processed)
	assert.Equal(t, workers*perWorker*2, got.Counters.Discovered)
}

func TestListActiveByUserScoped(t *testing.T) {
	s := newTestJobs(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, testJob("job_1", "usr_a")))
	require.NoError(t, s.CreateJob(ctx, testJob("job_2", "usr_a")))
	require.NoError(t, s.CreateJob(ctx, testJob("job_3", "usr_b")))

	require.NoError(t, s.UpdateJobStatus(ctx, "job_2", models.JobStatusRunning, ""))
	require.NoError(t, s.UpdateJobStatus(ctx, "job_2", models.JobStatusCompleted, ""))

	active, err := s.ListActiveByUser(ctx, "usr_a")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "job_1", active[0].ID)

	count, err := s.CountActiveByUser(ctx, "usr_a")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.CountActiveByUser(ctx, "usr_b")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListTerminalBefore(t *testing.T) {
	s := newTestJobs(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, testJob("job_old", "usr_a")))
	require.NoError(t, s.UpdateJobStatus(ctx, "job_old", models.JobStatusRunning, ""))
	require.NoError(t, s.UpdateJobStatus(ctx, "job_old", models.JobStatusCompleted, ""))

	require.NoError(t, s.CreateJob(ctx, testJob("job_live", "usr_a")))
	require.NoError(t, s.UpdateJobStatus(ctx, "job_live", models.JobStatusRunning, ""))

	// cutoff in the future catches the completed job only
	expired, err := s.ListTerminalBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "job_old", expired[0].ID)

	// cutoff in the past catches nothing
	expired, err = s.ListTerminalBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}
