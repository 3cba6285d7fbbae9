package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

const (
	completionPollInterval = 200 * time.Millisecond
	finalizeTimeout        = 30 * time.Second
	pageJoinSeparator      = "\n\n---\n\n"
)

// Orchestrator owns one job's lifecycle: it seeds the queue, runs the
// worker pool, watches for drain or deadline and assembles the final
// artifact. Counters live in atomics here and are reconstructed from
// queue counts when a job resumes after a restart.
type Orchestrator struct {
	job      *models.CrawlJob
	cfg      models.CrawlConfig
	seedURL  string
	seedHash string
	seedHost string

	jobs   interfaces.JobStorage
	queue  interfaces.QueueStorage
	pages  interfaces.PageStorage
	cache  interfaces.CacheService
	events interfaces.EventService

	fetcher   *Fetcher
	extractor *Extractor
	sitemaps  *SitemapFetcher
	logger    arbor.ILogger

	wg       sync.WaitGroup
	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	discoverMu sync.Mutex
	processed  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	filtered   atomic.Int64
	discovered atomic.Int64
	queued     atomic.Int64

	fatalMu  sync.Mutex
	fatalErr string

	startedAt time.Time
}

func newOrchestrator(job *models.CrawlJob, storage interfaces.StorageManager, cache interfaces.CacheService, events interfaces.EventService, fetcher *Fetcher, extractor *Extractor, sitemaps *SitemapFetcher, logger arbor.ILogger) *Orchestrator {
	seedURL := job.RootURL
	if seedURL == "" {
		seedURL = NormalizeURL(job.SeedURL)
	}
	return &Orchestrator{
		job:       job,
		cfg:       job.Config,
		seedURL:   seedURL,
		seedHash:  URLHash(seedURL),
		seedHost:  hostOf(seedURL),
		jobs:      storage.JobStorage(),
		queue:     storage.QueueStorage(),
		pages:     storage.PageStorage(),
		cache:     cache,
		events:    events,
		fetcher:   fetcher,
		extractor: extractor,
		sitemaps:  sitemaps,
		logger:    logger,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Cancel asks the orchestrator to stop after workers finish their
// current items. Safe to call more than once.
func (o *Orchestrator) Cancel() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// Done closes once the job reached a terminal state and all workers
// exited.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Run drives the job to a terminal state. It blocks until completion,
// timeout, cancellation or fatal error.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)
	o.startedAt = time.Now()

	if err := o.jobs.UpdateJobStatus(ctx, o.job.ID, models.JobStatusRunning, ""); err != nil {
		o.logger.Warn().Str("job_id", o.job.ID).Err(err).Msg("Job not startable")
		return
	}

	o.emit(ctx, models.EventStreamConnected, models.StreamConnectedPayload{JobID: o.job.ID, URL: o.seedURL})

	// Recover from a previous run of this job: return stale claims to
	// pending and rebuild counters from the queue.
	if released, err := o.queue.ReleaseClaims(ctx, o.job.ID); err == nil && released > 0 {
		o.logger.Info().Str("job_id", o.job.ID).Int("released", released).Msg("Released stale claims from previous run")
	}
	o.restoreCounters(ctx)

	if o.queued.Load() == 0 {
		if err := o.seed(ctx); err != nil {
			o.logger.Error().Str("job_id", o.job.ID).Err(err).Msg("Seeding failed")
			o.finalize(models.JobStatusFailed, fmt.Sprintf("seed: %v", err))
			return
		}
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	for i := 0; i < o.cfg.MaxConcurrentRequests; i++ {
		o.wg.Add(1)
		go o.workerLoop(workerCtx, i)
	}

	o.logger.Info().
		Str("job_id", o.job.ID).
		Str("seed", o.seedURL).
		Int("workers", o.cfg.MaxConcurrentRequests).
		Int("max_pages", o.cfg.MaxPages).
		Int("max_depth", o.cfg.MaxDepth).
		Msg("Crawl started")

	status, message := o.supervise(ctx, workerCtx)

	stopWorkers()
	o.wg.Wait()
	o.finalize(status, message)
}

// supervise blocks until the job should stop and reports how. Completion
// is pending == 0 and in_flight == 0 in a single queue snapshot.
func (o *Orchestrator) supervise(ctx, workerCtx context.Context) (models.JobStatus, string) {
	deadline := time.NewTimer(o.cfg.JobTimeout())
	defer deadline.Stop()

	poll := time.NewTicker(completionPollInterval)
	defer poll.Stop()

	seconds := time.NewTicker(time.Second)
	defer seconds.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.JobStatusCancelled, "service shutting down"
		case <-o.stop:
			return models.JobStatusCancelled, "cancelled by user"
		case <-deadline.C:
			return models.JobStatusTimeout, fmt.Sprintf("job exceeded %s time limit", o.cfg.JobTimeout())
		case <-seconds.C:
			o.emitTimeUpdate(workerCtx)
			o.persistCounters(workerCtx)
		case <-poll.C:
		case <-o.kick:
		}

		if msg, fatal := o.getFatal(); fatal {
			return models.JobStatusFailed, msg
		}

		counts, err := o.queue.Counts(workerCtx, o.job.ID)
		if err != nil {
			o.logger.Warn().Str("job_id", o.job.ID).Err(err).Msg("Queue count failed")
			continue
		}
		if counts.Total() > 0 && counts.Drained() {
			return models.JobStatusCompleted, ""
		}
	}
}

// seed populates the queue: sitemap URLs when enabled and discoverable,
// always including the seed URL itself, capped at max_pages.
func (o *Orchestrator) seed(ctx context.Context) error {
	seeds := []string{o.seedURL}
	seen := map[string]bool{o.seedHash: true}

	if o.cfg.UseSitemap {
		for _, raw := range o.discoverSitemapURLs(ctx) {
			if len(seeds) >= o.cfg.MaxPages {
				break
			}
			normalized := NormalizeURL(raw)
			if normalized == "" || !IsValidCrawlURL(normalized, o.seedHost, o.cfg.FollowExternalLinks) {
				continue
			}
			hash := URLHash(normalized)
			if seen[hash] {
				continue
			}
			seen[hash] = true
			seeds = append(seeds, normalized)
		}
	}

	items := make([]*models.QueueItem, 0, len(seeds))
	for _, u := range seeds {
		items = append(items, models.NewQueueItem(newItemID(), o.job.ID, u, URLHash(u), FullURLHash(u), 0, ""))
	}
	inserted, err := o.queue.Enqueue(ctx, items)
	if err != nil {
		return err
	}
	o.discovered.Add(int64(inserted))
	o.queued.Add(int64(inserted))

	if len(seeds) > 1 {
		o.emit(ctx, models.EventURLsDiscovered, models.URLsDiscoveredPayload{
			SourceURL:       o.seedURL,
			DiscoveredURLs:  seeds[1:],
			Count:           inserted - 1,
			TotalDiscovered: int(o.discovered.Load()),
		})
		o.logger.Info().Str("job_id", o.job.ID).Int("sitemap_urls", len(seeds)-1).Msg("Seeded queue from sitemap")
	}
	o.emitProgress(ctx)
	return nil
}

// discoverSitemapURLs collects page URLs from the sitemaps declared in
// robots.txt, falling back to the conventional /sitemap.xml location.
func (o *Orchestrator) discoverSitemapURLs(ctx context.Context) []string {
	sitemapURLs := o.fetcher.Robots().Sitemaps(ctx, o.seedURL)
	if len(sitemapURLs) == 0 {
		if origin := originOf(o.seedURL); origin != "" {
			sitemapURLs = []string{origin + "/sitemap.xml"}
		}
	}
	return o.sitemaps.FetchAll(ctx, sitemapURLs, o.cfg.MaxPages)
}

// restoreCounters rebuilds the in-memory counters from the queue, which
// fully determines them. Fresh jobs start at zero.
func (o *Orchestrator) restoreCounters(ctx context.Context) {
	counts, err := o.queue.Counts(ctx, o.job.ID)
	if err != nil {
		o.logger.Warn().Str("job_id", o.job.ID).Err(err).Msg("Counter restore failed")
		return
	}
	o.processed.Store(int64(counts.Done))
	o.failed.Store(int64(counts.Failed))
	o.skipped.Store(int64(counts.Skipped))
	o.filtered.Store(int64(counts.Filtered))
	o.queued.Store(int64(counts.Total()))
	o.discovered.Store(int64(counts.Total()))
}

func (o *Orchestrator) countersSnapshot() models.JobCounters {
	return models.JobCounters{
		Discovered: int(o.discovered.Load()),
		Queued:     int(o.queued.Load()),
		Processed:  int(o.processed.Load()),
		Failed:     int(o.failed.Load()),
		Skipped:    int(o.skipped.Load()),
		Filtered:   int(o.filtered.Load()),
	}
}

func (o *Orchestrator) persistCounters(ctx context.Context) {
	job, err := o.jobs.GetJob(ctx, o.job.ID)
	if err != nil {
		return
	}
	job.Counters = o.countersSnapshot()
	if err := o.jobs.UpdateJob(ctx, job); err != nil {
		o.logger.Warn().Str("job_id", o.job.ID).Err(err).Msg("Counter persist failed")
	}
}

// finalize assembles the artifact for completed jobs, persists counters
// and status, and emits the terminal event.
func (o *Orchestrator) finalize(status models.JobStatus, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	counters := o.countersSnapshot()

	job, err := o.jobs.GetJob(ctx, o.job.ID)
	if err != nil {
		o.logger.Error().Str("job_id", o.job.ID).Err(err).Msg("Finalize could not load job")
		return
	}
	job.Counters = counters

	if status == models.JobStatusCompleted {
		markdown, pageCount, wordCount := o.assembleArtifact(ctx)
		job.FinalMarkdown = markdown
		job.PageCount = pageCount
		job.TotalWords = wordCount
		if pageCount > 0 {
			o.emit(ctx, models.EventSentToProcessing, models.SentToProcessingPayload{
				JobID:     o.job.ID,
				PageCount: pageCount,
				WordCount: wordCount,
			})
		}
	}

	if err := o.jobs.UpdateJob(ctx, job); err != nil {
		o.logger.Error().Str("job_id", o.job.ID).Err(err).Msg("Finalize persist failed")
	}
	if err := o.jobs.UpdateJobStatus(ctx, o.job.ID, status, message); err != nil {
		o.logger.Error().Str("job_id", o.job.ID).Str("status", string(status)).Err(err).Msg("Terminal status update failed")
	}

	o.emitTerminal(ctx, status, message, counters)

	o.logger.Info().
		Str("job_id", o.job.ID).
		Str("status", string(status)).
		Int("processed", counters.Processed).
		Int("discovered", counters.Discovered).
		Int("failed", counters.Failed).
		Int("skipped", counters.Skipped).
		Int("filtered", counters.Filtered).
		Dur("duration", time.Since(o.startedAt)).
		Msg("Crawl finished")
}

// assembleArtifact joins the serialized envelopes of qualifying pages in
// crawl order.
func (o *Orchestrator) assembleArtifact(ctx context.Context) (string, int, int) {
	pages, err := o.pages.ListPages(ctx, o.job.ID)
	if err != nil {
		o.logger.Error().Str("job_id", o.job.ID).Err(err).Msg("Artifact assembly could not list pages")
		return "", 0, 0
	}

	var parts []string
	wordCount := 0
	for _, p := range pages {
		if p.Status != models.PageStatusComplete || p.QualityScore < o.cfg.QualityThreshold {
			continue
		}
		parts = append(parts, p.Serialize())
		wordCount += p.WordCount
	}
	if len(parts) == 0 {
		return "", 0, 0
	}
	return strings.Join(parts, pageJoinSeparator), len(parts), wordCount
}

func (o *Orchestrator) emitTerminal(ctx context.Context, status models.JobStatus, message string, c models.JobCounters) {
	switch status {
	case models.JobStatusCompleted:
		o.emit(ctx, models.EventJobCompleted, models.JobCompletedPayload{
			JobID:           o.job.ID,
			TotalProcessed:  c.Processed,
			TotalDiscovered: c.Discovered,
		})
	case models.JobStatusTimeout:
		o.emit(ctx, models.EventJobTimeout, models.JobTimeoutPayload{
			JobID:           o.job.ID,
			TotalProcessed:  c.Processed,
			TotalDiscovered: c.Discovered,
			Message:         message,
		})
	default:
		o.emit(ctx, models.EventJobFailed, models.JobFailedPayload{
			JobID:           o.job.ID,
			Error:           message,
			TotalProcessed:  c.Processed,
			TotalDiscovered: c.Discovered,
		})
	}
}

// emit publishes an event; publish failures never fail the crawl.
func (o *Orchestrator) emit(ctx context.Context, eventType models.EventType, payload interface{}) {
	if _, err := o.events.Publish(ctx, o.job.ID, eventType, payload); err != nil {
		o.logger.Warn().Str("job_id", o.job.ID).Str("event", string(eventType)).Err(err).Msg("Event publish failed")
	}
}

func (o *Orchestrator) emitProgress(ctx context.Context) {
	counts, err := o.queue.Counts(ctx, o.job.ID)
	if err != nil {
		counts = interfaces.QueueCounts{}
	}
	o.emit(ctx, models.EventProgress, models.ProgressPayload{
		Processed:  int(o.processed.Load()),
		Discovered: int(o.discovered.Load()),
		Queued:     int(o.queued.Load()),
		Pending:    counts.Pending,
	})
}

func (o *Orchestrator) emitTimeUpdate(ctx context.Context) {
	counts, err := o.queue.Counts(ctx, o.job.ID)
	if err != nil {
		counts = interfaces.QueueCounts{}
	}
	elapsed := time.Since(o.startedAt)
	o.emit(ctx, models.EventTimeUpdate, models.TimeUpdatePayload{
		Elapsed:         int64(elapsed.Seconds()),
		Formatted:       models.FormatElapsed(elapsed),
		TotalProcessed:  int(o.processed.Load()),
		TotalDiscovered: int(o.discovered.Load()),
		QueueSize:       counts.Pending + counts.InFlight,
		PendingCount:    counts.Pending,
	})
}

// signal wakes the supervisor without blocking the worker.
func (o *Orchestrator) signal() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) setFatal(msg string) {
	o.fatalMu.Lock()
	if o.fatalErr == "" {
		o.fatalErr = msg
	}
	o.fatalMu.Unlock()
	o.signal()
}

func (o *Orchestrator) getFatal() (string, bool) {
	o.fatalMu.Lock()
	defer o.fatalMu.Unlock()
	return o.fatalErr, o.fatalErr != ""
}
