package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/doceo/internal/models"
)

const (
	idlePollInterval   = 100 * time.Millisecond
	claimRetryDelay    = 250 * time.Millisecond
	backpressureFactor = 4
	backpressureWait   = 50 * time.Millisecond
	backpressureLimit  = 20
)

// workerLoop claims queue items one at a time until the worker context is
// cancelled. Claim order is breadth-first, so with a single worker the
// crawl order is deterministic.
func (o *Orchestrator) workerLoop(ctx context.Context, index int) {
	defer o.wg.Done()

	start := time.Now()
	handled := 0
	o.logger.Debug().Str("job_id", o.job.ID).Int("worker", index).Msg("Worker started")
	defer func() {
		o.logger.Debug().
			Str("job_id", o.job.ID).
			Int("worker", index).
			Int("handled", handled).
			Dur("duration", time.Since(start)).
			Msg("Worker exiting")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		items, err := o.queue.ClaimBatch(ctx, o.job.ID, 1)
		if err != nil {
			o.logger.Warn().Str("job_id", o.job.ID).Int("worker", index).Err(err).Msg("Claim failed")
			if !sleepCtx(ctx, claimRetryDelay) {
				return
			}
			continue
		}
		if len(items) == 0 {
			o.signal()
			if !sleepCtx(ctx, idlePollInterval) {
				return
			}
			continue
		}

		o.processItem(ctx, items[0])
		handled++
		o.signal()
	}
}

// processItem runs one URL through the crawl pipeline: validate, cache
// probe, fetch, extract, dedup, score, persist and discover links.
func (o *Orchestrator) processItem(ctx context.Context, item *models.QueueItem) {
	started := time.Now()
	o.emit(ctx, models.EventURLStarted, models.URLStartedPayload{URL: item.URL, Depth: item.Depth})

	normalized := NormalizeURL(item.URL)
	if normalized == "" || !IsValidCrawlURL(normalized, o.seedHost, o.cfg.FollowExternalLinks) {
		o.finishSkipped(ctx, item, "invalid url")
		return
	}

	if !o.cfg.ForceRefresh {
		if entry, ok := o.cache.Get(ctx, normalized); ok {
			o.completeFromCache(ctx, item, entry)
			return
		}
	}

	result, err := o.fetcher.Fetch(ctx, normalized, &o.cfg)
	if err != nil {
		o.failItem(ctx, item, err)
		return
	}

	// Cooperative cancellation point between fetch and extract. The claim
	// stays in_flight; ReleaseClaims recovers it if the job resumes.
	if ctx.Err() != nil {
		return
	}

	extracted, err := o.extractor.Extract(result.Body, normalized, &o.cfg)
	if err != nil {
		o.failItem(ctx, item, fmt.Errorf("extract: %w", err))
		return
	}

	dup, err := o.queue.MarkContentSeen(ctx, o.job.ID, extracted.ContentHash, normalized)
	if err != nil {
		o.logger.Warn().Str("job_id", o.job.ID).Str("url", normalized).Err(err).Msg("Content dedup check failed")
	}
	if dup {
		o.finishSkipped(ctx, item, "duplicate content")
		return
	}

	score, reason := AssessQuality(extracted.Markdown)
	filtered := score < o.cfg.QualityThreshold

	entry := &models.CacheEntry{
		URL:          normalized,
		Title:        extracted.Title,
		Markdown:     extracted.Markdown,
		ContentHash:  extracted.ContentHash,
		WordCount:    extracted.WordCount,
		HasCode:      extracted.HasCode,
		IsDocPage:    extracted.IsDocPage,
		QualityScore: score,
		Links:        extracted.Links,
	}
	if err := o.cache.Put(ctx, normalized, entry); err != nil {
		o.logger.Warn().Str("url", normalized).Err(err).Msg("Cache store failed")
	}

	status := models.PageStatusComplete
	state := models.ItemStateDone
	if filtered {
		status = models.PageStatusFiltered
		state = models.ItemStateFiltered
	}
	o.savePage(ctx, item, extracted, status, score, false, time.Since(started))

	if err := o.queue.Complete(ctx, item.ID, state); err != nil {
		o.logger.Warn().Str("item_id", item.ID).Err(err).Msg("Queue complete failed")
	}
	if filtered {
		o.filtered.Add(1)
	} else {
		o.processed.Add(1)
	}

	o.emit(ctx, models.EventURLCrawled, models.URLCrawledPayload{
		URL:           normalized,
		Success:       true,
		ContentLength: len(extracted.Markdown),
		Title:         extracted.Title,
		Quality:       &models.QualityInfo{Score: score, Reason: reason},
	})

	// Filtered pages still feed discovery: index pages often score low
	// but link to the content that matters.
	o.discoverFrom(ctx, item, extracted.Links)
	o.emitProgress(ctx)
}

// completeFromCache satisfies an item from the shared URL cache without
// refetching. Content dedup and quality filtering still apply per job.
func (o *Orchestrator) completeFromCache(ctx context.Context, item *models.QueueItem, entry *models.CacheEntry) {
	dup, err := o.queue.MarkContentSeen(ctx, o.job.ID, entry.ContentHash, entry.URL)
	if err != nil {
		o.logger.Warn().Str("job_id", o.job.ID).Str("url", entry.URL).Err(err).Msg("Content dedup check failed")
	}
	if dup {
		o.finishSkipped(ctx, item, "duplicate content")
		return
	}

	score, reason := AssessQuality(entry.Markdown)
	filtered := score < o.cfg.QualityThreshold

	status := models.PageStatusComplete
	state := models.ItemStateDone
	if filtered {
		status = models.PageStatusFiltered
		state = models.ItemStateFiltered
	}

	extracted := &ExtractResult{
		Title:       entry.Title,
		Markdown:    entry.Markdown,
		ContentHash: entry.ContentHash,
		WordCount:   entry.WordCount,
		HasCode:     entry.HasCode,
		IsDocPage:   entry.IsDocPage,
		Links:       entry.Links,
	}
	o.savePage(ctx, item, extracted, status, score, true, 0)

	if err := o.queue.Complete(ctx, item.ID, state); err != nil {
		o.logger.Warn().Str("item_id", item.ID).Err(err).Msg("Queue complete failed")
	}
	if filtered {
		o.filtered.Add(1)
	} else {
		o.processed.Add(1)
	}

	o.emit(ctx, models.EventURLCrawled, models.URLCrawledPayload{
		URL:           entry.URL,
		Success:       true,
		ContentLength: len(entry.Markdown),
		Title:         entry.Title,
		Quality:       &models.QualityInfo{Score: score, Reason: reason},
		FromCache:     true,
	})

	o.discoverFrom(ctx, item, entry.Links)
	o.emitProgress(ctx)
}

func (o *Orchestrator) savePage(ctx context.Context, item *models.QueueItem, extracted *ExtractResult, status models.PageStatus, score int, fromCache bool, elapsed time.Duration) {
	page := &models.PageResult{
		ID:           newPageID(),
		JobID:        o.job.ID,
		URL:          item.URL,
		Title:        extracted.Title,
		Markdown:     extracted.Markdown,
		ContentHash:  extracted.ContentHash,
		Depth:        item.Depth,
		Seq:          item.Seq,
		Status:       status,
		WordCount:    extracted.WordCount,
		HasCode:      extracted.HasCode,
		QualityScore: score,
		FromCache:    fromCache,
		IsDocPage:    extracted.IsDocPage,
		Hierarchy:    extracted.Hierarchy,
		Anchor:       extracted.Anchor,
		FetchedAt:    time.Now().UTC(),
		ElapsedMs:    elapsed.Milliseconds(),
	}
	if err := o.pages.SavePage(ctx, page); err != nil {
		o.logger.Error().Str("job_id", o.job.ID).Str("url", item.URL).Err(err).Msg("Page save failed")
	}
}

// failItem records a fetch or extract failure. Retryable failures with
// attempts remaining go back to pending; terminal failures count against
// the job, and a terminal seed failure is fatal.
func (o *Orchestrator) failItem(ctx context.Context, item *models.QueueItem, cause error) {
	retryable := false
	var fetchErr *FetchError
	if errors.As(cause, &fetchErr) {
		retryable = fetchErr.Retryable
	}
	msg := cause.Error()

	o.emit(ctx, models.EventURLFailed, models.URLFailedPayload{URL: item.URL, Error: msg})

	updated, err := o.queue.Fail(ctx, item.ID, msg, retryable, o.cfg.MaxRetries)
	if err != nil {
		o.logger.Warn().Str("item_id", item.ID).Err(err).Msg("Queue fail update failed")
		return
	}

	if updated.State == models.ItemStatePending {
		o.logger.Debug().
			Str("job_id", o.job.ID).
			Str("url", item.URL).
			Int("attempts", updated.Attempts).
			Str("error", msg).
			Msg("URL returned to queue for retry")
		return
	}

	o.failed.Add(1)
	o.logger.Warn().
		Str("job_id", o.job.ID).
		Str("url", item.URL).
		Int("attempts", updated.Attempts).
		Str("error", msg).
		Msg("URL failed permanently")

	if item.URLHash == o.seedHash {
		o.setFatal(fmt.Sprintf("seed url failed: %s", msg))
	}
	o.emitProgress(ctx)
}

func (o *Orchestrator) finishSkipped(ctx context.Context, item *models.QueueItem, reason string) {
	if err := o.queue.Complete(ctx, item.ID, models.ItemStateSkipped); err != nil {
		o.logger.Warn().Str("item_id", item.ID).Err(err).Msg("Queue complete failed")
	}
	o.skipped.Add(1)
	o.emit(ctx, models.EventURLSkipped, models.URLSkippedPayload{URL: item.URL, Reason: reason})
	o.emitProgress(ctx)
}

// discoverFrom normalizes, validates and enqueues outbound links at
// depth+1, bounded by max_depth and the max_pages discovery cap.
func (o *Orchestrator) discoverFrom(ctx context.Context, item *models.QueueItem, links []string) {
	if len(links) == 0 || item.Depth+1 > o.cfg.MaxDepth {
		return
	}

	seen := make(map[string]bool)
	var accepted []string
	for _, link := range links {
		normalized := NormalizeURL(link)
		if normalized == "" || seen[normalized] {
			continue
		}
		if !IsValidCrawlURL(normalized, o.seedHost, o.cfg.FollowExternalLinks) {
			continue
		}
		seen[normalized] = true
		accepted = append(accepted, normalized)
	}
	if len(accepted) == 0 {
		return
	}

	o.applyBackpressure(ctx)

	o.discoverMu.Lock()
	remaining := o.cfg.MaxPages - int(o.discovered.Load())
	if remaining <= 0 {
		o.discoverMu.Unlock()
		return
	}
	if len(accepted) > remaining {
		accepted = accepted[:remaining]
	}

	items := make([]*models.QueueItem, 0, len(accepted))
	for _, u := range accepted {
		items = append(items, models.NewQueueItem(newItemID(), o.job.ID, u, URLHash(u), FullURLHash(u), item.Depth+1, item.URL))
	}
	inserted, err := o.queue.Enqueue(ctx, items)
	if err != nil {
		o.discoverMu.Unlock()
		o.logger.Warn().Str("job_id", o.job.ID).Err(err).Msg("Link enqueue failed")
		return
	}
	o.discovered.Add(int64(inserted))
	o.queued.Add(int64(inserted))
	total := int(o.discovered.Load())
	o.discoverMu.Unlock()

	if inserted == 0 {
		return
	}
	o.emit(ctx, models.EventURLsDiscovered, models.URLsDiscoveredPayload{
		SourceURL:       item.URL,
		DiscoveredURLs:  accepted,
		Count:           inserted,
		TotalDiscovered: total,
	})
}

// applyBackpressure briefly pauses producers while the pending backlog
// exceeds four times the worker pool, bounded so producers, who are also
// the consumers, can never deadlock.
func (o *Orchestrator) applyBackpressure(ctx context.Context) {
	limit := backpressureFactor * o.cfg.MaxConcurrentRequests
	for i := 0; i < backpressureLimit; i++ {
		counts, err := o.queue.Counts(ctx, o.job.ID)
		if err != nil || counts.Pending <= limit {
			return
		}
		if !sleepCtx(ctx, backpressureWait) {
			return
		}
	}
}

// sleepCtx waits for d unless ctx finishes first. Returns false when the
// context ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
