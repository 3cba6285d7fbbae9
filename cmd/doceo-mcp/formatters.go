package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/doceo/internal/models"
)

// formatJobAccepted formats the start_crawl confirmation as markdown
func formatJobAccepted(job *models.CrawlJob) string {
	var sb strings.Builder
	sb.WriteString("## Crawl started\n\n")
	sb.WriteString(fmt.Sprintf("**Job ID:** %s\n", job.ID))
	sb.WriteString(fmt.Sprintf("**Seed URL:** %s\n", job.SeedURL))
	sb.WriteString(fmt.Sprintf("**Max depth:** %d\n", job.Config.MaxDepth))
	sb.WriteString(fmt.Sprintf("**Max pages:** %d\n\n", job.Config.MaxPages))
	sb.WriteString("Use `get_job_status` to follow progress and `download_result` once the job completes.\n")
	return sb.String()
}

// formatJobStatus formats a job's lifecycle state and counters as markdown
func formatJobStatus(job *models.CrawlJob) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Job %s\n\n", job.ID))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", job.Status))
	sb.WriteString(fmt.Sprintf("**Seed URL:** %s\n", job.SeedURL))
	sb.WriteString(fmt.Sprintf("**Created:** %s\n", job.CreatedAt.Format(time.RFC3339)))
	if !job.StartedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("**Elapsed:** %s\n", job.Duration().Round(time.Second)))
	}
	if job.Error != "" {
		sb.WriteString(fmt.Sprintf("**Error:** %s\n", job.Error))
	}

	sb.WriteString("\n### Progress\n\n")
	sb.WriteString(fmt.Sprintf("- Discovered: %d\n", job.Counters.Discovered))
	sb.WriteString(fmt.Sprintf("- Queued: %d\n", job.Counters.Queued))
	sb.WriteString(fmt.Sprintf("- Processed: %d\n", job.Counters.Processed))
	sb.WriteString(fmt.Sprintf("- Failed: %d\n", job.Counters.Failed))
	sb.WriteString(fmt.Sprintf("- Skipped: %d\n", job.Counters.Skipped))
	sb.WriteString(fmt.Sprintf("- Filtered: %d\n", job.Counters.Filtered))

	if job.Status == models.JobStatusCompleted {
		sb.WriteString(fmt.Sprintf("\n**Pages in result:** %d (%d words)\n", job.PageCount, job.TotalWords))
	}
	return sb.String()
}

// formatActiveJobs formats the active job list as markdown
func formatActiveJobs(jobs []*models.CrawlJob) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Active crawl jobs (%d)\n\n", len(jobs)))

	if len(jobs) == 0 {
		sb.WriteString("No active jobs.\n")
		return sb.String()
	}

	for i, job := range jobs {
		sb.WriteString(fmt.Sprintf("### %d. %s\n", i+1, job.ID))
		sb.WriteString(fmt.Sprintf("**Status:** %s\n", job.Status))
		sb.WriteString(fmt.Sprintf("**Seed URL:** %s\n", job.SeedURL))
		sb.WriteString(fmt.Sprintf("**Created:** %s\n", job.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("**Processed:** %d of %d queued\n\n", job.Counters.Processed, job.Counters.Queued))
	}
	return sb.String()
}
