package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createStartCrawlTool returns the start_crawl tool definition
func createStartCrawlTool() mcp.Tool {
	return mcp.NewTool("start_crawl",
		mcp.WithDescription("Start a documentation crawl from a seed URL. Returns the job ID immediately; the crawl runs in the background."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Seed URL of the documentation site (http or https)"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Link depth limit from the seed, 0-10 (default from server config)"),
		),
		mcp.WithNumber("max_pages",
			mcp.Description("Page budget for the crawl, 1-1000 (default from server config)"),
		),
	)
}

// createGetJobStatusTool returns the get_job_status tool definition
func createGetJobStatusTool() mcp.Tool {
	return mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the current status, progress counters and any error of a crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID (format: job_{uuid})"),
		),
	)
}

// createListActiveJobsTool returns the list_active_jobs tool definition
func createListActiveJobsTool() mcp.Tool {
	return mcp.NewTool("list_active_jobs",
		mcp.WithDescription("List crawl jobs that are currently pending or running"),
	)
}

// createDownloadResultTool returns the download_result tool definition
func createDownloadResultTool() mcp.Tool {
	return mcp.NewTool("download_result",
		mcp.WithDescription("Download the combined markdown produced by a completed crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID (format: job_{uuid})"),
		),
	)
}
