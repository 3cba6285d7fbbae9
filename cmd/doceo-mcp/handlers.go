package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// handleStartCrawl implements the start_crawl tool
func handleStartCrawl(jobService interfaces.JobService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Parse url parameter (required)
		seedURL, err := request.RequireString("url")
		if err != nil || seedURL == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: url parameter is required"),
				},
			}, nil
		}

		// Optional overrides; absent values keep the server defaults
		crawlConfig := &models.CrawlConfigRequest{}
		if depth := request.GetInt("max_depth", -1); depth >= 0 {
			crawlConfig.MaxDepth = &depth
		}
		if pages := request.GetInt("max_pages", 0); pages > 0 {
			crawlConfig.MaxPages = &pages
		}

		job, err := jobService.Create(ctx, mcpUserID, &models.CrawlRequest{
			URL:    seedURL,
			Config: crawlConfig,
		})
		if err != nil {
			logger.Error().Err(err).Str("url", seedURL).Msg("Start crawl failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Error starting crawl: %v", err)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatJobAccepted(job)),
			},
		}, nil
	}
}

// handleGetJobStatus implements the get_job_status tool
func handleGetJobStatus(jobService interfaces.JobService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: job_id parameter is required"),
				},
			}, nil
		}

		job, err := jobService.Get(ctx, mcpUserID, jobID)
		if err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("Get job failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Job not found: %v", err)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatJobStatus(job)),
			},
		}, nil
	}
}

// handleListActiveJobs implements the list_active_jobs tool
func handleListActiveJobs(jobService interfaces.JobService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobs, err := jobService.ListActive(ctx, mcpUserID)
		if err != nil {
			logger.Error().Err(err).Msg("List active jobs failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("List error: %v", err)),
				},
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(formatActiveJobs(jobs)),
			},
		}, nil
	}
}

// handleDownloadResult implements the download_result tool
func handleDownloadResult(jobService interfaces.JobService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: job_id parameter is required"),
				},
			}, nil
		}

		job, err := jobService.Download(ctx, mcpUserID, jobID)
		if err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("Download result failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("No result available: %v", err)),
				},
			}, nil
		}

		// The artifact is already markdown; hand it over untouched
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(job.FinalMarkdown),
			},
		}, nil
	}
}
