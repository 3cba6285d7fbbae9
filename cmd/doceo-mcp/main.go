package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/services/cache"
	"github.com/ternarybob/doceo/internal/services/crawler"
	"github.com/ternarybob/doceo/internal/services/events"
	jobsvc "github.com/ternarybob/doceo/internal/services/jobs"
	"github.com/ternarybob/doceo/internal/storage/badger"
)

// mcpUserID scopes every job created over stdio. The MCP process acts as
// one local user, so consecutive sessions see each other's jobs.
const mcpUserID = "mcp-local"

func main() {
	// Load configuration
	configPath := os.Getenv("DOCEO_CONFIG")
	if configPath == "" {
		configPath = "doceo.toml"
	}

	config, err := common.LoadFromFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Minimal logging to avoid cluttering MCP stdio
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	// Initialize storage
	storageManager, err := badger.NewManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer storageManager.Close()

	// Crawls run inside this process, exactly as they do under the HTTP
	// server; tools poll the same registry.
	eventService := events.NewService(storageManager.EventStorage(), config.Events.SubscriberBuffer, logger)
	cacheService := cache.NewService(storageManager.KVStorage(), config.CacheTTL(), logger)
	crawlerService := crawler.NewService(storageManager, cacheService, eventService, config, logger)
	jobService := jobsvc.NewService(storageManager, crawlerService, config, logger)

	// Drain running crawls before storage closes (defers run LIFO)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := crawlerService.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("Crawler shutdown incomplete")
		}
	}()

	// Create MCP server
	mcpServer := server.NewMCPServer(
		"doceo",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	// Register crawl tools
	mcpServer.AddTool(createStartCrawlTool(), handleStartCrawl(jobService, logger))
	mcpServer.AddTool(createGetJobStatusTool(), handleGetJobStatus(jobService, logger))
	mcpServer.AddTool(createListActiveJobsTool(), handleListActiveJobs(jobService, logger))
	mcpServer.AddTool(createDownloadResultTool(), handleDownloadResult(jobService, logger))

	// Start server (blocks on stdio)
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
