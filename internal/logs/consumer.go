package logs

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// Consumer drains log batches from arbor's context channel and persists the
// job-correlated entries. Orchestrators log through WithContextWriter(jobID),
// so every line carries the job ID as its correlation ID; lines without one
// are console-only and skipped here.
type Consumer struct {
	storage  interfaces.JobLogStorage
	logger   arbor.ILogger
	channel  chan []arbormodels.LogEvent
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	minLevel arbor.LogLevel
}

// NewConsumer creates a new log consumer. minLevel is the lowest level that
// gets persisted; lower lines still reach the console and file writers.
func NewConsumer(storage interfaces.JobLogStorage, logger arbor.ILogger, minLevel string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		storage:  storage,
		logger:   logger,
		channel:  make(chan []arbormodels.LogEvent, 10),
		ctx:      ctx,
		cancel:   cancel,
		minLevel: parseLogLevel(minLevel),
	}
}

// parseLogLevel converts string log level to arbor.LogLevel
func parseLogLevel(levelStr string) arbor.LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return arbor.DebugLevel
	case "info":
		return arbor.InfoLevel
	case "warn", "warning":
		return arbor.WarnLevel
	case "error":
		return arbor.ErrorLevel
	default:
		return arbor.InfoLevel
	}
}

// convertTo3Letter converts full level names to 3-letter codes
func convertTo3Letter(level string) string {
	switch strings.ToUpper(level) {
	case "INFO":
		return "INF"
	case "WARN", "WARNING":
		return "WRN"
	case "ERROR":
		return "ERR"
	case "DEBUG":
		return "DBG"
	default:
		if len(level) == 3 {
			return strings.ToUpper(level)
		}
		return "INF"
	}
}

// GetChannel returns the channel for arbor to send log batches to
func (c *Consumer) GetChannel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go c.consume()
	return nil
}

// Stop gracefully shuts down the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info().Msg("Log consumer stopped")
	return nil
}

// consume processes log batches from arbor and writes them per job.
func (c *Consumer) consume() {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			// Use the root logger so the recovery line cannot re-enter the channel
			c.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Log consumer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}

			entriesByJob := make(map[string][]models.JobLogEntry)

			for _, event := range batch {
				// HTTP middleware correlates requests too; those lines are
				// request tracing, not crawl output.
				if event.Message == "HTTP request" ||
					strings.Contains(event.Message, "WebSocket client") {
					continue
				}
				if !c.shouldPersist(event.Level) {
					continue
				}

				jobID := event.CorrelationID
				if jobID == "" {
					continue
				}
				entriesByJob[jobID] = append(entriesByJob[jobID], transformEvent(event))
			}

			var wg sync.WaitGroup
			for jobID, entries := range entriesByJob {
				wg.Add(1)
				go func(jid string, logs []models.JobLogEntry) {
					defer wg.Done()

					if err := c.storage.AppendLogs(c.ctx, jid, logs); err != nil {
						// No correlation ID here either, same reason as above
						c.logger.Warn().
							Err(err).
							Str("job_id", jid).
							Int("log_count", len(logs)).
							Msg("Failed to write batch logs to storage")
					}
				}(jobID, entries)
			}

			wg.Wait()

		case <-c.ctx.Done():
			return
		}
	}
}

// shouldPersist checks a log event against the persistence threshold.
func (c *Consumer) shouldPersist(level log.Level) bool {
	return arborlevels.FromLogLevel(level) >= c.minLevel
}

// transformEvent converts an arbor LogEvent into the stored entry shape.
// Structured fields are folded into the message so the stored line reads the
// same as the console output.
func transformEvent(event arbormodels.LogEvent) models.JobLogEntry {
	message := event.Message
	if len(event.Fields) > 0 {
		for key, value := range event.Fields {
			message += fmt.Sprintf(" %s=%v", key, value)
		}
	}

	return models.JobLogEntry{
		Timestamp:       event.Timestamp.Format("15:04:05"),
		FullTimestamp:   event.Timestamp,
		Level:           convertTo3Letter(event.Level.String()),
		Message:         message,
		AssociatedJobID: event.CorrelationID,
	}
}
