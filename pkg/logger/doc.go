// Package logger provides the structured logging interface used across the crawler.
//
// It wraps zerolog with a small field-oriented API:
//
//	cfg := &config.LoggingConfig{Level: "info", Format: "json"}
//	if err := logger.Initialize(cfg); err != nil {
//	    return err
//	}
//
//	log := logger.GetLogger().WithField("component", "scheduler")
//	log.InfoWithFields("Task finished", map[string]interface{}{
//	    "task_id":  "list_posts:club1:0",
//	    "duration": time.Second,
//	})
//
// Console output is colorized and written to stderr. When Format is "json"
// events are emitted as JSON lines instead. A File path, if set, receives
// JSON lines in addition to the console stream.
//
// Task lifecycle, retries, session health changes and run statistics have
// dedicated helpers (LogTaskStart, LogTaskEnd, LogRetry, LogSessionTransition,
// LogRunStats) so every component emits them with the same field names.
//
// Tests can capture output with NewTestLogger or discard it with NewNopLogger.
package logger
