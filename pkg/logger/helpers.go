package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogTaskStart records a task being picked up by a worker
func LogTaskStart(l Logger, taskID, kind, target string, attempt int) {
	l.DebugWithFields("Task started", map[string]interface{}{
		"task_id": taskID,
		"kind":    kind,
		"target":  target,
		"attempt": attempt,
	})
}

// LogTaskEnd records the terminal state of a task
func LogTaskEnd(l Logger, taskID, kind, target, state string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"task_id":  taskID,
		"kind":     kind,
		"target":   target,
		"state":    state,
		"duration": duration,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.WarnWithFields("Task failed", fields)
		return
	}
	l.DebugWithFields("Task finished", fields)
}

// LogRetry records a task being scheduled for another attempt
func LogRetry(l Logger, taskID, kind string, attempt int, delay time.Duration, err error) {
	fields := map[string]interface{}{
		"task_id": taskID,
		"kind":    kind,
		"attempt": attempt,
		"delay":   delay,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.InfoWithFields("Retrying task", fields)
}

// LogSessionTransition records a session health change
func LogSessionTransition(l Logger, sessionID int, from, to, reason string) {
	fields := map[string]interface{}{
		"session_id": sessionID,
		"from":       from,
		"to":         to,
		"reason":     reason,
	}
	if to == "dead" {
		l.WarnWithFields("Session state changed", fields)
		return
	}
	l.DebugWithFields("Session state changed", fields)
}

// LogRunStats records the end-of-run counters
func LogRunStats(l Logger, runID string, counters map[string]interface{}) {
	fields := map[string]interface{}{
		"run_id": runID,
		"type":   "run_stats",
	}
	for k, v := range counters {
		fields[k] = v
	}
	l.InfoWithFields("Run finished", fields)
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
