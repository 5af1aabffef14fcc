// Package logging provides structured logging for concord debate runs.
//
// It wraps Go's log/slog JSON handler and adds persistent context
// attributes so that every line written during a run can be filtered by
// task, backend and phase afterwards.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLogger := logger.WithSession(taskID).WithPhase("analyzing")
//	runLogger.WithBackend("gemini").Warn("analysis failed", "error", err.Error())
//
// Interactive commands that log to a terminal use [NewConsoleLogger],
// which writes key=value text instead of JSON.
//
// Log files are rotated by size through [RotatingWriter]. Components that
// receive a nil *Logger fall back to [NopLogger].
package logging
