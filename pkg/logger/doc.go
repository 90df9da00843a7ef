// Package logger provides the structured logging interface used across the
// reprocessor.
//
// It wraps zerolog. There is no package-level logger: construct one with New
// at startup and pass it to every component. Components treat a nil Logger as
// Nop.
//
//	log, closer, err := logger.New(cfg.Logging)
//	defer closer.Close()
//
//	logger.Execution(log).InfoWithFields("unit started", map[string]interface{}{
//	    "unit_id": "2048128",
//	})
//
// Execution and Statistics return children tagged with a "stream" field so
// operators can split lifecycle lines from timing summaries.
package logger
