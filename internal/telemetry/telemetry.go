// Package telemetry provides the engine's diagnostic tracing. It wraps the
// standard log package behind a verbosity gate, the same shape the rest of
// this codebase's lineage uses rather than pulling in a structured logger.
package telemetry

import (
	"log"
	"os"
	"strconv"
	"time"
)

var verbose, _ = strconv.ParseBool(os.Getenv("EDGESOCKD_VERBOSE"))

var logger = log.New(os.Stderr, "", 0)

// Trace logs a single engine call with its arguments when EDGESOCKD_VERBOSE
// is set. It is a no-op otherwise, so it costs nothing on the hot path.
func Trace(op string, args ...interface{}) {
	if !verbose {
		return
	}
	logger.Printf("[%s] %s %v", time.Now().Format("15:04:05.000"), op, args)
}

// Errorf logs an unconditional error line.
func Errorf(format string, args ...interface{}) {
	logger.Printf("ERROR "+format, args...)
}

// IsVerbose reports whether trace-level logging is enabled.
func IsVerbose() bool {
	return verbose
}
