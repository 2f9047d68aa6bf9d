package hotdeploy

// Logger defines the interface for deployment engine logging.
// The engine uses structured logging with key-value pairs so host processes
// can route deployment logs through whatever logging stack they already run.
//
// The variadic arguments are key-value pairs:
//
//	logger.Info("Started app", "app", "demo")
//
// This shape is directly compatible with log/slog and with structured logging
// libraries like zap's sugared logger or logrus.
type Logger interface {
	// Info logs normal deployment events: installs, starts, redeploys.
	Info(msg string, args ...any)

	// Error logs failures, always including the root cause under the "error" key.
	Error(msg string, args ...any)

	// Warn logs unusual but non-fatal conditions.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostics such as builder assembly decisions.
	Debug(msg string, args ...any)
}

// noopLogger is used when no logger was configured.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}
