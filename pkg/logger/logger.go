// Package logger defines the structured logging interface used across the OBO
// service. The production implementation lives in
// internal/infrastructure/monitoring; this package only carries the contract
// and a no-op implementation for tests.
package logger

import "context"

// Fields is a bag of structured key/value pairs attached to a log entry.
type Fields map[string]interface{}

// Logger is the structured logging contract. Implementations must be safe for
// concurrent use and must mask sensitive values (secrets, tokens) before
// emitting them.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Fields)
	Info(ctx context.Context, msg string, fields ...Fields)
	Warn(ctx context.Context, msg string, fields ...Fields)
	Error(ctx context.Context, msg string, err error, fields ...Fields)
	Fatal(ctx context.Context, msg string, err error, fields ...Fields)

	// WithFields returns a logger that attaches the given fields to every entry.
	WithFields(fields Fields) Logger

	// WithComponent returns a logger tagged with a component name.
	WithComponent(component string) Logger
}
