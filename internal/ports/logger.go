package ports

import "context"

// Logger is the logging port used across the engine and its adapters. The
// optional fields map carries structured key/value context; Error takes the
// error separately so implementations can render or tag it on its own.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
