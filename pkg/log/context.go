package log

import (
	"context"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Ctx returns the logger carried by ctx, or the global logger.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// ConnContext returns a background context for a long-lived chat
// connection. It is not derived from the upgrade request, which is done
// as soon as the handler returns.
func ConnContext(connID, remoteIP string) context.Context {
	logger := L().With().
		Str(FieldConnID, connID).
		Str(FieldRemoteIP, remoteIP).
		Logger()
	return WithLogger(context.Background(), logger)
}

// WithComponent tags the logger in ctx with a component name.
func WithComponent(ctx context.Context, name string) context.Context {
	l := Ctx(ctx)
	return WithLogger(ctx, l.With().Str(FieldComponent, name).Logger())
}
