package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "satellite-dispatch"

type requestIDKey struct{}

// NewLogger builds the JSON production logger. An empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "" {
		name = zapcore.InfoLevel.String()
	}
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]interface{}{"service": serviceName}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id, id != ""
}

// WithContextLogger returns logger annotated with the request id carried by ctx, if any.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}
	if id, ok := RequestIDFromContext(ctx); ok {
		return logger.With(zap.String("requestId", id))
	}
	return logger
}

// SendFields are the common fields logged for a single datagram send.
func SendFields(subscriptionID int, token string, transport string) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	fields = append(fields, zap.Int("subscriptionId", subscriptionID))
	if token != "" {
		fields = append(fields, zap.String("token", token))
	}
	if transport != "" {
		fields = append(fields, zap.String("transport", transport))
	}
	return fields
}
