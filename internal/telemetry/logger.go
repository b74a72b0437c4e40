// Package telemetry provides the ambient logging, tracing, and metrics
// surface shared by every component. The interfaces mirror the teacher
// framework's layered core.Logger / core.Telemetry contracts; the backing
// implementation uses zap and OpenTelemetry instead of a hand-rolled
// encoder, since that is the logging/tracing stack the rest of the
// retrieved corpus (jordigilh-kubernaut, hortator-ai-Hortator) reaches for.
package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// Logger is the minimal structured-logging contract every component
// depends on. Fields are passed as a flat map so call sites never need to
// import zap directly.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentLogger extends Logger with the ability to scope further log
// lines to a named subsystem, e.g. WithComponent("scheduler").
type ComponentLogger interface {
	Logger
	WithComponent(component string) ComponentLogger
}

// zapLogger backs ComponentLogger with a zap.SugaredLogger.
type zapLogger struct {
	sugar     *zap.SugaredLogger
	component string
}

// NewLogger builds a production JSON logger at the given level ("debug",
// "info", "warn", "error").
func NewLogger(level string) (ComponentLogger, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: z.Sugar()}, nil
}

// NewNop returns a logger that discards everything; useful for tests.
func NewNop() ComponentLogger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapLogger) WithComponent(component string) ComponentLogger {
	return &zapLogger{sugar: l.sugar.With("component", component), component: component}
}

func fieldArgs(fields map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func (l *zapLogger) Info(msg string, fields map[string]interface{})  { l.sugar.Infow(msg, fieldArgs(fields)...) }
func (l *zapLogger) Warn(msg string, fields map[string]interface{})  { l.sugar.Warnw(msg, fieldArgs(fields)...) }
func (l *zapLogger) Error(msg string, fields map[string]interface{}) { l.sugar.Errorw(msg, fieldArgs(fields)...) }
func (l *zapLogger) Debug(msg string, fields map[string]interface{}) { l.sugar.Debugw(msg, fieldArgs(fields)...) }

func traceFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	if id := TraceIDFromContext(ctx); id != "" {
		out["trace_id"] = id
	}
	return out
}

func (l *zapLogger) InfoContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, traceFields(ctx, fields))
}
func (l *zapLogger) WarnContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, traceFields(ctx, fields))
}
func (l *zapLogger) ErrorContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, traceFields(ctx, fields))
}
func (l *zapLogger) DebugContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, traceFields(ctx, fields))
}
