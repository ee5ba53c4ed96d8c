// Copyright 2025 James Ross
// Package logging implements ports.Logger over zap.SugaredLogger, and a
// no-op ports.ErrorReporter as the default crash-reporting sink.
package logging

import (
	"context"

	"go.uber.org/zap"

	"github.com/clipforge/pipeline/internal/ports"
)

// Zap wraps a zap.SugaredLogger to satisfy ports.Logger.
type Zap struct {
	sugar *zap.SugaredLogger
}

func NewZap(l *zap.Logger) *Zap {
	return &Zap{sugar: l.Sugar()}
}

func (z *Zap) Infow(msg string, kv ...any)  { z.sugar.Infow(msg, kv...) }
func (z *Zap) Warnw(msg string, kv ...any)  { z.sugar.Warnw(msg, kv...) }
func (z *Zap) Errorw(msg string, kv ...any) { z.sugar.Errorw(msg, kv...) }

func (z *Zap) With(kv ...any) ports.Logger {
	return &Zap{sugar: z.sugar.With(kv...)}
}

// NoopErrorReporter is the default ports.ErrorReporter: it logs via the
// supplied logger and forwards nothing externally. Wire a real sink (e.g.
// Sentry) here when one is configured.
type NoopErrorReporter struct {
	Log ports.Logger
}

func (n NoopErrorReporter) Report(ctx context.Context, err error, kv map[string]any) {
	if n.Log == nil {
		return
	}
	args := make([]any, 0, len(kv)*2+2)
	args = append(args, "error", err)
	for k, v := range kv {
		args = append(args, k, v)
	}
	n.Log.Errorw("unhandled internal error", args...)
}
