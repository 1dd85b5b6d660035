// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package syncer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/hidocu/internal/telemetry"
)

func (o *Orchestrator) startRunSpan(ctx context.Context, s *session, kind Kind, files int, total int64) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "hidocu.syncer."+string(kind),
		trace.WithAttributes(telemetry.SyncAttributes(s.progress.SessionID, string(kind), files, total)...))
}

func (o *Orchestrator) startFileSpan(ctx context.Context, name string, size int64) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "hidocu.syncer.file", trace.WithAttributes(
		attribute.String(telemetry.DeviceFileKey, name),
		attribute.Int64("file.size_bytes", size),
	))
}

// endFileSpan closes a per-file span. Cancellation is not an error.
func endFileSpan(span trace.Span, outcome Outcome, err error) {
	if outcome != "" {
		span.SetAttributes(attribute.String(telemetry.SyncOutcomeKey, string(outcome)))
	}
	if err != nil && !errors.Is(err, ErrCancelled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func endRunSpan(span trace.Span, res Result) {
	span.SetAttributes(
		attribute.Int("sync.downloaded", res.Stats.Downloaded),
		attribute.Int("sync.skipped", res.Stats.Skipped),
		attribute.Int("sync.failed", res.Stats.Failed),
		attribute.Bool("sync.cancelled", res.Cancelled),
	)
	if res.Err != nil {
		span.SetStatus(codes.Error, firstLine(res.Err.Error()))
	}
	span.End()
}
