package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	internaltracing "stride/engine/internal/telemetry/tracing"
)

func TestCorrelatedLoggerAddsTraceSpan(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.New(slog.NewTextHandler(&buf, nil)))

	tr := internaltracing.NewTracer(true)
	ctx, span := tr.StartSpan(context.Background(), "op")
	defer span.End()

	log.InfoCtx(ctx, "correlated")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+span.Context().TraceID) {
		t.Fatalf("expected trace id in output, got %q", out)
	}
	if !strings.Contains(out, "span_id="+span.Context().SpanID) {
		t.Fatalf("expected span id in output, got %q", out)
	}
}

func TestCorrelatedLoggerPassesThroughWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.New(slog.NewTextHandler(&buf, nil)))

	log.InfoCtx(context.Background(), "plain", slog.String("k", "v"))
	out := buf.String()
	if !strings.Contains(out, "plain") || !strings.Contains(out, "k=v") {
		t.Fatalf("expected message and attr in output, got %q", out)
	}
	if strings.Contains(out, "trace_id") {
		t.Fatalf("no span in context; trace_id must be absent: %q", out)
	}
}

func TestCorrelatedLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.New(slog.NewTextHandler(&buf, nil)))

	log.WarnCtx(context.Background(), "careful")
	log.ErrorCtx(context.Background(), "broken")
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "level=ERROR") {
		t.Fatalf("expected WARN and ERROR lines, got %q", out)
	}
}

func TestNewNilBaseUsesDefault(t *testing.T) {
	if New(nil) == nil {
		t.Fatal("nil base must still return a logger")
	}
}
