package kolog

import (
	"context"
	"strings"
	"testing"
	"time"
)

func testPayload(event, level string) EventDict {
	return EventDict{
		"name":      "root",
		"event":     event,
		"level":     level,
		"timestamp": time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		"context":   map[string]any{},
	}
}

func TestNullHandlerDiscardsWithoutSink(t *testing.T) {
	h := NewNullHandler(eventRenderer(), nil)
	if err := h.EmitSync(testPayload("ev", "INFO")); err != nil {
		t.Fatalf("EmitSync failed: %v", err)
	}
	if err := h.EmitAsync(context.Background(), testPayload("ev", "INFO")); err != nil {
		t.Fatalf("EmitAsync failed: %v", err)
	}
	if err := h.Flush(); err != nil {
		t.Errorf("Flush returned %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
}

func TestNullHandlerSinkCapture(t *testing.T) {
	h := NewNullHandler(eventRenderer(), nil)
	sink := NewSink()
	h.SetSink(sink)

	if err := h.EmitSync(testPayload("captured", "INFO")); err != nil {
		t.Fatalf("EmitSync failed: %v", err)
	}
	events := sink.Events()
	if len(events) != 1 || events[0] != "captured\n" {
		t.Errorf("Sink captured %v, want the rendered line", events)
	}

	h.SetSink(nil)
	if err := h.EmitSync(testPayload("after-detach", "INFO")); err != nil {
		t.Fatalf("EmitSync failed: %v", err)
	}
	if got := sink.Len(); got != 1 {
		t.Errorf("Detached sink still captured: %d events", got)
	}
}

func TestStreamHandlerSinkCapture(t *testing.T) {
	h := NewStreamHandler(eventRenderer(), nil, false)
	sink := NewSink()
	h.SetSink(sink)

	if err := h.EmitAsync(context.Background(), testPayload("streamed", "INFO")); err != nil {
		t.Fatalf("EmitAsync failed: %v", err)
	}
	events := sink.Events()
	if len(events) != 1 || events[0] != "streamed\n" {
		t.Errorf("Sink captured %v, want the rendered line", events)
	}
}

func TestHandlerRendererLevelGate(t *testing.T) {
	h := NewNullHandler(PlainRenderer("{event}", DefaultDateFmt, LevelInfo), nil)
	sink := NewSink()
	h.SetSink(sink)

	if err := h.EmitSync(testPayload("too-low", "DEBUG")); err != nil {
		t.Fatalf("A renderer-level drop must not be an error, got %v", err)
	}
	if err := h.EmitSync(testPayload("passes", "WARNING")); err != nil {
		t.Fatalf("EmitSync failed: %v", err)
	}
	events := sink.Events()
	if len(events) != 1 || events[0] != "passes\n" {
		t.Errorf("Sink captured %v, want only the WARNING event", events)
	}
}

func TestHandlerProcessorChain(t *testing.T) {
	procs := []Processor{
		ContextDefaults(map[string]any{"component": "worker"}),
		FilterByLevel(LevelWarning),
	}
	h := NewNullHandler(PlainRenderer("{component} {event}", DefaultDateFmt, LevelNotset), procs)
	sink := NewSink()
	h.SetSink(sink)

	if err := h.EmitSync(testPayload("dropped", "INFO")); err != nil {
		t.Fatalf("A processor drop must not be an error, got %v", err)
	}
	if err := h.EmitSync(testPayload("emitted", "ERROR")); err != nil {
		t.Fatalf("EmitSync failed: %v", err)
	}
	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("Sink captured %d events, want 1", len(events))
	}
	if !strings.HasPrefix(events[0], "worker ") {
		t.Errorf("Processor default missing from %q", events[0])
	}
}

func TestHandlerEmitAsyncHonorsCancellation(t *testing.T) {
	h := NewNullHandler(eventRenderer(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.EmitAsync(ctx, testPayload("ev", "INFO")); err == nil {
		t.Errorf("EmitAsync ignored a cancelled context")
	}
}
