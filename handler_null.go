package kolog

import (
	"context"
	"sync"
)

// NullHandler discards every event unless a capture sink is attached, in
// which case every rendered message is captured. It holds no file handle and
// its Flush/Close have no side effects. Useful as a default handler and in
// tests.
type NullHandler struct {
	pipeline
	muSync  sync.Mutex
	muAsync sync.Mutex
}

// NewNullHandler builds a NullHandler. The renderer still runs so sink
// capture sees exactly what a real destination would have received.
func NewNullHandler(renderer Renderer, processors []Processor) *NullHandler {
	return &NullHandler{pipeline: newPipeline("NullHandler", renderer, processors)}
}

// EmitSync renders the payload and captures it if a sink is attached.
func (h *NullHandler) EmitSync(ev EventDict) error {
	line, ok, err := h.format(ev)
	if err != nil || !ok {
		return err
	}
	if sink := h.Sink(); sink != nil {
		h.muSync.Lock()
		sink.Write(line + "\n")
		h.muSync.Unlock()
	}
	return nil
}

// EmitAsync renders the payload and captures it if a sink is attached.
func (h *NullHandler) EmitAsync(ctx context.Context, ev EventDict) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, ok, err := h.format(ev)
	if err != nil || !ok {
		return err
	}
	if sink := h.Sink(); sink != nil {
		h.muAsync.Lock()
		sink.Write(line + "\n")
		h.muAsync.Unlock()
	}
	return nil
}

// Flush is a no-op.
func (h *NullHandler) Flush() error { return nil }

// Close is a no-op.
func (h *NullHandler) Close() error { return nil }
