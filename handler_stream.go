package kolog

import (
	"context"
	"io"
	"os"
	"sync"
)

// StreamHandler writes to standard output or standard error, chosen at
// construction. Synchronous and concurrent writers each serialize on their
// own mutex so partial lines never interleave. Flush and Close are no-ops:
// the process owns its standard streams.
type StreamHandler struct {
	pipeline
	stream  io.Writer
	muSync  sync.Mutex
	muAsync sync.Mutex
}

// NewStreamHandler builds a StreamHandler on stdout, or stderr when
// useStderr is set.
func NewStreamHandler(renderer Renderer, processors []Processor, useStderr bool) *StreamHandler {
	stream := io.Writer(os.Stdout)
	if useStderr {
		stream = os.Stderr
	}
	return &StreamHandler{
		pipeline: newPipeline("StreamHandler", renderer, processors),
		stream:   stream,
	}
}

// EmitSync renders the payload and writes one line to the stream.
func (h *StreamHandler) EmitSync(ev EventDict) error {
	line, ok, err := h.format(ev)
	if err != nil || !ok {
		return err
	}
	h.muSync.Lock()
	defer h.muSync.Unlock()
	return h.write(line)
}

// EmitAsync renders the payload and writes one line to the stream.
func (h *StreamHandler) EmitAsync(ctx context.Context, ev EventDict) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, ok, err := h.format(ev)
	if err != nil || !ok {
		return err
	}
	h.muAsync.Lock()
	defer h.muAsync.Unlock()
	return h.write(line)
}

func (h *StreamHandler) write(line string) error {
	if sink := h.Sink(); sink != nil {
		sink.Write(line + "\n")
		return nil
	}
	if _, err := io.WriteString(h.stream, line+"\n"); err != nil {
		return NewHandlerError("failed to write to stream", "StreamHandler", err)
	}
	return nil
}

// Flush is a no-op for process-owned streams.
func (h *StreamHandler) Flush() error { return nil }

// Close is a no-op for process-owned streams.
func (h *StreamHandler) Close() error { return nil }
