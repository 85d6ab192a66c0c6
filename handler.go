package kolog

import (
	"context"
	"sync"
)

// Handler is the destination-specific writer capability. Handlers receive
// payloads, run their own processor/render pipeline and perform the actual
// write. They are constructed once at factory time, live for the life of the
// Manager, and are closed exactly once at shutdown (Close is idempotent).
//
// Every handler carries an optional capture Sink: while attached, all output
// goes to the sink's in-memory event list and the real destination is never
// touched.
type Handler interface {
	// EmitSync renders and writes one payload, blocking the caller.
	EmitSync(ev EventDict) error
	// EmitAsync renders and writes one payload from the background worker.
	EmitAsync(ctx context.Context, ev EventDict) error
	// Flush pushes buffered data to the destination. Safe to call when
	// nothing is open yet.
	Flush() error
	// Close flushes and releases the destination. Idempotent.
	Close() error
	// SetSink attaches (or, with nil, detaches) a capture sink.
	SetSink(s *Sink)
	// Sink returns the currently attached capture sink, if any.
	Sink() *Sink
}

// pipeline is the shared render half of every handler: an ordered processor
// chain, exactly one renderer, and the optional capture sink.
type pipeline struct {
	renderer   Renderer
	processors []Processor
	service    string

	sinkMu sync.Mutex
	sink   *Sink
}

func newPipeline(service string, renderer Renderer, processors []Processor) pipeline {
	return pipeline{
		renderer:   renderer,
		processors: processors,
		service:    service,
	}
}

// SetSink attaches a capture sink, or detaches with nil.
func (p *pipeline) SetSink(s *Sink) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.sink = s
}

// Sink returns the attached capture sink, if any.
func (p *pipeline) Sink() *Sink {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	return p.sink
}

// format runs the handler's processor chain over a private copy of the
// payload, then renders. A Drop verdict from any step returns ok=false with
// no error: the event is discarded for this handler only.
func (p *pipeline) format(ev EventDict) (string, bool, error) {
	processed := ev.clone()
	for _, proc := range p.processors {
		next, verdict, err := proc(processed.clone())
		if err != nil {
			return "", false, NewHandlerError(
				"failed to finish processing the message through handler processors",
				p.service, err).WithCategory(CategoryFormatting)
		}
		if verdict == Drop {
			return "", false, nil
		}
		processed = next
	}

	line, verdict, err := p.renderer(processed)
	if err != nil {
		return "", false, NewHandlerError(
			"failed to render the message", p.service, err).WithCategory(CategoryFormatting)
	}
	if verdict == Drop {
		return "", false, nil
	}
	return line, true, nil
}
