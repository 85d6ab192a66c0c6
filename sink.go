package kolog

import "sync"

// Sink captures handler output in memory instead of the handler's real
// destination. Used for testing and for redirecting streams that cannot be
// preconfigured. While a sink is attached the real destination is never
// opened.
type Sink struct {
	mu     sync.Mutex
	events []string
}

// NewSink returns an empty capture sink.
func NewSink() *Sink {
	return &Sink{}
}

// Write appends one rendered message to the sink.
func (s *Sink) Write(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, msg)
}

// Events returns a copy of everything captured so far.
func (s *Sink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// Len reports how many messages have been captured.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Reset discards all captured messages.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
