package kolog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// eventRenderer renders only the event text, which keeps assertions exact.
func eventRenderer() Renderer {
	return PlainRenderer("{event}", DefaultDateFmt, LevelNotset)
}

func newTestManager(t *testing.T, cfg QueueConfig) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

// gateHandler blocks every async emit until the gate is released. It lets a
// test hold the worker mid-dispatch while the queue fills behind it.
type gateHandler struct {
	pipeline
	gate chan struct{}
}

func newGateHandler() *gateHandler {
	return &gateHandler{
		pipeline: newPipeline("gateHandler", eventRenderer(), nil),
		gate:     make(chan struct{}),
	}
}

func (h *gateHandler) EmitSync(ev EventDict) error { return nil }

func (h *gateHandler) EmitAsync(ctx context.Context, ev EventDict) error {
	select {
	case <-h.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	line, ok, err := h.format(ev)
	if err != nil || !ok {
		return err
	}
	if sink := h.Sink(); sink != nil {
		sink.Write(line + "\n")
	}
	return nil
}

func (h *gateHandler) Flush() error { return nil }
func (h *gateHandler) Close() error { return nil }

func TestManagerFIFOUnderBlockPolicy(t *testing.T) {
	m := newTestManager(t, QueueConfig{
		MaxQueueSize:       2,
		BackpressurePolicy: PolicyBlock,
	})
	handler := NewNullHandler(eventRenderer(), nil)
	m.RegisterHandler("root", handler)
	sink := NewSink()
	m.AddSink("root", sink)
	m.Start()

	const total = 100
	ctx := context.Background()
	for i := 0; i < total; i++ {
		if err := m.Enqueue(ctx, testRecord("root", fmt.Sprintf("msg-%03d", i))); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	events := sink.Events()
	if len(events) != total {
		t.Fatalf("Dispatched %d records, want %d", len(events), total)
	}
	for i, ev := range events {
		want := fmt.Sprintf("msg-%03d\n", i)
		if ev != want {
			t.Errorf("Record %d out of order: got %q, want %q", i, ev, want)
		}
	}
}

func TestManagerDropOldestBound(t *testing.T) {
	m := newTestManager(t, QueueConfig{
		MaxQueueSize:       2,
		BackpressurePolicy: PolicyDropOldest,
	})
	handler := newGateHandler()
	m.RegisterHandler("root", handler)
	sink := NewSink()
	m.AddSink("root", sink)
	m.Start()

	ctx := context.Background()

	// First record occupies the worker, which blocks on the gate.
	if err := m.Enqueue(ctx, testRecord("root", "in-flight")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitFor(t, func() bool { return m.queue.Load().Len() == 0 })

	// Fill the queue, then overflow it once.
	for _, ev := range []string{"oldest", "kept", "newest"} {
		if err := m.Enqueue(ctx, testRecord("root", ev)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if got := m.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}

	close(handler.gate)
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	events := sink.Events()
	if len(events) != 3 {
		t.Fatalf("Dispatched %d records, want 3", len(events))
	}
	for _, ev := range events {
		if ev == "oldest\n" {
			t.Errorf("The oldest record survived a drop-oldest overflow")
		}
	}
}

func TestManagerDropPolicySilentlyDiscards(t *testing.T) {
	m := newTestManager(t, QueueConfig{
		MaxQueueSize:       1,
		BackpressurePolicy: PolicyDrop,
	})
	handler := newGateHandler()
	m.RegisterHandler("root", handler)
	sink := NewSink()
	m.AddSink("root", sink)
	m.Start()

	ctx := context.Background()
	if err := m.Enqueue(ctx, testRecord("root", "in-flight")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitFor(t, func() bool { return m.queue.Load().Len() == 0 })

	// Fill the single slot, then overflow: the overflow must not block, not
	// error, and not bump the drop-oldest counter.
	for _, ev := range []string{"kept", "discarded"} {
		if err := m.Enqueue(ctx, testRecord("root", ev)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if got := m.Dropped(); got != 0 {
		t.Errorf("Dropped = %d, want 0 under DROP policy", got)
	}

	close(handler.gate)
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if got := sink.Len(); got != 2 {
		t.Errorf("Dispatched %d records, want 2", got)
	}
}

func TestManagerDrainOnShutdown(t *testing.T) {
	m := newTestManager(t, QueueConfig{BackpressurePolicy: PolicyBlock})
	handler := NewNullHandler(eventRenderer(), nil)
	m.RegisterHandler("root", handler)
	sink := NewSink()
	m.AddSink("root", sink)
	m.Start()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := m.Enqueue(ctx, testRecord("root", fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if got := sink.Len(); got != 5 {
		t.Errorf("Dispatched %d records before shutdown returned, want 5", got)
	}
	if m.IsRunning() {
		t.Errorf("Manager still running after Shutdown")
	}
}

func TestManagerHierarchicalRouting(t *testing.T) {
	m := newTestManager(t, QueueConfig{})
	appSink, rootSink := NewSink(), NewSink()
	m.RegisterHandler("app", NewNullHandler(eventRenderer(), nil))
	m.RegisterHandler("root", NewNullHandler(eventRenderer(), nil))
	m.AddSink("app", appSink)
	m.AddSink("root", rootSink)
	m.Start()
	defer func() { _ = m.Shutdown(context.Background()) }()

	cases := []struct {
		logger string
		sink   *Sink
	}{
		{"app", appSink},               // exact match
		{"app.db.connection", appSink}, // nearest dot-separated parent
		{"metrics", rootSink},          // root fallback
	}
	for _, tc := range cases {
		if err := m.PushSync(testRecord(tc.logger, "ev-"+tc.logger)); err != nil {
			t.Fatalf("PushSync(%s) failed: %v", tc.logger, err)
		}
	}

	if got := appSink.Len(); got != 2 {
		t.Errorf("app sink captured %d records, want 2", got)
	}
	if got := rootSink.Len(); got != 1 {
		t.Errorf("root sink captured %d records, want 1", got)
	}
}

func TestManagerNoMatchingHandlerIsNoOp(t *testing.T) {
	m := newTestManager(t, QueueConfig{})
	m.RegisterHandler("app", NewNullHandler(eventRenderer(), nil))
	m.Start()
	defer func() { _ = m.Shutdown(context.Background()) }()

	// No "root" registered, so an unrelated logger matches nothing.
	if err := m.PushSync(testRecord("unrelated", "ev")); err != nil {
		t.Errorf("PushSync with no matching handler returned %v", err)
	}
	if err := m.Enqueue(context.Background(), testRecord("unrelated", "ev")); err != nil {
		t.Errorf("Enqueue with no matching handler returned %v", err)
	}
}

func TestManagerNotRunningIsNoOp(t *testing.T) {
	m := newTestManager(t, QueueConfig{})
	sink := NewSink()
	m.RegisterHandler("root", NewNullHandler(eventRenderer(), nil))
	m.AddSink("root", sink)

	if err := m.PushSync(testRecord("root", "ev")); err != nil {
		t.Errorf("PushSync before Start returned %v", err)
	}
	if err := m.Enqueue(context.Background(), testRecord("root", "ev")); err != nil {
		t.Errorf("Enqueue before Start returned %v", err)
	}
	if got := sink.Len(); got != 0 {
		t.Errorf("Captured %d records before Start, want 0", got)
	}
}

func TestManagerStartIsIdempotent(t *testing.T) {
	m := newTestManager(t, QueueConfig{})
	handler := NewNullHandler(eventRenderer(), nil)
	m.RegisterHandler("root", handler)
	sink := NewSink()
	m.AddSink("root", sink)

	m.Start()
	m.Start() // must not spawn a second worker

	if err := m.Enqueue(context.Background(), testRecord("root", "once")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if got := sink.Len(); got != 1 {
		t.Errorf("Record dispatched %d times, want exactly once", got)
	}
}

func TestManagerRestart(t *testing.T) {
	m := newTestManager(t, QueueConfig{})
	m.RegisterHandler("root", NewNullHandler(eventRenderer(), nil))
	m.Start()
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// Shutdown clears the registry, so a restart re-registers.
	sink := NewSink()
	m.RegisterHandler("root", NewNullHandler(eventRenderer(), nil))
	m.AddSink("root", sink)
	m.Start()
	if !m.IsRunning() {
		t.Fatalf("Manager not running after restart")
	}
	if err := m.Enqueue(context.Background(), testRecord("root", "after-restart")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if got := sink.Len(); got != 1 {
		t.Errorf("Captured %d records after restart, want 1", got)
	}
}

func TestManagerFlushWaitsForQueue(t *testing.T) {
	m := newTestManager(t, QueueConfig{})
	handler := NewNullHandler(eventRenderer(), nil)
	m.RegisterHandler("root", handler)
	sink := NewSink()
	m.AddSink("root", sink)
	m.Start()
	defer func() { _ = m.Shutdown(context.Background()) }()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := m.Enqueue(ctx, testRecord("root", "ev")); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := sink.Len(); got != 10 {
		t.Errorf("Captured %d records after Flush, want 10", got)
	}
	if !m.IsRunning() {
		t.Errorf("Flush stopped the worker")
	}
}

func TestManagerShutdownBoundedWithWedgedHandler(t *testing.T) {
	m := newTestManager(t, QueueConfig{DrainTimeout: 50 * time.Millisecond})
	handler := newGateHandler()
	m.RegisterHandler("root", handler)
	m.Start()

	// One record that will never finish: the gate is never released, so the
	// drain timeout must fire and forcibly cancel the worker.
	if err := m.Enqueue(context.Background(), testRecord("root", "stuck")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitFor(t, func() bool { return m.queue.Load().Len() == 0 })

	start := time.Now()
	done := make(chan struct{})
	go func() {
		// Join inside Shutdown would wait forever; bound the whole call.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Shutdown hung past the drain timeout")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Shutdown took %s, want it bounded", elapsed)
	}
	if m.IsRunning() {
		t.Errorf("Manager still running after timed-out shutdown")
	}
}

func TestManagerEnqueueAndFlushDuringShutdown(t *testing.T) {
	// Producers keep calling Enqueue and Flush while Shutdown tears the
	// queue down. Every overlapping call must be a safe no-op; run enough
	// rounds that the race detector gets a real shot at the window.
	for round := 0; round < 20; round++ {
		m := newTestManager(t, QueueConfig{})
		m.RegisterHandler("root", NewNullHandler(eventRenderer(), nil))
		m.Start()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = m.Enqueue(context.Background(), testRecord("root", "ev"))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = m.Flush(context.Background())
			}
		}()

		if err := m.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
		wg.Wait()
		if m.IsRunning() {
			t.Fatalf("Manager still running after Shutdown")
		}
	}
}

func TestManagerUnregisterHandler(t *testing.T) {
	m := newTestManager(t, QueueConfig{})
	h1 := NewNullHandler(eventRenderer(), nil)
	h2 := NewNullHandler(eventRenderer(), nil)
	m.RegisterHandler("root", h1)
	m.RegisterHandler("root", h2)
	sink := NewSink()
	h2.SetSink(sink)
	m.UnregisterHandler("root", h1)
	m.Start()
	defer func() { _ = m.Shutdown(context.Background()) }()

	if err := m.PushSync(testRecord("root", "ev")); err != nil {
		t.Fatalf("PushSync failed: %v", err)
	}
	if got := sink.Len(); got != 1 {
		t.Errorf("Remaining handler captured %d records, want 1", got)
	}
}

func TestManagerErrorCallback(t *testing.T) {
	m := newTestManager(t, QueueConfig{})
	errCh := make(chan error, 1)
	m.SetErrorCallback(func(err error) { errCh <- err })

	m.RegisterHandler("root", &failingHandler{
		pipeline: newPipeline("failingHandler", eventRenderer(), nil),
	})
	m.Start()
	defer func() { _ = m.Shutdown(context.Background()) }()

	if err := m.Enqueue(context.Background(), testRecord("root", "boom")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case err := <-errCh:
		dispatchErr, ok := AsError(err)
		if !ok {
			t.Fatalf("Callback error is %T, want *Error", err)
		}
		if dispatchErr.Layer != LayerDispatch {
			t.Errorf("Error layer = %s, want %s", dispatchErr.Layer, LayerDispatch)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Worker never reported the handler failure")
	}
}

type failingHandler struct {
	pipeline
}

func (h *failingHandler) EmitSync(ev EventDict) error { return nil }

func (h *failingHandler) EmitAsync(ctx context.Context, ev EventDict) error {
	return NewHandlerError("emit blew up", "failingHandler", nil)
}

func (h *failingHandler) Flush() error { return nil }
func (h *failingHandler) Close() error { return nil }

// waitFor polls until the condition holds or the test times out.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Condition not reached in time")
}
