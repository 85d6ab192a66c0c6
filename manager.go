package kolog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// RootLoggerName is the reserved fallback of the hierarchical lookup.
const RootLoggerName = "root"

// Manager owns the bounded record queue, the single background dispatch
// worker and the logger-name to handler registry. It decouples producers on
// arbitrary goroutines from I/O-bound handlers, enforcing one of three
// backpressure policies and a bounded-time drain on shutdown.
//
// Every Manager owns its own queue, worker and locks; instances never
// contend on each other's critical sections.
type Manager struct {
	config QueueConfig

	// mu guards lifecycle transitions and registry mutation. The registry
	// is read-mostly: writers are registration calls during setup/teardown.
	mu       sync.Mutex
	registry map[string][]Handler

	// syncMu serializes all synchronous producers against each other. It
	// never blocks the background worker.
	syncMu sync.Mutex

	// queue is read lock-free by producers on the Enqueue/Flush hot path
	// while teardown clears it, hence the atomic pointer.
	queue        atomic.Pointer[recordQueue]
	workerDone   chan struct{}
	workerCancel context.CancelFunc

	running  atomic.Bool
	draining atomic.Bool
	dropped  atomic.Uint64

	onError func(error)
}

// NewManager builds an unstarted Manager from a queue configuration.
func NewManager(cfg QueueConfig) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, NewConfigurationError(
			"could not create queueing manager instance", "Manager", err)
	}
	return &Manager{
		config:   cfg,
		registry: make(map[string][]Handler),
		onError: func(err error) {
			fmt.Fprintf(os.Stderr, "kolog: %v\n", err)
		},
	}, nil
}

// SetErrorCallback replaces the default stderr reporter for errors the
// background worker cannot return to any caller. Must be called before
// Start.
func (m *Manager) SetErrorCallback(fn func(error)) {
	if fn != nil {
		m.onError = fn
	}
}

// Start allocates the queue and spawns the background worker. Calling Start
// on a running Manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running.Load() {
		return
	}

	q := newRecordQueue(m.config.MaxQueueSize)
	m.queue.Store(q)
	m.workerDone = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.workerCancel = cancel
	m.draining.Store(false)
	m.running.Store(true)

	go m.worker(ctx, q, m.workerDone)
}

// IsRunning reports whether the worker is active.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// Dropped returns how many records the DROP_OLDEST policy has discarded
// since the last Start.
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

// RegisterHandler appends a handler to the logger's group. Duplicates are
// not checked.
func (m *Manager) RegisterHandler(loggerName string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[loggerName] = append(m.registry[loggerName], handler)
}

// UnregisterHandler removes the first matching handler from the logger's
// group. Silently no-ops when not present.
func (m *Manager) UnregisterHandler(loggerName string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group := m.registry[loggerName]
	for i, h := range group {
		if h == handler {
			m.registry[loggerName] = append(group[:i:i], group[i+1:]...)
			return
		}
	}
}

// AddSink attaches a capture sink to every handler registered under the
// logger name.
func (m *Manager) AddSink(loggerName string, sink *Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.registry[loggerName] {
		h.SetSink(sink)
	}
}

// RemoveSink detaches capture sinks from every handler registered under the
// logger name.
func (m *Manager) RemoveSink(loggerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.registry[loggerName] {
		h.SetSink(nil)
	}
}

// PushSync synchronously emits a record to the handlers matching its logger
// name, resolving hierarchically. No-op when the Manager is not running or
// shutting down, or when no handlers match.
func (m *Manager) PushSync(rec *Record) error {
	if !m.running.Load() || m.draining.Load() {
		return nil
	}
	handlers := m.resolveHandlers(rec.LoggerName)
	if len(handlers) == 0 {
		return nil
	}

	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	for _, h := range handlers {
		if err := h.EmitSync(rec.Payload.clone()); err != nil {
			return NewDispatchError(
				fmt.Sprintf("failed to synchronously emit log message of logger `%s` to handlers `[%s]`",
					rec.LoggerName, handlerNames(handlers)),
				"Manager", err)
		}
	}
	return nil
}

// Enqueue hands a record to the background worker, applying the configured
// backpressure policy. No-op when the Manager is not running or shutting
// down. Backpressure drops are silent by design.
func (m *Manager) Enqueue(ctx context.Context, rec *Record) error {
	if !m.running.Load() || m.draining.Load() {
		return nil
	}
	q := m.queue.Load()
	if q == nil {
		return nil
	}

	switch m.config.BackpressurePolicy {
	case PolicyBlock:
		return q.Put(ctx, rec)
	case PolicyDropOldest:
		if q.TryPut(rec) {
			return nil
		}
		if _, ok := q.TryPopOldest(); ok {
			m.dropped.Add(1)
			q.TaskDone()
		}
		// A racing producer may refill the freed slot first; give up then.
		q.TryPut(rec)
		return nil
	default: // PolicyDrop
		q.TryPut(rec)
		return nil
	}
}

// Flush blocks until the queue has no outstanding or in-flight records. The
// worker keeps running.
func (m *Manager) Flush(ctx context.Context) error {
	q := m.queue.Load()
	if q == nil {
		return nil
	}
	return q.Join(ctx)
}

// Shutdown drains the queue, stops the worker within the configured drain
// timeout (cancelling it forcibly on expiry), closes every registered
// handler best-effort, and resets the Manager so it can be started again.
// Idempotent: shutting down a stopped Manager is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.running.Load() {
		m.mu.Unlock()
		return nil
	}
	q := m.queue.Load()
	done := m.workerDone
	cancel := m.workerCancel
	m.mu.Unlock()

	// Finish all outstanding records before refusing new ones.
	if err := q.Join(ctx); err != nil {
		cancel()
		<-done
		m.teardown()
		return err
	}

	// From here on any concurrent enqueue is a no-op.
	m.draining.Store(true)

	// Sentinel stops the worker loop.
	if err := q.Put(ctx, nil); err != nil {
		cancel()
		<-done
		m.teardown()
		return err
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, m.config.DrainTimeout)
	defer drainCancel()
	select {
	case <-done:
	case <-drainCtx.Done():
		// Timed out: cancel the worker and swallow its cancellation. This
		// caps shutdown latency at the cost of the last in-flight dispatch.
		cancel()
		<-done
	}

	m.teardown()
	return nil
}

// teardown closes all handlers concurrently (best-effort: one broken close
// cannot prevent the rest from closing), clears the registry and releases
// the queue and worker references.
func (m *Manager) teardown() {
	m.mu.Lock()
	var all []Handler
	for _, group := range m.registry {
		all = append(all, group...)
	}
	m.registry = make(map[string][]Handler)
	m.queue.Store(nil)
	m.workerDone = nil
	m.workerCancel = nil
	m.running.Store(false)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range all {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			_ = h.Close()
		}(h)
	}
	wg.Wait()
}

// worker is the single background consumption loop. It exits on the nil
// sentinel or on forcible cancellation.
func (m *Manager) worker(ctx context.Context, q *recordQueue, done chan struct{}) {
	defer close(done)
	for {
		rec, err := q.Get(ctx)
		if err != nil {
			return
		}
		if rec == nil { // shutdown sentinel
			q.TaskDone()
			return
		}
		m.dispatch(ctx, rec)
		q.TaskDone()
	}
}

// dispatch fans one record out to all matching handlers concurrently and
// waits for every one to finish. Failures are collected, never allowed to
// abort sibling handlers, and reported once all have completed.
func (m *Manager) dispatch(ctx context.Context, rec *Record) {
	handlers := m.resolveHandlers(rec.LoggerName)
	if len(handlers) == 0 {
		return
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  *multierror.Error
	)
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h.EmitAsync(ctx, rec.Payload.clone()); err != nil {
				errMu.Lock()
				errs = multierror.Append(errs, err)
				errMu.Unlock()
			}
		}(h)
	}
	wg.Wait()

	if err := errs.ErrorOrNil(); err != nil {
		m.onError(NewDispatchError(
			fmt.Sprintf("failed to asynchronously emit log message of logger `%s` to handlers `[%s]`",
				rec.LoggerName, handlerNames(handlers)),
			"Manager", err))
	}
}

// resolveHandlers finds the handler group for a logger name: exact match
// first, then each dot-separated parent, then "root", then none.
func (m *Manager) resolveHandlers(loggerName string) []Handler {
	m.mu.Lock()
	defer m.mu.Unlock()

	if group, ok := m.registry[loggerName]; ok && len(group) > 0 {
		return append([]Handler(nil), group...)
	}

	parts := strings.Split(loggerName, ".")
	for i := len(parts) - 1; i > 0; i-- {
		parent := strings.Join(parts[:i], ".")
		if group, ok := m.registry[parent]; ok && len(group) > 0 {
			return append([]Handler(nil), group...)
		}
	}

	if group, ok := m.registry[RootLoggerName]; ok && len(group) > 0 {
		return append([]Handler(nil), group...)
	}
	return nil
}

// handlerNames renders a handler group for error messages.
func handlerNames(handlers []Handler) string {
	names := make([]string, len(handlers))
	for i, h := range handlers {
		names[i] = fmt.Sprintf("%T", h)
	}
	return strings.Join(names, ", ")
}
