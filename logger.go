package kolog

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Fields is the key/value context attached to a logger or a single call.
type Fields map[string]any

// Wrapped is the innermost logger the bound logger delegates to. It depends
// only on these two methods, never on a concrete queue implementation, so a
// test double can stand in for the Manager.
type Wrapped interface {
	// Log hands a payload to the synchronous fast path.
	Log(ev EventDict) error
	// AsyncLog hands a payload to the concurrent enqueue path.
	AsyncLog(ctx context.Context, ev EventDict) error
}

// queueLogger is the Manager-backed Wrapped implementation. It stamps the
// routing name and timestamp and builds the immutable Record.
type queueLogger struct {
	name    string
	manager *Manager
}

// NewQueueLogger wraps a Manager as a Wrapped logger for the given name.
func NewQueueLogger(name string, manager *Manager) Wrapped {
	return &queueLogger{name: name, manager: manager}
}

func (q *queueLogger) Log(ev EventDict) error {
	ev["name"] = q.name
	ev["timestamp"] = time.Now().UTC()
	return q.manager.PushSync(NewRecord(ev))
}

func (q *queueLogger) AsyncLog(ctx context.Context, ev EventDict) error {
	ev["name"] = q.name
	ev["timestamp"] = time.Now().UTC()
	return q.manager.Enqueue(ctx, NewRecord(ev))
}

// Logger is the immutable context carrier: a wrapped logger, a logger-level
// processor chain fixed at construction, and bound context. Bind, Unbind and
// New return new instances; a Logger is safe to share across goroutines
// without locking.
type Logger struct {
	logger     Wrapped
	processors []Processor
	context    Fields
}

// NewLogger binds a wrapped logger, a processor chain and initial context.
func NewLogger(logger Wrapped, processors []Processor, context Fields) *Logger {
	if context == nil {
		context = Fields{}
	}
	return &Logger{logger: logger, processors: processors, context: context}
}

// Bind returns a new logger with the values added to its context. Later
// keys win on conflict.
func (l *Logger) Bind(values Fields) *Logger {
	merged := make(Fields, len(l.context)+len(values))
	for k, v := range l.context {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return &Logger{logger: l.logger, processors: l.processors, context: merged}
}

// Unbind returns a new logger with the named keys removed, failing when any
// key is absent.
func (l *Logger) Unbind(keys ...string) (*Logger, error) {
	bound := l.Bind(nil)
	for _, key := range keys {
		if _, ok := bound.context[key]; !ok {
			return nil, NewLoggerError(
				"cannot unbind `"+key+"`: key is not part of the context", "Logger", nil)
		}
		delete(bound.context, key)
	}
	return bound, nil
}

// TryUnbind is like Unbind but best effort: missing keys are ignored.
func (l *Logger) TryUnbind(keys ...string) *Logger {
	bound := l.Bind(nil)
	for _, key := range keys {
		delete(bound.context, key)
	}
	return bound
}

// New discards all existing context and starts fresh with only the given
// values.
func (l *Logger) New(values Fields) *Logger {
	fresh := &Logger{logger: l.logger, processors: l.processors, context: Fields{}}
	return fresh.Bind(values)
}

// Equal reports context equality. Processors and the wrapped logger do not
// participate.
func (l *Logger) Equal(other *Logger) bool {
	if other == nil {
		return false
	}
	return reflect.DeepEqual(l.context, other.context)
}

// Context returns a copy of the bound context.
func (l *Logger) Context() Fields {
	out := make(Fields, len(l.context))
	for k, v := range l.context {
		out[k] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Leveled calls
// ---------------------------------------------------------------------------

// Debug logs an event at DEBUG on the synchronous fast path.
func (l *Logger) Debug(event string, fields Fields) error {
	return l.log(LevelDebug, event, fields, 2)
}

// Info logs an event at INFO on the synchronous fast path.
func (l *Logger) Info(event string, fields Fields) error {
	return l.log(LevelInfo, event, fields, 2)
}

// Warning logs an event at WARNING on the synchronous fast path.
func (l *Logger) Warning(event string, fields Fields) error {
	return l.log(LevelWarning, event, fields, 2)
}

// Error logs an event at ERROR on the synchronous fast path.
func (l *Logger) Error(event string, fields Fields) error {
	return l.log(LevelError, event, fields, 2)
}

// Critical logs an event at CRITICAL on the synchronous fast path.
func (l *Logger) Critical(event string, fields Fields) error {
	return l.log(LevelCritical, event, fields, 2)
}

// AsyncDebug enqueues an event at DEBUG on the concurrent path.
func (l *Logger) AsyncDebug(ctx context.Context, event string, fields Fields) error {
	return l.asyncLog(ctx, LevelDebug, event, fields, 2)
}

// AsyncInfo enqueues an event at INFO on the concurrent path.
func (l *Logger) AsyncInfo(ctx context.Context, event string, fields Fields) error {
	return l.asyncLog(ctx, LevelInfo, event, fields, 2)
}

// AsyncWarning enqueues an event at WARNING on the concurrent path.
func (l *Logger) AsyncWarning(ctx context.Context, event string, fields Fields) error {
	return l.asyncLog(ctx, LevelWarning, event, fields, 2)
}

// AsyncError enqueues an event at ERROR on the concurrent path.
func (l *Logger) AsyncError(ctx context.Context, event string, fields Fields) error {
	return l.asyncLog(ctx, LevelError, event, fields, 2)
}

// AsyncCritical enqueues an event at CRITICAL on the concurrent path.
func (l *Logger) AsyncCritical(ctx context.Context, event string, fields Fields) error {
	return l.asyncLog(ctx, LevelCritical, event, fields, 2)
}

// ---------------------------------------------------------------------------
// Scope helpers: log once on entry, log "Error in a scope" and propagate
// unchanged when the wrapped function fails or panics.
// ---------------------------------------------------------------------------

// DebugScope runs fn inside a DEBUG-logged scope.
func (l *Logger) DebugScope(event string, fields Fields, fn func(*Logger) error) error {
	return l.scope(LevelDebug, event, fields, fn)
}

// InfoScope runs fn inside an INFO-logged scope.
func (l *Logger) InfoScope(event string, fields Fields, fn func(*Logger) error) error {
	return l.scope(LevelInfo, event, fields, fn)
}

// WarningScope runs fn inside a WARNING-logged scope.
func (l *Logger) WarningScope(event string, fields Fields, fn func(*Logger) error) error {
	return l.scope(LevelWarning, event, fields, fn)
}

// ErrorScope runs fn inside an ERROR-logged scope.
func (l *Logger) ErrorScope(event string, fields Fields, fn func(*Logger) error) error {
	return l.scope(LevelError, event, fields, fn)
}

// CriticalScope runs fn inside a CRITICAL-logged scope.
func (l *Logger) CriticalScope(event string, fields Fields, fn func(*Logger) error) error {
	return l.scope(LevelCritical, event, fields, fn)
}

// AsyncDebugScope is DebugScope on the concurrent path.
func (l *Logger) AsyncDebugScope(ctx context.Context, event string, fields Fields, fn func(context.Context, *Logger) error) error {
	return l.asyncScope(ctx, LevelDebug, event, fields, fn)
}

// AsyncInfoScope is InfoScope on the concurrent path.
func (l *Logger) AsyncInfoScope(ctx context.Context, event string, fields Fields, fn func(context.Context, *Logger) error) error {
	return l.asyncScope(ctx, LevelInfo, event, fields, fn)
}

// AsyncWarningScope is WarningScope on the concurrent path.
func (l *Logger) AsyncWarningScope(ctx context.Context, event string, fields Fields, fn func(context.Context, *Logger) error) error {
	return l.asyncScope(ctx, LevelWarning, event, fields, fn)
}

// AsyncErrorScope is ErrorScope on the concurrent path.
func (l *Logger) AsyncErrorScope(ctx context.Context, event string, fields Fields, fn func(context.Context, *Logger) error) error {
	return l.asyncScope(ctx, LevelError, event, fields, fn)
}

// AsyncCriticalScope is CriticalScope on the concurrent path.
func (l *Logger) AsyncCriticalScope(ctx context.Context, event string, fields Fields, fn func(context.Context, *Logger) error) error {
	return l.asyncScope(ctx, LevelCritical, event, fields, fn)
}

// ---------------------------------------------------------------------------
// Life helpers: "Begin: X" on entry, "End (<seconds>): X" on any exit, with
// an optional error event in between when the log_exc field is set.
// ---------------------------------------------------------------------------

// DebugLife runs fn inside a DEBUG-logged lifecycle.
func (l *Logger) DebugLife(scope string, fields Fields, fn func(*Logger) error) error {
	return l.life(LevelDebug, scope, fields, fn)
}

// InfoLife runs fn inside an INFO-logged lifecycle.
func (l *Logger) InfoLife(scope string, fields Fields, fn func(*Logger) error) error {
	return l.life(LevelInfo, scope, fields, fn)
}

// WarningLife runs fn inside a WARNING-logged lifecycle.
func (l *Logger) WarningLife(scope string, fields Fields, fn func(*Logger) error) error {
	return l.life(LevelWarning, scope, fields, fn)
}

// ErrorLife runs fn inside an ERROR-logged lifecycle.
func (l *Logger) ErrorLife(scope string, fields Fields, fn func(*Logger) error) error {
	return l.life(LevelError, scope, fields, fn)
}

// CriticalLife runs fn inside a CRITICAL-logged lifecycle.
func (l *Logger) CriticalLife(scope string, fields Fields, fn func(*Logger) error) error {
	return l.life(LevelCritical, scope, fields, fn)
}

// AsyncDebugLife is DebugLife on the concurrent path.
func (l *Logger) AsyncDebugLife(ctx context.Context, scope string, fields Fields, fn func(context.Context, *Logger) error) error {
	return l.asyncLife(ctx, LevelDebug, scope, fields, fn)
}

// AsyncInfoLife is InfoLife on the concurrent path.
func (l *Logger) AsyncInfoLife(ctx context.Context, scope string, fields Fields, fn func(context.Context, *Logger) error) error {
	return l.asyncLife(ctx, LevelInfo, scope, fields, fn)
}

// AsyncWarningLife is WarningLife on the concurrent path.
func (l *Logger) AsyncWarningLife(ctx context.Context, scope string, fields Fields, fn func(context.Context, *Logger) error) error {
	return l.asyncLife(ctx, LevelWarning, scope, fields, fn)
}

// AsyncErrorLife is ErrorLife on the concurrent path.
func (l *Logger) AsyncErrorLife(ctx context.Context, scope string, fields Fields, fn func(context.Context, *Logger) error) error {
	return l.asyncLife(ctx, LevelError, scope, fields, fn)
}

// AsyncCriticalLife is CriticalLife on the concurrent path.
func (l *Logger) AsyncCriticalLife(ctx context.Context, scope string, fields Fields, fn func(context.Context, *Logger) error) error {
	return l.asyncLife(ctx, LevelCritical, scope, fields, fn)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (l *Logger) scope(level Level, event string, fields Fields, fn func(*Logger) error) (err error) {
	_ = l.log(level, event, fields, 3)
	defer func() {
		if r := recover(); r != nil {
			f := copyFields(fields)
			f["exc_info"] = fmt.Errorf("panic: %v", r)
			_ = l.log(level, "Error in a scope", f, 5)
			panic(r)
		}
	}()
	if err = fn(l); err != nil {
		f := copyFields(fields)
		f["exc_info"] = err
		_ = l.log(level, "Error in a scope", f, 3)
	}
	return err
}

func (l *Logger) asyncScope(ctx context.Context, level Level, event string, fields Fields, fn func(context.Context, *Logger) error) (err error) {
	_ = l.asyncLog(ctx, level, event, fields, 3)
	defer func() {
		if r := recover(); r != nil {
			f := copyFields(fields)
			f["exc_info"] = fmt.Errorf("panic: %v", r)
			_ = l.asyncLog(ctx, level, "Error in a scope", f, 5)
			panic(r)
		}
	}()
	if err = fn(ctx, l); err != nil {
		f := copyFields(fields)
		f["exc_info"] = err
		_ = l.asyncLog(ctx, level, "Error in a scope", f, 3)
	}
	return err
}

func (l *Logger) life(level Level, scope string, fields Fields, fn func(*Logger) error) (err error) {
	fields = copyFields(fields)
	logExc, _ := fields["log_exc"].(bool)
	delete(fields, "log_exc")

	_ = l.log(level, "Begin: "+scope, fields, 3)
	start := time.Now()
	defer func() {
		end := fmt.Sprintf("End (%.2f): %s", time.Since(start).Seconds(), scope)
		if r := recover(); r != nil {
			if logExc {
				f := copyFields(fields)
				f["exc_info"] = fmt.Errorf("panic: %v", r)
				_ = l.log(level, "Error in "+scope, f, 5)
			}
			_ = l.log(level, end, fields, 5)
			panic(r)
		}
		_ = l.log(level, end, fields, 4)
	}()
	if err = fn(l); err != nil && logExc {
		f := copyFields(fields)
		f["exc_info"] = err
		_ = l.log(level, "Error in "+scope, f, 3)
	}
	return err
}

func (l *Logger) asyncLife(ctx context.Context, level Level, scope string, fields Fields, fn func(context.Context, *Logger) error) (err error) {
	fields = copyFields(fields)
	logExc, _ := fields["log_exc"].(bool)
	delete(fields, "log_exc")

	_ = l.asyncLog(ctx, level, "Begin: "+scope, fields, 3)
	start := time.Now()
	defer func() {
		end := fmt.Sprintf("End (%.2f): %s", time.Since(start).Seconds(), scope)
		if r := recover(); r != nil {
			if logExc {
				f := copyFields(fields)
				f["exc_info"] = fmt.Errorf("panic: %v", r)
				_ = l.asyncLog(ctx, level, "Error in "+scope, f, 5)
			}
			_ = l.asyncLog(ctx, level, end, fields, 5)
			panic(r)
		}
		_ = l.asyncLog(ctx, level, end, fields, 4)
	}()
	if err = fn(ctx, l); err != nil && logExc {
		f := copyFields(fields)
		f["exc_info"] = err
		_ = l.asyncLog(ctx, level, "Error in "+scope, f, 3)
	}
	return err
}

// log builds the payload for one synchronous call. The caller location is
// captured here, at the outermost public entry, and threaded through as
// explicit payload keys.
func (l *Logger) log(level Level, event string, fields Fields, skip int) error {
	ev := l.buildEvent(level, event, fields, skip+1)
	ev, verdict, err := runProcessors(l.processors, ev, "Logger")
	if err != nil {
		return err
	}
	if verdict == Drop {
		return nil
	}
	return l.logger.Log(ev)
}

// asyncLog is log on the concurrent enqueue path.
func (l *Logger) asyncLog(ctx context.Context, level Level, event string, fields Fields, skip int) error {
	ev := l.buildEvent(level, event, fields, skip+1)
	ev, verdict, err := runProcessors(l.processors, ev, "Logger")
	if err != nil {
		return err
	}
	if verdict == Drop {
		return nil
	}
	return l.logger.AsyncLog(ctx, ev)
}

func (l *Logger) buildEvent(level Level, event string, fields Fields, skip int) EventDict {
	merged := make(map[string]any, len(l.context)+len(fields))
	for k, v := range l.context {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	ev := EventDict{
		"event":   event,
		"level":   level.String(),
		"context": merged,
	}
	for k, v := range captureCaller(skip + 1) {
		ev[k] = v
	}
	if exc := errorInfo(level, fields); exc != nil {
		ev["exc_info"] = exc
	}
	return ev
}

// errorInfo implements the capture asymmetry: at ERROR and above any error
// passed under err or exc_info is attached; below that the caller must opt
// in with an explicit exc_info field.
func errorInfo(level Level, fields Fields) error {
	if exc, ok := fields["exc_info"].(error); ok {
		return exc
	}
	if level >= LevelError {
		if exc, ok := fields["err"].(error); ok {
			return exc
		}
		if exc, ok := fields["error"].(error); ok {
			return exc
		}
	}
	return nil
}

// captureCaller resolves the call-site metadata keys from the runtime.
func captureCaller(skip int) map[string]string {
	info := map[string]string{
		"pathname": "unknown",
		"filename": "unknown",
		"lineno":   "0",
		"funcName": "unknown",
		"module":   "unknown",
	}
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return info
	}
	info["pathname"] = file
	info["filename"] = filepath.Base(file)
	info["lineno"] = strconv.Itoa(line)
	if fn := runtime.FuncForPC(pc); fn != nil {
		full := fn.Name()
		if idx := strings.LastIndex(full, "."); idx >= 0 {
			info["module"] = full[:idx]
			info["funcName"] = full[idx+1:]
		} else {
			info["funcName"] = full
		}
	}
	return info
}

func copyFields(fields Fields) Fields {
	out := make(Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	return out
}
