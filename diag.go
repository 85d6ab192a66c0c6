package kolog

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// diagLayout mirrors the main plain layout but swaps the logger name for the
// call site, which is what matters when tracing factory assembly.
const diagLayout = "[{asctime}] [{level:-8}] [{lineno:-4}::{funcName}] {event}"

// diagLog records the factory's own assembly steps to a plain file. It is
// fully synchronous and deliberately independent of the queue machinery it
// helps build: a broken configuration must still produce a readable trail.
type diagLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// newDiagLog prepares a diagnostic log at the given path. The file opens
// lazily on the first write.
func newDiagLog(path string) (*diagLog, error) {
	normalized, err := normalizePath(path)
	if err != nil {
		return nil, NewConfigurationError(
			"invalid diagnostic log path `"+path+"`", "diagLog", err)
	}
	return &diagLog{path: normalized}, nil
}

func (d *diagLog) Debug(message string, fields Fields) {
	d.log(LevelDebug, message, fields)
}

func (d *diagLog) Info(message string, fields Fields) {
	d.log(LevelInfo, message, fields)
}

func (d *diagLog) Error(message string, fields Fields) {
	d.log(LevelError, message, fields)
}

// log writes one line best-effort. Diagnostic logging must never fail the
// operation it describes, so write errors are swallowed after a stderr note.
func (d *diagLog) log(level Level, message string, fields Fields) {
	if d == nil {
		return
	}
	ev := EventDict{
		"event":     message,
		"level":     level.String(),
		"timestamp": time.Now().UTC(),
	}
	for k, v := range captureCaller(3) {
		ev[k] = v
	}
	line := formatLayout(diagLayout, DefaultDateFmt, ev)
	if len(fields) > 0 {
		line += " " + renderFields(fields)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		file, err := os.OpenFile(d.path, ModeTruncate.flags(), 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kolog: cannot open diagnostic log: %v\n", err)
			return
		}
		d.file = file
	}
	if _, err := d.file.WriteString(line + "\n"); err != nil {
		fmt.Fprintf(os.Stderr, "kolog: cannot write diagnostic log: %v\n", err)
	}
}

// Close releases the file handle. Idempotent.
func (d *diagLog) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		_ = d.file.Close()
		d.file = nil
	}
	return nil
}

// renderFields renders context fields in stable key order.
func renderFields(fields Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, fields[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
