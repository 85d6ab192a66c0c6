package kolog

import (
	"context"
	"os"
	"sync"
	"time"
)

// Namer produces the filename for a rotated backup. Index 0 is the active
// file; backups start at 1.
type Namer func(base string, index int) string

// RotatingFileHandler is a FileHandler with a rotation policy checked before
// every write: rotate when the configured cumulative byte size would be
// exceeded, or when the configured interval has elapsed since the last
// rotation, whichever triggers first. The size and time triggers keep
// independent bookkeeping.
//
// Rotation shifts existing backups highest-index first (path.0002 ->
// path.0003, ...), renames the active file to path.0001 and reopens a fresh
// active file. With a zero backup count the trigger bookkeeping still runs
// but no files are ever rotated.
type RotatingFileHandler struct {
	pipeline
	path string
	mode FileMode

	maxBytes    int64
	backupCount int
	interval    time.Duration
	namer       Namer

	// stateMu guards the rotation bookkeeping shared by both write paths.
	stateMu      sync.Mutex
	currentSize  int64
	lastRotation time.Time

	muSync   sync.Mutex
	fileSync *os.File

	muAsync   sync.Mutex
	fileAsync *os.File
}

// NewRotatingFileHandler builds a rotating file handler. A zero maxBytes
// disables the size trigger; a zero interval disables the time trigger.
func NewRotatingFileHandler(renderer Renderer, processors []Processor, filename string, mode FileMode, maxBytes int64, backupCount int, interval time.Duration) (*RotatingFileHandler, error) {
	path, err := normalizePath(filename)
	if err != nil {
		return nil, NewHandlerError(
			"invalid file path `"+filename+"`", "RotatingFileHandler", err).
			WithCategory(CategoryConfiguration)
	}
	if mode == "" {
		mode = ModeAppend
	}
	return &RotatingFileHandler{
		pipeline:    newPipeline("RotatingFileHandler", renderer, processors),
		path:        path,
		mode:        mode,
		maxBytes:    maxBytes,
		backupCount: backupCount,
		interval:    interval,
		namer:       backupName,
	}, nil
}

// SetNamer overrides the default backup naming scheme. Intended for embedding
// code, not for configuration.
func (h *RotatingFileHandler) SetNamer(namer Namer) {
	if namer != nil {
		h.namer = namer
	}
}

// EmitSync renders the payload, rotates if due, and writes one line.
func (h *RotatingFileHandler) EmitSync(ev EventDict) error {
	line, ok, err := h.format(ev)
	if err != nil || !ok {
		return err
	}

	if sink := h.Sink(); sink != nil {
		h.muSync.Lock()
		sink.Write(line + "\n")
		h.muSync.Unlock()
		return nil
	}

	h.muSync.Lock()
	defer h.muSync.Unlock()
	if h.shouldRotate(int64(len(line) + 1)) {
		if err := h.rotate(&h.fileSync); err != nil {
			return err
		}
	}
	if h.fileSync == nil {
		file, err := h.open()
		if err != nil {
			return err
		}
		h.fileSync = file
		h.setInitialSize()
	}
	if _, err := h.fileSync.WriteString(line + "\n"); err != nil {
		return NewHandlerError(
			"failed to write to the file at path `"+h.path+"`", "RotatingFileHandler", err)
	}
	h.recordWrite(int64(len(line) + 1))
	return nil
}

// EmitAsync renders the payload, rotates if due, and writes one line on the
// concurrent path.
func (h *RotatingFileHandler) EmitAsync(ctx context.Context, ev EventDict) error {
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
		return nil
	}

	h.muAsync.Lock()
	defer h.muAsync.Unlock()
	if h.shouldRotate(int64(len(line) + 1)) {
		if err := h.rotate(&h.fileAsync); err != nil {
			return err
		}
	}
	if h.fileAsync == nil {
		file, err := h.open()
		if err != nil {
			return err
		}
		h.fileAsync = file
		h.setInitialSize()
	}
	if _, err := h.fileAsync.WriteString(line + "\n"); err != nil {
		return NewHandlerError(
			"failed to write to the file at path `"+h.path+"`", "RotatingFileHandler", err)
	}
	h.recordWrite(int64(len(line) + 1))
	return nil
}

// shouldRotate checks both triggers for a pending write of n bytes. Each
// trigger resets only its own reference on firing.
func (h *RotatingFileHandler) shouldRotate(n int64) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	rotate := false
	if h.maxBytes > 0 && h.currentSize+n > h.maxBytes {
		rotate = true
		h.currentSize = 0
	}
	if h.interval > 0 && !h.lastRotation.IsZero() {
		now := time.Now()
		if now.Sub(h.lastRotation) >= h.interval {
			rotate = true
			h.lastRotation = now
		}
	}
	return rotate
}

// recordWrite adds a completed write to the size bookkeeping.
func (h *RotatingFileHandler) recordWrite(n int64) {
	h.stateMu.Lock()
	h.currentSize += n
	h.stateMu.Unlock()
}

// setInitialSize seeds the size counter and rotation clock after a lazy
// open. In append mode the destination may already hold data.
func (h *RotatingFileHandler) setInitialSize() {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if h.maxBytes > 0 {
		if info, err := os.Stat(h.path); err == nil {
			h.currentSize = info.Size()
		}
	}
	if h.lastRotation.IsZero() {
		h.lastRotation = time.Now()
	}
}

// rotate performs the backup shuffle for the handle of the calling write
// path. With backupCount zero the rotate step is skipped entirely and
// writes keep appending to the same file.
func (h *RotatingFileHandler) rotate(file **os.File) error {
	if h.backupCount <= 0 {
		return nil
	}

	if *file != nil {
		_ = (*file).Close()
		*file = nil
	}

	// Delete the oldest backup when at cap, then shift highest-first so no
	// rename ever clobbers.
	oldest := h.namer(h.path, h.backupCount)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return NewHandlerError(
				"failed to remove oldest backup `"+oldest+"`", "RotatingFileHandler", err)
		}
	}
	for i := h.backupCount - 1; i > 0; i-- {
		src := h.namer(h.path, i)
		dst := h.namer(h.path, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return NewHandlerError(
					"failed to shift backup `"+src+"`", "RotatingFileHandler", err)
			}
		}
	}
	if _, err := os.Stat(h.path); err == nil {
		if err := os.Rename(h.path, h.namer(h.path, 1)); err != nil {
			return NewHandlerError(
				"failed to rotate active file `"+h.path+"`", "RotatingFileHandler", err)
		}
	}
	return nil
}

func (h *RotatingFileHandler) open() (*os.File, error) {
	file, err := os.OpenFile(h.path, h.mode.flags(), 0o644)
	if err != nil {
		return nil, NewHandlerError(
			"failed to open the file at path `"+h.path+"`", "RotatingFileHandler", err)
	}
	return file, nil
}

// Flush syncs whichever handles are open. Safe when nothing is open yet.
func (h *RotatingFileHandler) Flush() error {
	h.muSync.Lock()
	if h.fileSync != nil {
		if err := h.fileSync.Sync(); err != nil {
			h.muSync.Unlock()
			return NewHandlerError("failed to flush `"+h.path+"`", "RotatingFileHandler", err)
		}
	}
	h.muSync.Unlock()

	h.muAsync.Lock()
	defer h.muAsync.Unlock()
	if h.fileAsync != nil {
		if err := h.fileAsync.Sync(); err != nil {
			return NewHandlerError("failed to flush `"+h.path+"`", "RotatingFileHandler", err)
		}
	}
	return nil
}

// Close releases both handles and resets them to unopened. Idempotent.
func (h *RotatingFileHandler) Close() error {
	h.muSync.Lock()
	if h.fileSync != nil {
		_ = h.fileSync.Close()
		h.fileSync = nil
	}
	h.muSync.Unlock()

	h.muAsync.Lock()
	defer h.muAsync.Unlock()
	if h.fileAsync != nil {
		_ = h.fileAsync.Close()
		h.fileAsync = nil
	}
	return nil
}

// Path returns the active destination path.
func (h *RotatingFileHandler) Path() string {
	return h.path
}
