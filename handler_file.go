package kolog

import (
	"context"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// FileMode selects how a file destination is opened.
type FileMode string

// File open modes. ModeTruncate corresponds to "wb", ModeAppend to "ab".
const (
	ModeTruncate FileMode = "wb"
	ModeAppend   FileMode = "ab"
)

func (m FileMode) flags() int {
	if m == ModeAppend {
		return os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	return os.O_CREATE | os.O_WRONLY | os.O_TRUNC
}

// FileHandler writes rendered lines to a file. The destination is opened
// lazily on first write so loggers that never log never create files. With
// override disabled, the first open probes suffixed alternatives
// (path.0001, path.0002, ...) instead of clobbering an existing file.
//
// Synchronous and concurrent code paths keep independent file handles and
// independent locks. Writes additionally take a cross-process advisory lock
// next to the destination.
type FileHandler struct {
	pipeline
	override bool
	mode     FileMode

	// pathMu guards path, which override-avoidance rewrites on open.
	pathMu sync.Mutex
	path   string

	muSync   sync.Mutex
	fileSync *os.File

	muAsync   sync.Mutex
	fileAsync *os.File
}

// NewFileHandler builds a FileHandler for the given path. The parent
// directory is created eagerly; the file itself is not.
func NewFileHandler(renderer Renderer, processors []Processor, filename string, mode FileMode, override bool) (*FileHandler, error) {
	path, err := normalizePath(filename)
	if err != nil {
		return nil, NewHandlerError(
			"invalid file path `"+filename+"`", "FileHandler", err).
			WithCategory(CategoryConfiguration)
	}
	if mode == "" {
		mode = ModeTruncate
	}
	return &FileHandler{
		pipeline: newPipeline("FileHandler", renderer, processors),
		path:     path,
		mode:     mode,
		override: override,
	}, nil
}

// EmitSync renders the payload and writes one line, opening the file first
// if needed.
func (h *FileHandler) EmitSync(ev EventDict) error {
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
	if h.fileSync == nil {
		file, err := h.open()
		if err != nil {
			return err
		}
		h.fileSync = file
	}
	return h.writeLocked(h.fileSync, line)
}

// EmitAsync renders the payload and writes one line on the concurrent path.
func (h *FileHandler) EmitAsync(ctx context.Context, ev EventDict) error {
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
	if h.fileAsync == nil {
		file, err := h.open()
		if err != nil {
			return err
		}
		h.fileAsync = file
	}
	return h.writeLocked(h.fileAsync, line)
}

// open resolves the destination path (probing for a free one when override
// is disabled) and opens it. Open failures are never swallowed: a silent
// logging failure would be worse than surfacing the error.
func (h *FileHandler) open() (*os.File, error) {
	h.pathMu.Lock()
	if !h.override {
		h.path = avoidClobber(h.path)
	}
	path := h.path
	h.pathMu.Unlock()

	file, err := os.OpenFile(path, h.mode.flags(), 0o644)
	if err != nil {
		return nil, NewHandlerError(
			"failed to open the file at path `"+path+"`", "FileHandler", err)
	}
	return file, nil
}

// writeLocked appends one line under the cross-process lock. The caller
// holds the in-process mutex for the handle.
func (h *FileHandler) writeLocked(file *os.File, line string) error {
	h.pathMu.Lock()
	lockPath := h.path + ".lock"
	h.pathMu.Unlock()

	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return NewHandlerError(
			"failed to acquire file lock for `"+h.path+"`", "FileHandler", err)
	}
	defer func() { _ = fl.Unlock() }()

	if _, err := file.WriteString(line + "\n"); err != nil {
		return NewHandlerError(
			"failed to write to the file at path `"+h.path+"`", "FileHandler", err)
	}
	return nil
}

// Flush syncs whichever handles are open. Safe when nothing is open yet.
func (h *FileHandler) Flush() error {
	h.muSync.Lock()
	if h.fileSync != nil {
		if err := h.fileSync.Sync(); err != nil {
			h.muSync.Unlock()
			return NewHandlerError("failed to flush `"+h.path+"`", "FileHandler", err)
		}
	}
	h.muSync.Unlock()

	h.muAsync.Lock()
	defer h.muAsync.Unlock()
	if h.fileAsync != nil {
		if err := h.fileAsync.Sync(); err != nil {
			return NewHandlerError("failed to flush `"+h.path+"`", "FileHandler", err)
		}
	}
	return nil
}

// Close releases both handles and resets them to unopened, so a later write
// reopens lazily. Calling Close again is a no-op.
func (h *FileHandler) Close() error {
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

// Path returns the currently resolved destination path.
func (h *FileHandler) Path() string {
	h.pathMu.Lock()
	defer h.pathMu.Unlock()
	return h.path
}
