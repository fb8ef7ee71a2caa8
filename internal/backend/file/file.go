// Package file implements the file output backend (spec §4.7): append-mode,
// line-buffered for message-log; truncate-and-replace, large-buffered, with
// an optional "latest" symlink for dump.
package file

import (
	"bufio"
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/pmacct-telemetry/telemetryd/internal/backend"
)

// dumpFileBufSize mirrors telemetry.c's OUTPUT_FILE_BUFSZ full-buffered
// dump writer.
const dumpFileBufSize = 64 * 1024

// Mode selects the two distinct file-writing disciplines used by the two
// output channels (spec §4.5 msglog vs §4.6 dump).
type Mode int

const (
	// ModeAppend is used by the message-log backend: append, line-buffered,
	// reopened on reload (R1).
	ModeAppend Mode = iota
	// ModeDumpTruncate is used by the dump backend: truncate on open,
	// large full-buffered writes, optional "latest" symlink.
	ModeDumpTruncate
)

// Backend is the file output backend. A ModeAppend instance is owned by one
// peer and reused across reload events; the dump worker creates a new
// ModeDumpTruncate instance for each peer on each dump tick.
type Backend struct {
	mode Mode

	mu           sync.Mutex
	path         string
	latestPath   string
	f            *os.File
	w            *bufio.Writer
	lastFilename string

	timers *backend.Timers
}

// New returns a file Backend in the given mode. Retry interval is
// meaningless for the file backend (no network to retry), but Timers is
// still populated so callers can treat every backend uniformly.
func New(mode Mode) *Backend {
	return &Backend{mode: mode, timers: backend.NewTimers(0)}
}

func (b *Backend) Init(_ context.Context, _ string) error { return nil }

func (b *Backend) Connect(_ context.Context) error { return nil }

// Open switches the backend to writing path, applying the mode's discipline.
// For ModeDumpTruncate, if latestPath is non-empty and path differs from the
// previously open file, the previous file is closed and then made the
// "latest" symlink target (spec §4.6 step 4b).
func (b *Backend) Open(path, latestPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if path == b.path && b.f != nil {
		return nil
	}

	if err := b.closeLocked(latestPath); err != nil {
		return err
	}

	flag := os.O_CREATE | os.O_WRONLY
	switch b.mode {
	case ModeAppend:
		flag |= os.O_APPEND
	case ModeDumpTruncate:
		flag |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return errors.Wrapf(err, "file backend: open %s", path)
	}

	b.f = f
	b.path = path
	b.latestPath = latestPath

	switch b.mode {
	case ModeAppend:
		b.w = bufio.NewWriterSize(f, 1) // line-buffered: flush every write
	case ModeDumpTruncate:
		b.w = bufio.NewWriterSize(f, dumpFileBufSize)
	}

	return nil
}

// Publish writes one JSON line to the currently open file.
func (b *Backend) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.w == nil {
		return errors.New("file backend: publish before open")
	}
	if _, err := b.w.Write(payload); err != nil {
		return err
	}
	if err := b.w.WriteByte('\n'); err != nil {
		return err
	}
	if b.mode == ModeAppend {
		return b.w.Flush()
	}
	return nil
}

// Reload closes and reopens the current file in append mode, preserving the
// filename (R1). Only meaningful for ModeAppend (message-log) backends.
func (b *Backend) Reload() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.f == nil {
		return nil
	}
	path := b.path
	if err := b.f.Close(); err != nil {
		return errors.Wrap(err, "file backend: reload close")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "file backend: reload reopen %s", path)
	}
	b.f = f
	b.w = bufio.NewWriterSize(f, 1)
	return nil
}

func (b *Backend) Close(_ context.Context, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked(b.latestPath)
}

func (b *Backend) closeLocked(latestPath string) error {
	if b.f == nil {
		return nil
	}
	if err := b.w.Flush(); err != nil {
		return err
	}
	prevPath := b.path
	if err := b.f.Close(); err != nil {
		return errors.Wrap(err, "file backend: close")
	}

	if b.mode == ModeDumpTruncate && latestPath != "" && prevPath != "" {
		_ = os.Remove(latestPath)
		if err := os.Symlink(prevPath, latestPath); err != nil {
			return errors.Wrapf(err, "file backend: link latest %s -> %s", latestPath, prevPath)
		}
	}

	b.lastFilename = prevPath
	b.f = nil
	b.w = nil
	return nil
}

func (b *Backend) Timers() *backend.Timers { return b.timers }

var _ backend.Backend = (*Backend)(nil)
