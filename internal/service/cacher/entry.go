package cacher

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"github.com/vertextoedge/media-stream-cache/internal/domain/vo"
	"github.com/vertextoedge/media-stream-cache/internal/port"
)

// entryEnv is shared by all entries of one cache
type entryEnv struct {
	fs          port.FileSystem
	minFileSize int64
	maxFileSize int64
	now         func() time.Time

	// onChange is called without the entry lock held.
	// notify is set for state transitions that listeners should see.
	onChange func(e *Entry, status domain.CacheStatus, notify bool)
}

// Entry is the on-disk cache state of one remote resource
type Entry struct {
	path string
	env  *entryEnv

	mu           sync.Mutex
	state        domain.EntryState
	cachedLength int64
	totalLength  int64
	retries      int
	hasError     bool
	variant      string
	lastUsed     time.Time
	users        int
	scheduled    bool
	destroyed    bool
	writer       io.WriteCloser
	changed      chan struct{}
}

// EntryInfo is a point in time copy of an entry
type EntryInfo struct {
	Path         string             `json:"path"`
	State        string             `json:"state"`
	Status       domain.CacheStatus `json:"-"`
	StatusName   string             `json:"status"`
	CachedLength int64              `json:"cached_length"`
	TotalLength  int64              `json:"total_length"`
	KnownLength  int64              `json:"known_length"`
	Retries      int                `json:"retries"`
	HasError     bool               `json:"has_error"`
	Variant      string             `json:"variant,omitempty"`
	LastUsed     time.Time          `json:"last_used"`
	InUse        bool               `json:"in_use"`
	Scheduled    bool               `json:"scheduled"`
}

func newEntry(path string, env *entryEnv) *Entry {
	return &Entry{
		path:        path,
		env:         env,
		state:       domain.StateEmpty,
		totalLength: -1,
		lastUsed:    env.now(),
		changed:     make(chan struct{}),
	}
}

// restoreEntry rebuilds an entry from a scanned file and its stored record
func restoreEntry(fi port.FileInfo, rec *port.EntryRecord, env *entryEnv) *Entry {
	e := newEntry(fi.Path, env)
	e.lastUsed = fi.ModTime

	if fi.Temp {
		e.state = domain.StateExists
		e.cachedLength = fi.Size
	} else {
		e.state = domain.StateComplete
		e.cachedLength = fi.Size
		e.totalLength = fi.Size
	}

	if rec != nil {
		e.variant = rec.Variant
		e.retries = rec.Retries
		e.hasError = rec.HasError
		if !rec.LastUsed.IsZero() {
			e.lastUsed = rec.LastUsed
		}
		if fi.Temp && rec.TotalLength >= fi.Size {
			e.totalLength = rec.TotalLength
		}
	}
	return e
}

// Path returns the resource path
func (e *Entry) Path() string {
	return e.path
}

// State returns the current state
func (e *Entry) State() domain.EntryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsComplete returns true once the final file is on disk
func (e *Entry) IsComplete() bool {
	return e.State() == domain.StateComplete
}

// CachedLength returns the number of bytes on disk
func (e *Entry) CachedLength() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cachedLength
}

// TotalLength returns the resource length or -1 if unknown
func (e *Entry) TotalLength() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalLength
}

// KnownLength returns the size used for space accounting
func (e *Entry) KnownLength() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.knownLengthLocked()
}

// A complete entry reports its real size. Otherwise the advertised total,
// or the assumed minimum while it is unknown, is a floor for the cached bytes.
func (e *Entry) knownLengthLocked() int64 {
	if e.state == domain.StateComplete {
		return e.cachedLength
	}
	assumed := e.env.minFileSize
	if e.totalLength >= 0 {
		assumed = e.totalLength
	}
	return max(e.cachedLength, assumed)
}

// Retries returns the number of consecutive transient failures
func (e *Entry) Retries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retries
}

// HasError reports whether any download of this entry failed
func (e *Entry) HasError() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasError
}

// Variant returns the requested transcoding variant
func (e *Entry) Variant() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.variant
}

// LastUsed returns the time of the last access or append
func (e *Entry) LastUsed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUsed
}

// Unused reports whether the entry may be evicted
func (e *Entry) Unused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.users == 0 && e.state != domain.StateFilling
}

// Scheduled reports whether the entry is queued or being downloaded
func (e *Entry) Scheduled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduled
}

// Destroyed reports whether the entry was evicted or cleared
func (e *Entry) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// Info returns a copy of the entry's fields
func (e *Entry) Info() EntryInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := domain.StatusOf(e.state)
	return EntryInfo{
		Path:         e.path,
		State:        e.state.String(),
		Status:       status,
		StatusName:   status.String(),
		CachedLength: e.cachedLength,
		TotalLength:  e.totalLength,
		KnownLength:  e.knownLengthLocked(),
		Retries:      e.retries,
		HasError:     e.hasError,
		Variant:      e.variant,
		LastUsed:     e.lastUsed,
		InUse:        e.users > 0 || e.state == domain.StateFilling,
		Scheduled:    e.scheduled,
	}
}

// SetVariant sets the transcoding variant. It can only change while the entry is empty.
func (e *Entry) SetVariant(variant string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if variant == e.variant {
		return nil
	}
	if e.state != domain.StateEmpty || e.cachedLength > 0 {
		return domain.ErrVariantLocked
	}
	e.variant = variant
	return nil
}

// Touch marks the entry as used now
func (e *Entry) Touch() {
	e.mu.Lock()
	e.lastUsed = e.env.now()
	e.mu.Unlock()
}

func (e *Entry) acquire() {
	e.mu.Lock()
	e.users++
	e.mu.Unlock()
}

func (e *Entry) release() {
	e.mu.Lock()
	if e.users > 0 {
		e.users--
	}
	e.mu.Unlock()
}

func (e *Entry) markScheduled() {
	e.mu.Lock()
	if !e.scheduled {
		e.scheduled = true
		e.broadcastLocked()
	}
	e.mu.Unlock()
}

func (e *Entry) markSettled() {
	e.mu.Lock()
	if e.scheduled {
		e.scheduled = false
		e.broadcastLocked()
	}
	e.mu.Unlock()
}

// waitChange returns a channel that is closed on the next change
func (e *Entry) waitChange() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

func (e *Entry) broadcastLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Entry) emit(status domain.CacheStatus, notify bool) {
	if e.env.onChange != nil {
		e.env.onChange(e, status, notify)
	}
}

// openForAppend moves the entry to Filling and opens the temp file.
// totalLength is the advertised length or -1. With restart the existing
// partial content is discarded.
func (e *Entry) openForAppend(totalLength int64, restart bool) error {
	e.mu.Lock()

	if e.destroyed {
		e.mu.Unlock()
		return domain.ErrEntryDestroyed
	}
	if e.state == domain.StateFilling || e.state == domain.StateComplete {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: open for append while %s", domain.ErrInvalidState, state)
	}
	if e.env.maxFileSize > 0 && totalLength > e.env.maxFileSize {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d bytes advertised", domain.ErrFileTooLarge, totalLength)
	}

	w, size, err := e.env.fs.OpenAppend(e.path, restart)
	if err != nil {
		e.mu.Unlock()
		return domain.NewRetryableError(err)
	}

	if !restart && size != e.cachedLength {
		w.Close()
		expected := e.cachedLength
		e.cachedLength = size
		if size > 0 {
			e.state = domain.StateExists
		} else {
			e.state = domain.StateEmpty
		}
		e.broadcastLocked()
		e.mu.Unlock()
		return domain.NewRetryableError(fmt.Errorf("%w: temp file has %d bytes, expected %d",
			domain.ErrRangeMismatch, size, expected))
	}

	if restart {
		e.cachedLength = 0
		e.totalLength = -1
	}
	if totalLength >= 0 {
		e.totalLength = totalLength
	}
	e.writer = w
	e.state = domain.StateFilling
	e.lastUsed = e.env.now()
	e.broadcastLocked()
	e.mu.Unlock()

	e.emit(domain.PartiallyCached, true)
	return nil
}

// append writes one chunk to the temp file
func (e *Entry) append(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return domain.ErrEntryDestroyed
	}
	if e.state != domain.StateFilling || e.writer == nil {
		return fmt.Errorf("%w: append while %s", domain.ErrInvalidState, e.state)
	}

	newLength := e.cachedLength + int64(len(p))
	if vo.FileSize(newLength).ExceedsLimit(vo.FileSize(e.env.maxFileSize)) {
		return fmt.Errorf("%w: %d bytes received", domain.ErrFileTooLarge, newLength)
	}
	if e.totalLength >= 0 && newLength > e.totalLength {
		return fmt.Errorf("%w: %d bytes received, %d advertised",
			domain.ErrRangeMismatch, newLength, e.totalLength)
	}

	n, err := e.writer.Write(p)
	e.cachedLength += int64(n)
	e.lastUsed = e.env.now()
	e.broadcastLocked()

	if err != nil {
		return fmt.Errorf("failed to append to temp file: %w", err)
	}
	return nil
}

// closeForAppend closes the temp file. With complete the file is renamed to
// its final name; otherwise the entry drops back to Exists, or to Empty when
// nothing was written.
func (e *Entry) closeForAppend(complete bool) error {
	e.mu.Lock()

	w := e.writer
	e.writer = nil

	if e.destroyed {
		e.mu.Unlock()
		if w != nil {
			w.Close()
		}
		return domain.ErrEntryDestroyed
	}
	if e.state != domain.StateFilling {
		state := e.state
		e.mu.Unlock()
		if w != nil {
			w.Close()
		}
		return fmt.Errorf("%w: close while %s", domain.ErrInvalidState, state)
	}

	var err error
	if w != nil {
		if cerr := w.Close(); cerr != nil {
			err = domain.NewRetryableError(fmt.Errorf("failed to close temp file: %w", cerr))
			complete = false
		}
	}

	if complete {
		if ferr := e.env.fs.Finalize(e.path); ferr != nil {
			err = domain.NewRetryableError(ferr)
			complete = false
		} else {
			e.state = domain.StateComplete
			e.totalLength = e.cachedLength
			e.retries = 0
		}
	}

	if !complete {
		if e.cachedLength > 0 {
			e.state = domain.StateExists
		} else {
			e.env.fs.RemoveTemp(e.path)
			e.state = domain.StateEmpty
		}
	}

	e.lastUsed = e.env.now()
	status := domain.StatusOf(e.state)
	e.broadcastLocked()
	e.mu.Unlock()

	e.emit(status, true)
	return err
}

// recordFailure counts a transient failure and returns the new count
func (e *Entry) recordFailure() int {
	e.mu.Lock()
	e.retries++
	e.hasError = true
	retries := e.retries
	status := domain.StatusOf(e.state)
	e.mu.Unlock()

	e.emit(status, false)
	return retries
}

func (e *Entry) resetRetries() {
	e.mu.Lock()
	e.retries = 0
	e.mu.Unlock()
}

func (e *Entry) markError() {
	e.mu.Lock()
	e.hasError = true
	status := domain.StatusOf(e.state)
	e.mu.Unlock()

	e.emit(status, false)
}

// destroy deletes the files and resets the entry. It is final: later
// appends, renames and reopenings fail with ErrEntryDestroyed.
func (e *Entry) destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil
	}
	e.destroyed = true
	e.scheduled = false

	if e.writer != nil {
		e.writer.Close()
		e.writer = nil
	}

	err := e.env.fs.Remove(e.path)
	e.state = domain.StateEmpty
	e.cachedLength = 0
	e.totalLength = -1
	e.broadcastLocked()
	return err
}

// record returns the persisted part of the entry
func (e *Entry) record() *port.EntryRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	return &port.EntryRecord{
		Path:        e.path,
		Variant:     e.variant,
		TotalLength: e.totalLength,
		Retries:     e.retries,
		HasError:    e.hasError,
		LastUsed:    e.lastUsed,
		UpdatedAt:   e.env.now(),
	}
}
