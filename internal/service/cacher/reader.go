package cacher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
)

// entryReader reads an entry from the start while it is still being filled
type entryReader struct {
	e    *Entry
	ctx  context.Context
	idle time.Duration

	mu     sync.Mutex
	f      io.ReadSeekCloser
	pos    int64
	closed bool
}

// OpenReader returns a reader over the entry's bytes that follows a growing
// download. Read blocks while more data may arrive, returns io.EOF at the end
// of a complete entry and domain.ErrIncomplete when the download stopped or
// no data arrived for idle. The entry counts as in use until Close.
func (e *Entry) OpenReader(ctx context.Context, idle time.Duration) (io.ReadCloser, error) {
	if e.Destroyed() {
		return nil, domain.ErrEntryDestroyed
	}
	if idle <= 0 {
		idle = DefaultReaderIdleTimeout
	}

	e.acquire()
	return &entryReader{e: e, ctx: ctx, idle: idle}, nil
}

// OpenReader opens a following reader using the configured idle timeout
func (c *Cache) OpenReader(ctx context.Context, e *Entry) (io.ReadCloser, error) {
	return e.OpenReader(ctx, c.config.ReaderIdleTimeout)
}

type readState struct {
	changed   <-chan struct{}
	state     domain.EntryState
	cached    int64
	scheduled bool
	destroyed bool
}

func (e *Entry) readState() readState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return readState{
		changed:   e.changed,
		state:     e.state,
		cached:    e.cachedLength,
		scheduled: e.scheduled,
		destroyed: e.destroyed,
	}
}

func (r *entryReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		st := r.e.readState()

		if st.destroyed {
			return 0, domain.ErrEntryDestroyed
		}
		if st.cached < r.pos {
			return 0, fmt.Errorf("%w: download restarted", domain.ErrIncomplete)
		}

		if r.pos < st.cached {
			if err := r.open(st.state); err != nil {
				return 0, err
			}
			n := len(p)
			if remaining := st.cached - r.pos; int64(n) > remaining {
				n = int(remaining)
			}
			n, err := r.f.Read(p[:n])
			r.pos += int64(n)
			if n > 0 {
				return n, nil
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return 0, err
			}
		} else {
			if st.state == domain.StateComplete {
				return 0, io.EOF
			}
			if st.state != domain.StateFilling && !st.scheduled {
				return 0, domain.ErrIncomplete
			}
		}

		timer := time.NewTimer(r.idle)
		select {
		case <-st.changed:
			timer.Stop()
		case <-r.ctx.Done():
			timer.Stop()
			return 0, r.ctx.Err()
		case <-timer.C:
			return 0, domain.ErrIncomplete
		}
	}
}

// open opens the backing file on first use. The temp file stays readable
// across the final rename.
func (r *entryReader) open(state domain.EntryState) error {
	if r.f != nil {
		return nil
	}

	temp := state != domain.StateComplete
	f, err := r.e.env.fs.OpenRead(r.e.path, temp)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		f, err = r.e.env.fs.OpenRead(r.e.path, !temp)
	}
	if err != nil {
		return fmt.Errorf("failed to open cached file: %w", err)
	}

	if r.pos > 0 {
		if _, err := f.Seek(r.pos, io.SeekStart); err != nil {
			f.Close()
			return fmt.Errorf("failed to seek cached file: %w", err)
		}
	}
	r.f = f
	return nil
}

func (r *entryReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.e.release()

	if r.f != nil {
		return r.f.Close()
	}
	return nil
}
