package cacher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
	"github.com/vertextoedge/media-stream-cache/internal/domain/vo"
	"github.com/vertextoedge/media-stream-cache/internal/port"
)

// WorkerConfig contains download worker configuration
type WorkerConfig struct {
	Token            string
	MaxRetries       int
	BufferSize       int
	MaxFileSize      int64
	NotConnectedWait time.Duration
}

// Worker downloads queued entries one at a time
type Worker struct {
	config WorkerConfig
	remote port.RemoteSource
	conn   port.Connectivity
	queue  *Deque
	logger *zap.Logger

	// onProgress is called after every appended chunk
	onProgress func(e *Entry)

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	current       *Entry
	currentCancel context.CancelFunc
}

// NewWorker creates a new Worker. conn may be nil to assume a permanent connection.
func NewWorker(cfg WorkerConfig, remote port.RemoteSource, conn port.Connectivity, queue *Deque, logger *zap.Logger) *Worker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.NotConnectedWait <= 0 {
		cfg.NotConnectedWait = DefaultNotConnectedWait
	}
	return &Worker{
		config: cfg,
		remote: remote,
		conn:   conn,
		queue:  queue,
		logger: logger,
	}
}

// Start starts the download loop
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return domain.ErrAlreadyStarted
	}
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("download worker started")
	return nil
}

// Stop stops the loop, interrupting the current download, and waits for it to exit
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("download worker stopped")
}

// Running reports whether the loop is running
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// CurrentPath returns the path being downloaded or ""
func (w *Worker) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return ""
	}
	return w.current.Path()
}

// Interrupt cancels the current download if its path is path, or any
// current download when path is empty
func (w *Worker) Interrupt(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil || (path != "" && w.current.Path() != path) {
		return false
	}
	w.currentCancel()
	return true
}

func (w *Worker) setCurrent(e *Entry, cancel context.CancelFunc) {
	w.mu.Lock()
	w.current = e
	w.currentCancel = cancel
	w.mu.Unlock()
}

func (w *Worker) connected() bool {
	return w.conn == nil || w.conn.Connected()
}

// waitConnected blocks for at most NotConnectedWait while offline.
// Returns false once ctx is done.
func (w *Worker) waitConnected(ctx context.Context) bool {
	if w.conn == nil {
		return ctx.Err() == nil
	}

	changed := w.conn.Changed()
	if w.conn.Connected() {
		return ctx.Err() == nil
	}

	w.logger.Debug("waiting for connectivity", zap.Duration("max_wait", w.config.NotConnectedWait))

	timer := time.NewTimer(w.config.NotConnectedWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-changed:
	case <-timer.C:
	}
	return true
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		if !w.waitConnected(ctx) {
			return
		}

		e, err := w.queue.Take(ctx)
		if err != nil {
			return
		}

		if !w.connected() {
			if err := w.queue.PushFront(e); err != nil {
				w.logger.Warn("failed to requeue entry", zap.String("path", e.Path()), zap.Error(err))
				e.markSettled()
			}
			continue
		}

		if e.Destroyed() {
			continue
		}
		switch state := e.State(); state {
		case domain.StateComplete:
			e.markSettled()
			continue
		case domain.StateFilling:
			w.logger.Debug("entry already filling", zap.String("path", e.Path()))
			continue
		}

		w.process(ctx, e)
	}
}

func (w *Worker) process(parent context.Context, e *Entry) {
	ctx, cancel := context.WithCancel(parent)
	w.setCurrent(e, cancel)
	defer func() {
		w.setCurrent(nil, nil)
		cancel()
	}()

	e.acquire()
	defer e.release()

	requeued := false
	defer func() {
		if !requeued {
			w.queue.Settle(e)
		}
	}()

	start := time.Now()
	resumeFrom := e.CachedLength()

	w.logger.Debug("downloading",
		zap.String("path", e.Path()),
		zap.String("variant", e.Variant()),
		zap.Int64("resume_from", resumeFrom))

	appended, err := w.download(ctx, e)
	if appended > 0 {
		e.resetRetries()
	}

	switch {
	case err == nil:
		w.logger.Info("file cached",
			zap.String("path", e.Path()),
			zap.String("size", humanize.IBytes(uint64(e.CachedLength()))),
			zap.Int64("resumed_from", resumeFrom),
			zap.Duration("duration", time.Since(start)))

	case ctx.Err() != nil || errors.Is(err, domain.ErrInterrupted):
		w.logger.Info("download interrupted",
			zap.String("path", e.Path()),
			zap.Int64("cached", e.CachedLength()))

	case errors.Is(err, domain.ErrEntryDestroyed):
		w.logger.Debug("entry removed during download", zap.String("path", e.Path()))

	case domain.IsRetryable(err):
		retries := e.recordFailure()
		if retries > w.config.MaxRetries {
			w.logger.Error("download failed, giving up",
				zap.String("path", e.Path()),
				zap.Int("retries", retries),
				zap.Error(err))
			return
		}
		w.logger.Warn("download failed, retrying",
			zap.String("path", e.Path()),
			zap.Int("retries", retries),
			zap.Error(err))
		if qerr := w.queue.PushFront(e); qerr != nil {
			w.logger.Warn("failed to requeue entry", zap.String("path", e.Path()), zap.Error(qerr))
			return
		}
		requeued = true

	case domain.IsSkippable(err):
		e.markError()
		w.logger.Warn("download skipped", zap.String("path", e.Path()), zap.Error(err))

	default:
		e.markError()
		w.logger.Error("download aborted", zap.String("path", e.Path()), zap.Error(err))
	}
}

// download runs one HTTP session for e and returns the number of bytes appended
func (w *Worker) download(ctx context.Context, e *Entry) (int64, error) {
	offset := e.CachedLength()

	resp, err := w.remote.Fetch(ctx, &port.FetchRequest{
		Path:    e.Path(),
		Variant: e.Variant(),
		Offset:  offset,
		Token:   w.config.Token,
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, domain.ErrInterrupted
		}
		return 0, domain.NewRetryableError(err)
	}
	defer resp.Body.Close()

	var start int64
	total := int64(-1)

	switch resp.StatusCode {
	case http.StatusOK:
		total = resp.ContentLength
		if offset > 0 {
			w.logger.Info("range not honored, restarting download",
				zap.String("path", e.Path()),
				zap.Int64("discarded", offset))
		}

	case http.StatusPartialContent:
		cr, ok := vo.ParseContentRange(resp.ContentRange)
		if !ok || !cr.Valid() || (cr.Start != 0 && cr.TotalLength < offset) {
			return 0, domain.NewSkippableError(
				fmt.Errorf("%w: %q", domain.ErrBadContentRange, resp.ContentRange), "protocol error")
		}
		if cr.Start != offset && cr.Start != 0 {
			return 0, domain.NewSkippableError(
				fmt.Errorf("%w: response starts at %d, cached %d", domain.ErrRangeMismatch, cr.Start, offset),
				"protocol error")
		}
		start, total = cr.Start, cr.TotalLength

	case http.StatusRequestedRangeNotSatisfiable:
		// The temp file already holds the whole resource
		if n, ok := vo.ParseUnsatisfiedRange(resp.ContentRange); ok && offset > 0 && n == offset {
			return 0, w.finalize(e, n)
		}
		return 0, (&domain.HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: resp.URL}).Classify()

	default:
		return 0, (&domain.HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: resp.URL}).Classify()
	}

	if size, limit := vo.FileSize(total), vo.FileSize(w.config.MaxFileSize); size.ExceedsLimit(limit) {
		return 0, fmt.Errorf("%w: %s advertised, limit %s", domain.ErrFileTooLarge, size, limit)
	}

	if err := e.openForAppend(total, start == 0 && offset > 0); err != nil {
		return 0, err
	}

	buf := make([]byte, w.config.BufferSize)
	var appended int64

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if aerr := e.append(buf[:n]); aerr != nil {
				e.closeForAppend(false)
				return appended, classifyWriteError(aerr)
			}
			appended += int64(n)
			if w.onProgress != nil {
				w.onProgress(e)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			e.closeForAppend(false)
			if ctx.Err() != nil {
				return appended, domain.ErrInterrupted
			}
			return appended, domain.NewRetryableError(fmt.Errorf("failed to read body: %w", rerr))
		}
	}

	if cached := e.CachedLength(); total >= 0 && cached < total {
		e.closeForAppend(false)
		return appended, domain.NewRetryableError(
			fmt.Errorf("%w: body ended at %d of %d bytes", io.ErrUnexpectedEOF, cached, total))
	}

	if err := e.closeForAppend(true); err != nil {
		return appended, err
	}
	return appended, nil
}

func (w *Worker) finalize(e *Entry, length int64) error {
	if err := e.openForAppend(length, false); err != nil {
		return err
	}
	return e.closeForAppend(true)
}

func classifyWriteError(err error) error {
	switch {
	case domain.IsRetryable(err),
		errors.Is(err, domain.ErrFileTooLarge),
		errors.Is(err, domain.ErrEntryDestroyed):
		return err
	case errors.Is(err, domain.ErrRangeMismatch):
		return domain.NewSkippableError(err, "protocol error")
	default:
		return domain.NewRetryableError(err)
	}
}
