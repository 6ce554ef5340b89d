package cacher

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/vertextoedge/media-stream-cache/internal/domain"
)

func TestReader_CompleteEntry(t *testing.T) {
	env, _, _ := newTestEnv(t, 10, 0)
	e := newEntry("a.mp3", env)
	fillEntry(t, e, "complete content")

	r, err := e.OpenReader(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer r.Close()

	if got := readAll(t, r); got != "complete content" {
		t.Errorf("read %q", got)
	}
}

func TestReader_FollowsGrowingFile(t *testing.T) {
	env, _, _ := newTestEnv(t, 10, 0)
	e := newEntry("a.mp4", env)
	e.markScheduled()

	if err := e.openForAppend(12, false); err != nil {
		t.Fatalf("openForAppend() error = %v", err)
	}
	e.append([]byte("part1-"))

	r, err := e.OpenReader(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	if e.Unused() {
		t.Error("entry with open reader reported unused")
	}

	type result struct {
		data string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		done <- result{string(data), err}
	}()

	time.Sleep(20 * time.Millisecond)
	e.append([]byte("part2-"))
	if err := e.closeForAppend(true); err != nil {
		t.Fatalf("closeForAppend() error = %v", err)
	}
	e.markSettled()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("ReadAll() error = %v", res.err)
		}
		if res.data != "part1-part2-" {
			t.Errorf("read %q, want %q", res.data, "part1-part2-")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reader did not finish")
	}

	r.Close()
	if !e.Unused() {
		t.Error("entry still in use after Close")
	}
}

func TestReader_StoppedDownload(t *testing.T) {
	env, _, _ := newTestEnv(t, 10, 0)
	e := newEntry("a.mp4", env)
	e.markScheduled()
	e.openForAppend(100, false)
	e.append([]byte("head"))

	r, err := e.OpenReader(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer r.Close()

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	if err != nil || string(buf[:n]) != "head" {
		t.Fatalf("Read() = %q, %v", buf[:n], err)
	}

	e.closeForAppend(false)
	e.markSettled()

	if _, err := r.Read(buf); !errors.Is(err, domain.ErrIncomplete) {
		t.Errorf("Read() after stop error = %v, want ErrIncomplete", err)
	}
}

func TestReader_IdleTimeout(t *testing.T) {
	env, _, _ := newTestEnv(t, 10, 0)
	e := newEntry("a.mp4", env)
	e.markScheduled()

	r, err := e.OpenReader(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer r.Close()

	start := time.Now()
	if _, err := r.Read(make([]byte, 8)); !errors.Is(err, domain.ErrIncomplete) {
		t.Errorf("Read() error = %v, want ErrIncomplete", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("Read() returned before the idle timeout")
	}
}

func TestReader_ContextCancelled(t *testing.T) {
	env, _, _ := newTestEnv(t, 10, 0)
	e := newEntry("a.mp4", env)
	e.markScheduled()

	ctx, cancel := context.WithCancel(context.Background())
	r, err := e.OpenReader(ctx, time.Minute)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer r.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := r.Read(make([]byte, 8)); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}

func TestReader_DestroyedEntry(t *testing.T) {
	env, _, _ := newTestEnv(t, 10, 0)
	e := newEntry("a", env)
	fillEntry(t, e, "abc")

	r, err := e.OpenReader(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer r.Close()

	e.destroy()
	if _, err := r.Read(make([]byte, 8)); !errors.Is(err, domain.ErrEntryDestroyed) {
		t.Errorf("Read() error = %v, want ErrEntryDestroyed", err)
	}
	if _, err := e.OpenReader(context.Background(), time.Second); !errors.Is(err, domain.ErrEntryDestroyed) {
		t.Errorf("OpenReader() error = %v, want ErrEntryDestroyed", err)
	}
}
